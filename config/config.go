// Package config loads the gateway's YAML configuration file, expanding
// ${VAR} references in it from the environment, and fills unset values
// with package defaults. No setting is read from a named environment
// variable; the run command's CLI flags override file values.
package config

import "time"

// Config is the top-level configuration file shape. All values are
// optional; zero values fall back to package-level defaults applied by
// ApplyDefaults.
type Config struct {
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Datasets  DatasetsConfig  `yaml:"datasets"`
	Policy    PolicyConfig    `yaml:"policy"`
	LLM       LLMConfig       `yaml:"llm"`
	Capsule   CapsuleConfig   `yaml:"capsule"`
	Threads   ThreadsConfig   `yaml:"threads"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SandboxConfig selects and configures the executor backend.
type SandboxConfig struct {
	// Provider is one of "local", "remote", "cluster".
	Provider string `yaml:"provider"`
	// RunnerImage is the pinned runner image reference (local/cluster).
	RunnerImage string `yaml:"runner_image"`
	// RunTimeoutSeconds is the default per-run wall-clock limit.
	RunTimeoutSeconds int `yaml:"run_timeout_seconds"`
	// MaxRows bounds rows returned per run.
	MaxRows int `yaml:"max_rows"`
	// MaxOutputBytes bounds the serialized response size per run.
	MaxOutputBytes int `yaml:"max_output_bytes"`
	// MaxConcurrency bounds concurrent sandbox submissions.
	MaxConcurrency int `yaml:"max_concurrency"`
	// ContainerRuntime is the CLI binary for the local backend
	// ("docker" or "podman").
	ContainerRuntime string `yaml:"container_runtime"`
	// Remote configures the remote-sandbox RPC backend.
	Remote RemoteSandboxConfig `yaml:"remote"`
	// Cluster configures the cluster-job backend.
	Cluster ClusterJobConfig `yaml:"cluster"`
}

// RemoteSandboxConfig configures the Remote-Sandbox Executor.
type RemoteSandboxConfig struct {
	Endpoints        []string `yaml:"endpoints"`
	BearerToken      string   `yaml:"bearer_token"`
	MaxRetries       int      `yaml:"max_retries"`
	FallbackEnabled  bool     `yaml:"fallback_enabled"`
}

// ClusterJobConfig configures the Cluster-Job Executor.
type ClusterJobConfig struct {
	Namespace          string   `yaml:"namespace"`
	ServiceAccountName string   `yaml:"service_account_name"`
	NetworkPolicyName  string   `yaml:"network_policy_name"`
	CPULimit           string   `yaml:"cpu_limit"`
	MemoryLimit        string   `yaml:"memory_limit"`
	RetentionSeconds   int      `yaml:"retention_seconds"`
	PollInterval       Duration `yaml:"poll_interval"`
}

// DatasetsConfig locates the dataset registry and on-disk root.
type DatasetsConfig struct {
	Dir      string `yaml:"dir"`
	Registry string `yaml:"registry"`
}

// PolicyConfig tunes the policy validators.
type PolicyConfig struct {
	EnablePythonExecution bool `yaml:"enable_python_execution"`
	ExfilColumnThreshold  int  `yaml:"exfil_column_threshold"`
	PlanLimitDefault      int  `yaml:"plan_limit_default"`
	PlanLimitMax          int  `yaml:"plan_limit_max"`
}

// LLMConfig selects and configures the planner's language-model
// provider.
type LLMConfig struct {
	// Provider is one of "auto", "a", "b".
	Provider            string   `yaml:"provider"`
	Model               string   `yaml:"model"`
	APIKey              string   `yaml:"api_key"`
	ThreadHistoryWindow int      `yaml:"thread_history_window"`
	MaxToolCalls        int      `yaml:"max_tool_calls"`
	TurnTimeout         Duration `yaml:"turn_timeout"`
}

// CapsuleConfig locates the run-capsule store.
type CapsuleConfig struct {
	// Backend is one of "file", "lode".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
}

// ThreadsConfig locates the thread/message history store.
type ThreadsConfig struct {
	// Backend is one of "memory", "redis".
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
}

// TelemetryConfig enables optional metrics/tracing/webhook sinks.
type TelemetryConfig struct {
	PrometheusAddr string `yaml:"prometheus_addr"`
	OTelEndpoint   string `yaml:"otel_endpoint"`
	WebhookURL     string `yaml:"webhook_url"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// ApplyDefaults fills zero-valued fields with package defaults. Called
// after Load and after CLI flag overrides have been applied.
func (c *Config) ApplyDefaults() {
	if c.Sandbox.Provider == "" {
		c.Sandbox.Provider = "local"
	}
	if c.Sandbox.RunTimeoutSeconds <= 0 {
		c.Sandbox.RunTimeoutSeconds = 30
	}
	if c.Sandbox.MaxRows <= 0 {
		c.Sandbox.MaxRows = 200
	}
	if c.Sandbox.MaxOutputBytes <= 0 {
		c.Sandbox.MaxOutputBytes = 1 << 20
	}
	if c.Sandbox.MaxConcurrency <= 0 {
		c.Sandbox.MaxConcurrency = 8
	}
	if c.Sandbox.ContainerRuntime == "" {
		c.Sandbox.ContainerRuntime = "docker"
	}
	if c.Sandbox.Remote.MaxRetries <= 0 {
		c.Sandbox.Remote.MaxRetries = 3
	}
	if c.Sandbox.Cluster.PollInterval.Duration <= 0 {
		c.Sandbox.Cluster.PollInterval.Duration = 2 * time.Second
	}
	if c.Sandbox.Cluster.RetentionSeconds <= 0 {
		c.Sandbox.Cluster.RetentionSeconds = 300
	}
	if c.Policy.ExfilColumnThreshold <= 0 {
		c.Policy.ExfilColumnThreshold = 8
	}
	if c.Policy.PlanLimitDefault <= 0 {
		c.Policy.PlanLimitDefault = 200
	}
	if c.Policy.PlanLimitMax <= 0 {
		c.Policy.PlanLimitMax = 1000
	}
	if c.LLM.ThreadHistoryWindow <= 0 {
		c.LLM.ThreadHistoryWindow = 20
	}
	if c.LLM.MaxToolCalls <= 0 {
		c.LLM.MaxToolCalls = 6
	}
	if c.LLM.TurnTimeout.Duration <= 0 {
		c.LLM.TurnTimeout.Duration = 60 * time.Second
	}
	if c.Capsule.Backend == "" {
		c.Capsule.Backend = "file"
	}
	if c.Threads.Backend == "" {
		c.Threads.Backend = "memory"
	}
}
