package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/tabularun/tabularun/agent"
	"github.com/tabularun/tabularun/agent/tools"
	"github.com/tabularun/tabularun/capsule"
	"github.com/tabularun/tabularun/capsule/filestore"
	"github.com/tabularun/tabularun/capsule/lodestore"
	"github.com/tabularun/tabularun/cli/render"
	"github.com/tabularun/tabularun/config"
	"github.com/tabularun/tabularun/endpointpool"
	"github.com/tabularun/tabularun/executor"
	"github.com/tabularun/tabularun/executor/clusterjob"
	"github.com/tabularun/tabularun/executor/localcontainer"
	"github.com/tabularun/tabularun/executor/remotesandbox"
	"github.com/tabularun/tabularun/llm/anthropic"
	"github.com/tabularun/tabularun/policy"
	"github.com/tabularun/tabularun/registry"
	"github.com/tabularun/tabularun/surface"
	"github.com/tabularun/tabularun/telemetry"
	webhooksink "github.com/tabularun/tabularun/telemetry/webhook"
	"github.com/tabularun/tabularun/threadstore"
	"github.com/tabularun/tabularun/threadstore/memory"
	"github.com/tabularun/tabularun/threadstore/redisstore"
	"github.com/tabularun/tabularun/types"
)

// Process exit codes for the run command, one level below the
// surface.ExitCode taxonomy: a config/wiring error that never reaches
// the agent loop exits with exitConfigError rather than any
// agent.Status-derived code.
const exitConfigError = 10

// RunCommand returns the run command: a single conversational turn
// against a dataset, wired end to end from a config file plus CLI
// overrides.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Submit one message to a dataset and print the response",
		ArgsUsage: " ",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{Name: "config", Usage: "Path to YAML config file"},
			&cli.StringFlag{Name: "registry", Usage: "Path to the dataset registry manifest"},
			&cli.StringFlag{Name: "datasets-dir", Usage: "Root directory of dataset files"},
			&cli.StringFlag{Name: "dataset", Required: true, Usage: "Dataset ID to query"},
			&cli.StringFlag{Name: "message", Usage: "The request message (mutually exclusive with --message-file)"},
			&cli.StringFlag{Name: "message-file", Usage: "Read the request message from a file"},
			&cli.StringFlag{Name: "thread-id", Usage: "Continue an existing conversation thread"},
			&cli.BoolFlag{Name: "stream", Usage: "Print token/tool events as they arrive instead of only the final response"},
			&cli.StringFlag{Name: "telemetry-snapshot-out", Usage: "Write this process's telemetry.Snapshot as JSON to this path on exit"},

			&cli.StringFlag{Name: "sandbox-provider", Usage: "Executor backend: local, remote, cluster"},
			&cli.StringFlag{Name: "runner-image", Usage: "Pinned runner image reference"},
			&cli.IntFlag{Name: "run-timeout-seconds", Usage: "Per-run wall-clock limit"},
			&cli.IntFlag{Name: "max-rows", Usage: "Row cap per run"},
			&cli.IntFlag{Name: "max-output-bytes", Usage: "Serialized response size cap per run"},
			&cli.StringFlag{Name: "container-runtime", Usage: "docker or podman (local backend)"},
			&cli.StringSliceFlag{Name: "remote-endpoint", Usage: "Remote-sandbox endpoint URL (repeatable)"},
			&cli.StringFlag{Name: "remote-bearer-token", Usage: "Bearer token for the remote-sandbox service"},
			&cli.BoolFlag{Name: "remote-fallback-enabled", Usage: "Fall back to the local backend if the remote sandbox start call fails"},
			&cli.StringFlag{Name: "cluster-namespace", Usage: "Kubernetes namespace for the cluster-job backend"},
			&cli.StringFlag{Name: "cluster-kubeconfig", Usage: "Path to a kubeconfig file; defaults to in-cluster config"},

			&cli.StringFlag{Name: "llm-provider", Usage: "Planner provider: anthropic"},
			&cli.StringFlag{Name: "llm-model", Usage: "Model identifier"},
			&cli.StringFlag{Name: "llm-api-key", Usage: "API key; falls back to the provider's standard env var"},
			&cli.BoolFlag{Name: "enable-python", Usage: "Enable the execute_python tool"},

			&cli.StringFlag{Name: "capsule-backend", Usage: "Capsule store backend: file, lode", Value: "file"},
			&cli.StringFlag{Name: "capsule-path", Usage: "Capsule store path (file backend; lode directory, or S3 prefix when a bucket is set)"},
			&cli.StringFlag{Name: "capsule-bucket", Usage: "Capsule store S3 bucket (lode with a bucket set)"},
			&cli.StringFlag{Name: "capsule-region", Usage: "Capsule store S3 region"},

			&cli.StringFlag{Name: "threads-backend", Usage: "Thread store backend: memory, redis", Value: "memory"},
			&cli.StringFlag{Name: "threads-redis-url", Usage: "Redis URL (redis backend)"},

			&cli.StringFlag{Name: "webhook-url", Usage: "POST a capsule_completed event here when the run finishes"},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading config: %v", err), exitConfigError)
	}
	applyRunFlagOverrides(c, cfg)
	cfg.ApplyDefaults()

	message, err := resolveMessage(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	deps, err := buildRunDeps(cfg, c.String("cluster-kubeconfig"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("wiring run dependencies: %v", err), exitConfigError)
	}
	defer deps.Close()

	ctx := context.Background()
	datasetID := c.String("dataset")
	threadID := c.String("thread-id")

	var resp *agent.ChatResponse
	if c.Bool("stream") {
		resp, err = runStreaming(ctx, deps.surface, datasetID, message, threadID)
	} else {
		resp, err = deps.surface.Run(ctx, datasetID, message, threadID)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("run failed: %v", err), exitConfigError)
	}

	if out := c.String("telemetry-snapshot-out"); out != "" {
		if err := writeTelemetrySnapshot(out, deps.collector.Snapshot()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write telemetry snapshot: %v\n", err)
		}
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for run", exitConfigError)
	}
	if err := r.Render(resp); err != nil {
		return err
	}

	return cli.Exit("", surface.ExitCode(resp.Status))
}

// runStreaming drains the event channel, printing token and tool
// activity to stderr as it arrives, and returns the terminal response
// carried by the EventResult entry.
func runStreaming(ctx context.Context, s *surface.Surface, datasetID, message, threadID string) (*agent.ChatResponse, error) {
	events, err := s.Stream(ctx, datasetID, message, threadID)
	if err != nil {
		return nil, err
	}
	var resp *agent.ChatResponse
	for ev := range events {
		switch ev.Type {
		case agent.EventToken:
			fmt.Fprint(os.Stderr, ev.Token)
		case agent.EventToolCall:
			fmt.Fprintf(os.Stderr, "\n[tool call] %s\n", ev.ToolName)
		case agent.EventToolResult:
			fmt.Fprintf(os.Stderr, "[tool result] %s\n", ev.ToolName)
		case agent.EventResult:
			resp = ev.Response
		}
	}
	if resp == nil {
		return nil, fmt.Errorf("run: event stream ended without a result")
	}
	return resp, nil
}

func resolveMessage(c *cli.Context) (string, error) {
	message := c.String("message")
	file := c.String("message-file")
	if message != "" && file != "" {
		return "", fmt.Errorf("--message and --message-file are mutually exclusive")
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading --message-file: %w", err)
		}
		return string(data), nil
	}
	if message == "" {
		return "", fmt.Errorf("one of --message or --message-file is required")
	}
	return message, nil
}

func writeTelemetrySnapshot(path string, snap telemetry.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// applyRunFlagOverrides layers CLI flags over the loaded config file,
// matching the historical CLI-flag > config-file > default precedence.
// A flag is applied only when the user actually set it, so an unset
// flag never clobbers a value the config file supplied.
func applyRunFlagOverrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet("sandbox-provider") {
		cfg.Sandbox.Provider = c.String("sandbox-provider")
	}
	if c.IsSet("runner-image") {
		cfg.Sandbox.RunnerImage = c.String("runner-image")
	}
	if c.IsSet("run-timeout-seconds") {
		cfg.Sandbox.RunTimeoutSeconds = c.Int("run-timeout-seconds")
	}
	if c.IsSet("max-rows") {
		cfg.Sandbox.MaxRows = c.Int("max-rows")
	}
	if c.IsSet("max-output-bytes") {
		cfg.Sandbox.MaxOutputBytes = c.Int("max-output-bytes")
	}
	if c.IsSet("container-runtime") {
		cfg.Sandbox.ContainerRuntime = c.String("container-runtime")
	}
	if c.IsSet("remote-endpoint") {
		cfg.Sandbox.Remote.Endpoints = c.StringSlice("remote-endpoint")
	}
	if c.IsSet("remote-bearer-token") {
		cfg.Sandbox.Remote.BearerToken = c.String("remote-bearer-token")
	}
	if c.IsSet("remote-fallback-enabled") {
		cfg.Sandbox.Remote.FallbackEnabled = c.Bool("remote-fallback-enabled")
	}
	if c.IsSet("cluster-namespace") {
		cfg.Sandbox.Cluster.Namespace = c.String("cluster-namespace")
	}
	if c.IsSet("llm-provider") {
		cfg.LLM.Provider = c.String("llm-provider")
	}
	if c.IsSet("llm-model") {
		cfg.LLM.Model = c.String("llm-model")
	}
	if c.IsSet("llm-api-key") {
		cfg.LLM.APIKey = c.String("llm-api-key")
	}
	if c.IsSet("enable-python") {
		cfg.Policy.EnablePythonExecution = c.Bool("enable-python")
	}
	if c.IsSet("capsule-backend") {
		cfg.Capsule.Backend = c.String("capsule-backend")
	}
	if c.IsSet("capsule-path") {
		cfg.Capsule.Path = c.String("capsule-path")
	}
	if c.IsSet("capsule-bucket") {
		cfg.Capsule.Bucket = c.String("capsule-bucket")
	}
	if c.IsSet("capsule-region") {
		cfg.Capsule.Region = c.String("capsule-region")
	}
	if c.IsSet("threads-backend") {
		cfg.Threads.Backend = c.String("threads-backend")
	}
	if c.IsSet("threads-redis-url") {
		cfg.Threads.RedisURL = c.String("threads-redis-url")
	}
	if c.IsSet("webhook-url") {
		cfg.Telemetry.WebhookURL = c.String("webhook-url")
	}
	if c.IsSet("registry") {
		cfg.Datasets.Registry = c.String("registry")
	}
	if c.IsSet("datasets-dir") {
		cfg.Datasets.Dir = c.String("datasets-dir")
	}
}

// runDeps bundles every long-lived handle runAction needs to close
// after Surface.Run returns.
type runDeps struct {
	surface   *surface.Surface
	collector *telemetry.Collector
	closers   []func() error
}

func (d *runDeps) Close() {
	for _, closer := range d.closers {
		_ = closer()
	}
}

// buildRunDeps constructs every dependency agent.Agent needs from cfg,
// mirroring the historical runAction dependency-construction block but
// collapsed to this domain's one-request-per-invocation shape.
func buildRunDeps(cfg *config.Config, kubeconfigPath string) (*runDeps, error) {
	deps := &runDeps{}

	reg, err := registry.Load(cfg.Datasets.Registry, cfg.Datasets.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading dataset registry: %w", err)
	}

	gate := policy.NewGate(policy.CompilerLimits{
		DefaultLimit:         cfg.Policy.PlanLimitDefault,
		MaxLimit:             cfg.Policy.PlanLimitMax,
		ExfilColumnThreshold: cfg.Policy.ExfilColumnThreshold,
	})

	exec, err := buildExecutor(cfg, kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("building executor: %w", err)
	}

	provider, err := anthropic.New(anthropic.Config{
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		MaxTokens:  4096,
		MaxRetries: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("building llm provider: %w", err)
	}

	toolRegistry, err := tools.NewRegistry(cfg.Policy.EnablePythonExecution)
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}

	capsules, closeCapsules, err := buildCapsuleStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("building capsule store: %w", err)
	}
	if closeCapsules != nil {
		deps.closers = append(deps.closers, closeCapsules)
	}

	threads, closeThreads, err := buildThreadStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("building thread store: %w", err)
	}
	if closeThreads != nil {
		deps.closers = append(deps.closers, closeThreads)
	}

	ag := &agent.Agent{
		Provider:            provider,
		Tools:               toolRegistry,
		Executor:            exec,
		Registry:            reg,
		Gate:                gate,
		Capsules:            capsules,
		Threads:             threads,
		ThreadHistoryWindow: cfg.LLM.ThreadHistoryWindow,
		MaxToolCalls:        cfg.LLM.MaxToolCalls,
		TimeoutSeconds:      cfg.Sandbox.RunTimeoutSeconds,
		MaxRows:             cfg.Sandbox.MaxRows,
		MaxOutputBytes:      cfg.Sandbox.MaxOutputBytes,
	}

	collector := telemetry.NewCollector(cfg.LLM.Provider, cfg.Sandbox.Provider, cfg.Capsule.Backend)
	deps.collector = collector

	var hook *webhooksink.Sink
	if cfg.Telemetry.WebhookURL != "" {
		hook, err = webhooksink.New(webhooksink.Config{URL: cfg.Telemetry.WebhookURL})
		if err != nil {
			return nil, fmt.Errorf("building webhook sink: %w", err)
		}
		deps.closers = append(deps.closers, hook.Close)
	}

	var tracer *telemetry.Tracer
	if cfg.Telemetry.OTelEndpoint != "" {
		tracer = telemetry.NewTracer()
	}

	deps.surface = &surface.Surface{
		Agent:   ag,
		Metrics: collector,
		Tracer:  tracer,
		Webhook: hook,
	}
	return deps, nil
}

// buildExecutor selects and constructs the one sandbox backend cfg
// names, registering each backend's config-bound constructor with an
// executor.Factory rather than relying on package-init self-
// registration — the backends need runtime config values (image,
// limits, endpoints) a bare init() has no access to.
func buildExecutor(cfg *config.Config, kubeconfigPath string) (executor.Executor, error) {
	factory := executor.NewFactory()

	localConfig := func() localcontainer.Config {
		return localcontainer.Config{
			ContainerRuntime: cfg.Sandbox.ContainerRuntime,
			RunnerImage:      cfg.Sandbox.RunnerImage,
			DatasetDir:       cfg.Datasets.Dir,
			RunTimeout:       time.Duration(cfg.Sandbox.RunTimeoutSeconds) * time.Second,
			MaxConcurrency:   cfg.Sandbox.MaxConcurrency,
		}
	}

	factory.Register(executor.ProviderLocal, func() (executor.Executor, error) {
		return localcontainer.New(localConfig()), nil
	})

	factory.Register(executor.ProviderRemote, func() (executor.Executor, error) {
		pool, err := endpointpool.New(cfg.Sandbox.Remote.Endpoints, endpointpool.StrategySticky)
		if err != nil {
			return nil, err
		}
		var fallback func(context.Context, *types.RunnerRequest) (string, *types.RunnerResponse, error)
		if cfg.Sandbox.Remote.FallbackEnabled {
			local := localcontainer.New(localConfig())
			fallback = local.Submit
		}
		return remotesandbox.New(remotesandbox.Config{
			BearerToken:   cfg.Sandbox.Remote.BearerToken,
			MaxRetries:    cfg.Sandbox.Remote.MaxRetries,
			LocalFallback: fallback,
		}, pool), nil
	})

	factory.Register(executor.ProviderCluster, func() (executor.Executor, error) {
		clientset, err := buildKubernetesClientset(kubeconfigPath)
		if err != nil {
			return nil, err
		}
		return clusterjob.New(clusterjob.Config{
			Namespace:          cfg.Sandbox.Cluster.Namespace,
			ServiceAccountName: cfg.Sandbox.Cluster.ServiceAccountName,
			NetworkPolicyName:  cfg.Sandbox.Cluster.NetworkPolicyName,
			RunnerImage:        cfg.Sandbox.RunnerImage,
			CPULimit:           cfg.Sandbox.Cluster.CPULimit,
			MemoryLimit:        cfg.Sandbox.Cluster.MemoryLimit,
			RetentionSeconds:   int32(cfg.Sandbox.Cluster.RetentionSeconds),
			PollInterval:       cfg.Sandbox.Cluster.PollInterval.Duration,
		}, clientset), nil
	})

	var (
		built executor.Executor
		err   error
	)
	switch cfg.Sandbox.Provider {
	case "", "local":
		built, err = factory.Build(executor.ProviderLocal)
	case "remote":
		built, err = factory.Build(executor.ProviderRemote)
	case "cluster":
		built, err = factory.Build(executor.ProviderCluster)
	default:
		return nil, fmt.Errorf("unknown sandbox provider: %s", cfg.Sandbox.Provider)
	}
	if err != nil {
		return nil, err
	}

	// The per-backend limits above bound each backend's own resources
	// (local's container count; remote and cluster set none); this is the
	// process-wide cap across whichever backend is selected, so every
	// backend is wrapped the same way regardless of provider.
	return executor.NewConcurrencyLimiter(built, cfg.Sandbox.MaxConcurrency), nil
}

// buildKubernetesClientset resolves a client-go clientset from an
// explicit kubeconfig path, falling back to in-cluster discovery — the
// same two-step fallback kubectl-adjacent tooling uses.
func buildKubernetesClientset(kubeconfigPath string) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error
	if kubeconfigPath != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("resolving kubernetes config: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}

func buildCapsuleStore(cfg *config.Config) (capsule.Store, func() error, error) {
	switch cfg.Capsule.Backend {
	case "file", "":
		if cfg.Capsule.Path == "" {
			return nil, nil, fmt.Errorf("capsule.path is required for the file backend")
		}
		store, err := filestore.Open(cfg.Capsule.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "lode":
		if cfg.Capsule.Bucket != "" {
			store, err := lodestore.OpenS3(lodestore.S3Config{
				Bucket: cfg.Capsule.Bucket,
				Region: cfg.Capsule.Region,
				Prefix: cfg.Capsule.Path,
			})
			return store, nil, err
		}
		store, err := lodestore.OpenFS(cfg.Capsule.Path)
		return store, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown capsule backend: %s", cfg.Capsule.Backend)
	}
}

func buildThreadStore(cfg *config.Config) (threadstore.Store, func() error, error) {
	switch cfg.Threads.Backend {
	case "memory", "":
		return memory.New(), nil, nil
	case "redis":
		store, err := redisstore.New(redisstore.Config{URL: cfg.Threads.RedisURL})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown threads backend: %s", cfg.Threads.Backend)
	}
}
