package cmd

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/tabularun/tabularun/config"
	"github.com/tabularun/tabularun/executor"
	"github.com/tabularun/tabularun/telemetry"
)

func newTestRunContext(t *testing.T, flagValues map[string]string) *cli.Context {
	t.Helper()
	app := &cli.App{}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var cliFlags []cli.Flag
	for name := range flagValues {
		fs.String(name, "", "")
		cliFlags = append(cliFlags, &cli.StringFlag{Name: name})
	}
	app.Flags = cliFlags
	for name, val := range flagValues {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}
	return cli.NewContext(app, fs, nil)
}

func TestResolveMessage_RequiresOneSource(t *testing.T) {
	c := newTestRunContext(t, nil)
	if _, err := resolveMessage(c); err == nil {
		t.Error("expected an error when neither --message nor --message-file is set")
	}
}

func TestResolveMessage_RejectsBothSources(t *testing.T) {
	c := newTestRunContext(t, map[string]string{"message": "hi", "message-file": "/tmp/x"})
	if _, err := resolveMessage(c); err == nil {
		t.Error("expected an error when both --message and --message-file are set")
	}
}

func TestResolveMessage_FromFlag(t *testing.T) {
	c := newTestRunContext(t, map[string]string{"message": "how many rows are there?"})
	got, err := resolveMessage(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "how many rows are there?" {
		t.Errorf("got %q", got)
	}
}

func TestResolveMessage_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "message.txt")
	if err := os.WriteFile(path, []byte("what's the total?"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := newTestRunContext(t, map[string]string{"message-file": path})
	got, err := resolveMessage(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "what's the total?" {
		t.Errorf("got %q", got)
	}
}

func TestApplyRunFlagOverrides_OnlySetFlagsWin(t *testing.T) {
	c := newTestRunContext(t, map[string]string{"sandbox-provider": "remote"})
	cfg := &config.Config{}
	cfg.Sandbox.Provider = "local"
	cfg.Sandbox.RunnerImage = "from-config-file"

	applyRunFlagOverrides(c, cfg)

	if cfg.Sandbox.Provider != "remote" {
		t.Errorf("expected explicitly-set flag to override config, got %q", cfg.Sandbox.Provider)
	}
	if cfg.Sandbox.RunnerImage != "from-config-file" {
		t.Errorf("expected unset flag to leave config value alone, got %q", cfg.Sandbox.RunnerImage)
	}
}

func TestApplyRunFlagOverrides_CapsuleAndThreadsBackends(t *testing.T) {
	c := newTestRunContext(t, map[string]string{
		"capsule-backend": "lode",
		"threads-backend": "redis",
	})
	cfg := &config.Config{}
	applyRunFlagOverrides(c, cfg)

	if cfg.Capsule.Backend != "lode" {
		t.Errorf("got capsule backend %q", cfg.Capsule.Backend)
	}
	if cfg.Threads.Backend != "redis" {
		t.Errorf("got threads backend %q", cfg.Threads.Backend)
	}
}

func TestWriteAndLoadTelemetrySnapshot_RoundTrips(t *testing.T) {
	c := telemetry.NewCollector("anthropic", "local", "file")
	c.IncRunStarted()
	c.IncRunOutcome("succeeded")
	want := c.Snapshot()

	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := writeTelemetrySnapshot(path, want); err != nil {
		t.Fatalf("writeTelemetrySnapshot: %v", err)
	}

	got, err := loadTelemetrySnapshot(path)
	if err != nil {
		t.Fatalf("loadTelemetrySnapshot: %v", err)
	}
	if got.RunsStarted != want.RunsStarted || got.RunsSucceeded != want.RunsSucceeded {
		t.Errorf("snapshot did not round-trip: got %+v, want %+v", got, want)
	}
}

func TestLoadTelemetrySnapshot_RejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadTelemetrySnapshot(path); err == nil {
		t.Error("expected an error for invalid JSON")
	}
}

func TestLoadTelemetrySnapshot_MissingFile(t *testing.T) {
	if _, err := loadTelemetrySnapshot(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestBuildCapsuleStore_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Capsule.Backend = "bogus"
	if _, _, err := buildCapsuleStore(cfg); err == nil {
		t.Error("expected an error for an unknown capsule backend")
	}
}

func TestBuildCapsuleStore_FileBackendRequiresPath(t *testing.T) {
	cfg := &config.Config{}
	cfg.Capsule.Backend = "file"
	if _, _, err := buildCapsuleStore(cfg); err == nil {
		t.Error("expected an error when --capsule-path is unset for the file backend")
	}
}

func TestBuildCapsuleStore_FileBackendOpensAtPath(t *testing.T) {
	cfg := &config.Config{}
	cfg.Capsule.Backend = "file"
	cfg.Capsule.Path = filepath.Join(t.TempDir(), "capsules.log")

	store, closer, err := buildCapsuleStore(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store == nil {
		t.Fatal("expected a non-nil store")
	}
	if closer != nil {
		if err := closer(); err != nil {
			t.Errorf("close: %v", err)
		}
	}
}

func TestBuildThreadStore_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Threads.Backend = "bogus"
	if _, _, err := buildThreadStore(cfg); err == nil {
		t.Error("expected an error for an unknown threads backend")
	}
}

func TestBuildThreadStore_MemoryBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Threads.Backend = "memory"
	store, closer, err := buildThreadStore(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store == nil {
		t.Fatal("expected a non-nil store")
	}
	if closer != nil {
		t.Error("expected no closer for the in-memory backend")
	}
}

func TestBuildExecutor_UnknownProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sandbox.Provider = "bogus"
	if _, err := buildExecutor(cfg, ""); err == nil {
		t.Error("expected an error for an unknown sandbox provider")
	}
}

func TestBuildExecutor_DefaultsToLocal(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	exec, err := buildExecutor(cfg, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec == nil {
		t.Fatal("expected a non-nil executor")
	}
}

func TestBuildExecutor_WrapsEveryBackendWithTheProcessWideCap(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Sandbox.MaxConcurrency = 3

	exec, err := buildExecutor(cfg, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	limiter, ok := exec.(*executor.ConcurrencyLimiter)
	if !ok {
		t.Fatalf("expected buildExecutor to return a *executor.ConcurrencyLimiter, got %T", exec)
	}
	if stats := limiter.Stats(); stats.Submitted != 0 || stats.Active != 0 {
		t.Errorf("expected a fresh limiter to have no submissions yet, got %+v", stats)
	}
}

func TestExitConfigError_IsDistinctFromAgentStatusCodes(t *testing.T) {
	if exitConfigError == 0 {
		t.Error("exitConfigError must not collide with the success exit code")
	}
}

func TestResolveMessage_AcceptsContextWithTUIFlag(t *testing.T) {
	c := newTestRunContext(t, map[string]string{
		"message": "hi",
		"dataset": "orders",
		"tui":     "true",
	})
	// runAction fails before reaching the --tui check (no registry is
	// configured in this bare context), but resolveMessage and the
	// config layer must not panic on a minimal context.
	if _, err := resolveMessage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
