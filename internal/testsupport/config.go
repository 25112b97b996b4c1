package testsupport

import (
	"path/filepath"
	"testing"

	"daemonkit/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp paths per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Daemon.PIDFile = filepath.Join(base, "run", "daemonkit.pid")
	cfgVal.Daemon.WorkingDirectory = base
	cfgVal.Daemon.Detach = config.DetachNever
	cfgVal.Streams.Stdout = filepath.Join(base, "logs", "stdout.log")
	cfgVal.Streams.Stderr = filepath.Join(base, "logs", "stderr.log")
	cfgVal.Runner.StopTimeout = 5
	cfgVal.Runner.PollIntervalMS = 20
	cfgVal.Heartbeat.Interval = 1
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithStopTimeout overrides the runner stop timeout in seconds.
func WithStopTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Runner.StopTimeout = seconds
	}
}

// WithForceKill toggles SIGKILL escalation on stop timeout.
func WithForceKill(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Runner.ForceKill = enabled
	}
}

// WithStreams overrides the stream redirection targets.
func WithStreams(stdin, stdout, stderr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Streams = config.Streams{Stdin: stdin, Stdout: stdout, Stderr: stderr}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(filepath.Dir(cfg.Daemon.PIDFile))
}
