package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Daemon contains the process state the daemon context establishes.
type Daemon struct {
	PIDFile          string `toml:"pid_file"`
	WorkingDirectory string `toml:"working_directory"`
	ChrootDirectory  string `toml:"chroot_directory"`
	Umask            int    `toml:"umask"`
	User             string `toml:"user"`
	Group            string `toml:"group"`
	Detach           string `toml:"detach"`
	LockTimeout      int    `toml:"lock_timeout"`
	FilesPreserve    []int  `toml:"files_preserve"`
}

// Streams contains the files the standard streams are redirected to. Empty
// stdin and stdout select the null device; an empty stderr follows stdout.
type Streams struct {
	Stdin  string `toml:"stdin"`
	Stdout string `toml:"stdout"`
	Stderr string `toml:"stderr"`
}

// Runner contains start/stop behaviour.
type Runner struct {
	StopTimeout    int  `toml:"stop_timeout"`
	ForceKill      bool `toml:"force_kill"`
	PollIntervalMS int  `toml:"poll_interval_ms"`
}

// Heartbeat configures the sample application.
type Heartbeat struct {
	Interval int    `toml:"interval"`
	Message  string `toml:"message"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Config encapsulates all configuration values for daemonkit.
//
// Configuration sections by subsystem:
//   - Daemon: pid file, directories, umask, identity and detach mode
//   - Streams: standard stream redirection targets
//   - Runner: stop timeout and forced kill
//   - Heartbeat: sample application interval and message
//   - Logging: log format, level and file
type Config struct {
	Daemon    Daemon    `toml:"daemon"`
	Streams   Streams   `toml:"streams"`
	Runner    Runner    `toml:"runner"`
	Heartbeat Heartbeat `toml:"heartbeat"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/daemonkit/config.toml")
}

// PathEnv carries the resolved configuration file to re-executed detach
// stages. An empty value records that the launching stage used defaults.
const PathEnv = "DAEMONKIT_CONFIG"

// ErrNotCarried reports a detach stage started without a recorded
// configuration.
var ErrNotCarried = errors.New("configuration not carried to detach stage")

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. An explicit path must exist.
func Load(path string) (*Config, string, bool, error) {
	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	cfg, err := load(resolvedPath, exists)
	if err != nil {
		return nil, "", false, err
	}
	return cfg, resolvedPath, exists, nil
}

// Carry records the outcome of Load in the environment so re-executed detach
// stages read the same file regardless of their working directory.
func Carry(resolvedPath string, exists bool) error {
	if !exists {
		resolvedPath = ""
	}
	return os.Setenv(PathEnv, resolvedPath)
}

// LoadCarried loads the configuration recorded by Carry. It fails when
// nothing was recorded or the recorded file is gone.
func LoadCarried() (*Config, string, bool, error) {
	path, ok := os.LookupEnv(PathEnv)
	if !ok {
		return nil, "", false, fmt.Errorf("%w: %s unset", ErrNotCarried, PathEnv)
	}
	if path == "" {
		cfg, err := load("", false)
		if err != nil {
			return nil, "", false, err
		}
		return cfg, "", false, nil
	}
	if !filepath.IsAbs(path) {
		return nil, "", false, fmt.Errorf("%w: %s is not absolute: %q", ErrNotCarried, PathEnv, path)
	}
	return Load(path)
}

func load(resolvedPath string, exists bool) (*Config, error) {
	cfg := Default()

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if pidFile := strings.TrimSpace(os.Getenv("DAEMONKIT_PID_FILE")); pidFile != "" {
		cfg.Daemon.PIDFile = pidFile
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file not found: %w", err)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("daemonkit.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the parent directories of the pid file, the
// stream targets and the log file. The pid file directory is skipped under
// chroot because the path is resolved inside the new root.
func (c *Config) EnsureDirectories() error {
	var paths []string
	if c.Daemon.ChrootDirectory == "" {
		paths = append(paths, c.Daemon.PIDFile)
	}
	paths = append(paths, c.Streams.Stdout, c.Streams.Stderr, c.Logging.File)
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StopTimeout returns how long stop waits for the daemon to exit.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Runner.StopTimeout) * time.Second
}

// PollInterval returns the delay between liveness and lock checks.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Runner.PollIntervalMS) * time.Millisecond
}

// LockTimeout returns how long the daemon waits for the pid file. Negative
// values mean wait forever.
func (c *Config) LockTimeout() time.Duration {
	if c.Daemon.LockTimeout < 0 {
		return -1
	}
	return time.Duration(c.Daemon.LockTimeout) * time.Second
}

// HeartbeatInterval returns the delay between heartbeats.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.Interval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
// An existing file is left untouched.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	if _, err := file.WriteString(sampleConfig); err != nil {
		_ = file.Close()
		return fmt.Errorf("write sample config: %w", err)
	}
	return file.Close()
}
