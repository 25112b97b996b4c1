package config

import (
	"errors"
	"fmt"

	"daemonkit/internal/logging"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateRunner(); err != nil {
		return err
	}
	if err := c.validateHeartbeat(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.PIDFile == "" {
		return errors.New("daemon.pid_file must be set")
	}
	switch c.Daemon.Detach {
	case DetachAuto, DetachAlways, DetachNever:
	default:
		return fmt.Errorf("daemon.detach must be one of auto, always, never (got %q)", c.Daemon.Detach)
	}
	if c.Daemon.Umask < 0 || c.Daemon.Umask > 0o777 {
		return fmt.Errorf("daemon.umask must be between 0 and 0o777 (got %#o)", c.Daemon.Umask)
	}
	for _, fd := range c.Daemon.FilesPreserve {
		if fd < 0 {
			return fmt.Errorf("daemon.files_preserve must contain non-negative descriptors (got %d)", fd)
		}
	}
	return nil
}

func (c *Config) validateRunner() error {
	if c.Runner.StopTimeout <= 0 {
		return errors.New("runner.stop_timeout must be positive")
	}
	if c.Runner.PollIntervalMS <= 0 {
		return errors.New("runner.poll_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateHeartbeat() error {
	if c.Heartbeat.Interval <= 0 {
		return errors.New("heartbeat.interval must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of console, json, auto (got %q)", c.Logging.Format)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	return nil
}
