package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeDaemon(); err != nil {
		return err
	}
	if err := c.normalizeStreams(); err != nil {
		return err
	}
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	c.Heartbeat.Message = strings.TrimSpace(c.Heartbeat.Message)
	if c.Heartbeat.Message == "" {
		c.Heartbeat.Message = defaultHeartbeatMessage
	}
	return nil
}

func (c *Config) normalizeDaemon() error {
	var err error
	if c.Daemon.PIDFile, err = expandPath(strings.TrimSpace(c.Daemon.PIDFile)); err != nil {
		return fmt.Errorf("daemon.pid_file: %w", err)
	}
	if strings.TrimSpace(c.Daemon.WorkingDirectory) == "" {
		c.Daemon.WorkingDirectory = defaultWorkingDirectory
	}
	if c.Daemon.WorkingDirectory, err = expandPath(strings.TrimSpace(c.Daemon.WorkingDirectory)); err != nil {
		return fmt.Errorf("daemon.working_directory: %w", err)
	}
	if c.Daemon.ChrootDirectory, err = expandPath(strings.TrimSpace(c.Daemon.ChrootDirectory)); err != nil {
		return fmt.Errorf("daemon.chroot_directory: %w", err)
	}
	c.Daemon.User = strings.TrimSpace(c.Daemon.User)
	c.Daemon.Group = strings.TrimSpace(c.Daemon.Group)
	c.Daemon.Detach = strings.ToLower(strings.TrimSpace(c.Daemon.Detach))
	if c.Daemon.Detach == "" {
		c.Daemon.Detach = defaultDetach
	}
	return nil
}

func (c *Config) normalizeStreams() error {
	var err error
	if c.Streams.Stdin, err = expandPath(strings.TrimSpace(c.Streams.Stdin)); err != nil {
		return fmt.Errorf("streams.stdin: %w", err)
	}
	if c.Streams.Stdout, err = expandPath(strings.TrimSpace(c.Streams.Stdout)); err != nil {
		return fmt.Errorf("streams.stdout: %w", err)
	}
	if c.Streams.Stderr, err = expandPath(strings.TrimSpace(c.Streams.Stderr)); err != nil {
		return fmt.Errorf("streams.stderr: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	var err error
	if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	return nil
}
