package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"daemonkit/internal/config"
	"daemonkit/internal/detach"
	"daemonkit/internal/logging"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

// ensureConfig loads the configuration once. Re-executed detach stages run
// from the daemon's working directory, so they read the file the launching
// process resolved instead of searching again.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := c.loadConfig()
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil {
			if level := strings.ToLower(strings.TrimSpace(*c.logLevelFlag)); level != "" {
				if !logging.ValidLevel(level) {
					c.configErr = fmt.Errorf("--log-level: unsupported value %q", level)
					return
				}
				cfg.Logging.Level = level
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	if detach.Reborn() {
		cfg, _, _, err := config.LoadCarried()
		if err != nil {
			return nil, fmt.Errorf("load config in detach stage: %w", err)
		}
		return cfg, nil
	}
	var path string
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Carry(resolved, exists); err != nil {
		return nil, fmt.Errorf("record config path: %w", err)
	}
	return cfg, nil
}

// ensureLogger builds the process logger. Output goes to stderr, which the
// daemon context redirects once detached, and to logging.file when set.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		outputs := []string{"stderr"}
		if cfg.Logging.File != "" {
			outputs = append(outputs, cfg.Logging.File)
		}
		logger, err := logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			OutputPaths: outputs,
		})
		if err != nil {
			c.loggerErr = fmt.Errorf("init logger: %w", err)
			return
		}
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
