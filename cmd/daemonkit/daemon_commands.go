package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"daemonkit/internal/detach"
	"daemonkit/internal/heartbeat"
	"daemonkit/internal/runner"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var foreground bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.newRunner(true, foreground)
			if err != nil {
				return err
			}
			if !detach.Reborn() {
				fmt.Fprintf(cmd.OutOrStdout(), "Starting daemon (pid file %s)\n", r.PIDFile())
			}
			return r.Start(cmd.Context())
		},
	}
	startCmd.Flags().BoolVar(&foreground, "foreground", false, "Stay attached to the terminal and keep the standard streams")

	var stopTimeout int
	var noForce bool
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if stopTimeout > 0 {
				cfg.Runner.StopTimeout = stopTimeout
			}
			if noForce {
				cfg.Runner.ForceKill = false
			}
			r, err := ctx.newRunner(false, false)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			result, err := r.Stop(cmd.Context())
			if errors.Is(err, runner.ErrNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			printStopResult(cmd, result)
			return nil
		},
	}
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 0, "Seconds to wait for the daemon to exit (default runner.stop_timeout)")
	stopCmd.Flags().BoolVar(&noForce, "no-force", false, "Fail instead of sending SIGKILL when the timeout expires")

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.newRunner(true, false)
			if err != nil {
				return err
			}
			if !detach.Reborn() {
				fmt.Fprintln(cmd.OutOrStdout(), "Restarting daemon")
			}
			return r.Restart(cmd.Context())
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pid file and daemon process state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.newRunner(false, false)
			if err != nil {
				return err
			}
			st, statusErr := r.Status()

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range renderSectionHeader("Daemon Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderDaemonStatus(st, statusErr, colorize))
			fmt.Fprintln(stdout)
			fmt.Fprint(stdout, renderTable([]string{"Field", "Value"}, statusRows(st), []columnAlignment{alignLeft, alignLeft}))
			fmt.Fprintln(stdout)
			return nil
		},
	}

	breakLockCmd := &cobra.Command{
		Use:   "break-lock",
		Short: "Remove the pid file regardless of which process it names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ctx.newRunner(false, false)
			if err != nil {
				return err
			}
			if err := r.BreakLock(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed pid file %s\n", r.PIDFile())
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd, breakLockCmd}
}

// newRunner builds a runner from the loaded configuration. withApp attaches
// the heartbeat application for actions that start a daemon.
func (c *commandContext) newRunner(withApp, foreground bool) (*runner.Runner, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	var app runner.App
	if withApp {
		app = heartbeat.New(os.Stdout, cfg.HeartbeatInterval(), cfg.Heartbeat.Message, logger)
	}
	return runner.New(cfg, app, logger, runner.WithForeground(foreground)), nil
}

func printStopResult(cmd *cobra.Command, result runner.StopResult) {
	stdout := cmd.OutOrStdout()
	switch {
	case result.Stale:
		fmt.Fprintf(stdout, "Removed stale pid file (pid %d was not running)\n", result.PID)
		return
	case result.ForcedKill:
		fmt.Fprintf(stdout, "Daemon ignored SIGTERM; killed process (pid %d)\n", result.PID)
	}
	fmt.Fprintf(stdout, "Daemon stopped (pid %d)\n", result.PID)
}

func statusRows(st runner.Status) [][]string {
	pid := "-"
	if st.PID > 0 {
		pid = strconv.Itoa(st.PID)
	}
	return [][]string{
		{"PID file", st.PIDFile},
		{"PID", pid},
		{"Locked", yesNo(st.Locked)},
		{"Running", yesNo(st.Running)},
		{"Stale", yesNo(st.Stale)},
	}
}
