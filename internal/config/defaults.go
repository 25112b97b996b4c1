package config

const (
	defaultPIDFile          = "~/.local/share/daemonkit/daemonkit.pid"
	defaultWorkingDirectory = "/"
	defaultDetach           = DetachAuto
	defaultStdout           = "~/.local/share/daemonkit/heartbeat.out"
	defaultStderr           = "~/.local/share/daemonkit/daemonkit.log"
	defaultStopTimeout      = 10
	defaultPollIntervalMS   = 100
	defaultHeartbeatSeconds = 5
	defaultHeartbeatMessage = "heartbeat"
	defaultLogFormat        = "auto"
	defaultLogLevel         = "info"
)

// Detach modes.
const (
	DetachAuto   = "auto"
	DetachAlways = "always"
	DetachNever  = "never"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Daemon: Daemon{
			PIDFile:          defaultPIDFile,
			WorkingDirectory: defaultWorkingDirectory,
			Detach:           defaultDetach,
		},
		Streams: Streams{
			Stdout: defaultStdout,
			Stderr: defaultStderr,
		},
		Runner: Runner{
			StopTimeout:    defaultStopTimeout,
			ForceKill:      true,
			PollIntervalMS: defaultPollIntervalMS,
		},
		Heartbeat: Heartbeat{
			Interval: defaultHeartbeatSeconds,
			Message:  defaultHeartbeatMessage,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
