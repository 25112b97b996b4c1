// Command daemonkit starts, stops and inspects a heartbeat daemon built on
// the daemonkit daemon context.
//
// Subcommands:
//
//	daemonkit start [--foreground]
//	daemonkit stop [--timeout S] [--no-force]
//	daemonkit restart
//	daemonkit status
//	daemonkit break-lock
//	daemonkit config init [PATH]
//	daemonkit config validate
//
// Configuration is read from --config, ~/.config/daemonkit/config.toml or
// ./daemonkit.toml, in that order.
package main
