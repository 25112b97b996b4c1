// Package config loads, normalizes, and validates daemonkit configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the DAEMONKIT_PID_FILE environment
// fallback. The Config type centralizes every knob the daemon context, the
// runner, and the sample application need.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical enum values, and clear validation errors.
package config
