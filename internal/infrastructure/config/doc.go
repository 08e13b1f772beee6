// Package config loads service configuration.
//
// Sources, lowest precedence first:
//   - Default values
//   - A YAML (.yaml/.yml) or TOML (.toml) file named by -config or CONFIG_FILE
//   - Environment variables (PORT, LOG_LEVEL, PTY_DRAIN_TIMEOUT, ...)
//
// Watch re-reads the file on change so settings such as the log level can
// be applied without a restart.
package config
