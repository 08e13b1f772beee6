// Package main is the entry point for the termbroker server.
//
// The server owns a set of interactive shell sessions, each on its own
// pseudo-terminal, and exposes them over REST and a WebSocket stream.
//
// Configuration:
//   - Defaults, then the config file (-config or $CONFIG_FILE, YAML or TOML),
//     then environment variables, then flags
//   - The config file is watched; log level changes apply without a restart
//
// Usage:
//
//	# Production mode
//	./server -port 8000
//
//	# Development mode (console logs, debug level)
//	./server -dev
//
//	# With a config file
//	./server -config termbroker.yaml
//
// SIGINT or SIGTERM kills every session and shuts the server down.
package main
