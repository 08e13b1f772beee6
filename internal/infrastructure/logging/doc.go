// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for humans
//
// The level is atomic; SetLevel applies a new level to every logger derived
// from the root, which is how config reloads take effect.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("addr", addr))
//	logger.Error("Spawn failed", zap.Error(err))
package logging
