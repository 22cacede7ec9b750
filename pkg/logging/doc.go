// Package logging provides structured logging for drover with level
// filtering and per-subsystem tagging.
//
// The package is a thin layer over Go's standard slog package. Every entry
// carries a subsystem identifier so log output can be filtered by component:
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Watcher", "starting at cursor %d", cursor)
//	logging.Debug("Election", "renewed lease %q", lock)
//	logging.Error("Controller", err, "reconcile of %s failed", key)
//
// Subsystems in use across the codebase:
//
//   - Bootstrap: process startup and shutdown
//   - Election:  lease acquisition, renewal and step-down
//   - Watcher:   change polling and bookmark progress
//   - Controller (and per-controller names): phase handling and finalizers
//
// The package is safe for concurrent use. Logging before Init falls back to
// an Info-level stderr logger rather than panicking.
package logging
