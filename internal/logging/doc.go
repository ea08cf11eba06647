// Package logging provides module-scoped slog loggers whose levels can be
// changed while the service runs.
//
// Each record goes to stdout when something is attached to it, to the
// systemd journal when journald is reachable, and to an in-memory history
// that backs GET /api/logs and the log SSE stream.
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"session": "debug"},
//	})
//
//	logger := logging.GetLogger("session").With("session_id", id)
//	logger.Info("Session started", "width", w, "height", h)
//
// In the service config, keys under [logging] other than level and format
// set module levels:
//
//	[logging]
//	level = "info"
//	format = "json"
//	session = "debug"
//	feedback = "warn"
//
// Journal entries carry every attribute as an upper-case field, so a
// session can be followed with
//
//	journalctl -t foveanode SESSION_ID=3f2c...
package logging
