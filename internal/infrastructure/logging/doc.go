// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Guests log through a named child logger carrying their guest_id, so
// interleaved output from concurrent guests stays attributable.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("port", "8000"))
//	glog := logger.ForGuest("gst_01H...")
//	glog.Debug("module.require", zap.String("path", "/cwd/app.js"))
package logging
