// Package logging provides structured logging using uber/zap.
//
// Two encodings are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components receive a named child logger (session, runner, ws, ...) so
// the "component" field identifies where an entry came from. The level can be
// changed at runtime with SetLevel.
//
// Example Usage:
//
//	logger := logging.MustNew(logging.Config{Level: "debug", Development: true})
//	logger.Component("server").Info("starting", zap.String("addr", ":8000"))
package logging
