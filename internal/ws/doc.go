// Package ws serves sessions over WebSocket.
//
// Each connection is attached to a session through the session manager.
// Flushed session messages are written as one JSON text frame each; inbound
// text frames are decoded as commands.
//
// Message Types (Client → Server):
//   - rerun_script: rerun with optional args and widget edits
//   - stop_script: halt the current run at its next safe point
//   - clear_cache: empty the script memo cache
//   - set_run_on_save: toggle rerunning on script changes
//
// Message Types (Server → Client):
//   - initialize: sent once per connection
//   - run_started, delta, run_finished: one run's lifecycle
//   - session_state_changed, compile_error, script_changed_on_disk
//   - error: a command was rejected
//
// Reconnecting with ?session=<id> within the grace period resumes the session.
//
// Example Usage:
//
//	handler := ws.NewHandler(manager, ws.DefaultConfig(), logger, metrics)
//	router.GET("/stream", handler.HandleConnection)
package ws
