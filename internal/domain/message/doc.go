// Package message defines the values exchanged between a session and its
// renderer.
//
// Outgoing:
//   - Delta: NewElement or AddRows targeted at a Position
//   - RunStarted / RunFinished: bracket every script run
//   - SessionStateChanged, CompileError, Initialize, ScriptChangedOnDisk
//
// Inbound commands (BackMsg): rerun_script, stop_script, clear_cache,
// set_run_on_save.
//
// Encoding is JSON via bytedance/sonic. Element payloads stay generic
// (kind + props + optional data frame) so renderers decide how to draw them.
package message
