// Package runner implements the script runner state machine.
//
// A Runner owns one goroutine that executes the session's script whenever a
// rerun is requested. Stop and rerun requests never preempt the script; they
// are raised at the next safe point (every write call) through Checkpoint.
package runner
