// Package watcher polls a script and related files for changes to drive
// run-on-save.
package watcher
