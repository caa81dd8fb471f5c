// Package script compiles and executes user scripts.
//
// JavaScript sources run in a fresh goja VM per run with a global st object
// bound to the run's element tree. Go functions can be used as scripts
// through Func.
package script
