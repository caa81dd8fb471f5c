// Package element turns a script's sequential write calls into positioned
// deltas.
//
// A Run owns the cursors of one script execution. Generators write into one
// block of the tree; entering a container (columns, expander, container)
// returns a child generator whose cursor starts at zero, so the Nth write in
// a given block maps to the same position on every run with the same control
// flow. Every write is a safe point: the run's Controller is consulted first
// and a control signal unwinds the script.
//
// Element kinds live in a Registry (kind -> builder, optional widget spec);
// scripting layers install one binding per registered kind.
package element
