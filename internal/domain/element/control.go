package element

import "errors"

// Control signals returned by Controller.Checkpoint. They unwind the running
// script; they are never shown to the user as exceptions.
var (
	ErrStopRequested  = errors.New("stop requested")
	ErrRerunRequested = errors.New("rerun requested")
	ErrShutdown       = errors.New("session shutting down")
)

// IsControl reports whether err is a control signal
func IsControl(err error) bool {
	return errors.Is(err, ErrStopRequested) ||
		errors.Is(err, ErrRerunRequested) ||
		errors.Is(err, ErrShutdown)
}
