package runner

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
)

// ErrShuttingDown is returned for requests made after Shutdown
var ErrShuttingDown = errors.New("runner is shutting down")

// State of the script runner
type State int

const (
	NotRunning State = iota
	Running
	Stopped
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case NotRunning:
		return "not_running"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Request is a rerun intent. Nil Args reuse the previous run's arguments.
type Request struct {
	Args    []string
	Widgets map[string]any
}

// merge folds an older pending request into r. Newer widget edits win.
// Arguments always come from r; nil still means the previous run's.
func (r Request) merge(older Request) Request {
	if len(older.Widgets) == 0 {
		return r
	}
	merged := make(map[string]any, len(older.Widgets)+len(r.Widgets))
	for k, v := range older.Widgets {
		merged[k] = v
	}
	for k, v := range r.Widgets {
		merged[k] = v
	}
	r.Widgets = merged
	return r
}

// EventKind identifies a runner event
type EventKind int

const (
	RunStarted EventKind = iota
	RunFinished
)

// Event reports run transitions to the owning session
type Event struct {
	Kind     EventKind
	RunID    string
	Args     []string
	Status   message.RunStatus
	Duration time.Duration
	Deltas   int
	Pruned   []string
	Err      error
}
