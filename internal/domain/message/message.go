package message

// Kind identifies an outgoing message
type Kind string

const (
	KindInitialize          Kind = "initialize"
	KindRunStarted          Kind = "run_started"
	KindDelta               Kind = "delta"
	KindRunFinished         Kind = "run_finished"
	KindSessionStateChanged Kind = "session_state_changed"
	KindCompileError        Kind = "compile_error"
	KindScriptChanged       Kind = "script_changed_on_disk"
)

// RunStatus describes how a run ended
type RunStatus string

const (
	RunSuccess      RunStatus = "success"
	RunException    RunStatus = "exception"
	RunCompileError RunStatus = "compile_error"
	RunStopped      RunStatus = "stopped"
	// RunRerun means the run was cut short by a newer rerun request
	RunRerun RunStatus = "rerun"
)

// Phase orders messages inside one flush window
type Phase int

const (
	PhaseLifecycle Phase = iota
	PhaseDelta
	PhaseFinish
)

// Message is one outgoing message handed to the transport
type Message struct {
	Kind       Kind          `json:"type"`
	RunID      string        `json:"run_id,omitempty"`
	Position   *Position     `json:"position,omitempty"`
	Delta      *Delta        `json:"delta,omitempty"`
	Status     RunStatus     `json:"status,omitempty"`
	State      *SessionState `json:"session_state,omitempty"`
	Error      *Exception    `json:"error,omitempty"`
	Initialize *Initialize   `json:"initialize,omitempty"`
}

// SessionState is the payload of SessionStateChanged
type SessionState struct {
	RunOnSave bool `json:"run_on_save"`
	IsRunning bool `json:"is_running"`
}

// Initialize is sent once per connection
type Initialize struct {
	SessionID     string          `json:"session_id"`
	ServerVersion string          `json:"server_version"`
	Features      map[string]bool `json:"features,omitempty"`
	Resumed       bool            `json:"resumed,omitempty"`
}

// Phase returns where the message sorts within a flush
func (m Message) Phase() Phase {
	switch m.Kind {
	case KindInitialize, KindRunStarted:
		return PhaseLifecycle
	case KindDelta:
		return PhaseDelta
	default:
		return PhaseFinish
	}
}

// NewElementMsg builds a NewElement delta message
func NewElementMsg(pos Position, el *Element) Message {
	return Message{
		Kind:     KindDelta,
		Position: &pos,
		Delta:    &Delta{Kind: DeltaNewElement, Element: el},
	}
}

// AddRowsMsg builds an AddRows delta message
func AddRowsMsg(pos Position, rows *DataFrame) Message {
	return Message{
		Kind:     KindDelta,
		Position: &pos,
		Delta:    &Delta{Kind: DeltaAddRows, Rows: rows},
	}
}

// RunStartedMsg marks the beginning of a run
func RunStartedMsg(runID string) Message {
	return Message{Kind: KindRunStarted, RunID: runID}
}

// RunFinishedMsg marks the end of a run
func RunFinishedMsg(runID string, status RunStatus) Message {
	return Message{Kind: KindRunFinished, RunID: runID, Status: status}
}

// SessionStateChangedMsg reports run_on_save / running state
func SessionStateChangedMsg(state SessionState) Message {
	return Message{Kind: KindSessionStateChanged, State: &state}
}

// CompileErrorMsg reports a script that failed before producing deltas
func CompileErrorMsg(runID string, exc *Exception) Message {
	return Message{Kind: KindCompileError, RunID: runID, Error: exc}
}

// InitializeMsg is the once-per-connection greeting
func InitializeMsg(init Initialize) Message {
	return Message{Kind: KindInitialize, Initialize: &init}
}

// ScriptChangedMsg tells the renderer the script changed on disk
func ScriptChangedMsg() Message {
	return Message{Kind: KindScriptChanged}
}
