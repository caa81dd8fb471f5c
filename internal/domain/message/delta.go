package message

import "maps"

// DeltaKind distinguishes the two mutation variants
type DeltaKind string

const (
	// DeltaNewElement defines (or replaces) the element at a position
	DeltaNewElement DeltaKind = "new_element"
	// DeltaAddRows appends rows to the data-bearing element at a position
	DeltaAddRows DeltaKind = "add_rows"
)

// Delta is an atomic UI mutation targeted at one position
type Delta struct {
	Kind    DeltaKind  `json:"kind"`
	Element *Element   `json:"element,omitempty"`
	Rows    *DataFrame `json:"rows,omitempty"`
}

// BlockKind is the element kind used for container blocks
const BlockKind = "block"

// Element is the payload of a NewElement delta
type Element struct {
	Kind      string         `json:"kind"`
	Props     map[string]any `json:"props,omitempty"`
	Data      *DataFrame     `json:"data,omitempty"`
	Widget    *WidgetState   `json:"widget,omitempty"`
	Exception *Exception     `json:"exception,omitempty"`
}

// WidgetState carries a widget's identity and resolved value to the renderer
type WidgetState struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// Exception describes a script failure rendered in place
type Exception struct {
	Type        string   `json:"type"`
	Message     string   `json:"message"`
	StackFrames []string `json:"stack_frames,omitempty"`
}

// Streamable reports whether rows may be appended to the element
func (e *Element) Streamable() bool {
	return e != nil && e.Data != nil
}

// Clone returns a copy that can be mutated without affecting e.
// Row slices are copied; cell values are shared.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	out := *e
	if e.Props != nil {
		out.Props = maps.Clone(e.Props)
	}
	out.Data = e.Data.Clone()
	if e.Widget != nil {
		w := *e.Widget
		out.Widget = &w
	}
	if e.Exception != nil {
		x := *e.Exception
		x.StackFrames = append([]string(nil), e.Exception.StackFrames...)
		out.Exception = &x
	}
	return &out
}
