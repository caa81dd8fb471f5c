package message

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrUnknownCommand is returned for inbound messages with an unrecognized type
var ErrUnknownCommand = errors.New("unknown command")

// Command is an inbound client control command
type Command string

const (
	CmdRerunScript  Command = "rerun_script"
	CmdStopScript   Command = "stop_script"
	CmdClearCache   Command = "clear_cache"
	CmdSetRunOnSave Command = "set_run_on_save"
)

// BackMsg is a decoded client command.
//
// Widgets is nil when the client sent no widget state, which keeps the
// stored values; an empty map is an explicit "no edits".
type BackMsg struct {
	Type      Command        `json:"type"`
	Args      []string       `json:"args,omitempty"`
	Widgets   map[string]any `json:"widgets,omitempty"`
	RunOnSave *bool          `json:"run_on_save,omitempty"`
}

// Encode marshals an outgoing message
func Encode(m Message) ([]byte, error) {
	data, err := sonic.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Kind, err)
	}
	return data, nil
}

// Decode unmarshals an outgoing message (used by clients and tests)
func Decode(data []byte) (Message, error) {
	var m Message
	if err := sonic.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return m, nil
}

// DecodeBackMsg unmarshals and validates an inbound command
func DecodeBackMsg(data []byte) (*BackMsg, error) {
	var msg BackMsg
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}

	switch msg.Type {
	case CmdRerunScript, CmdStopScript, CmdClearCache:
	case CmdSetRunOnSave:
		if msg.RunOnSave == nil {
			return nil, fmt.Errorf("set_run_on_save requires run_on_save")
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Type)
	}
	return &msg, nil
}
