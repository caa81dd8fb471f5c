package runner

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/domain/script"
)

// PanicError is a panic recovered from a Go script
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// exceptionFor converts a run failure into the inline exception payload
func exceptionFor(err error) *message.Exception {
	var execErr *script.ExecError
	if errors.As(err, &execErr) && execErr.Exception != nil {
		return execErr.Exception
	}

	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return &message.Exception{
			Type:        "panic",
			Message:     fmt.Sprint(panicErr.Value),
			StackFrames: stackFrames(panicErr.Stack),
		}
	}

	return &message.Exception{Type: "Error", Message: err.Error()}
}

// stackFrames pairs each function line of a goroutine dump with its location
func stackFrames(stack []byte) []string {
	lines := strings.Split(strings.TrimSpace(string(stack)), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "goroutine ") {
		lines = lines[1:]
	}

	var frames []string
	for i := 0; i+1 < len(lines); i += 2 {
		fn := strings.TrimSpace(lines[i])
		loc := strings.TrimSpace(lines[i+1])
		if idx := strings.LastIndex(loc, " +0x"); idx > 0 {
			loc = loc[:idx]
		}
		frames = append(frames, fn+" ("+loc+")")
	}
	return frames
}

// protect runs prog, converting a panic into a PanicError
func protect(prog script.Program, env *script.Env) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return prog.Execute(env)
}
