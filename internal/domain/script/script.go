package script

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptflow/internal/domain/cache"
	"github.com/GriffinCanCode/scriptflow/internal/domain/element"
	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
)

// Env is everything one execution of a script can reach. It is passed
// explicitly; nothing is looked up from goroutine-local state.
type Env struct {
	Ctx    context.Context
	Run    *element.Run
	Args   []string
	Cache  cache.Store
	Logger *zap.Logger
}

// Program is a compiled script, executed once per run
type Program interface {
	Execute(env *Env) error
}

// Source produces programs. Compile is called at the start of every run and
// may return a cached program.
type Source interface {
	Name() string
	Compile() (Program, error)
}

// CompileError is a failure detected before any write call could run
type CompileError struct {
	Name string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %v", e.Name, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Payload converts the error for the CompileError session event
func (e *CompileError) Payload() *message.Exception {
	return &message.Exception{Type: "CompileError", Message: e.Err.Error()}
}

// ExecError is an uncaught failure raised while the script was running
type ExecError struct {
	Exception *message.Exception
	Err       error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Exception.Type, e.Exception.Message)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Func adapts a Go function into a Source and Program
type Func func(env *Env) error

// Name implements Source
func (f Func) Name() string { return "func" }

// Compile implements Source
func (f Func) Compile() (Program, error) { return f, nil }

// Execute implements Program
func (f Func) Execute(env *Env) error { return f(env) }
