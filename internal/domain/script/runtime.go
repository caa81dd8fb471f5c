package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptflow/internal/domain/element"
	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
)

var errTimeout = errors.New("execution timeout exceeded")

// Config defines the limits of the script VM
type Config struct {
	Timeout          time.Duration // Zero means no limit
	MaxCallStackSize int
	EnableConsole    bool
}

// DefaultConfig returns the VM limits used when nothing is configured
func DefaultConfig() Config {
	return Config{
		MaxCallStackSize: 1024,
		EnableConsole:    true,
	}
}

// jsProgram executes a compiled goja program in a fresh VM per run
type jsProgram struct {
	name    string
	program *goja.Program
	config  Config
}

// Execute implements Program
func (p *jsProgram) Execute(env *Env) error {
	if env.Run == nil {
		return errors.New("script environment has no run")
	}
	ctx := env.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	vm := goja.New()
	if p.config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(p.config.MaxCallStackSize)
	}

	rt := &runtime{
		vm:     vm,
		env:    env,
		ctx:    ctx,
		logger: logger.With(zap.String("script", p.name)),
	}
	if err := rt.setupGlobals(p.config.EnableConsole); err != nil {
		return fmt.Errorf("failed to set up script globals: %w", err)
	}

	done := make(chan struct{})
	go rt.watch(done, p.config.Timeout)

	_, err := vm.RunProgram(p.program)
	close(done)

	return rt.result(err, p.config.Timeout)
}

// runtime binds one run's element tree into a VM
type runtime struct {
	vm     *goja.Runtime
	env    *Env
	ctx    context.Context
	logger *zap.Logger

	mu     sync.Mutex
	signal error
}

// watch interrupts the VM when the context ends or the timeout fires
func (r *runtime) watch(done <-chan struct{}, timeout time.Duration) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-r.ctx.Done():
		r.interrupt(r.ctx.Err())
	case <-expired:
		r.interrupt(errTimeout)
	case <-done:
	}
}

// interrupt unwinds the VM at its next instruction. The script cannot catch it.
func (r *runtime) interrupt(err error) {
	r.mu.Lock()
	if r.signal == nil {
		r.signal = err
	}
	r.mu.Unlock()
	r.vm.Interrupt(err)
}

func (r *runtime) interrupted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signal
}

func (r *runtime) result(err error, timeout time.Duration) error {
	if sig := r.interrupted(); sig != nil {
		switch {
		case errors.Is(sig, errTimeout):
			return &ExecError{
				Exception: &message.Exception{
					Type:    "TimeoutError",
					Message: fmt.Sprintf("script did not finish within %s", timeout),
				},
				Err: sig,
			}
		case errors.Is(sig, context.Canceled), errors.Is(sig, context.DeadlineExceeded):
			return fmt.Errorf("%w: %w", element.ErrShutdown, sig)
		default:
			return sig
		}
	}
	if err == nil {
		return nil
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &ExecError{Exception: exceptionPayload(ex), Err: err}
	}
	return &ExecError{
		Exception: &message.Exception{Type: "Error", Message: err.Error()},
		Err:       err,
	}
}

// fail reports err from inside a binding. Control signals interrupt the VM;
// anything else is thrown as a JS error the script may catch.
func (r *runtime) fail(err error) goja.Value {
	if sig := r.interrupted(); sig != nil {
		r.vm.Interrupt(sig)
		return goja.Undefined()
	}
	if element.IsControl(err) {
		r.interrupt(err)
		return goja.Undefined()
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}

	obj := r.vm.NewGoError(err)
	_ = obj.Set("name", "ScriptAPIError")
	panic(obj)
}

// setupGlobals configures global objects and removes host escapes
func (r *runtime) setupGlobals(console bool) error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	if err := r.vm.Set("setTimeout", noop); err != nil {
		return err
	}
	if err := r.vm.Set("setInterval", noop); err != nil {
		return err
	}

	if console {
		c := r.vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			if err := c.Set(level, r.consoleFunc(level)); err != nil {
				return err
			}
		}
		if err := r.vm.Set("console", c); err != nil {
			return err
		}
	}

	argv := make([]any, len(r.env.Args))
	for i, a := range r.env.Args {
		argv[i] = a
	}
	if err := r.vm.Set("argv", argv); err != nil {
		return err
	}

	st, err := r.generator(r.env.Run.Main(), true)
	if err != nil {
		return err
	}
	return r.vm.Set("st", st)
}

// consoleFunc forwards console output to the session logger
func (r *runtime) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "error":
			r.logger.Error(msg, zap.String("source", "console"))
		case "warn":
			r.logger.Warn(msg, zap.String("source", "console"))
		case "debug":
			r.logger.Debug(msg, zap.String("source", "console"))
		default:
			r.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

// exceptionPayload extracts type, message and stack from a thrown JS value
func exceptionPayload(ex *goja.Exception) *message.Exception {
	exc := &message.Exception{Type: "Error", Message: ex.Error()}

	if obj, ok := ex.Value().(*goja.Object); ok {
		if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
			exc.Type = name.String()
		}
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			exc.Message = msg.String()
		}
	} else if v := ex.Value(); v != nil {
		exc.Message = v.String()
	}

	for _, line := range strings.Split(ex.String(), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "at ") {
			exc.StackFrames = append(exc.StackFrames, strings.TrimPrefix(line, "at "))
		}
	}
	return exc
}
