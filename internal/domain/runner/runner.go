package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptflow/internal/domain/cache"
	"github.com/GriffinCanCode/scriptflow/internal/domain/element"
	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/domain/queue"
	"github.com/GriffinCanCode/scriptflow/internal/domain/script"
	"github.com/GriffinCanCode/scriptflow/internal/domain/widgets"
)

// Config wires a runner to its session
type Config struct {
	Source   script.Source
	Queue    *queue.Queue
	Widgets  *widgets.Store
	Cache    cache.Store
	Registry *element.Registry
	Logger   *zap.Logger
	OnEvent  func(Event)
}

// Runner executes a script on its own goroutine. Requests from the I/O side
// land in a single pending slot and are observed by the script at safe points.
type Runner struct {
	source   script.Source
	queue    *queue.Queue
	widgets  *widgets.Store
	cache    cache.Store
	registry *element.Registry
	logger   *zap.Logger
	onEvent  func(Event)

	mu       sync.Mutex
	state    State
	pending  *Request
	stop     bool
	closing  bool
	lastArgs []string
	ctx      context.Context

	wake    chan struct{}
	done    chan struct{}
	started bool
}

// New creates a runner in the NotRunning state
func New(cfg Config) *Runner {
	if cfg.Queue == nil {
		cfg.Queue = queue.New()
	}
	if cfg.Widgets == nil {
		cfg.Widgets = widgets.NewStore()
	}
	if cfg.Registry == nil {
		cfg.Registry = element.DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Runner{
		source:   cfg.Source,
		queue:    cfg.Queue,
		widgets:  cfg.Widgets,
		cache:    cfg.Cache,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		onEvent:  cfg.OnEvent,
		ctx:      context.Background(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the script goroutine. Cancelling ctx tears the runner down
// without waiting for a safe point.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.ctx = ctx
	r.mu.Unlock()

	go r.loop(ctx)
}

// Done is closed when the script goroutine has exited
func (r *Runner) Done() <-chan struct{} { return r.done }

// State returns the current state
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRunning reports whether a run is in progress
func (r *Runner) IsRunning() bool {
	return r.State() == Running
}

// RequestRerun records a rerun intent. While a run is in progress the
// request replaces any pending one and the running script unwinds at its
// next safe point.
func (r *Runner) RequestRerun(req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return ErrShuttingDown
	}
	if r.pending != nil {
		req = req.merge(*r.pending)
		r.logger.Debug("rerun request coalesced")
	}
	r.pending = &req
	r.signal()
	return nil
}

// RequestStop asks the running script to halt at its next safe point.
// It reports false when no run is in progress.
func (r *Runner) RequestStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Running {
		return false
	}
	r.stop = true
	r.pending = nil
	return true
}

// Shutdown moves the runner to ShuttingDown. The script goroutine exits
// after the current run unwinds.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return
	}
	r.closing = true
	r.pending = nil
	if r.state != Running {
		r.state = ShuttingDown
	}
	r.signal()
}

// Checkpoint is the safe point consulted by every write call
func (r *Runner) Checkpoint() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closing || r.ctx.Err() != nil:
		return element.ErrShutdown
	case r.stop:
		return element.ErrStopRequested
	case r.pending != nil:
		return element.ErrRerunRequested
	}
	return nil
}

func (r *Runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	for {
		req, ok := r.next()
		if !ok {
			select {
			case <-ctx.Done():
				r.setShuttingDown()
				return
			case <-r.wake:
				continue
			}
		}
		if req == nil {
			return
		}
		r.run(ctx, *req)
	}
}

// next takes the pending request. A nil request with ok set means the loop
// must exit.
func (r *Runner) next() (*Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing || r.ctx.Err() != nil {
		r.state = ShuttingDown
		return nil, true
	}
	if r.pending == nil {
		return nil, false
	}

	req := r.pending
	r.pending = nil
	r.stop = false
	if req.Args == nil {
		req.Args = r.lastArgs
	}
	r.lastArgs = req.Args
	r.state = Running
	return req, true
}

func (r *Runner) setShuttingDown() {
	r.mu.Lock()
	r.state = ShuttingDown
	r.mu.Unlock()
}

func (r *Runner) run(ctx context.Context, req Request) {
	runID := uuid.NewString()
	start := time.Now()
	logger := r.logger.With(zap.String("run_id", runID))

	r.queue.Clear()
	r.widgets.BeginRun(req.Widgets)
	r.queue.Enqueue(message.RunStartedMsg(runID))
	r.emit(Event{Kind: RunStarted, RunID: runID, Args: req.Args})
	logger.Debug("run started", zap.Strings("args", req.Args))

	status, deltas, err := r.execute(ctx, runID, req.Args)

	pruned := r.widgets.EndRun(status == message.RunSuccess)
	r.queue.Enqueue(message.RunFinishedMsg(runID, status))

	r.mu.Lock()
	switch {
	case r.closing || ctx.Err() != nil:
		r.state = ShuttingDown
	case status == message.RunStopped:
		r.state = Stopped
	default:
		r.state = NotRunning
	}
	r.stop = false
	r.mu.Unlock()

	duration := time.Since(start)
	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Duration("duration", duration),
		zap.Int("deltas", deltas),
		zap.Int("pruned", len(pruned)),
	}
	if err != nil {
		logger.Warn("run failed", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("run finished", fields...)
	}

	r.emit(Event{
		Kind:     RunFinished,
		RunID:    runID,
		Args:     req.Args,
		Status:   status,
		Duration: duration,
		Deltas:   deltas,
		Pruned:   pruned,
		Err:      err,
	})
}

// execute compiles and runs the script, classifying how it ended
func (r *Runner) execute(ctx context.Context, runID string, args []string) (message.RunStatus, int, error) {
	if r.source == nil {
		err := errors.New("no script source")
		r.queue.Enqueue(message.CompileErrorMsg(runID, &message.Exception{Type: "CompileError", Message: err.Error()}))
		return message.RunCompileError, 0, err
	}

	prog, err := r.source.Compile()
	if err != nil {
		exc := &message.Exception{Type: "CompileError", Message: err.Error()}
		var compileErr *script.CompileError
		if errors.As(err, &compileErr) {
			exc = compileErr.Payload()
		}
		r.queue.Enqueue(message.CompileErrorMsg(runID, exc))
		return message.RunCompileError, 0, err
	}

	run := element.NewRun(element.RunConfig{
		ID:       runID,
		Sink:     r.queue,
		Widgets:  r.widgets,
		Control:  r,
		Registry: r.registry,
		Logger:   r.logger,
	})
	env := &script.Env{
		Ctx:    ctx,
		Run:    run,
		Args:   args,
		Cache:  r.cache,
		Logger: r.logger,
	}

	err = protect(prog, env)
	switch {
	case err == nil:
		return message.RunSuccess, run.DeltaCount(), nil
	case errors.Is(err, element.ErrRerunRequested):
		return message.RunRerun, run.DeltaCount(), nil
	case element.IsControl(err):
		return message.RunStopped, run.DeltaCount(), nil
	}

	run.Exception(exceptionFor(err))
	return message.RunException, run.DeltaCount(), err
}

func (r *Runner) emit(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}
