package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptflow/internal/domain/cache"
	"github.com/GriffinCanCode/scriptflow/internal/domain/element"
	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/domain/queue"
	"github.com/GriffinCanCode/scriptflow/internal/domain/runner"
	"github.com/GriffinCanCode/scriptflow/internal/domain/script"
	"github.com/GriffinCanCode/scriptflow/internal/domain/widgets"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/scriptflow/internal/shared/id"
)

// DefaultFlushInterval is how often queued messages are handed to the transport
const DefaultFlushInterval = 50 * time.Millisecond

var (
	ErrClosed    = errors.New("session closed")
	ErrNoCommand = errors.New("empty command")
)

// Transport delivers messages to one client connection
type Transport interface {
	Send(ctx context.Context, msgs []message.Message) error
}

// Config configures one session
type Config struct {
	ID            id.SessionID
	Source        script.Source
	Cache         cache.Store
	Registry      *element.Registry
	FlushInterval time.Duration
	RunOnSave     bool
	ServerVersion string
	Features      map[string]bool
	Logger        *zap.Logger
	Metrics       *monitoring.Metrics
	Tracer        *tracing.Tracer
}

// Info summarizes a session for listings
type Info struct {
	ID         id.SessionID      `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	Attached   bool              `json:"attached"`
	State      string            `json:"state"`
	RunOnSave  bool              `json:"run_on_save"`
	Widgets    int               `json:"widgets"`
	Runs       int               `json:"runs"`
	LastStatus message.RunStatus `json:"last_status,omitempty"`
}

// Session is the per-client orchestrator. It owns the message queue, the
// widget store and the script runner, translates client commands into runner
// requests and flushes the queue to the attached transport on a fixed
// interval.
type Session struct {
	id       id.SessionID
	config   Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	queue    *queue.Queue
	widgets  *widgets.Store
	runner   *runner.Runner
	interval time.Duration

	mu         sync.Mutex
	transport  Transport
	runOnSave  bool
	closed     bool
	runs       int
	lastStatus message.RunStatus
	lastStats  queue.Stats
	spans      map[string]*tracing.Span
	createdAt  time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	flushDone chan struct{}
}

// New creates a session. Call Start to launch its goroutines.
func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = id.NewSessionID()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Session{
		id:        cfg.ID,
		config:    cfg,
		logger:    cfg.Logger.With(zap.String("session_id", cfg.ID.String())),
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		queue:     queue.New(),
		widgets:   widgets.NewStore(),
		interval:  cfg.FlushInterval,
		runOnSave: cfg.RunOnSave,
		spans:     make(map[string]*tracing.Span),
		createdAt: time.Now(),
		flushDone: make(chan struct{}),
	}
	s.runner = runner.New(runner.Config{
		Source:   cfg.Source,
		Queue:    s.queue,
		Widgets:  s.widgets,
		Cache:    cfg.Cache,
		Registry: cfg.Registry,
		Logger:   s.logger,
		OnEvent:  s.onRunEvent,
	})
	return s
}

// ID returns the session identifier
func (s *Session) ID() id.SessionID { return s.id }

// Start launches the script goroutine and the flush loop
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.runner.Start(s.ctx)
	go s.flushLoop()
}

// Attach binds a transport, greets it and starts a run that rebuilds the
// client's view from the current widget state.
//
// Messages still queued for a previous connection are discarded before the
// transport is bound, so Initialize is always the first message delivered.
// A run still in progress is announced again and is then cut short by the
// rerun, so the connection sees it both start and finish.
func (s *Session) Attach(t Transport, resumed bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue.Reset(
		message.InitializeMsg(message.Initialize{
			SessionID:     s.id.String(),
			ServerVersion: s.config.ServerVersion,
			Features:      s.config.Features,
			Resumed:       resumed,
		}),
		message.SessionStateChangedMsg(s.stateLocked()),
	)
	s.transport = t
	s.mu.Unlock()

	s.logger.Info("transport attached", zap.Bool("resumed", resumed))
	return s.runner.RequestRerun(runner.Request{})
}

// Detach unbinds t if it is still the attached transport
func (s *Session) Detach(t Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil || s.transport != t {
		return false
	}
	s.transport = nil
	s.logger.Info("transport detached")
	return true
}

// Attached reports whether a transport is bound
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

// HandleBackMsg applies one decoded client command
func (s *Session) HandleBackMsg(ctx context.Context, msg *message.BackMsg) error {
	if msg == nil {
		return ErrNoCommand
	}
	if s.isClosed() {
		return ErrClosed
	}

	switch msg.Type {
	case message.CmdRerunScript:
		return s.runner.RequestRerun(runner.Request{Args: msg.Args, Widgets: msg.Widgets})
	case message.CmdStopScript:
		if !s.runner.RequestStop() {
			s.logger.Debug("stop ignored, no run in progress")
		}
		return nil
	case message.CmdClearCache:
		return s.ClearCache(ctx)
	case message.CmdSetRunOnSave:
		if msg.RunOnSave == nil {
			return fmt.Errorf("%s: missing run_on_save", msg.Type)
		}
		s.SetRunOnSave(*msg.RunOnSave)
		return nil
	default:
		return fmt.Errorf("%w: %s", message.ErrUnknownCommand, msg.Type)
	}
}

// ClearCache empties the memo cache shared by scripts
func (s *Session) ClearCache(ctx context.Context) error {
	if s.config.Cache == nil {
		return nil
	}
	if err := s.config.Cache.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncCacheClears()
	}
	s.logger.Info("cache cleared")
	return nil
}

// SetRunOnSave toggles rerunning on script changes. A SessionStateChanged
// message is queued only when the value actually changes.
func (s *Session) SetRunOnSave(enabled bool) {
	s.mu.Lock()
	if s.runOnSave == enabled {
		s.mu.Unlock()
		return
	}
	s.runOnSave = enabled
	state := s.stateLocked()
	s.mu.Unlock()

	s.queue.Enqueue(message.SessionStateChangedMsg(state))
}

// ScriptChanged reacts to the script changing on disk: rerun with the
// current widget values when run-on-save is on, otherwise tell the client.
func (s *Session) ScriptChanged() {
	s.mu.Lock()
	runOnSave := s.runOnSave
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	if runOnSave {
		if err := s.runner.RequestRerun(runner.Request{}); err != nil {
			s.logger.Debug("rerun on save skipped", zap.Error(err))
		}
		return
	}
	s.queue.Enqueue(message.ScriptChangedMsg())
}

// State returns the session state sent in SessionStateChanged
func (s *Session) State() message.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() message.SessionState {
	return message.SessionState{RunOnSave: s.runOnSave, IsRunning: s.runner.IsRunning()}
}

// RunnerState returns the script runner state
func (s *Session) RunnerState() runner.State { return s.runner.State() }

// Info summarizes the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		Attached:   s.transport != nil,
		State:      s.runner.State().String(),
		RunOnSave:  s.runOnSave,
		Widgets:    s.widgets.Len(),
		Runs:       s.runs,
		LastStatus: s.lastStatus,
	}
}

// Close shuts the runner down and stops flushing. The script gets until
// ctx is done to reach a safe point; after that it is torn down.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.runner.Shutdown()

	var err error
	if s.cancel == nil {
		return nil
	}
	select {
	case <-s.runner.Done():
	case <-ctx.Done():
		err = fmt.Errorf("script did not stop in time: %w", ctx.Err())
	}

	s.cancel()
	<-s.runner.Done()
	<-s.flushDone

	s.logger.Info("session closed")
	return err
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// onRunEvent runs on the script goroutine
func (s *Session) onRunEvent(ev runner.Event) {
	switch ev.Kind {
	case runner.RunStarted:
		s.mu.Lock()
		if s.tracer != nil {
			span, _ := s.tracer.StartSpan(s.ctx, "script.run")
			span.SetTag("session_id", s.id.String())
			span.SetTag("run_id", ev.RunID)
			s.spans[ev.RunID] = span
		}
		state := s.stateLocked()
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordRunStarted()
		}
		s.queue.Enqueue(message.SessionStateChangedMsg(state))

	case runner.RunFinished:
		s.mu.Lock()
		s.runs++
		s.lastStatus = ev.Status
		span := s.spans[ev.RunID]
		delete(s.spans, ev.RunID)
		state := s.stateLocked()
		s.mu.Unlock()

		if span != nil {
			span.SetTag("status", string(ev.Status))
			if ev.Err != nil {
				span.SetError(ev.Err)
			}
			span.Finish()
			s.tracer.Submit(span)
		}
		if s.metrics != nil {
			s.metrics.RecordRunFinished(string(ev.Status), ev.Duration)
		}
		s.queue.Enqueue(message.SessionStateChangedMsg(state))
	}
}

func (s *Session) flushLoop() {
	defer close(s.flushDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.Flush(context.Background())
			return
		case <-ticker.C:
			s.Flush(s.ctx)
		}
	}
}

// Flush hands queued messages to the attached transport. Nothing is drained
// while detached. Send failures are not retried; a reconnect resyncs.
func (s *Session) Flush(ctx context.Context) int {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()

	if t == nil {
		return 0
	}

	msgs := s.queue.Flush()
	s.recordQueueStats()
	if len(msgs) == 0 {
		return 0
	}

	if err := t.Send(ctx, msgs); err != nil {
		s.logger.Warn("flush failed", zap.Int("messages", len(msgs)), zap.Error(err))
		return 0
	}
	return len(msgs)
}

func (s *Session) recordQueueStats() {
	if s.metrics == nil {
		return
	}

	stats := s.queue.Stats()
	s.mu.Lock()
	prev := s.lastStats
	s.lastStats = stats
	s.mu.Unlock()

	s.metrics.RecordQueue(
		stats.Enqueued-prev.Enqueued,
		stats.Replaced-prev.Replaced,
		stats.Merged-prev.Merged,
		stats.Dropped-prev.Dropped,
		stats.Flushed-prev.Flushed,
	)
}
