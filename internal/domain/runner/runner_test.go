package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/domain/queue"
	"github.com/GriffinCanCode/scriptflow/internal/domain/script"
	"github.com/GriffinCanCode/scriptflow/internal/domain/widgets"
)

type harness struct {
	runner *Runner
	queue  *queue.Queue
	store  *widgets.Store
	events chan Event
}

func newHarness(t *testing.T, src script.Source) *harness {
	t.Helper()

	h := &harness{
		queue:  queue.New(),
		store:  widgets.NewStore(),
		events: make(chan Event, 64),
	}
	h.runner = New(Config{
		Source:  src,
		Queue:   h.queue,
		Widgets: h.store,
		OnEvent: func(ev Event) { h.events <- ev },
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.runner.Start(ctx)
	t.Cleanup(func() {
		h.runner.Shutdown()
		cancel()
		<-h.runner.Done()
	})
	return h
}

// finished waits for the next RunFinished event
func (h *harness) finished(t *testing.T) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == RunFinished {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for run to finish")
		}
	}
}

func (h *harness) rerun(t *testing.T, req Request) Event {
	t.Helper()
	require.NoError(t, h.runner.RequestRerun(req))
	return h.finished(t)
}

func kinds(msgs []message.Message) []message.Kind {
	out := make([]message.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

// texts maps position keys to the body of text elements
func texts(msgs []message.Message) map[string]string {
	out := make(map[string]string)
	for _, m := range msgs {
		if m.Delta == nil || m.Delta.Element == nil || m.Delta.Element.Kind != "text" {
			continue
		}
		out[m.Position.Key()] = m.Delta.Element.Props["body"].(string)
	}
	return out
}

func TestRunLifecycle(t *testing.T) {
	h := newHarness(t, script.Func(func(env *script.Env) error {
		st := env.Run.Main()
		if _, err := st.Text("a"); err != nil {
			return err
		}
		_, err := st.Text("b")
		return err
	}))
	assert.Equal(t, NotRunning, h.runner.State())

	ev := h.rerun(t, Request{})
	assert.Equal(t, message.RunSuccess, ev.Status)
	assert.Equal(t, 2, ev.Deltas)
	assert.NoError(t, ev.Err)
	assert.Equal(t, NotRunning, h.runner.State())

	msgs := h.queue.Flush()
	assert.Equal(t, []message.Kind{
		message.KindRunStarted, message.KindDelta, message.KindDelta, message.KindRunFinished,
	}, kinds(msgs))
	assert.Equal(t, ev.RunID, msgs[0].RunID)
	assert.Equal(t, ev.RunID, msgs[3].RunID)
	assert.Equal(t, message.RunSuccess, msgs[3].Status)
}

func TestCheckboxScenario(t *testing.T) {
	h := newHarness(t, script.Func(func(env *script.Env) error {
		st := env.Run.Main()
		if _, err := st.Text("a"); err != nil {
			return err
		}
		show, err := st.Checkbox("show", false)
		if err != nil {
			return err
		}
		if show {
			_, err = st.Text("b")
		}
		return err
	}))
	const checkbox = "checkbox:main:1:show"

	h.rerun(t, Request{})
	assert.Equal(t, map[string]string{"main:0": "a"}, texts(h.queue.Flush()))

	h.rerun(t, Request{Widgets: map[string]any{checkbox: true}})
	assert.Equal(t, map[string]string{"main:0": "a", "main:2": "b"}, texts(h.queue.Flush()))

	h.rerun(t, Request{Widgets: map[string]any{checkbox: false}})
	assert.Equal(t, map[string]string{"main:0": "a"}, texts(h.queue.Flush()))
}

func TestWidgetPersistenceAndPruning(t *testing.T) {
	h := newHarness(t, script.Func(func(env *script.Env) error {
		st := env.Run.Main()
		advanced, err := st.Checkbox("advanced", false)
		if err != nil || !advanced {
			return err
		}
		_, err = st.Slider("depth", 0, 10, 1)
		return err
	}))
	const (
		toggle = "checkbox:main:0:advanced"
		slider = "slider:main:1:depth"
	)

	h.rerun(t, Request{Widgets: map[string]any{toggle: true, slider: 7.0}})
	v, ok := h.store.Get(slider)
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	// No edits: both widgets keep their values.
	h.rerun(t, Request{})
	v, ok = h.store.Get(slider)
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	ev := h.rerun(t, Request{Widgets: map[string]any{toggle: false}})
	assert.Equal(t, []string{slider}, ev.Pruned)
	_, ok = h.store.Get(slider)
	assert.False(t, ok)

	// The slider comes back at its default, not the pruned value.
	h.rerun(t, Request{Widgets: map[string]any{toggle: true}})
	v, _ = h.store.Get(slider)
	assert.Equal(t, 1.0, v)
}

func TestRerunCoalescing(t *testing.T) {
	started := make(chan struct{}, 1)
	gate := make(chan struct{})

	var mu sync.Mutex
	var seen [][]string

	h := newHarness(t, script.Func(func(env *script.Env) error {
		mu.Lock()
		seen = append(seen, env.Args)
		first := len(seen) == 1
		mu.Unlock()

		if first {
			started <- struct{}{}
			<-gate
		}
		_, err := env.Run.Main().Text("hi")
		return err
	}))

	require.NoError(t, h.runner.RequestRerun(Request{Args: []string{"0"}}))
	<-started
	assert.True(t, h.runner.IsRunning())

	for _, arg := range []string{"1", "2", "3"} {
		require.NoError(t, h.runner.RequestRerun(Request{Args: []string{arg}}))
	}
	close(gate)

	first := h.finished(t)
	assert.Equal(t, message.RunRerun, first.Status)
	second := h.finished(t)
	assert.Equal(t, message.RunSuccess, second.Status)
	assert.Equal(t, []string{"3"}, second.Args)

	select {
	case ev := <-h.events:
		t.Fatalf("unexpected extra run event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]string{{"0"}, {"3"}}, seen)
}

func TestCoalescedRunKeepsPreviousArgs(t *testing.T) {
	started := make(chan struct{}, 1)
	gate := make(chan struct{})

	var mu sync.Mutex
	var seen [][]string

	h := newHarness(t, script.Func(func(env *script.Env) error {
		mu.Lock()
		seen = append(seen, env.Args)
		first := len(seen) == 1
		mu.Unlock()

		if first {
			started <- struct{}{}
			<-gate
		}
		_, err := env.Run.Main().Text("hi")
		return err
	}))

	require.NoError(t, h.runner.RequestRerun(Request{Args: []string{"run"}}))
	<-started

	require.NoError(t, h.runner.RequestRerun(Request{Args: []string{"superseded"}}))
	require.NoError(t, h.runner.RequestRerun(Request{}))
	close(gate)

	assert.Equal(t, message.RunRerun, h.finished(t).Status)
	second := h.finished(t)
	assert.Equal(t, []string{"run"}, second.Args)
}

func TestCoalescedWidgetEditsMerge(t *testing.T) {
	req := Request{Widgets: map[string]any{"b": 2, "c": 3}}
	merged := req.merge(Request{Args: []string{"x"}, Widgets: map[string]any{"a": 1, "b": 1}})

	assert.Nil(t, merged.Args, "superseded arguments are not inherited")
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, merged.Widgets)
}

func TestLifecyclePairsSurviveClear(t *testing.T) {
	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	var once sync.Once

	h := newHarness(t, script.Func(func(env *script.Env) error {
		st := env.Run.Main()
		if _, err := st.Text("early"); err != nil {
			return err
		}
		blocked := false
		once.Do(func() { blocked = true })
		if blocked {
			started <- struct{}{}
			<-gate
		}
		_, err := st.Text("late")
		return err
	}))

	require.NoError(t, h.runner.RequestRerun(Request{}))
	<-started
	require.NoError(t, h.runner.RequestRerun(Request{}))
	close(gate)

	first := h.finished(t)
	second := h.finished(t)

	msgs := h.queue.Flush()
	assert.Equal(t, []message.Kind{
		message.KindRunStarted, message.KindRunFinished,
		message.KindRunStarted, message.KindDelta, message.KindDelta, message.KindRunFinished,
	}, kinds(msgs))
	assert.Equal(t, first.RunID, msgs[0].RunID)
	assert.Equal(t, message.RunRerun, msgs[1].Status)
	assert.Equal(t, second.RunID, msgs[2].RunID)
}

func TestStop(t *testing.T) {
	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	var once sync.Once

	h := newHarness(t, script.Func(func(env *script.Env) error {
		once.Do(func() {
			started <- struct{}{}
			<-gate
		})
		_, err := env.Run.Main().Text("x")
		return err
	}))

	assert.False(t, h.runner.RequestStop(), "stop without a run is discarded")

	require.NoError(t, h.runner.RequestRerun(Request{}))
	<-started
	assert.True(t, h.runner.RequestStop())
	close(gate)

	ev := h.finished(t)
	assert.Equal(t, message.RunStopped, ev.Status)
	assert.Equal(t, 0, ev.Deltas)
	assert.Equal(t, Stopped, h.runner.State())
	assert.Equal(t, []message.Kind{message.KindRunStarted, message.KindRunFinished}, kinds(h.queue.Flush()))

	ev = h.rerun(t, Request{})
	assert.Equal(t, message.RunSuccess, ev.Status)
	assert.Equal(t, NotRunning, h.runner.State())
}

func TestException(t *testing.T) {
	boom := errors.New("boom")
	h := newHarness(t, script.Func(func(env *script.Env) error {
		if _, err := env.Run.Main().Text("before"); err != nil {
			return err
		}
		return boom
	}))

	ev := h.rerun(t, Request{})
	assert.Equal(t, message.RunException, ev.Status)
	assert.ErrorIs(t, ev.Err, boom)
	assert.Equal(t, NotRunning, h.runner.State())

	msgs := h.queue.Flush()
	require.Len(t, msgs, 4)
	exc := msgs[2]
	assert.Equal(t, "main:1", exc.Position.Key())
	require.NotNil(t, exc.Delta.Element.Exception)
	assert.Equal(t, "boom", exc.Delta.Element.Exception.Message)
	assert.Equal(t, message.RunException, msgs[3].Status)
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t, script.Func(func(env *script.Env) error {
		panic("kaboom")
	}))

	ev := h.rerun(t, Request{})
	assert.Equal(t, message.RunException, ev.Status)

	var panicErr *PanicError
	require.ErrorAs(t, ev.Err, &panicErr)

	msgs := h.queue.Flush()
	require.Len(t, msgs, 3)
	exc := msgs[1].Delta.Element.Exception
	require.NotNil(t, exc)
	assert.Equal(t, "panic", exc.Type)
	assert.Equal(t, "kaboom", exc.Message)
	assert.NotEmpty(t, exc.StackFrames)

	// The session survives: the next run starts normally.
	ev = h.rerun(t, Request{})
	assert.Equal(t, message.RunException, ev.Status)
}

type brokenSource struct{}

func (brokenSource) Name() string { return "broken.js" }

func (brokenSource) Compile() (script.Program, error) {
	return nil, &script.CompileError{Name: "broken.js", Err: errors.New("unexpected token")}
}

func TestCompileError(t *testing.T) {
	h := newHarness(t, brokenSource{})

	ev := h.rerun(t, Request{})
	assert.Equal(t, message.RunCompileError, ev.Status)

	msgs := h.queue.Flush()
	assert.Equal(t, []message.Kind{
		message.KindRunStarted, message.KindCompileError, message.KindRunFinished,
	}, kinds(msgs))
	require.NotNil(t, msgs[1].Error)
	assert.Equal(t, "unexpected token", msgs[1].Error.Message)
}

func TestArgsCarryOver(t *testing.T) {
	args := make(chan []string, 2)
	h := newHarness(t, script.Func(func(env *script.Env) error {
		args <- env.Args
		return nil
	}))

	h.rerun(t, Request{Args: []string{"--fast"}})
	h.rerun(t, Request{})

	assert.Equal(t, []string{"--fast"}, <-args)
	assert.Equal(t, []string{"--fast"}, <-args)
}

func TestJavaScriptRun(t *testing.T) {
	h := newHarness(t, script.NewInline("app.js", `
		st.text("a");
		if (st.checkbox("more")) { st.text("b"); }
	`, script.DefaultConfig()))

	h.rerun(t, Request{})
	assert.Equal(t, map[string]string{"main:0": "a"}, texts(h.queue.Flush()))

	h.rerun(t, Request{Widgets: map[string]any{"checkbox:main:1:more": true}})
	assert.Equal(t, map[string]string{"main:0": "a", "main:2": "b"}, texts(h.queue.Flush()))
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, script.Func(func(*script.Env) error { return nil }))

	h.runner.Shutdown()
	select {
	case <-h.runner.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not exit")
	}

	assert.Equal(t, ShuttingDown, h.runner.State())
	assert.ErrorIs(t, h.runner.RequestRerun(Request{}), ErrShuttingDown)
}
