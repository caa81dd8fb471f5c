package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/domain/script"
	"github.com/GriffinCanCode/scriptflow/internal/domain/watcher"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/monitoring"
)

type reloadableSource struct {
	script.Func
	invalidated atomic.Int32
}

func (s *reloadableSource) Invalidate() { s.invalidated.Add(1) }

func newManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	if cfg.Source == nil {
		cfg.Source = helloSource()
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Millisecond
	}
	m := NewManager(context.Background(), cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestConnectCreatesSession(t *testing.T) {
	metrics := monitoring.NewMetrics()
	m := newManager(t, ManagerConfig{GracePeriod: time.Minute, Metrics: metrics})
	tr := &fakeTransport{}

	s, resumed, err := m.Connect("", tr)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	tr.waitFinished(t, 1)
	assert.Equal(t, int64(1), metrics.Snapshot().ActiveSessions)
}

func TestReconnectWithinGracePeriod(t *testing.T) {
	m := newManager(t, ManagerConfig{GracePeriod: time.Minute})
	first := &fakeTransport{}

	s, _, err := m.Connect("", first)
	require.NoError(t, err)
	first.waitFinished(t, 1)

	_, _, err = m.Connect(s.ID().String(), &fakeTransport{})
	assert.ErrorIs(t, err, ErrSessionInUse)

	m.Disconnect(s.ID(), first)
	assert.Equal(t, 1, m.Count(), "session survives the grace period")
	assert.False(t, s.Attached())

	second := &fakeTransport{}
	again, resumed, err := m.Connect(s.ID().String(), second)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Same(t, s, again)

	msgs := second.waitFinished(t, 1)
	assert.Equal(t, message.KindInitialize, msgs[0].Kind)
	assert.True(t, msgs[0].Initialize.Resumed)
	assert.Equal(t, []string{"hello"}, textBodies(msgs))
}

func TestDisconnectWithoutGracePeriod(t *testing.T) {
	m := newManager(t, ManagerConfig{})
	tr := &fakeTransport{}

	s, _, err := m.Connect("", tr)
	require.NoError(t, err)

	m.Disconnect(s.ID(), &fakeTransport{})
	assert.Equal(t, 1, m.Count(), "a stale transport does not detach the session")

	m.Disconnect(s.ID(), tr)
	assert.Zero(t, m.Count())
}

func TestGracePeriodExpires(t *testing.T) {
	m := newManager(t, ManagerConfig{GracePeriod: 20 * time.Millisecond})
	tr := &fakeTransport{}

	s, _, err := m.Connect("", tr)
	require.NoError(t, err)
	m.Disconnect(s.ID(), tr)

	require.Eventually(t, func() bool { return m.Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	// The expired ID starts a fresh session.
	fresh, resumed, err := m.Connect(s.ID().String(), &fakeTransport{})
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, s.ID(), fresh.ID())
}

func TestMalformedSessionIDStartsFresh(t *testing.T) {
	m := newManager(t, ManagerConfig{})

	s, resumed, err := m.Connect("not-a-session", &fakeTransport{})
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, "not-a-session", s.ID().String())
}

func TestMaxSessions(t *testing.T) {
	m := newManager(t, ManagerConfig{MaxSessions: 1})

	_, _, err := m.Connect("", &fakeTransport{})
	require.NoError(t, err)
	_, _, err = m.Connect("", &fakeTransport{})
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestList(t *testing.T) {
	m := newManager(t, ManagerConfig{})

	a, _, err := m.Connect("", &fakeTransport{})
	require.NoError(t, err)
	b, _, err := m.Connect("", &fakeTransport{})
	require.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, a.ID(), infos[0].ID)
	assert.Equal(t, b.ID(), infos[1].ID)
}

func TestScriptChangedFansOut(t *testing.T) {
	src := &reloadableSource{Func: func(env *script.Env) error {
		_, err := env.Run.Main().Text("hello")
		return err
	}}
	m := newManager(t, ManagerConfig{Source: src})

	trs := []*fakeTransport{{}, {}}
	for _, tr := range trs {
		_, _, err := m.Connect("", tr)
		require.NoError(t, err)
		tr.waitFinished(t, 1)
	}

	m.ScriptChanged(watcher.Change{Paths: []string{"app.js"}})
	assert.Equal(t, int32(1), src.invalidated.Load())

	for _, tr := range trs {
		require.Eventually(t, func() bool {
			return tr.count(message.KindScriptChanged) == 1
		}, 2*time.Second, 5*time.Millisecond)
	}
}

func TestShutdown(t *testing.T) {
	m := NewManager(context.Background(), ManagerConfig{Source: helloSource(), FlushInterval: 5 * time.Millisecond})

	s, _, err := m.Connect("", &fakeTransport{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Zero(t, m.Count())
	<-s.runner.Done()

	_, _, err = m.Connect("", &fakeTransport{})
	assert.ErrorIs(t, err, ErrManagerClosed)
}
