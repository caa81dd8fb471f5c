package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreaker(settings Settings) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := New("test", settings)
	b.now = c.now
	b.expiry = c.t.Add(b.settings.Interval)
	return b, c
}

func call(b *Breaker, ok bool) error {
	return b.Run(func() error {
		if ok {
			return nil
		}
		return errBackend
	})
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		requests []bool // true = success, false = failure
		want     State
	}{
		{
			name:     "stays closed on successes",
			requests: []bool{true, true, true},
			want:     StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
			},
			requests: []bool{false, false, false},
			want:     StateOpen,
		},
		{
			name: "success resets the streak",
			settings: Settings{
				ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
			},
			requests: []bool{false, false, true, false, false},
			want:     StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newBreaker(tt.settings)
			for _, ok := range tt.requests {
				_ = call(b, ok)
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestOpenRejectsThenProbes(t *testing.T) {
	var transitions []string
	b, clk := newBreaker(Settings{
		MaxRequests: 2,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
		},
	})

	_ = call(b, false)
	_ = call(b, false)
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Run(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clk.advance(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, call(b, true))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, call(b, true))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, clk := newBreaker(Settings{
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	_ = call(b, false)
	clk.advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	assert.ErrorIs(t, call(b, false), errBackend)
	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	b, clk := newBreaker(Settings{
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	_ = call(b, false)
	clk.advance(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Run(func() error { <-release; return nil })
	}()

	require.Eventually(t, func() bool { return b.Counts().Requests == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, call(b, true), ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestIntervalClearsCounts(t *testing.T) {
	b, clk := newBreaker(Settings{
		Interval:    time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	})

	_ = call(b, false)
	clk.advance(2 * time.Minute)
	_ = call(b, false)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(1), b.Counts().TotalFailures)
}

func TestFailureClassification(t *testing.T) {
	b, _ := newBreaker(Settings{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		IsFailure:   func(err error) bool { return !errors.Is(err, errBackend) },
	})

	_ = b.Run(func() error { return context.Canceled })
	_ = b.Run(func() error { return errBackend })
	assert.Equal(t, StateClosed, b.State())

	_ = b.Run(func() error { return errors.New("other") })
	assert.Equal(t, StateOpen, b.State())
}

func TestDoReturnsValue(t *testing.T) {
	b, _ := newBreaker(Settings{})

	v, err := Do(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, uint32(1), b.Counts().TotalSuccesses)
}

func TestPanicCountsAsFailure(t *testing.T) {
	b, _ := newBreaker(Settings{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	assert.Panics(t, func() {
		_ = b.Run(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}
