package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
)

func pos(i ...int) message.Position {
	p := message.Root(message.ContainerMain)
	for _, idx := range i {
		p = p.Child(idx)
	}
	return p
}

func text(body string) *message.Element {
	return &message.Element{Kind: "text", Props: map[string]any{"body": body}}
}

func frame(t *testing.T, values ...int64) *message.DataFrame {
	t.Helper()
	records := make([]any, len(values))
	for i, v := range values {
		records[i] = map[string]any{"x": v}
	}
	df, err := message.NewDataFrame(records)
	require.NoError(t, err)
	return df
}

func TestNewElementLastWriteWins(t *testing.T) {
	q := New()
	q.Enqueue(message.NewElementMsg(pos(0), text("A")))
	q.Enqueue(message.NewElementMsg(pos(0), text("B")))

	out := q.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, "B", out[0].Delta.Element.Props["body"])
	assert.Equal(t, uint64(1), q.Stats().Replaced)
}

func TestAddRowsMergeIntoNewElement(t *testing.T) {
	q := New()
	el := &message.Element{Kind: "dataframe", Data: frame(t, 1)}
	q.Enqueue(message.NewElementMsg(pos(0), el))
	q.Enqueue(message.AddRowsMsg(pos(0), frame(t, 2)))
	q.Enqueue(message.AddRowsMsg(pos(0), frame(t, 3, 4)))

	out := q.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, message.DeltaNewElement, out[0].Delta.Kind)
	assert.Equal(t, 4, out[0].Delta.Element.Data.Len())
	assert.Equal(t, 1, el.Data.Len(), "queued payload must not be mutated")
	assert.Equal(t, uint64(2), q.Stats().Merged)
}

func TestAddRowsMergeWithoutDefiningElement(t *testing.T) {
	q := New()
	q.Enqueue(message.AddRowsMsg(pos(2), frame(t, 1)))
	q.Enqueue(message.AddRowsMsg(pos(2), frame(t, 2)))

	out := q.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, message.DeltaAddRows, out[0].Delta.Kind)
	assert.Equal(t, 2, out[0].Delta.Rows.Len())
}

func TestAddRowsIncompatibleKeptSeparate(t *testing.T) {
	q := New()
	q.Enqueue(message.NewElementMsg(pos(0), &message.Element{Kind: "dataframe", Data: frame(t, 1)}))

	other, err := message.NewDataFrame([]any{map[string]any{"y": "s"}})
	require.NoError(t, err)
	q.Enqueue(message.AddRowsMsg(pos(0), other))

	out := q.Flush()
	assert.Len(t, out, 2)
}

func TestNewElementReplacesQueuedAddRows(t *testing.T) {
	q := New()
	q.Enqueue(message.AddRowsMsg(pos(0), frame(t, 1)))
	q.Enqueue(message.NewElementMsg(pos(0), text("fresh")))

	out := q.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, message.DeltaNewElement, out[0].Delta.Kind)
}

func TestFlushOrdering(t *testing.T) {
	q := New()
	q.Enqueue(message.NewElementMsg(pos(0), text("a")))
	q.Enqueue(message.RunFinishedMsg("r1", message.RunSuccess))
	q.Enqueue(message.NewElementMsg(pos(1), text("b")))
	q.Enqueue(message.RunStartedMsg("r1"))
	q.Enqueue(message.NewElementMsg(pos(0), text("a2")))

	out := q.Flush()
	require.Len(t, out, 4)
	assert.Equal(t, message.KindRunStarted, out[0].Kind)
	assert.Equal(t, "main:0", out[1].Position.Key())
	assert.Equal(t, "a2", out[1].Delta.Element.Props["body"])
	assert.Equal(t, "main:1", out[2].Position.Key())
	assert.Equal(t, message.KindRunFinished, out[3].Kind)

	assert.Nil(t, q.Flush())
	assert.Equal(t, 0, q.Len())
}

func TestClearDropsDeltasKeepsLifecycle(t *testing.T) {
	q := New()
	q.Enqueue(message.RunStartedMsg("r1"))
	q.Enqueue(message.NewElementMsg(pos(0), text("stale")))
	q.Enqueue(message.RunFinishedMsg("r1", message.RunRerun))

	q.Clear()
	q.Enqueue(message.RunStartedMsg("r2"))
	q.Enqueue(message.NewElementMsg(pos(0), text("fresh")))
	q.Enqueue(message.RunFinishedMsg("r2", message.RunSuccess))

	out := q.Flush()
	kinds := make([]message.Kind, len(out))
	for i, m := range out {
		kinds[i] = m.Kind
	}
	assert.Equal(t, []message.Kind{
		message.KindRunStarted,
		message.KindRunFinished,
		message.KindRunStarted,
		message.KindDelta,
		message.KindRunFinished,
	}, kinds)
	assert.Equal(t, "r1", out[1].RunID)
	assert.Equal(t, "fresh", out[3].Delta.Element.Props["body"])
	assert.Equal(t, uint64(1), q.Stats().Dropped)
}

func TestResetRestartsActiveRun(t *testing.T) {
	q := New()
	q.Enqueue(message.RunStartedMsg("r1"))
	q.Enqueue(message.NewElementMsg(pos(0), text("stale")))
	q.Enqueue(message.ScriptChangedMsg())

	q.Reset(message.InitializeMsg(message.Initialize{SessionID: "s"}))
	q.Enqueue(message.RunFinishedMsg("r1", message.RunRerun))

	out := q.Flush()
	kinds := make([]message.Kind, len(out))
	for i, m := range out {
		kinds[i] = m.Kind
	}
	assert.Equal(t, []message.Kind{
		message.KindInitialize,
		message.KindRunStarted,
		message.KindRunFinished,
	}, kinds)
	assert.Equal(t, "r1", out[1].RunID)
	assert.Equal(t, uint64(1), q.Stats().Dropped)
}

func TestResetWhileIdle(t *testing.T) {
	q := New()
	q.Enqueue(message.RunStartedMsg("r1"))
	q.Enqueue(message.RunFinishedMsg("r1", message.RunSuccess))

	q.Reset(message.InitializeMsg(message.Initialize{SessionID: "s"}))

	out := q.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, message.KindInitialize, out[0].Kind)
}

func TestConcurrentEnqueueAndFlush(t *testing.T) {
	q := New()
	const writers = 4
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				q.Enqueue(message.NewElementMsg(pos(w, i), text("x")))
			}
		}(w)
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		total += len(q.Flush())
		select {
		case <-done:
			total += len(q.Flush())
			assert.Equal(t, writers*perWriter, total)
			return
		default:
		}
	}
}
