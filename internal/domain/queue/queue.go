package queue

import (
	"sync"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
)

// Stats holds cumulative queue counters
type Stats struct {
	Enqueued uint64 // messages passed to Enqueue
	Replaced uint64 // NewElement deltas that overwrote a queued delta
	Merged   uint64 // AddRows deltas folded into a queued delta
	Flushed  uint64 // messages returned by Flush
	Dropped  uint64 // deltas discarded by Clear or Reset
}

// Queue buffers outgoing messages for one session between flushes.
//
// Deltas targeting the same position within one flush window are coalesced:
// a NewElement replaces whatever is queued at its position, and AddRows is
// merged into the queued NewElement (or AddRows) for its position.
//
// Queue is safe for concurrent use; Enqueue from the script goroutine is
// linearizable with Flush from the I/O goroutine.
type Queue struct {
	mu sync.Mutex

	carried   []message.Message // lifecycle messages of runs cut by Clear
	lifecycle []message.Message
	deltas    []message.Message
	finish    []message.Message
	index     map[string]int // position key -> slot in deltas

	active string // run started but not yet finished

	stats Stats
}

// New creates an empty queue
func New() *Queue {
	return &Queue{index: make(map[string]int)}
}

// Enqueue adds a message, coalescing deltas by position
func (q *Queue) Enqueue(msg message.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueue(msg)
}

func (q *Queue) enqueue(msg message.Message) {
	q.stats.Enqueued++

	switch msg.Phase() {
	case message.PhaseLifecycle:
		if msg.Kind == message.KindRunStarted {
			q.active = msg.RunID
		}
		q.lifecycle = append(q.lifecycle, msg)
	case message.PhaseFinish:
		if msg.Kind == message.KindRunFinished && msg.RunID == q.active {
			q.active = ""
		}
		q.finish = append(q.finish, msg)
	default:
		q.enqueueDelta(msg)
	}
}

func (q *Queue) enqueueDelta(msg message.Message) {
	if msg.Position == nil || msg.Delta == nil {
		q.deltas = append(q.deltas, msg)
		return
	}

	key := msg.Position.Key()
	slot, queued := q.index[key]
	if !queued {
		q.index[key] = len(q.deltas)
		q.deltas = append(q.deltas, msg)
		return
	}

	switch msg.Delta.Kind {
	case message.DeltaNewElement:
		// A position holds one defining element per flush.
		q.deltas[slot] = msg
		q.stats.Replaced++

	case message.DeltaAddRows:
		if merged, ok := composeRows(q.deltas[slot], msg); ok {
			q.deltas[slot] = merged
			q.stats.Merged++
			return
		}
		// Not mergeable: keep both, later appends target the newest slot.
		q.index[key] = len(q.deltas)
		q.deltas = append(q.deltas, msg)

	default:
		q.index[key] = len(q.deltas)
		q.deltas = append(q.deltas, msg)
	}
}

// composeRows folds an AddRows delta into the queued delta at the same
// position. The queued payload is never mutated.
func composeRows(queued, add message.Message) (message.Message, bool) {
	old := queued.Delta
	switch old.Kind {
	case message.DeltaNewElement:
		if !old.Element.Streamable() {
			return message.Message{}, false
		}
		data, err := old.Element.Data.Append(add.Delta.Rows)
		if err != nil {
			return message.Message{}, false
		}
		el := old.Element.Clone()
		el.Data = data
		return message.NewElementMsg(*queued.Position, el), true

	case message.DeltaAddRows:
		rows, err := old.Rows.Append(add.Delta.Rows)
		if err != nil {
			return message.Message{}, false
		}
		return message.AddRowsMsg(*queued.Position, rows), true
	}
	return message.Message{}, false
}

// Flush drains the queue. Lifecycle messages come first, then deltas in the
// order their positions were first queued, then finishing messages.
func (q *Queue) Flush() []message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.carried) + len(q.lifecycle) + len(q.deltas) + len(q.finish)
	if n == 0 {
		return nil
	}

	out := make([]message.Message, 0, n)
	out = append(out, q.carried...)
	out = append(out, q.lifecycle...)
	out = append(out, q.deltas...)
	out = append(out, q.finish...)

	q.carried = nil
	q.lifecycle = nil
	q.deltas = nil
	q.finish = nil
	q.index = make(map[string]int)
	q.stats.Flushed += uint64(n)

	return out
}

// Clear discards undelivered deltas. Queued lifecycle and finishing messages
// are kept, in order, ahead of anything enqueued afterwards so every run the
// renderer saw start is also seen to finish.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.carried = append(q.carried, q.lifecycle...)
	q.carried = append(q.carried, q.finish...)
	q.stats.Dropped += uint64(len(q.deltas))

	q.lifecycle = nil
	q.deltas = nil
	q.finish = nil
	q.index = make(map[string]int)
}

// Reset discards everything queued for a previous connection and queues
// greeting first. When a run is in progress its RunStarted is queued again
// after the greeting, so the next connection sees that run both start and
// finish.
func (q *Queue) Reset(greeting ...message.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stats.Dropped += uint64(len(q.deltas))
	q.carried = nil
	q.lifecycle = nil
	q.deltas = nil
	q.finish = nil
	q.index = make(map[string]int)

	active := q.active
	for _, msg := range greeting {
		q.enqueue(msg)
	}
	if active != "" {
		q.enqueue(message.RunStartedMsg(active))
	}
}

// Len returns the number of queued messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.carried) + len(q.lifecycle) + len(q.deltas) + len(q.finish)
}

// Stats returns cumulative counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
