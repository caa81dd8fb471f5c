package widgets

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"
)

var (
	// ErrDuplicateWidget is returned when two widgets resolve to the same ID in one run
	ErrDuplicateWidget = errors.New("duplicate widget id")
	// ErrUnknownWidget is returned by Set for an empty ID
	ErrUnknownWidget = errors.New("unknown widget")
)

// Entry is the stored state of one widget
type Entry struct {
	ID            string
	Value         any
	SetByCallback bool
	Touched       bool
}

// Coercer converts a raw client value into the widget's value type
type Coercer func(raw any) (any, error)

// Spec describes how a widget resolves its value
type Spec struct {
	Default any
	Coerce  Coercer
	// Trigger widgets (buttons) report an edit for exactly one run and then
	// revert to Default.
	Trigger bool
}

// Resolution is the outcome of resolving a widget for the current run
type Resolution struct {
	Value any
	// Changed is true when this resolution consumed a client edit that
	// differs from the previously stored value; callbacks fire on it.
	Changed bool
}

// Store maps widget IDs to their last known values for one session
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
	pending map[string]any
	seen    map[string]struct{}
}

// NewStore creates an empty widget store
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*Entry),
		pending: make(map[string]any),
		seen:    make(map[string]struct{}),
	}
}

// BeginRun resets per-run flags and installs the client edits for this run.
// A nil edits map means the client sent no widget state.
func (s *Store) BeginRun(edits map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		e.Touched = false
	}
	s.pending = maps.Clone(edits)
	if s.pending == nil {
		s.pending = make(map[string]any)
	}
	s.seen = make(map[string]struct{})
}

// Resolve returns the value a widget takes in this run. Order: a value set
// by a callback, a pending client edit, the stored value, the default.
func (s *Store) Resolve(id string, spec Spec) (Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[id]; dup {
		return Resolution{}, fmt.Errorf("%w: %s", ErrDuplicateWidget, id)
	}
	s.seen[id] = struct{}{}

	entry, exists := s.entries[id]
	if !exists {
		entry = &Entry{ID: id, Value: spec.Default}
		s.entries[id] = entry
	}
	entry.Touched = true

	var res Resolution
	edit, hasEdit := s.pending[id]
	delete(s.pending, id)

	switch {
	case entry.SetByCallback:
		res.Value = entry.Value
		entry.SetByCallback = false

	case hasEdit:
		v, err := coerce(spec, edit)
		if err != nil {
			// Unusable edit: keep what we had.
			res.Value = entry.Value
			break
		}
		res.Value = v
		if spec.Trigger {
			res.Changed = truthy(v)
		} else {
			res.Changed = !exists || !reflect.DeepEqual(entry.Value, v)
		}
		entry.Value = v

	default:
		res.Value = entry.Value
	}

	if spec.Trigger {
		entry.Value = spec.Default
	}
	return res, nil
}

// Set stores a value on behalf of a callback. It wins over the client's value
// the next time the widget is resolved.
func (s *Store) Set(id string, v any) error {
	if id == "" {
		return ErrUnknownWidget
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		entry = &Entry{ID: id}
		s.entries[id] = entry
	}
	entry.Value = v
	entry.SetByCallback = true
	return nil
}

// EndRun closes the current run. After a successful run every entry that was
// not reached is pruned so removed widgets cannot leak state into a future
// widget landing at the same place. After a failed or interrupted run nothing
// is pruned and unconsumed edits are kept as stored values.
func (s *Store) EndRun(success bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned []string
	if success {
		for id, e := range s.entries {
			if !e.Touched {
				delete(s.entries, id)
				pruned = append(pruned, id)
			}
		}
		sort.Strings(pruned)
	} else {
		for id, v := range s.pending {
			if e, ok := s.entries[id]; ok && !e.SetByCallback {
				e.Value = v
			}
		}
	}
	s.pending = make(map[string]any)
	return pruned
}

// Get returns the stored value for a widget
func (s *Store) Get(id string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Values returns a snapshot of every stored value
func (s *Store) Values() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.Value
	}
	return out
}

// Len returns the number of stored widgets
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func coerce(spec Spec, raw any) (any, error) {
	if spec.Coerce == nil {
		return raw, nil
	}
	return spec.Coerce(raw)
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
