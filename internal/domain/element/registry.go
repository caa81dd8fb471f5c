package element

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/domain/widgets"
)

var (
	ErrUnknownKind   = errors.New("unknown element kind")
	ErrDuplicateKind = errors.New("element kind already registered")
	ErrNotWidget     = errors.New("element kind is not a widget")
	ErrIsWidget      = errors.New("element kind is a widget")
)

// Args are the inputs of one write call
type Args struct {
	Body any
	Opts map[string]any
}

// Opt returns an option value or def when absent
func (a Args) Opt(name string, def any) any {
	if v, ok := a.Opts[name]; ok && v != nil {
		return v
	}
	return def
}

// Builder turns write-call arguments into an element payload
type Builder func(args Args) (*message.Element, error)

// WidgetSpec describes the value side of an interactive element
type WidgetSpec struct {
	Default func(args Args) any
	Coerce  func(args Args) widgets.Coercer
	Trigger bool
}

// Kind is one entry of the capability table
type Kind struct {
	Name   string
	Build  Builder
	Widget *WidgetSpec
}

// Registry maps element kinds to their handlers
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds a kind
func (r *Registry) Register(k Kind) error {
	if k.Name == "" || k.Build == nil {
		return fmt.Errorf("invalid element kind %q", k.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[k.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, k.Name)
	}
	r.kinds[k.Name] = k
	return nil
}

// Lookup returns a registered kind
func (r *Registry) Lookup(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %s", ErrUnknownKind, name)
	}
	return k, nil
}

// Names returns every registered kind, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// DefaultRegistry returns the registry of built-in kinds
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		for _, k := range builtins() {
			if err := defaultRegistry.Register(k); err != nil {
				panic(err)
			}
		}
	})
	return defaultRegistry
}
