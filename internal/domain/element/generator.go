package element

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/domain/widgets"
)

// MaxColumns bounds the number of columns one Columns call may open
const MaxColumns = 64

var (
	// ErrNotStreamable is returned by AddRows on an element without data
	ErrNotStreamable = errors.New("element does not support add_rows")
	// ErrStaleHandle is returned by AddRows after the element was replaced
	ErrStaleHandle = errors.New("element was replaced")
)

// Sink receives positioned messages (the session's queue)
type Sink interface {
	Enqueue(msg message.Message)
}

// Controller is consulted at every safe point. A non-nil error is a control
// signal (stop or rerun) that must unwind the script.
type Controller interface {
	Checkpoint() error
}

// RunConfig wires a Run to its session
type RunConfig struct {
	ID       string
	Sink     Sink
	Widgets  *widgets.Store
	Control  Controller
	Registry *Registry
	Logger   *zap.Logger
}

// Run holds the cursor state of one script execution. Cursors start at zero
// for every run, so the same control flow always yields the same positions.
type Run struct {
	id       string
	sink     Sink
	widgets  *widgets.Store
	control  Controller
	registry *Registry
	logger   *zap.Logger

	cursors  map[string]int
	defining map[string]*Handle
	last     *Generator
	deltas   int
}

// NewRun creates the per-run element tree
func NewRun(cfg RunConfig) *Run {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Widgets == nil {
		cfg.Widgets = widgets.NewStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Run{
		id:       cfg.ID,
		sink:     cfg.Sink,
		widgets:  cfg.Widgets,
		control:  cfg.Control,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		cursors:  make(map[string]int),
		defining: make(map[string]*Handle),
	}
}

// ID returns the run identifier
func (r *Run) ID() string { return r.id }

// Main returns the generator for the main container
func (r *Run) Main() *Generator {
	return &Generator{run: r, block: message.Root(message.ContainerMain)}
}

// Sidebar returns the generator for the sidebar container
func (r *Run) Sidebar() *Generator {
	return &Generator{run: r, block: message.Root(message.ContainerSidebar)}
}

// Widgets returns the session's widget store
func (r *Run) Widgets() *widgets.Store { return r.widgets }

// Registry returns the element kinds available to the run
func (r *Run) Registry() *Registry { return r.registry }

// DeltaCount returns how many deltas the run has produced
func (r *Run) DeltaCount() int { return r.deltas }

// Checkpoint is the safe point: it reports a pending stop or rerun
func (r *Run) Checkpoint() error {
	if r.control == nil {
		return nil
	}
	return r.control.Checkpoint()
}

// Exception renders exc in place: at the next slot of the generator that
// was written to last, or at the top level of the main container. A write
// through an Empty slot puts the exception after the slot, not in it.
// It is not a safe point.
func (r *Run) Exception(exc *message.Exception) message.Position {
	g := r.last
	switch {
	case g == nil:
		g = r.Main()
	case g.fixed != nil:
		g = &Generator{run: r, block: g.block}
	}
	pos := g.next()
	r.emit(pos, &message.Element{Kind: "exception", Exception: exc})
	return pos
}

func (r *Run) emit(pos message.Position, el *message.Element) {
	r.deltas++
	r.sink.Enqueue(message.NewElementMsg(pos, el))
}

// Generator writes elements into one block of the tree
type Generator struct {
	run   *Run
	block message.Position
	fixed *message.Position
}

// Block returns the position of the block this generator writes into
func (g *Generator) Block() message.Position { return g.block }

func (g *Generator) next() message.Position {
	if g.fixed != nil {
		return *g.fixed
	}
	key := g.block.Key()
	idx := g.run.cursors[key]
	g.run.cursors[key] = idx + 1
	return g.block.Child(idx)
}

func (g *Generator) define(pos message.Position, el *message.Element) *Handle {
	h := &Handle{gen: g, pos: pos, el: el.Clone()}
	g.run.defining[pos.Key()] = h
	g.run.last = g
	g.run.emit(pos, el)
	return h
}

// NewElement places a built element at the next position
func (g *Generator) NewElement(el *message.Element) (*Handle, error) {
	if err := g.run.Checkpoint(); err != nil {
		return nil, err
	}
	return g.define(g.next(), el), nil
}

// Write builds a non-widget element of the given kind and places it
func (g *Generator) Write(kind string, body any, opts map[string]any) (*Handle, error) {
	if err := g.run.Checkpoint(); err != nil {
		return nil, err
	}

	k, err := g.run.registry.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if k.Widget != nil {
		return nil, fmt.Errorf("%w: %s", ErrIsWidget, kind)
	}

	el, err := k.Build(Args{Body: body, Opts: opts})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return g.define(g.next(), el), nil
}

// Widget places an interactive element and returns its value for this run.
// onChange runs synchronously when this run consumes a client edit that
// changed the value.
func (g *Generator) Widget(kind, label string, opts map[string]any, onChange func() error) (any, error) {
	if err := g.run.Checkpoint(); err != nil {
		return nil, err
	}

	k, err := g.run.registry.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if k.Widget == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotWidget, kind)
	}

	args := Args{Body: label, Opts: opts}
	el, err := k.Build(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}

	pos := g.next()
	id := WidgetID(kind, label, pos, opts)

	spec := widgets.Spec{Trigger: k.Widget.Trigger}
	if k.Widget.Default != nil {
		spec.Default = k.Widget.Default(args)
	}
	if k.Widget.Coerce != nil {
		spec.Coerce = k.Widget.Coerce(args)
	}

	res, err := g.run.widgets.Resolve(id, spec)
	if err != nil {
		return nil, err
	}

	el.Widget = &message.WidgetState{ID: id, Value: res.Value}
	g.define(pos, el)

	if res.Changed && onChange != nil {
		g.run.logger.Debug("widget callback", zap.String("widget", id))
		if err := onChange(); err != nil {
			return nil, err
		}
	}
	return res.Value, nil
}

// WidgetID derives the widget key: an explicit user key when given,
// otherwise kind, position and label.
func WidgetID(kind, label string, pos message.Position, opts map[string]any) string {
	if key, ok := opts["key"].(string); ok && key != "" {
		return KeyedWidgetID(key)
	}
	return kind + ":" + pos.Key() + ":" + label
}

// KeyedWidgetID is the ID of a widget declared with an explicit key
func KeyedWidgetID(key string) string {
	return "key:" + key
}

func (g *Generator) openBlock(props map[string]any) (message.Position, error) {
	if err := g.run.Checkpoint(); err != nil {
		return message.Position{}, err
	}
	pos := g.next()
	g.define(pos, &message.Element{Kind: message.BlockKind, Props: props})
	// Re-entering a block always restarts its children at zero.
	g.run.cursors[pos.Key()] = 0
	return pos, nil
}

// Container opens a vertical block
func (g *Generator) Container() (*Generator, error) {
	pos, err := g.openBlock(map[string]any{"type": "vertical"})
	if err != nil {
		return nil, err
	}
	return &Generator{run: g.run, block: pos}, nil
}

// Expander opens a collapsible block
func (g *Generator) Expander(label string, expanded bool) (*Generator, error) {
	pos, err := g.openBlock(map[string]any{"type": "expander", "label": label, "expanded": expanded})
	if err != nil {
		return nil, err
	}
	return &Generator{run: g.run, block: pos}, nil
}

// Columns opens a horizontal block with n column blocks
func (g *Generator) Columns(n int) ([]*Generator, error) {
	if n < 1 {
		return nil, fmt.Errorf("columns: need at least one column, got %d", n)
	}
	if n > MaxColumns {
		return nil, fmt.Errorf("columns: at most %d columns, got %d", MaxColumns, n)
	}
	pos, err := g.openBlock(map[string]any{"type": "horizontal", "columns": n})
	if err != nil {
		return nil, err
	}

	cols := make([]*Generator, n)
	for i := range cols {
		child := pos.Child(i)
		g.run.emit(child, &message.Element{Kind: message.BlockKind, Props: map[string]any{"type": "column"}})
		g.run.cursors[child.Key()] = 0
		cols[i] = &Generator{run: g.run, block: child}
	}
	g.run.cursors[pos.Key()] = n
	return cols, nil
}

// Empty reserves one slot. Every write through the returned generator
// replaces the element in that slot.
func (g *Generator) Empty() (*Generator, error) {
	if err := g.run.Checkpoint(); err != nil {
		return nil, err
	}
	pos := g.next()
	g.define(pos, &message.Element{Kind: "empty"})
	return &Generator{run: g.run, block: g.block, fixed: &pos}, nil
}

// Text writes plain text
func (g *Generator) Text(body string) (*Handle, error) {
	return g.Write("text", body, nil)
}

// Markdown writes sanitized markdown
func (g *Generator) Markdown(body string) (*Handle, error) {
	return g.Write("markdown", body, nil)
}

// DataFrame writes a table that supports AddRows
func (g *Generator) DataFrame(data any) (*Handle, error) {
	return g.Write("dataframe", data, nil)
}

// Button returns true only in the run triggered by a click
func (g *Generator) Button(label string, onClick func() error) (bool, error) {
	v, err := g.Widget("button", label, nil, onClick)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// Checkbox returns the checkbox state
func (g *Generator) Checkbox(label string, value bool) (bool, error) {
	v, err := g.Widget("checkbox", label, map[string]any{"value": value}, nil)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// TextInput returns the text field value
func (g *Generator) TextInput(label, value string) (string, error) {
	v, err := g.Widget("text_input", label, map[string]any{"value": value}, nil)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Slider returns the slider value
func (g *Generator) Slider(label string, min, max, value float64) (float64, error) {
	v, err := g.Widget("slider", label, map[string]any{"min": min, "max": max, "value": value}, nil)
	if err != nil {
		return 0, err
	}
	f, _ := v.(float64)
	return f, nil
}

// Handle refers to an element placed during the current run
type Handle struct {
	gen *Generator
	pos message.Position
	el  *message.Element
}

// Position returns where the element was placed
func (h *Handle) Position() message.Position { return h.pos }

// Element returns the materialized element, including appended rows
func (h *Handle) Element() *message.Element { return h.el.Clone() }

// AddRows appends rows to a data-bearing element. Shape problems are
// returned to the caller; they do not end the run.
func (h *Handle) AddRows(data any) error {
	run := h.gen.run
	if err := run.Checkpoint(); err != nil {
		return err
	}

	if run.defining[h.pos.Key()] != h {
		return fmt.Errorf("%w at %s", ErrStaleHandle, h.pos)
	}
	if !h.el.Streamable() {
		return fmt.Errorf("%w: %s", ErrNotStreamable, h.el.Kind)
	}

	rows, err := message.NewDataFrame(data)
	if err != nil {
		return err
	}
	merged, err := h.el.Data.Append(rows)
	if err != nil {
		return err
	}
	h.el.Data = merged

	run.deltas++
	run.last = h.gen
	run.sink.Enqueue(message.AddRowsMsg(h.pos, rows))
	return nil
}
