package script

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptflow/internal/domain/element"
)

// generator exposes g as a JS object. Every registered kind becomes a
// method; block helpers return nested generator objects.
func (r *runtime) generator(g *element.Generator, main bool) (*goja.Object, error) {
	obj := r.vm.NewObject()
	registry := r.env.Run.Registry()

	for _, name := range registry.Names() {
		kind, err := registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		fn := r.elementFunc(g, name)
		if kind.Widget != nil {
			fn = r.widgetFunc(g, name)
		}
		if err := obj.Set(name, fn); err != nil {
			return nil, err
		}
	}

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"container": func(goja.FunctionCall) goja.Value {
			child, err := g.Container()
			if err != nil {
				return r.fail(err)
			}
			return r.wrap(child)
		},
		"expander": func(call goja.FunctionCall) goja.Value {
			child, err := g.Expander(call.Argument(0).String(), call.Argument(1).ToBoolean())
			if err != nil {
				return r.fail(err)
			}
			return r.wrap(child)
		},
		"columns": func(call goja.FunctionCall) goja.Value {
			cols, err := g.Columns(int(call.Argument(0).ToInteger()))
			if err != nil {
				return r.fail(err)
			}
			out := make([]any, len(cols))
			for i, c := range cols {
				out[i] = r.wrap(c)
			}
			return r.vm.ToValue(out)
		},
		"empty": func(goja.FunctionCall) goja.Value {
			slot, err := g.Empty()
			if err != nil {
				return r.fail(err)
			}
			return r.wrap(slot)
		},
	}
	for name, fn := range methods {
		if err := obj.Set(name, fn); err != nil {
			return nil, err
		}
	}

	if !main {
		return obj, nil
	}

	sidebar, err := r.generator(r.env.Run.Sidebar(), false)
	if err != nil {
		return nil, err
	}
	if err := obj.Set("sidebar", sidebar); err != nil {
		return nil, err
	}
	if err := obj.Set("cache", r.cacheFunc); err != nil {
		return nil, err
	}
	if err := obj.Set("set_widget", r.setWidget); err != nil {
		return nil, err
	}
	return obj, obj.Set("args", r.vm.Get("argv"))
}

func (r *runtime) wrap(g *element.Generator) goja.Value {
	obj, err := r.generator(g, false)
	if err != nil {
		return r.fail(err)
	}
	return obj
}

// elementFunc binds st.<kind>(body, opts)
func (r *runtime) elementFunc(g *element.Generator, kind string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		body := exportValue(call.Argument(0))
		opts, _ := exportOpts(call.Argument(1))

		h, err := g.Write(kind, body, opts)
		if err != nil {
			return r.fail(err)
		}
		return r.handle(h)
	}
}

// widgetFunc binds st.<widget>(label, opts) and returns the widget value
func (r *runtime) widgetFunc(g *element.Generator, kind string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		label := ""
		if v := call.Argument(0); !goja.IsUndefined(v) && !goja.IsNull(v) {
			label = v.String()
		}
		opts, callback := exportOpts(call.Argument(1))

		var onChange func() error
		if callback != nil {
			onChange = func() error {
				_, err := callback(goja.Undefined())
				if sig := r.interrupted(); sig != nil {
					return sig
				}
				return err
			}
		}

		v, err := g.Widget(kind, label, opts, onChange)
		if err != nil {
			return r.fail(err)
		}
		return r.vm.ToValue(v)
	}
}

// handle exposes an element handle; add_rows appends to data elements
func (r *runtime) handle(h *element.Handle) goja.Value {
	obj := r.vm.NewObject()
	_ = obj.Set("position", h.Position().Key())
	_ = obj.Set("add_rows", func(call goja.FunctionCall) goja.Value {
		if err := h.AddRows(exportValue(call.Argument(0))); err != nil {
			return r.fail(err)
		}
		return goja.Undefined()
	})
	return obj
}

// cacheFunc binds st.cache(key, fn): fn runs only when key is not cached
func (r *runtime) cacheFunc(call goja.FunctionCall) goja.Value {
	key := call.Argument(0).String()
	compute, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		return r.fail(fmt.Errorf("cache: second argument must be a function"))
	}

	store := r.env.Cache
	if store != nil {
		v, found, err := store.Get(r.ctx, key)
		if err != nil {
			r.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		} else if found {
			return r.vm.ToValue(v)
		}
	}

	val, err := compute(goja.Undefined())
	if err != nil {
		return r.fail(err)
	}
	if store != nil {
		if err := store.Set(r.ctx, key, exportValue(val)); err != nil {
			r.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
		}
	}
	return val
}

// setWidget binds st.set_widget(key, value) for widgets declared with a key
func (r *runtime) setWidget(call goja.FunctionCall) goja.Value {
	key := call.Argument(0).String()
	if err := r.env.Run.Widgets().Set(element.KeyedWidgetID(key), exportValue(call.Argument(1))); err != nil {
		return r.fail(err)
	}
	return goja.Undefined()
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// exportOpts converts an options object, splitting off the on_change callback
func exportOpts(v goja.Value) (map[string]any, goja.Callable) {
	raw, ok := exportValue(v).(map[string]any)
	if !ok {
		return nil, nil
	}

	var callback goja.Callable
	if obj, ok := v.(*goja.Object); ok {
		callback, _ = goja.AssertFunction(obj.Get("on_change"))
	}
	delete(raw, "on_change")
	return raw, callback
}
