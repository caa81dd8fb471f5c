package element

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/domain/widgets"
)

var markdownPolicy = bluemonday.UGCPolicy()

func builtins() []Kind {
	kinds := []Kind{
		{Name: "text", Build: bodyElement("text")},
		{Name: "title", Build: bodyElement("title")},
		{Name: "header", Build: bodyElement("header")},
		{Name: "subheader", Build: bodyElement("subheader")},
		{Name: "caption", Build: bodyElement("caption")},
		{Name: "markdown", Build: buildMarkdown},
		{Name: "code", Build: buildCode},
		{Name: "json", Build: buildJSON},
		{Name: "image", Build: buildImage},
		{Name: "exception", Build: buildException},
		{Name: "dataframe", Build: dataElement("dataframe")},
		{Name: "table", Build: dataElement("table")},
		{Name: "line_chart", Build: dataElement("line_chart")},
		{Name: "bar_chart", Build: dataElement("bar_chart")},
		{Name: "empty", Build: func(Args) (*message.Element, error) {
			return &message.Element{Kind: "empty"}, nil
		}},
	}
	return append(kinds, widgetKinds()...)
}

func bodyElement(kind string) Builder {
	return func(args Args) (*message.Element, error) {
		return &message.Element{
			Kind:  kind,
			Props: map[string]any{"body": toString(args.Body)},
		}, nil
	}
}

func buildMarkdown(args Args) (*message.Element, error) {
	body := toString(args.Body)
	unsafe, _ := args.Opt("unsafe_allow_html", false).(bool)
	if !unsafe {
		body = markdownPolicy.Sanitize(body)
	}
	return &message.Element{
		Kind:  "markdown",
		Props: map[string]any{"body": body, "allow_html": unsafe},
	}, nil
}

func buildCode(args Args) (*message.Element, error) {
	return &message.Element{
		Kind: "code",
		Props: map[string]any{
			"body":     toString(args.Body),
			"language": toString(args.Opt("language", "")),
		},
	}, nil
}

func buildJSON(args Args) (*message.Element, error) {
	return &message.Element{
		Kind:  "json",
		Props: map[string]any{"body": args.Body},
	}, nil
}

func buildImage(args Args) (*message.Element, error) {
	var data []byte
	switch v := args.Body.(type) {
	case []byte:
		data = v
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("image must be base64 encoded: %w", err)
		}
		data = decoded
	default:
		return nil, fmt.Errorf("unsupported image type %T", args.Body)
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, fmt.Errorf("not an image: detected %s", mime.String())
	}

	props := map[string]any{
		"mime": mime.String(),
		"data": base64.StdEncoding.EncodeToString(data),
	}
	if caption := args.Opt("caption", nil); caption != nil {
		props["caption"] = toString(caption)
	}
	if width, ok := toFloat(args.Opt("width", nil)); ok {
		props["width"] = width
	}
	return &message.Element{Kind: "image", Props: props}, nil
}

func buildException(args Args) (*message.Element, error) {
	exc := &message.Exception{Type: "Error", Message: toString(args.Body)}
	if err, ok := args.Body.(error); ok {
		exc.Type = fmt.Sprintf("%T", err)
		exc.Message = err.Error()
	}
	if t, ok := args.Opt("type", nil).(string); ok {
		exc.Type = t
	}
	return &message.Element{Kind: "exception", Exception: exc}, nil
}

func dataElement(kind string) Builder {
	return func(args Args) (*message.Element, error) {
		df, err := message.NewDataFrame(args.Body)
		if err != nil {
			return nil, err
		}
		return &message.Element{Kind: kind, Data: df}, nil
	}
}

func widgetKinds() []Kind {
	return []Kind{
		{
			Name:  "button",
			Build: widgetElement("button"),
			Widget: &WidgetSpec{
				Default: func(Args) any { return false },
				Coerce:  func(Args) widgets.Coercer { return coerceBool },
				Trigger: true,
			},
		},
		{
			Name:  "checkbox",
			Build: widgetElement("checkbox"),
			Widget: &WidgetSpec{
				Default: func(a Args) any {
					b, _ := a.Opt("value", false).(bool)
					return b
				},
				Coerce: func(Args) widgets.Coercer { return coerceBool },
			},
		},
		{
			Name:  "text_input",
			Build: widgetElement("text_input", "placeholder", "max_chars"),
			Widget: &WidgetSpec{
				Default: func(a Args) any { return toString(a.Opt("value", "")) },
				Coerce:  func(Args) widgets.Coercer { return coerceString },
			},
		},
		{
			Name:  "number_input",
			Build: widgetElement("number_input", "min", "max", "step"),
			Widget: &WidgetSpec{
				Default: func(a Args) any {
					f, _ := toFloat(a.Opt("value", 0))
					return f
				},
				Coerce: rangeCoercer,
			},
		},
		{
			Name:  "slider",
			Build: widgetElement("slider", "min", "max", "step"),
			Widget: &WidgetSpec{
				Default: func(a Args) any {
					if f, ok := toFloat(a.Opt("value", nil)); ok {
						return f
					}
					f, _ := toFloat(a.Opt("min", 0))
					return f
				},
				Coerce: rangeCoercer,
			},
		},
		{
			Name:   "selectbox",
			Build:  widgetElement("selectbox", "options"),
			Widget: optionsWidget(),
		},
		{
			Name:   "radio",
			Build:  widgetElement("radio", "options"),
			Widget: optionsWidget(),
		},
	}
}

func widgetElement(kind string, passthrough ...string) Builder {
	return func(args Args) (*message.Element, error) {
		props := map[string]any{"label": toString(args.Body)}
		for _, name := range passthrough {
			if v, ok := args.Opts[name]; ok && v != nil {
				props[name] = v
			}
		}
		if help, ok := args.Opts["help"].(string); ok {
			props["help"] = help
		}
		return &message.Element{Kind: kind, Props: props}, nil
	}
}

func optionsWidget() *WidgetSpec {
	return &WidgetSpec{
		Default: func(a Args) any {
			opts := options(a)
			if len(opts) == 0 {
				return nil
			}
			idx, _ := toFloat(a.Opt("index", 0))
			if int(idx) < 0 || int(idx) >= len(opts) {
				return opts[0]
			}
			return opts[int(idx)]
		},
		Coerce: func(a Args) widgets.Coercer {
			opts := options(a)
			return func(raw any) (any, error) {
				for _, o := range opts {
					if sameValue(o, raw) {
						return o, nil
					}
				}
				return nil, fmt.Errorf("%v is not one of the options", raw)
			}
		},
	}
}

func options(a Args) []any {
	opts, _ := a.Opts["options"].([]any)
	return opts
}

func rangeCoercer(a Args) widgets.Coercer {
	lo, hasLo := toFloat(a.Opt("min", nil))
	hi, hasHi := toFloat(a.Opt("max", nil))
	return func(raw any) (any, error) {
		f, ok := toFloat(raw)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %T", raw)
		}
		if (hasLo && f < lo) || (hasHi && f > hi) {
			return nil, fmt.Errorf("%v out of range", f)
		}
		return f, nil
	}
}

func coerceBool(raw any) (any, error) {
	b, ok := raw.(bool)
	if !ok {
		return nil, fmt.Errorf("expected a bool, got %T", raw)
	}
	return b, nil
}

func coerceString(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected a string, got %T", raw)
	}
	return s, nil
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// sameValue compares option values treating all numeric types as equal
func sameValue(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}
