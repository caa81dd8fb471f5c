package message

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
)

var (
	// ErrShapeMismatch is returned when appended rows do not fit a frame
	ErrShapeMismatch = errors.New("incompatible data shape")
	// ErrInvalidData is returned for values that cannot be read as a table
	ErrInvalidData = errors.New("invalid tabular data")
)

// ColumnType is the inferred type of a column
type ColumnType string

const (
	ColumnNumber ColumnType = "number"
	ColumnString ColumnType = "string"
	ColumnBool   ColumnType = "bool"
	ColumnAny    ColumnType = "any"
)

// Column describes one column of a DataFrame
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// DataFrame is a column-typed table of rows
type DataFrame struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewDataFrame builds a frame from script data. Accepted shapes:
//   - a list of records ([]map[string]any); columns are the sorted union of keys
//   - {"columns": [...], "rows": [[...], ...]}
//   - a list of lists; columns are named by index
//   - a list of scalars; one column named "value"
func NewDataFrame(v any) (*DataFrame, error) {
	switch data := v.(type) {
	case nil:
		return &DataFrame{}, nil
	case *DataFrame:
		return data.Clone(), nil
	case map[string]any:
		return frameFromColumns(data)
	case []map[string]any:
		records := make([]any, len(data))
		for i := range data {
			records[i] = data[i]
		}
		return frameFromList(records)
	case []any:
		return frameFromList(data)
	case [][]any:
		return frameFromList(toAnySlice(data))
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidData, v)
	}
}

func toAnySlice(rows [][]any) []any {
	out := make([]any, len(rows))
	for i := range rows {
		out[i] = rows[i]
	}
	return out
}

func frameFromColumns(data map[string]any) (*DataFrame, error) {
	rawCols, ok := data["columns"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: object form needs a columns list", ErrInvalidData)
	}
	names := make([]string, len(rawCols))
	for i, c := range rawCols {
		names[i] = fmt.Sprint(c)
	}

	var rows [][]any
	if raw, ok := data["rows"].([]any); ok {
		for i, r := range raw {
			row, ok := r.([]any)
			if !ok || len(row) != len(names) {
				return nil, fmt.Errorf("%w: row %d does not have %d cells", ErrInvalidData, i, len(names))
			}
			rows = append(rows, slices.Clone(row))
		}
	}
	return newFrame(names, rows), nil
}

func frameFromList(list []any) (*DataFrame, error) {
	if len(list) == 0 {
		return &DataFrame{}, nil
	}

	switch list[0].(type) {
	case map[string]any:
		keys := map[string]struct{}{}
		for i, item := range list {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: item %d is not a record", ErrInvalidData, i)
			}
			for k := range rec {
				keys[k] = struct{}{}
			}
		}
		names := make([]string, 0, len(keys))
		for k := range keys {
			names = append(names, k)
		}
		sort.Strings(names)

		rows := make([][]any, len(list))
		for i, item := range list {
			rec := item.(map[string]any)
			row := make([]any, len(names))
			for j, name := range names {
				row[j] = rec[name]
			}
			rows[i] = row
		}
		return newFrame(names, rows), nil

	case []any:
		width := len(list[0].([]any))
		names := make([]string, width)
		for i := range names {
			names[i] = strconv.Itoa(i)
		}
		rows := make([][]any, len(list))
		for i, item := range list {
			row, ok := item.([]any)
			if !ok || len(row) != width {
				return nil, fmt.Errorf("%w: row %d does not have %d cells", ErrInvalidData, i, width)
			}
			rows[i] = slices.Clone(row)
		}
		return newFrame(names, rows), nil

	default:
		rows := make([][]any, len(list))
		for i, item := range list {
			rows[i] = []any{item}
		}
		return newFrame([]string{"value"}, rows), nil
	}
}

func newFrame(names []string, rows [][]any) *DataFrame {
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Type: inferType(rows, i)}
	}
	return &DataFrame{Columns: cols, Rows: rows}
}

func inferType(rows [][]any, col int) ColumnType {
	var found ColumnType
	for _, row := range rows {
		t := valueType(row[col])
		if t == "" {
			continue
		}
		if found == "" {
			found = t
		} else if found != t {
			return ColumnAny
		}
	}
	if found == "" {
		return ColumnAny
	}
	return found
}

func valueType(v any) ColumnType {
	switch v.(type) {
	case nil:
		return ""
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return ColumnNumber
	case string:
		return ColumnString
	case bool:
		return ColumnBool
	default:
		return ColumnAny
	}
}

// Len returns the number of rows
func (df *DataFrame) Len() int {
	if df == nil {
		return 0
	}
	return len(df.Rows)
}

// Compatible checks that rows from other can be appended to df.
// A frame without columns accepts any shape.
func (df *DataFrame) Compatible(other *DataFrame) error {
	if df == nil || other == nil || len(df.Columns) == 0 || len(other.Columns) == 0 {
		return nil
	}
	if len(df.Columns) != len(other.Columns) {
		return fmt.Errorf("%w: have %d columns, got %d", ErrShapeMismatch, len(df.Columns), len(other.Columns))
	}
	for i, c := range df.Columns {
		o := other.Columns[i]
		if c.Name != o.Name {
			return fmt.Errorf("%w: column %d is %q, got %q", ErrShapeMismatch, i, c.Name, o.Name)
		}
		if c.Type != ColumnAny && o.Type != ColumnAny && c.Type != o.Type {
			return fmt.Errorf("%w: column %q is %s, got %s", ErrShapeMismatch, c.Name, c.Type, o.Type)
		}
	}
	return nil
}

// Append returns a new frame holding df's rows followed by other's rows
func (df *DataFrame) Append(other *DataFrame) (*DataFrame, error) {
	if err := df.Compatible(other); err != nil {
		return nil, err
	}
	out := df.Clone()
	if out == nil {
		out = &DataFrame{}
	}
	if len(out.Columns) == 0 && other != nil {
		out.Columns = slices.Clone(other.Columns)
	}
	if other != nil {
		for _, row := range other.Rows {
			out.Rows = append(out.Rows, slices.Clone(row))
		}
	}
	return out, nil
}

// Clone returns a copy whose row slices can be mutated independently
func (df *DataFrame) Clone() *DataFrame {
	if df == nil {
		return nil
	}
	out := &DataFrame{
		Columns: slices.Clone(df.Columns),
		Rows:    make([][]any, len(df.Rows)),
	}
	for i, row := range df.Rows {
		out.Rows[i] = slices.Clone(row)
	}
	return out
}
