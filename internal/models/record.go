package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field is one column/value pair of a Record.
type Field struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Record is one dataset row: an ordered mapping of column name to a scalar
// value (string, int64, float64 or nil). A Record is never mutated after
// NewRecord returns.
type Record struct {
	fields []Field
	index  map[string]int
}

// NewRecord builds a record from parallel column and value slices.
// Missing trailing values are treated as nil; duplicate column names keep the
// first occurrence.
func NewRecord(columns []string, values []any) Record {
	r := Record{
		fields: make([]Field, 0, len(columns)),
		index:  make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		if _, dup := r.index[col]; dup {
			continue
		}
		var v any
		if i < len(values) {
			v = values[i]
		}
		r.index[col] = len(r.fields)
		r.fields = append(r.fields, Field{Name: col, Value: v})
	}
	return r
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Fields returns a copy of the ordered fields.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Get returns the raw value of a column.
func (r Record) Get(name string) (any, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

// Lookup finds a column ignoring case, which is how placeholder keys
// (always upper-cased) are matched back to columns.
func (r Record) Lookup(name string) (any, bool) {
	if v, ok := r.Get(name); ok {
		return v, true
	}
	for _, f := range r.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return nil, false
}

// String returns the string form of a column, or "" when missing or nil.
func (r Record) String(name string) string {
	v, _ := r.Lookup(name)
	return FormatValue(v)
}

// FormatValue renders a scalar the way it is substituted into templates.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
