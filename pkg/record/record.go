// Package record defines the canonical record written by healsink and the
// normalizer that reshapes upstream items into it.
//
// A Record is an ordered list of fields, each carrying a value and a
// human-readable annotation. The annotation is used as column documentation
// when the schema evolution engine provisions a missing column.
package record

import (
	"errors"

	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// DefaultConflictKey is the conflict target used when a record names none.
const DefaultConflictKey = "id"

var (
	// ErrEmptyRecord is returned when an item carries no columns.
	ErrEmptyRecord = errors.New("record has no fields")
	// ErrMissingTable is returned when an item carries no table identifier.
	ErrMissingTable = errors.New("record has no table identifier")
)

// Field is a single column value with its documentation.
type Field struct {
	Name  string
	Value any
	Notes string
}

// Record is the canonical unit of work for a single upsert.
type Record struct {
	Table         string
	TableNotes    string
	Fields        []Field
	ConflictKey   []string
	UpdateColumns []string
}

// Validate checks the record invariants.
func (r *Record) Validate() error {
	if r.Table == "" {
		return sinkerrors.Wrap(ErrMissingTable, sinkerrors.ErrorTypeValidation, "invalid record")
	}
	if len(r.Fields) == 0 {
		return sinkerrors.Wrap(ErrEmptyRecord, sinkerrors.ErrorTypeValidation, "invalid record").
			WithDetail("table", r.Table)
	}

	seen := make(map[string]struct{}, len(r.Fields))
	for _, f := range r.Fields {
		if f.Name == "" {
			return sinkerrors.New(sinkerrors.ErrorTypeValidation, "field with empty name").
				WithDetail("table", r.Table)
		}
		if _, dup := seen[f.Name]; dup {
			return sinkerrors.Newf(sinkerrors.ErrorTypeValidation, "duplicate field %q", f.Name).
				WithDetail("table", r.Table)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Columns returns the field names in order.
func (r *Record) Columns() []string {
	cols := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Values returns the field values in column order.
func (r *Record) Values() []any {
	vals := make([]any, len(r.Fields))
	for i, f := range r.Fields {
		vals[i] = f.Value
	}
	return vals
}

// Lookup finds a field by column name.
func (r *Record) Lookup(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Notes returns the documentation for a column, falling back to its name.
func (r *Record) Notes(column string) string {
	if f, ok := r.Lookup(column); ok && f.Notes != "" {
		return f.Notes
	}
	return column
}

// ConflictColumns returns the conflict key, defaulting to the primary key.
func (r *Record) ConflictColumns() []string {
	if len(r.ConflictKey) == 0 {
		return []string{DefaultConflictKey}
	}
	return r.ConflictKey
}

// HasCustomConflictKey reports whether the conflict key differs from the
// primary key.
func (r *Record) HasCustomConflictKey() bool {
	key := r.ConflictColumns()
	return !(len(key) == 1 && key[0] == DefaultConflictKey)
}

// InConflictKey reports whether column is part of the conflict key.
func (r *Record) InConflictKey(column string) bool {
	for _, c := range r.ConflictColumns() {
		if c == column {
			return true
		}
	}
	return false
}

// UpdateSet returns the columns rewritten when the upsert hits an existing
// row. Explicit update columns absent from the record are ignored. A nil
// UpdateColumns means every column; an empty non-nil slice means none.
func (r *Record) UpdateSet() []string {
	if r.UpdateColumns == nil {
		return r.Columns()
	}
	set := make([]string, 0, len(r.UpdateColumns))
	for _, c := range r.UpdateColumns {
		if _, ok := r.Lookup(c); ok {
			set = append(set, c)
		}
	}
	return set
}

// FieldMap returns the record values keyed by column, for logging.
func (r *Record) FieldMap() map[string]any {
	m := make(map[string]any, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Name] = f.Value
	}
	return m
}

// Clone returns a deep copy of the record's slices.
func (r *Record) Clone() *Record {
	c := *r
	c.Fields = append([]Field(nil), r.Fields...)
	if r.ConflictKey != nil {
		c.ConflictKey = append([]string(nil), r.ConflictKey...)
	}
	if r.UpdateColumns != nil {
		c.UpdateColumns = append([]string{}, r.UpdateColumns...)
	}
	return &c
}
