package record

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// Control keys carried alongside column values. They are never written as
// columns.
const (
	KeyTable         = "_table"
	KeyTableNotes    = "_table_notes"
	KeyUpdateKeys    = "_update_keys"
	KeyUpdateRule    = "_update_rule"
	KeyConflictCols  = "_conflict_cols"
	keyMongoRule     = "_mongo_update_rule"
	keyMongoKeys     = "_mongo_update_keys"
	annotatedValue   = "value"
	annotatedNotes   = "notes"
	structColumnTag  = "sink"
	structNotesTag   = "notes"
	structSkipMarker = "-"
)

var timeType = reflect.TypeOf(time.Time{})

// Tabler is implemented by structured items that know their table.
type Tabler interface {
	TableName() string
}

type options struct {
	defaultTable string
}

// Option configures Normalize.
type Option func(*options)

// WithDefaultTable sets the table used when the item names none.
func WithDefaultTable(table string) Option {
	return func(o *options) { o.defaultTable = table }
}

type pair struct {
	name  string
	value any
	notes string
}

// Normalize reshapes an upstream item into a Record. Supported inputs are
// *Record, Record, *Item, map[string]any, map[string]string and structs (or
// pointers to structs) tagged with `sink:"column" notes:"..."`.
func Normalize(item any, opts ...Option) (*Record, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		rec *Record
		err error
	)

	switch v := item.(type) {
	case nil:
		return nil, sinkerrors.Wrap(ErrEmptyRecord, sinkerrors.ErrorTypeValidation, "nil item")
	case *Record:
		rec = v.Clone()
	case Record:
		rec = v.Clone()
	case *Item:
		rec = v.toRecord()
	case map[string]any:
		rec, err = fromPairs(mapPairs(v))
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		rec, err = fromPairs(mapPairs(m))
	default:
		rec, err = fromStruct(item)
	}
	if err != nil {
		return nil, err
	}

	if rec.Table == "" {
		rec.Table = o.defaultTable
	}

	for i := range rec.Fields {
		val, err := normalizeValue(rec.Fields[i].Value)
		if err != nil {
			return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeValidation, "unsupported field value").
				WithDetail("field", rec.Fields[i].Name)
		}
		rec.Fields[i].Value = val
		if rec.Fields[i].Notes == "" {
			rec.Fields[i].Notes = rec.Fields[i].Name
		}
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func mapPairs(m map[string]any) []pair {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]pair, 0, len(keys))
	for _, k := range keys {
		value, notes := unwrapAnnotated(m[k])
		pairs = append(pairs, pair{name: k, value: value, notes: notes})
	}
	return pairs
}

// unwrapAnnotated splits a (value, notes) pair. Plain values return empty
// notes.
func unwrapAnnotated(v any) (any, string) {
	switch a := v.(type) {
	case Field:
		return a.Value, a.Notes
	case *Field:
		if a == nil {
			return nil, ""
		}
		return a.Value, a.Notes
	case map[string]any:
		if len(a) != 2 {
			return v, ""
		}
		notes, ok := a[annotatedNotes].(string)
		if !ok {
			return v, ""
		}
		value, ok := a[annotatedValue]
		if !ok {
			return v, ""
		}
		return value, notes
	}
	return v, ""
}

func fromPairs(pairs []pair) (*Record, error) {
	rec := &Record{}
	var matchRule []string
	for _, p := range pairs {
		switch p.name {
		case KeyTable:
			table, ok := p.value.(string)
			if !ok {
				return nil, sinkerrors.Newf(sinkerrors.ErrorTypeValidation, "%s must be a string, got %T", KeyTable, p.value)
			}
			rec.Table = table
			if p.notes != "" {
				rec.TableNotes = p.notes
			}
		case KeyTableNotes:
			rec.TableNotes = fmt.Sprint(p.value)
		case KeyUpdateRule:
			cols, err := columnList(p.name, p.value)
			if err != nil {
				return nil, err
			}
			matchRule = cols
		case KeyUpdateKeys:
			cols, err := columnList(p.name, p.value)
			if err != nil {
				return nil, err
			}
			if cols == nil {
				cols = []string{}
			}
			rec.UpdateColumns = cols
		case KeyConflictCols:
			cols, err := columnList(p.name, p.value)
			if err != nil {
				return nil, err
			}
			rec.ConflictKey = cols
		case keyMongoRule, keyMongoKeys:
		default:
			rec.Fields = append(rec.Fields, Field{Name: p.name, Value: p.value, Notes: p.notes})
		}
	}
	// an explicit conflict key wins over the match rule
	if rec.ConflictKey == nil && len(matchRule) > 0 {
		rec.ConflictKey = matchRule
	}
	return rec, nil
}

func columnList(key string, v any) ([]string, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case string:
		var cols []string
		for _, part := range strings.Split(c, ",") {
			if part = strings.TrimSpace(part); part != "" {
				cols = append(cols, part)
			}
		}
		return cols, nil
	case []string:
		return append([]string(nil), c...), nil
	case []any:
		cols := make([]string, 0, len(c))
		for _, e := range c {
			s, ok := e.(string)
			if !ok {
				return nil, sinkerrors.Newf(sinkerrors.ErrorTypeValidation, "%s entries must be strings, got %T", key, e)
			}
			cols = append(cols, s)
		}
		return cols, nil
	case map[string]any:
		cols := make([]string, 0, len(c))
		for k := range c {
			cols = append(cols, k)
		}
		sort.Strings(cols)
		return cols, nil
	}
	return nil, sinkerrors.Newf(sinkerrors.ErrorTypeValidation, "%s has unsupported type %T", key, v)
}

func fromStruct(item any) (*Record, error) {
	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, sinkerrors.Wrap(ErrEmptyRecord, sinkerrors.ErrorTypeValidation, "nil item")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, sinkerrors.Newf(sinkerrors.ErrorTypeValidation, "unsupported item type %T", item)
	}

	rec, err := fromPairs(structPairs(rv))
	if err != nil {
		return nil, err
	}
	if t, ok := item.(Tabler); ok && rec.Table == "" {
		rec.Table = t.TableName()
	}
	return rec, nil
}

func structPairs(rv reflect.Value) []pair {
	rt := rv.Type()
	var pairs []pair
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		tag, hasTag := sf.Tag.Lookup(structColumnTag)
		if tag == structSkipMarker {
			continue
		}
		if sf.Anonymous && !hasTag && sf.Type.Kind() == reflect.Struct {
			pairs = append(pairs, structPairs(rv.Field(i))...)
			continue
		}
		if !sf.IsExported() {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name == "" {
			name = snakeCase(sf.Name)
		}
		value, notes := unwrapAnnotated(rv.Field(i).Interface())
		if notes == "" {
			notes = sf.Tag.Get(structNotesTag)
		}
		pairs = append(pairs, pair{name: name, value: value, notes: notes})
	}
	return pairs
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeValue keeps driver-friendly values and encodes nested structures
// as JSON text.
func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch v.(type) {
	case []byte, time.Time, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return encodeJSON(rv.Interface())
	case reflect.Struct:
		if rv.Type() == timeType {
			return rv.Interface(), nil
		}
		return encodeJSON(rv.Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("cannot store value of type %T", v)
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
