package record

import (
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// Item is an ordered record builder for collectors that know their schema
// documentation up front.
//
//	item := record.NewItem("orders")
//	_ = item.Add("order_id", "O-1", "order id")
//	_ = item.Add("amount", "9.99", "amount")
//	item.SetConflictKey("order_id")
type Item struct {
	table         string
	tableNotes    string
	fields        []Field
	index         map[string]int
	conflictKey   []string
	updateColumns []string
}

// NewItem starts an item for table.
func NewItem(table string) *Item {
	return &Item{table: table, index: make(map[string]int)}
}

// Add appends a field. Empty and duplicate names are rejected.
func (i *Item) Add(name string, value any, notes string) error {
	if name == "" {
		return sinkerrors.New(sinkerrors.ErrorTypeValidation, "field name must not be empty")
	}
	if _, exists := i.index[name]; exists {
		return sinkerrors.Newf(sinkerrors.ErrorTypeValidation, "field %q already exists", name)
	}
	i.index[name] = len(i.fields)
	i.fields = append(i.fields, Field{Name: name, Value: value, Notes: notes})
	return nil
}

// Set adds or replaces a field value, keeping its position.
func (i *Item) Set(name string, value any, notes string) {
	if pos, ok := i.index[name]; ok {
		i.fields[pos].Value = value
		if notes != "" {
			i.fields[pos].Notes = notes
		}
		return
	}
	_ = i.Add(name, value, notes)
}

// SetTableNotes documents the target table.
func (i *Item) SetTableNotes(notes string) *Item {
	i.tableNotes = notes
	return i
}

// SetConflictKey overrides the upsert conflict target.
func (i *Item) SetConflictKey(columns ...string) *Item {
	i.conflictKey = columns
	return i
}

// SetUpdateColumns restricts the update half of the upsert.
func (i *Item) SetUpdateColumns(columns ...string) *Item {
	if columns == nil {
		columns = []string{}
	}
	i.updateColumns = columns
	return i
}

// Len returns the number of fields.
func (i *Item) Len() int { return len(i.fields) }

func (i *Item) toRecord() *Record {
	return &Record{
		Table:         i.table,
		TableNotes:    i.tableNotes,
		Fields:        append([]Field(nil), i.fields...),
		ConflictKey:   i.conflictKey,
		UpdateColumns: i.updateColumns,
	}
}
