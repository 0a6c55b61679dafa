package record

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

type order struct {
	OrderID   string    `sink:"order_id" notes:"order id"`
	Amount    string    `sink:"amount" notes:"amount"`
	CreatedAt time.Time `notes:"creation time"`
	Internal  string    `sink:"-"`
	hidden    string
}

func (order) TableName() string { return "orders" }

type tagged struct {
	Table string `sink:"_table"`
	Name  Field  `sink:"name"`
}

func TestNormalizeMap(t *testing.T) {
	rec, err := Normalize(map[string]any{
		"_table":         Field{Value: "orders", Notes: "order list"},
		"_conflict_cols": []any{"order_id"},
		"_update_keys":   "amount",
		"order_id":       Field{Value: "O-1", Notes: "order id"},
		"amount":         map[string]any{"value": "9.99", "notes": "amount"},
		"status":         "paid",
	})
	require.NoError(t, err)

	assert.Equal(t, "orders", rec.Table)
	assert.Equal(t, "order list", rec.TableNotes)
	assert.Equal(t, []string{"amount", "order_id", "status"}, rec.Columns())
	assert.Equal(t, []any{"9.99", "O-1", "paid"}, rec.Values())
	assert.Equal(t, "order id", rec.Notes("order_id"))
	assert.Equal(t, "status", rec.Notes("status"))
	assert.Equal(t, []string{"order_id"}, rec.ConflictColumns())
	assert.Equal(t, []string{"amount"}, rec.UpdateSet())
}

func TestNormalizeStripsControlKeys(t *testing.T) {
	rec, err := Normalize(map[string]any{
		"_table":             "orders",
		"_table_notes":       "order list",
		"_update_rule":       []string{"amount"},
		"_mongo_update_rule": map[string]any{"order_id": "O-1"},
		"_mongo_update_keys": []string{"order_id"},
		"amount":             "9.99",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"amount"}, rec.Columns())
	assert.Equal(t, "order list", rec.TableNotes)
}

func TestNormalizeUpdateRule(t *testing.T) {
	rec, err := Normalize(map[string]any{
		"_table":       "orders",
		"_update_rule": map[string]any{"order_id": "O-1"},
		"_update_keys": []any{"amount"},
		"order_id":     "O-1",
		"amount":       "12.50",
		"status":       "paid",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id"}, rec.ConflictColumns())
	assert.True(t, rec.HasCustomConflictKey())
	assert.Equal(t, []string{"amount"}, rec.UpdateSet())
	assert.Equal(t, []string{"amount", "order_id", "status"}, rec.Columns())

	rec, err = Normalize(map[string]any{
		"_table":         "orders",
		"_conflict_cols": "order_id,region",
		"_update_rule":   map[string]any{"order_id": "O-1"},
		"order_id":       "O-1",
		"region":         "eu",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "region"}, rec.ConflictColumns())
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name string
		item any
		want error
	}{
		{name: "only control keys", item: map[string]any{"_table": "orders"}, want: ErrEmptyRecord},
		{name: "no table", item: map[string]any{"amount": "9.99"}, want: ErrMissingTable},
		{name: "nil item", item: nil, want: ErrEmptyRecord},
		{name: "empty item", item: NewItem("orders"), want: ErrEmptyRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.item)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, sinkerrors.IsType(err, sinkerrors.ErrorTypeValidation))
		})
	}
}

func TestNormalizeDefaultTable(t *testing.T) {
	rec, err := Normalize(map[string]any{"amount": "9.99"}, WithDefaultTable("orders"))
	require.NoError(t, err)
	assert.Equal(t, "orders", rec.Table)
}

func TestNormalizeStruct(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec, err := Normalize(&order{OrderID: "O-1", Amount: "9.99", CreatedAt: created, Internal: "x", hidden: "y"})
	require.NoError(t, err)

	assert.Equal(t, "orders", rec.Table)
	assert.Equal(t, []string{"order_id", "amount", "created_at"}, rec.Columns())
	assert.Equal(t, "creation time", rec.Notes("created_at"))
	assert.Equal(t, created, rec.Values()[2])
}

func TestNormalizeStructTableField(t *testing.T) {
	rec, err := Normalize(tagged{Table: "people", Name: Field{Value: "ada", Notes: "given name"}})
	require.NoError(t, err)
	assert.Equal(t, "people", rec.Table)
	assert.Equal(t, []string{"name"}, rec.Columns())
	assert.Equal(t, "given name", rec.Notes("name"))
}

func TestNormalizeItemKeepsOrder(t *testing.T) {
	item := NewItem("orders").SetConflictKey("order_id").SetUpdateColumns()
	require.NoError(t, item.Add("order_id", "O-1", "order id"))
	require.NoError(t, item.Add("amount", "9.99", ""))
	require.Error(t, item.Add("amount", "1", ""))
	require.Error(t, item.Add("", "1", ""))
	item.Set("amount", "10.00", "")

	rec, err := Normalize(item)
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "amount"}, rec.Columns())
	assert.Equal(t, []any{"O-1", "10.00"}, rec.Values())
	assert.Equal(t, "amount", rec.Notes("amount"))
	assert.Empty(t, rec.UpdateSet())
}

func TestNormalizeNestedValues(t *testing.T) {
	rec, err := Normalize(map[string]any{
		"_table": "pages",
		"tags":   []string{"a", "b"},
		"meta":   map[string]any{"k": 1},
	})
	require.NoError(t, err)

	f, ok := rec.Lookup("tags")
	require.True(t, ok)
	assert.Equal(t, `["a","b"]`, f.Value)

	f, ok = rec.Lookup("meta")
	require.True(t, ok)
	assert.Equal(t, `{"k":1}`, f.Value)
}

func TestNormalizeRejectsBadControlValues(t *testing.T) {
	_, err := Normalize(map[string]any{"_table": 12, "a": 1})
	require.Error(t, err)

	_, err = Normalize(map[string]any{"_table": "t", "_conflict_cols": []any{1}, "a": 1})
	require.Error(t, err)
}

func TestRecordDefaults(t *testing.T) {
	rec := &Record{Table: "orders", Fields: []Field{{Name: "id", Value: 1}, {Name: "amount", Value: "1"}}}
	assert.Equal(t, []string{"id"}, rec.ConflictColumns())
	assert.False(t, rec.HasCustomConflictKey())
	assert.True(t, rec.InConflictKey("id"))
	assert.Equal(t, []string{"id", "amount"}, rec.UpdateSet())

	rec.UpdateColumns = []string{"amount", "missing"}
	assert.Equal(t, []string{"amount"}, rec.UpdateSet())

	dup := &Record{Table: "orders", Fields: []Field{{Name: "a"}, {Name: "a"}}}
	assert.Error(t, dup.Validate())
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "created_at", snakeCase("CreatedAt"))
	assert.Equal(t, "order_id", snakeCase("OrderID"))
	assert.Equal(t, "url", snakeCase("URL"))
	assert.Equal(t, "page_url", snakeCase("PageURL"))
}
