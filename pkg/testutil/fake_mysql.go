package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ajitpratap0/healsink/pkg/dialect"
)

var (
	fakeInsert   = regexp.MustCompile("^INSERT (?:IGNORE )?INTO `([^`]+)` \\(([^)]*)\\)")
	fakeCreate   = regexp.MustCompile("^CREATE TABLE IF NOT EXISTS `([^`]+)`")
	fakeAdd      = regexp.MustCompile("^ALTER TABLE `([^`]+)` ADD COLUMN `([^`]+)` (\\w+(?:\\(\\d+\\))?)")
	fakeChange   = regexp.MustCompile("^ALTER TABLE `([^`]+)` CHANGE COLUMN `([^`]+)` `[^`]+` (\\w+)")
	fakeIndex    = regexp.MustCompile("^CREATE UNIQUE INDEX `([^`]+)` ON `([^`]+)`")
	fakeColTypes = regexp.MustCompile("^SELECT COLUMN_TYPE FROM information_schema.COLUMNS")
)

// FakeMySQL is an in-memory executor that understands the statements the
// mysql dialect generates and fails the way a MySQL server does: unknown
// tables, unknown columns and oversized values. It is safe for concurrent
// use.
type FakeMySQL struct {
	Database string

	mu       sync.Mutex
	tables   map[string]*fakeTable
	executed []string
	inject   []fakeFailure
}

type fakeTable struct {
	columns map[string]string
	order   []string
	indexes map[string]struct{}
	rows    int
}

type fakeFailure struct {
	prefix string
	err    error
	times  int
}

// NewFakeMySQL returns an empty store.
func NewFakeMySQL() *FakeMySQL {
	return &FakeMySQL{Database: "shop", tables: make(map[string]*fakeTable)}
}

// CreateTable creates a table with the given columns and types.
func (f *FakeMySQL) CreateTable(name string, columns ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := newFakeTable()
	for i := 0; i+1 < len(columns); i += 2 {
		t.add(columns[i], columns[i+1])
	}
	f.tables[name] = t
}

// FailNext makes the next times statements starting with prefix fail with
// err before they are applied.
func (f *FakeMySQL) FailNext(prefix string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inject = append(f.inject, fakeFailure{prefix: prefix, err: err, times: times})
}

// Executed returns every statement run so far, including failed ones.
func (f *FakeMySQL) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// ExecutedMatching returns executed statements starting with prefix.
func (f *FakeMySQL) ExecutedMatching(prefix string) []string {
	var out []string
	for _, s := range f.Executed() {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// ColumnType returns the declared type of a column.
func (f *FakeMySQL) ColumnType(table, column string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[table]
	if !ok {
		return "", false
	}
	typ, ok := t.columns[column]
	return typ, ok
}

// Columns lists a table's columns in creation order.
func (f *FakeMySQL) Columns(table string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[table]; ok {
		return append([]string(nil), t.order...)
	}
	return nil
}

// Rows returns the number of successful inserts into table.
func (f *FakeMySQL) Rows(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[table]; ok {
		return t.rows
	}
	return 0
}

// HasIndex reports whether a unique index exists.
func (f *FakeMySQL) HasIndex(table, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[table]; ok {
		_, found := t.indexes[name]
		return found
	}
	return false
}

func (f *FakeMySQL) Execute(ctx context.Context, stmt dialect.Statement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.executed = append(f.executed, stmt.SQL)
	for i := range f.inject {
		inj := &f.inject[i]
		if inj.times > 0 && strings.HasPrefix(stmt.SQL, inj.prefix) {
			inj.times--
			return inj.err
		}
	}

	switch {
	case fakeInsert.MatchString(stmt.SQL):
		return f.insert(stmt)
	case fakeCreate.MatchString(stmt.SQL):
		name := fakeCreate.FindStringSubmatch(stmt.SQL)[1]
		if _, ok := f.tables[name]; !ok {
			t := newFakeTable()
			t.add("id", "bigint")
			f.tables[name] = t
		}
		return nil
	case fakeAdd.MatchString(stmt.SQL):
		m := fakeAdd.FindStringSubmatch(stmt.SQL)
		t, err := f.table(m[1])
		if err != nil {
			return err
		}
		if _, dup := t.columns[m[2]]; dup {
			return fmt.Errorf("Error 1060 (42S21): Duplicate column name '%s'", m[2])
		}
		t.add(m[2], strings.ToLower(m[3]))
		return nil
	case fakeChange.MatchString(stmt.SQL):
		m := fakeChange.FindStringSubmatch(stmt.SQL)
		t, err := f.table(m[1])
		if err != nil {
			return err
		}
		if _, ok := t.columns[m[2]]; !ok {
			return fmt.Errorf("Error 1054 (42S22): Unknown column '%s' in '%s'", m[2], m[1])
		}
		t.columns[m[2]] = strings.ToLower(m[3])
		return nil
	case fakeIndex.MatchString(stmt.SQL):
		m := fakeIndex.FindStringSubmatch(stmt.SQL)
		t, err := f.table(m[2])
		if err != nil {
			return err
		}
		if _, dup := t.indexes[m[1]]; dup {
			return fmt.Errorf("Error 1061 (42000): Duplicate key name '%s'", m[1])
		}
		t.indexes[m[1]] = struct{}{}
		return nil
	}
	return fmt.Errorf("Error 1064 (42000): You have an error in your SQL syntax near '%s'", stmt.SQL)
}

func (f *FakeMySQL) insert(stmt dialect.Statement) error {
	m := fakeInsert.FindStringSubmatch(stmt.SQL)
	t, err := f.table(m[1])
	if err != nil {
		return err
	}

	cols := strings.Split(m[2], ", ")
	for _, c := range cols {
		c = strings.Trim(c, "`")
		if _, ok := t.columns[c]; !ok {
			return fmt.Errorf("Error 1054 (42S22): Unknown column '%s' in 'field list'", c)
		}
	}
	for i, c := range cols {
		c = strings.Trim(c, "`")
		if i >= len(stmt.Args) {
			break
		}
		s, ok := stmt.Args[i].(string)
		if ok && utf8.RuneCountInString(s) > fakeLimit(t.columns[c]) {
			return fmt.Errorf("Error 1406 (22001): Data too long for column '%s' at row 1", c)
		}
	}
	t.rows++
	return nil
}

func (f *FakeMySQL) QueryString(ctx context.Context, stmt dialect.Statement) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !fakeColTypes.MatchString(stmt.SQL) || len(stmt.Args) != 2 {
		return "", fmt.Errorf("Error 1064 (42000): unsupported query '%s'", stmt.SQL)
	}
	typ, ok := f.ColumnType(fmt.Sprint(stmt.Args[0]), fmt.Sprint(stmt.Args[1]))
	if !ok {
		return "", sql.ErrNoRows
	}
	return typ, nil
}

func (f *FakeMySQL) table(name string) (*fakeTable, error) {
	t, ok := f.tables[name]
	if !ok {
		return nil, fmt.Errorf("Error 1146 (42S02): Table '%s.%s' doesn't exist", f.Database, name)
	}
	return t, nil
}

func newFakeTable() *fakeTable {
	return &fakeTable{columns: make(map[string]string), indexes: make(map[string]struct{})}
}

func (t *fakeTable) add(name, typ string) {
	t.columns[name] = typ
	t.order = append(t.order, name)
}

func fakeLimit(typ string) int {
	switch {
	case strings.HasPrefix(typ, "varchar("):
		var n int
		fmt.Sscanf(typ, "varchar(%d)", &n)
		return n
	case typ == "text":
		return 65535
	case typ == "mediumtext":
		return 16777215
	}
	return int(^uint(0) >> 1)
}
