package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	out, err := execute(t, "classify", "--dialect", "mysql",
		"Error 1054 (42S22): Unknown column 'sku' in 'field list'")
	require.NoError(t, err)
	assert.Contains(t, out, "kind:        unknown_column")
	assert.Contains(t, out, "column:      sku")
	assert.Contains(t, out, "code:        1054")

	out, err = execute(t, "classify", "--dialect", "sqlite", "disk I/O error")
	require.NoError(t, err)
	assert.Contains(t, out, "recoverable: false")

	_, err = execute(t, "classify", "--dialect", "oracle", "x")
	assert.Error(t, err)
}

func TestTablesCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healsink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: shop
store:
  dialect: sqlite
  database: shop.db
tables:
  prefix: shop_
  entries:
    - suffix: orders
      notes: Customer orders
      code: ORD
    - suffix: refunds
      notes: Refunds
`), 0o600))

	out, err := execute(t, "tables", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "shop_orders")
	assert.Contains(t, out, "ORD Customer orders")
	assert.Contains(t, out, "shop_refunds")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "healsink v"+version)
	assert.Contains(t, out, "sqlite")
}
