package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/binlogtap/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	table      types.Table
	keyColumns []string
	rows       []types.Row
}

func (f *fakeCache) Save(table types.Table, keyColumns []string, rows []types.Row) error {
	f.table = table
	f.keyColumns = keyColumns
	f.rows = rows
	return nil
}

func TestQualifiedTableFromPath(t *testing.T) {
	table, err := QualifiedTableFromPath("/dump/20260101/db.orders.1690828842123456.csv")
	require.NoError(t, err)
	assert.Equal(t, types.Table("db.orders"), table)
}

func TestQualifiedTableFromPath_WithTmpSuffix(t *testing.T) {
	table, err := QualifiedTableFromPath("/dump/20260101/db.orders.1690828842123456.tmp")
	require.NoError(t, err)
	assert.Equal(t, types.Table("db.orders"), table)
}

func TestQualifiedTableFromPath_Malformed(t *testing.T) {
	_, err := QualifiedTableFromPath("/dump/orders.csv")
	require.Error(t, err)
}

func TestLoad_ReadsRowsAndSaves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.orders.100.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,x\n1,a\n2,b\n"), 0o644))

	fc := &fakeCache{}
	l := New(fc)
	n, err := l.Load(path, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, types.Table("db.orders"), fc.table)
	assert.Equal(t, []string{"id"}, fc.keyColumns)
	assert.Equal(t, "a", fc.rows[0]["x"])
}

func TestLoad_EmptyFileSavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.orders.100.csv")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	fc := &fakeCache{}
	l := New(fc)
	n, err := l.Load(path, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
