package dumper

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/binlogtap/pkg/cache"
	"github.com/cuemby/binlogtap/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDumpCache struct {
	batches map[types.Table][]types.Row
	err     error
}

func (f *fakeDumpCache) DumpByTable(callback func(types.Table, []types.Row) error, maxRows int, tables cache.TableFilter) error {
	if f.err != nil {
		return f.err
	}
	for table, rows := range f.batches {
		if err := callback(table, rows); err != nil {
			return err
		}
	}
	return nil
}

func row(vals map[string]string) types.Row {
	r := types.Row{}
	for k, v := range vals {
		r[k] = v
	}
	return r
}

func TestWriteBatch_SingleSignature_WritesCSV(t *testing.T) {
	dir := t.TempDir()
	rows := []types.Row{
		row(map[string]string{"id": "1", "x": "a"}),
		row(map[string]string{"id": "2", "x": "b"}),
	}
	paths, err := writeBatch(dir, types.Table("db.t"), rows)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.True(t, strings.HasSuffix(paths[0], ".csv"))

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,x", lines[0])
}

// S5 — schema drift: two column signatures produce two .tmp files.
func TestWriteBatch_MultipleSignatures_WritesTmpFiles(t *testing.T) {
	dir := t.TempDir()
	rows := []types.Row{
		row(map[string]string{"id": "1", "x": "a"}),
		row(map[string]string{"id": "2", "x": "b", "y": "c"}),
	}
	paths, err := writeBatch(dir, types.Table("db.t"), rows)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		assert.True(t, strings.HasSuffix(p, ".tmp"))
	}
}

func TestWriteBatch_AppendsWithoutRepeatingHeader(t *testing.T) {
	dayDir := filepath.Join(t.TempDir())
	table := types.Table("db.t")
	rows := []types.Row{row(map[string]string{"id": "1"})}

	dir := dayDir
	path, err := writeGroup(dir, table, "csv", rows)
	require.NoError(t, err)

	// Appending to the exact same path a second time must not repeat the header.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("2\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "id"))
}

// Re-parsing a produced file must reconstruct the dumped rows exactly:
// sorted header, one record per row, reserved columns intact.
func TestWriteBatch_RoundTripsThroughCSVReader(t *testing.T) {
	dir := t.TempDir()
	rows := []types.Row{
		row(map[string]string{"id": "1", "x": "a", "cdc_action": "insert", "cdc_ts": "10"}),
		row(map[string]string{"id": "2", "x": "b", "cdc_action": "delete", "cdc_ts": "11"}),
	}
	paths, err := writeBatch(dir, types.Table("db.t"), rows)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	f, err := os.Open(paths[0])
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"cdc_action", "cdc_ts", "id", "x"}, records[0])
	assert.Equal(t, []string{"insert", "10", "1", "a"}, records[1])
	assert.Equal(t, []string{"delete", "11", "2", "b"}, records[2])
}

func TestDumperRun_WritesFilesAndReturnsPaths(t *testing.T) {
	dir := t.TempDir()
	fc := &fakeDumpCache{
		batches: map[types.Table][]types.Row{
			types.Table("db.t"): {row(map[string]string{"id": "1"})},
		},
	}
	d := New(fc, dir, zerolog.Nop(), nil)
	paths, err := d.Run(0, nil)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	dayDir := filepath.Join(dir, time.Now().Format("20060102"))
	assert.True(t, strings.HasPrefix(paths[0], dayDir))
}

func TestDumperRun_PropagatesCacheError(t *testing.T) {
	fc := &fakeDumpCache{err: errors.New("boom")}
	d := New(fc, t.TempDir(), zerolog.Nop(), nil)
	_, err := d.Run(0, nil)
	require.Error(t, err)
}
