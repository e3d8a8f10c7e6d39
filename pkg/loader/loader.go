// Package loader is the inverse of the dumper: it reads a CSV file back
// into the staging cache, the recovery and replay path.
package loader

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/binlogtap/pkg/types"
)

// stagingCache is the subset of *cache.RedisCache the Loader calls.
type stagingCache interface {
	Save(table types.Table, keyColumns []string, rows []types.Row) error
}

// Loader replays a CSV file produced by the Dumper back into the Staging
// Cache.
type Loader struct {
	cache stagingCache
}

// New constructs a Loader writing into c.
func New(c stagingCache) *Loader {
	return &Loader{cache: c}
}

// QualifiedTableFromPath parses a Dumper-style basename
// "schema.table[.suffix].csv" into its qualified "schema.table" name,
// discarding the timestamp/extension suffix.
func QualifiedTableFromPath(path string) (types.Table, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("loader: cannot parse qualified table from %q", path)
	}
	return types.NewTable(parts[0], parts[1]), nil
}

// Load reads path's rows and saves them to the cache under the qualified
// table parsed from its basename, using keyColumns as the effective key.
func (l *Loader) Load(path string, keyColumns []string) (int, error) {
	table, err := QualifiedTableFromPath(path)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("loader: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("loader: read %s: %w", path, err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	header := records[0]
	rows := make([]types.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(types.Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}

	if err := l.cache.Save(table, keyColumns, rows); err != nil {
		return 0, fmt.Errorf("loader: save %s: %w", table, err)
	}
	return len(rows), nil
}
