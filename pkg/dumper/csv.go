package dumper

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/binlogtap/pkg/types"
)

// writeBatch groups rows by their sorted column-name signature and writes
// each group to its own CSV file under outDir. A batch yielding more than
// one signature is schema drift: every group in that batch is written with
// a ".tmp" extension instead of ".csv" so downstream ingestion can
// quarantine it. It returns the paths of the files it wrote or appended
// to, in deterministic signature order.
func writeBatch(outDir string, table types.Table, rows []types.Row) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	groups := groupBySignature(rows)
	ext := "csv"
	if len(groups) > 1 {
		ext = "tmp"
	}

	dayDir := filepath.Join(outDir, time.Now().Format("20060102"))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return nil, fmt.Errorf("dumper: create %s: %w", dayDir, err)
	}

	sigs := make([]string, 0, len(groups))
	for sig := range groups {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)

	var paths []string
	for _, sig := range sigs {
		path, err := writeGroup(dayDir, table, ext, groups[sig])
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// groupBySignature partitions rows by the sorted tuple of their column
// names, returned keyed by that signature joined with "\x00" so it can be
// used as a deterministic map key.
func groupBySignature(rows []types.Row) map[string][]types.Row {
	groups := make(map[string][]types.Row)
	for _, row := range rows {
		sig := joinSignature(row.Columns())
		groups[sig] = append(groups[sig], row)
	}
	return groups
}

func joinSignature(cols []string) string {
	sig := ""
	for i, c := range cols {
		if i > 0 {
			sig += "\x00"
		}
		sig += c
	}
	return sig
}

// writeGroup appends rows (which all share the same column signature) to a
// newly-named file, emitting a header only when the file did not already
// exist. The microsecond suffix makes collisions improbable; a colliding
// suffix shares the signature and is still append-compatible.
func writeGroup(dayDir string, table types.Table, ext string, rows []types.Row) (string, error) {
	cols := rows[0].Columns()

	now := time.Now()
	suffix := fmt.Sprintf("%d.%06d", now.Unix(), now.Nanosecond()/1000)
	path := filepath.Join(dayDir, fmt.Sprintf("%s.%s.%s", string(table), suffix, ext))

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("dumper: open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(cols); err != nil {
			return "", fmt.Errorf("dumper: write header to %s: %w", path, err)
		}
	}
	for _, row := range rows {
		record := make([]string, len(cols))
		for i, c := range cols {
			record[i] = row[c]
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("dumper: write row to %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("dumper: flush %s: %w", path, err)
	}
	return path, nil
}
