// Package types defines the core data structures shared across binlogtap:
// the mutation record shape, qualified table names, row identifiers, and
// binlog positions. The staging cache's lease is not defined here; it lives
// in pkg/cache (lease.go).
package types

import (
	"sort"
	"strings"
)

// Action is the CDC action recorded on every Row.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Reserved column names every Row carries besides its table columns.
const (
	ColumnAction    = "cdc_action"
	ColumnTimestamp = "cdc_ts"
)

// Table is a qualified "schema.table" name.
type Table string

// NewTable renders a schema/table pair as its qualified string form.
func NewTable(schema, table string) Table {
	return Table(schema + "." + table)
}

func (t Table) String() string { return string(t) }

// RowID is the primary-key-derived identifier for a row within its table.
type RowID string

// Row is a flat column-name to string-encoded-value mapping for one
// mutated row, plus its two reserved attributes. Column order is not
// significant for Row itself; callers that need deterministic output
// (the Dumper) sort Columns() themselves.
type Row map[string]string

// Action returns the row's cdc_action, or "" if unset.
func (r Row) Action() Action {
	return Action(r[ColumnAction])
}

// SetAction sets the row's cdc_action.
func (r Row) SetAction(a Action) {
	r[ColumnAction] = string(a)
}

// Timestamp returns the row's cdc_ts, or "" if unset.
func (r Row) Timestamp() string {
	return r[ColumnTimestamp]
}

// Columns returns the row's column names (including the reserved ones)
// in sorted order, the order CSV headers are written in.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// RowID derives the row identifier from the declared key column list,
// ampersand-joining their stringified values in the declared order. It
// returns ("", false) if any key column is absent from the row — the
// caller must treat that as a row-level SaveIgnore.
func (r Row) RowID(keyColumns []string) (RowID, bool) {
	if len(keyColumns) == 0 {
		return "", false
	}
	if len(keyColumns) == 1 {
		v, ok := r[keyColumns[0]]
		if !ok {
			return "", false
		}
		return RowID(v), true
	}
	parts := make([]string, 0, len(keyColumns))
	for _, col := range keyColumns {
		v, ok := r[col]
		if !ok {
			return "", false
		}
		parts = append(parts, v)
	}
	return RowID(strings.Join(parts, "&")), true
}

// Position is a resumable point in a named binlog file.
type Position struct {
	LogFile string
	LogPos  uint32
}

// IsZero reports whether the position has never been recorded.
func (p Position) IsZero() bool {
	return p.LogFile == "" && p.LogPos == 0
}
