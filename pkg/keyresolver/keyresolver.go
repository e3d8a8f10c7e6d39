// Package keyresolver resolves a watched table's effective key columns: the
// operator's configured surrogate list if one is set for the table,
// otherwise its own primary or unique key from MySQL. When a surrogate is
// configured, the table's own key is not looked up. It also resolves a table's full ordered column
// list for decoding row events on servers that don't ship column names in
// the binlog. Both lookups go through information_schema and are cached for
// the life of the process.
package keyresolver

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	_ "github.com/go-sql-driver/mysql"
)

// Resolver looks up and caches each watched table's key columns for the
// life of the process, so a table with an explicit surrogate never pays the
// information_schema round trip.
type Resolver struct {
	db         *sql.DB
	surrogates map[string][]string

	mu       sync.Mutex
	cache    map[string][]string
	colCache map[string][]string
}

// New opens a connection to the MySQL server for key lookups. dsn is a
// go-sql-driver/mysql data source name (e.g. "user:pass@tcp(host:3306)/").
func New(dsn string, surrogates map[string][]string) (*Resolver, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("keyresolver: open: %w", err)
	}
	return &Resolver{
		db:         db,
		surrogates: surrogates,
		cache:      make(map[string][]string),
		colCache:   make(map[string][]string),
	}, nil
}

// Close releases the underlying database connection.
func (r *Resolver) Close() error {
	return r.db.Close()
}

// ErrNoKey is returned when a table has neither a declared key in MySQL nor
// a configured surrogate. The caller must treat this as fatal: without a key
// there is no row identity to merge on.
var ErrNoKey = fmt.Errorf("keyresolver: table has neither a primary/unique key nor a configured surrogate")

// Resolve returns the ordered key column list for a qualified "schema.table"
// name. The configured surrogate map is consulted first; only on a miss is
// information_schema queried, and the result is cached for subsequent calls.
func (r *Resolver) Resolve(schema, table string) ([]string, error) {
	qualified := schema + "." + table

	if cols := r.surrogates[qualified]; len(cols) > 0 {
		return cols, nil
	}

	r.mu.Lock()
	if cols, ok := r.cache[qualified]; ok {
		r.mu.Unlock()
		if len(cols) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoKey, qualified)
		}
		return cols, nil
	}
	r.mu.Unlock()

	cols, err := r.queryKeyColumns(schema, table)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[qualified] = cols
	r.mu.Unlock()

	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, qualified)
	}
	return cols, nil
}

// Columns returns a table's column names in ordinal order, cached after
// the first information_schema round trip.
func (r *Resolver) Columns(schema, table string) ([]string, error) {
	qualified := schema + "." + table

	r.mu.Lock()
	if cols, ok := r.colCache[qualified]; ok {
		r.mu.Unlock()
		return cols, nil
	}
	r.mu.Unlock()

	const q = `
SELECT COLUMN_NAME
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

	rows, err := r.db.Query(q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("keyresolver: query columns of %s: %w", qualified, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("keyresolver: table %s has no columns in information_schema", qualified)
	}

	r.mu.Lock()
	r.colCache[qualified] = cols
	r.mu.Unlock()
	return cols, nil
}

// queryKeyColumns prefers PRIMARY over any other unique constraint, and
// orders columns by their declared ordinal position within the constraint.
func (r *Resolver) queryKeyColumns(schema, table string) ([]string, error) {
	const q = `
SELECT kcu.CONSTRAINT_NAME, kcu.COLUMN_NAME, kcu.ORDINAL_POSITION
FROM information_schema.KEY_COLUMN_USAGE kcu
JOIN information_schema.TABLE_CONSTRAINTS tc
  ON tc.CONSTRAINT_SCHEMA = kcu.CONSTRAINT_SCHEMA
  AND tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
  AND tc.TABLE_NAME = kcu.TABLE_NAME
WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?
  AND tc.CONSTRAINT_TYPE IN ('PRIMARY KEY', 'UNIQUE')
ORDER BY (tc.CONSTRAINT_TYPE <> 'PRIMARY KEY'), kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`

	rows, err := r.db.Query(q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("keyresolver: query %s.%s: %w", schema, table, err)
	}
	defer func() { _ = rows.Close() }()

	type column struct {
		constraint string
		name       string
		pos        int
	}
	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.constraint, &c.name, &c.pos); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}

	// Keep only the first constraint encountered (PRIMARY, or else the
	// first UNIQUE by name) and sort its columns by ordinal position.
	first := cols[0].constraint
	var result []column
	for _, c := range cols {
		if c.constraint == first {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].pos < result[j].pos })

	names := make([]string, len(result))
	for i, c := range result {
		names[i] = c.name
	}
	return names, nil
}
