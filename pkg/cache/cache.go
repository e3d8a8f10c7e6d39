// Package cache implements the staging cache: a Redis-backed keyed row
// store holding the currently pending per-primary-key net effect of
// observed mutations, guarded by a renewable lease so a bulk dumper never
// observes a half-written state.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/binlogtap/pkg/events"
	"github.com/cuemby/binlogtap/pkg/metrics"
	"github.com/cuemby/binlogtap/pkg/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrSaveIgnore is returned when a row in a Save call has no derivable rid
// (a missing key column). It is permanent and row-level: the caller logs
// and drops the row.
var ErrSaveIgnore = errors.New("cache: SaveIgnore - row missing declared key column(s)")

// ErrBackendFull is returned when the Redis backend rejects a write because
// it is out of memory. It is recoverable: the caller must trigger a dump
// and retry the same Save exactly once.
var ErrBackendFull = errors.New("cache: BackendFull - backend rejected write, capacity exhausted")

// RedisCache is the staging cache's primary backend. Key layout:
// "<sid>#<table>.<rid>" for row payload hashes, "<sid>#row_ids#<table>" for
// rid sets, "<sid>#locking" for the lease.
type RedisCache struct {
	client   *redis.Client
	log      zerolog.Logger
	journal  *events.Journal
	serverID uint32

	keyPrefix    string
	lockingKey   string
	rowIDsPrefix string
}

// NewRedisCache opens a staging cache against the given redis:// connection
// URL, namespaced by mysqlServerID so multiple pipelines can share a
// backend without collision.
func NewRedisCache(url string, mysqlServerID uint32, logger zerolog.Logger, journal *events.Journal) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCache{
		client:       redis.NewClient(opt),
		log:          logger,
		journal:      journal,
		serverID:     mysqlServerID,
		keyPrefix:    fmt.Sprintf("%d#", mysqlServerID),
		lockingKey:   fmt.Sprintf("%d#locking", mysqlServerID),
		rowIDsPrefix: fmt.Sprintf("%d#row_ids#", mysqlServerID),
	}, nil
}

func (c *RedisCache) tableKey(table types.Table) string {
	return c.keyPrefix + string(table)
}

func (c *RedisCache) rowIDsKey(table types.Table) string {
	return c.rowIDsPrefix + string(table)
}

func (c *RedisCache) record(kind events.Kind, table types.Table, detail string) {
	if c.journal == nil {
		return
	}
	c.journal.Record(events.Entry{Kind: kind, Table: string(table), Detail: detail})
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Save merges each row into the cache under its derived rid, applying the
// net-effect merge table in merge.go. It acquires the lease for the
// duration of the call and releases it immediately afterward.
func (c *RedisCache) Save(table types.Table, keyColumns []string, rows []types.Row) error {
	ctx := context.Background()
	token := uuid.NewString()

	if err := blockUntilLeaseAcquired(ctx, c.client, c.lockingKey, token, c.journal, func() {
		metrics.LeaseAcquireFailuresTotal.Inc()
	}); err != nil {
		return err
	}
	defer releaseLease(ctx, c.client, c.lockingKey)

	tableKey := c.tableKey(table)
	rowIDsKey := c.rowIDsKey(table)

	for _, row := range rows {
		rid, ok := row.RowID(keyColumns)
		if !ok {
			metrics.RowsIgnoredTotal.WithLabelValues(string(table), "missing_key").Inc()
			c.record(events.KindSaveIgnored, table, "row missing declared key column")
			return fmt.Errorf("%w: table %s", ErrSaveIgnore, table)
		}

		rowKey := tableKey + "." + string(rid)
		oldVals, err := c.client.HGetAll(ctx, rowKey).Result()
		if err != nil {
			if isBackendFull(err) {
				metrics.BackendFullTotal.Inc()
				c.record(events.KindBackendFull, table, "backend reported full on read")
				return ErrBackendFull
			}
			return err
		}

		var old types.Row
		if len(oldVals) > 0 {
			old = types.Row(oldVals)
		}

		merged, keep, warn := mergeRow(old, row.Clone())
		if warn != "" {
			c.log.Warn().Str("table", string(table)).Str("rid", string(rid)).Msg(warn)
			metrics.RowsIgnoredTotal.WithLabelValues(string(table), "inconsistent_update").Inc()
		}

		if keep {
			if err := c.client.HSet(ctx, rowKey, toHashArgs(merged)...).Err(); err != nil {
				if isBackendFull(err) {
					metrics.BackendFullTotal.Inc()
					c.record(events.KindBackendFull, table, "backend reported full on write")
					return ErrBackendFull
				}
				return err
			}
			if err := c.client.SAdd(ctx, rowIDsKey, string(rid)).Err(); err != nil {
				return err
			}
			metrics.RowsMergedTotal.WithLabelValues(string(table), string(merged.Action())).Inc()
		} else {
			if err := c.client.Del(ctx, rowKey).Err(); err != nil {
				return err
			}
			if err := c.client.SRem(ctx, rowIDsKey, string(rid)).Err(); err != nil {
				return err
			}
			metrics.RowsMergedTotal.WithLabelValues(string(table), "annihilated").Inc()
		}
	}
	return nil
}

// TableFilter selects which qualified tables DumpByTable drains; nil or
// empty means all currently pending tables.
type TableFilter []types.Table

// DumpByTable acquires the lease and streams each (optionally filtered)
// table's rows to callback in chunks of at most maxRows. After the final
// chunk of a table is accepted without error, the table's entries are
// removed from the cache.
func (c *RedisCache) DumpByTable(callback func(table types.Table, rows []types.Row) error, maxRows int, tables TableFilter) error {
	ctx := context.Background()
	token := uuid.NewString()

	if err := blockUntilLeaseAcquired(ctx, c.client, c.lockingKey, token, c.journal, func() {
		metrics.LeaseAcquireFailuresTotal.Inc()
	}); err != nil {
		return err
	}
	renewer := startLeaseRenewal(ctx, c.client, c.lockingKey, c.journal)
	defer func() {
		renewer.Stop()
		releaseLease(ctx, c.client, c.lockingKey)
	}()

	targetTables := []types.Table(tables)
	if len(targetTables) == 0 {
		names, err := c.Tables()
		if err != nil {
			return err
		}
		for _, n := range names {
			targetTables = append(targetTables, types.Table(n))
		}
	}

	for _, table := range targetTables {
		if err := c.dumpOneTable(ctx, table, maxRows, callback, renewer); err != nil {
			return err
		}
	}
	return nil
}

func (c *RedisCache) dumpOneTable(ctx context.Context, table types.Table, maxRows int, callback func(types.Table, []types.Row) error, renewer *leaseRenewer) error {
	rowIDsKey := c.rowIDsKey(table)
	tableKey := c.tableKey(table)

	var batch []types.Row
	var cursor uint64
	for {
		if renewer.Lost() {
			return fmt.Errorf("cache: lease lost mid-dump of table %s, aborting before clear", table)
		}

		rids, next, err := c.client.SScan(ctx, rowIDsKey, cursor, "", 1000).Result()
		if err != nil {
			return err
		}
		for _, rid := range rids {
			row, err := c.client.HGetAll(ctx, tableKey+"."+rid).Result()
			if err != nil {
				return err
			}
			if len(row) == 0 {
				continue
			}
			batch = append(batch, types.Row(row))
			if maxRows > 0 && len(batch) >= maxRows {
				if renewer.Lost() {
					return fmt.Errorf("cache: lease lost mid-dump of table %s, aborting before clear", table)
				}
				if err := callback(table, batch); err != nil {
					return err
				}
				batch = nil
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if renewer.Lost() {
		return fmt.Errorf("cache: lease lost mid-dump of table %s, aborting before clear", table)
	}
	if err := callback(table, batch); err != nil {
		return err
	}
	if renewer.Lost() {
		return fmt.Errorf("cache: lease lost mid-dump of table %s, aborting before clear", table)
	}
	return c.clearTable(ctx, table)
}

// DumpByRow acquires the lease and yields (table, row) pairs one at a time,
// clearing the whole cache namespace on successful completion.
func (c *RedisCache) DumpByRow(callback func(table types.Table, row types.Row) error) error {
	ctx := context.Background()
	token := uuid.NewString()

	if err := blockUntilLeaseAcquired(ctx, c.client, c.lockingKey, token, c.journal, func() {
		metrics.LeaseAcquireFailuresTotal.Inc()
	}); err != nil {
		return err
	}
	renewer := startLeaseRenewal(ctx, c.client, c.lockingKey, c.journal)
	defer func() {
		renewer.Stop()
		releaseLease(ctx, c.client, c.lockingKey)
	}()

	names, err := c.Tables()
	if err != nil {
		return err
	}

	for _, name := range names {
		table := types.Table(name)
		rowIDsKey := c.rowIDsKey(table)
		tableKey := c.tableKey(table)
		var cursor uint64
		for {
			if renewer.Lost() {
				return errors.New("cache: lease lost mid-dump, aborting before clear")
			}
			rids, next, err := c.client.SScan(ctx, rowIDsKey, cursor, "", 1000).Result()
			if err != nil {
				return err
			}
			for _, rid := range rids {
				row, err := c.client.HGetAll(ctx, tableKey+"."+rid).Result()
				if err != nil {
					return err
				}
				if len(row) == 0 {
					continue
				}
				if err := callback(table, types.Row(row)); err != nil {
					return err
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}

	if renewer.Lost() {
		return errors.New("cache: lease lost mid-dump, aborting before clear")
	}
	return c.Clear()
}

func (c *RedisCache) clearTable(ctx context.Context, table types.Table) error {
	rowIDsKey := c.rowIDsKey(table)
	rids, err := c.client.SMembers(ctx, rowIDsKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(rids)+1)
	tableKey := c.tableKey(table)
	for _, rid := range rids {
		keys = append(keys, tableKey+"."+rid)
	}
	keys = append(keys, rowIDsKey)
	return c.client.Del(ctx, keys...).Err()
}

// Size returns the total number of keyed entries across all pending
// tables. Advisory, used by the Producer for threshold-based dump
// triggering.
func (c *RedisCache) Size() (int64, error) {
	tables, err := c.Tables()
	if err != nil {
		return 0, err
	}
	ctx := context.Background()
	var total int64
	for _, t := range tables {
		n, err := c.client.SCard(ctx, c.rowIDsPrefix+t).Result()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Tables enumerates currently-pending qualified table names.
func (c *RedisCache) Tables() ([]string, error) {
	ctx := context.Background()
	var tables []string
	iter := c.client.Scan(ctx, 0, c.rowIDsPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		tables = append(tables, strings.TrimPrefix(iter.Val(), c.rowIDsPrefix))
	}
	return tables, iter.Err()
}

// Clear unconditionally removes everything under the cache's namespace
// (this server id's prefix), leaving other pipelines sharing the same
// backend untouched.
func (c *RedisCache) Clear() error {
	ctx := context.Background()
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 1000).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func toHashArgs(row types.Row) []interface{} {
	args := make([]interface{}, 0, len(row)*2)
	for k, v := range row {
		args = append(args, k, v)
	}
	return args
}

func isBackendFull(err error) bool {
	return err != nil && strings.Contains(err.Error(), "OOM command not allowed")
}
