// Package producer tails a MySQL row-based replication stream, decodes row
// events into mutation records, merges them into the staging cache, and
// drives dump triggers when the cache crosses its size threshold. Position
// advances only after an event's effect has landed in the cache, so a
// restart resumes without re-applying acknowledged events.
package producer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/cuemby/binlogtap/pkg/cache"
	"github.com/cuemby/binlogtap/pkg/config"
	"github.com/cuemby/binlogtap/pkg/events"
	"github.com/cuemby/binlogtap/pkg/metrics"
	"github.com/cuemby/binlogtap/pkg/position"
	"github.com/cuemby/binlogtap/pkg/types"
	"github.com/go-mysql-org/go-mysql/client"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/rs/zerolog"
)

// stagingCache is the subset of *cache.RedisCache the Producer calls.
// Defined locally so the Producer can be driven by a fake cache in tests.
type stagingCache interface {
	Save(table types.Table, keyColumns []string, rows []types.Row) error
	Size() (int64, error)
}

// keyResolver is the subset of *keyresolver.Resolver the Producer calls.
type keyResolver interface {
	Resolve(schema, table string) ([]string, error)
	Columns(schema, table string) ([]string, error)
}

// progressInterval is how often (in row events) the Producer logs progress.
const progressInterval = 1000

// sizeCheckInterval is how often (in row events) the Producer polls the
// cache's advisory Size() for threshold-based dump triggering. Size() costs
// one Redis round trip per watched table, so it is sampled rather than
// checked on every saved row.
const sizeCheckInterval = 50

// Producer tails a MySQL binlog stream and feeds merged mutations into the
// Staging Cache.
type Producer struct {
	cfg      *config.Config
	posStore position.Store
	cache    stagingCache
	resolver keyResolver
	log      zerolog.Logger
	journal  *events.Journal

	// runDumpCommand executes the configured external dump command and
	// blocks until it exits. Overridable in tests.
	runDumpCommand func() error

	rowCount    uint64
	currentFile string
}

// New constructs a Producer. cache and resolver are narrowed to the
// interfaces above so *cache.RedisCache and *keyresolver.Resolver satisfy
// them structurally.
func New(cfg *config.Config, posStore position.Store, c stagingCache, resolver keyResolver, logger zerolog.Logger, journal *events.Journal) *Producer {
	p := &Producer{
		cfg:      cfg,
		posStore: posStore,
		cache:    c,
		resolver: resolver,
		log:      logger,
		journal:  journal,
	}
	p.runDumpCommand = p.execDumpCommand
	return p
}

func (p *Producer) execDumpCommand() error {
	if p.cfg.DumpCommand == "" {
		return nil
	}
	cmd := exec.Command("sh", "-c", p.cfg.DumpCommand)
	return cmd.Run()
}

func (p *Producer) record(kind events.Kind, detail string) {
	if p.journal == nil {
		return
	}
	p.journal.Record(events.Entry{Kind: kind, Detail: detail})
}

// Run opens the replication stream at the Position Store's recorded
// position (or the server's current tail if none is recorded) and consumes
// it until ctx is cancelled (blocking mode) or the tail is reached
// (non-blocking mode).
func (p *Producer) Run(ctx context.Context) error {
	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: p.cfg.ServerID,
		Flavor:   "mysql",
		Host:     p.cfg.MySQL.Host,
		Port:     p.cfg.MySQL.Port,
		User:     p.cfg.MySQL.User,
		Password: p.cfg.MySQL.Password,
	})
	defer syncer.Close()

	startPos, err := p.startPosition()
	if err != nil {
		return fmt.Errorf("producer: resolve start position: %w", err)
	}
	p.currentFile = startPos.Name

	var tailPos mysql.Position
	if !p.cfg.Blocking {
		tailPos, err = p.masterPosition()
		if err != nil {
			return fmt.Errorf("producer: get master position: %w", err)
		}
	}

	streamer, err := syncer.StartSync(startPos)
	if err != nil {
		return fmt.Errorf("producer: start sync at %s:%d: %w", startPos.Name, startPos.Pos, err)
	}
	metrics.SetProducerUp(true)
	defer metrics.SetProducerUp(false)

	for {
		ev, err := streamer.GetEvent(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("producer: transport error reading binlog stream: %w", err)
		}

		done, err := p.handleEvent(ev)
		if err != nil {
			return err
		}

		if !p.cfg.Blocking && done.Name == tailPos.Name && done.Pos >= tailPos.Pos {
			return nil
		}
	}
}

func (p *Producer) startPosition() (mysql.Position, error) {
	if pos, ok, err := p.posStore.Get(); err != nil {
		return mysql.Position{}, err
	} else if ok {
		return mysql.Position{Name: pos.LogFile, Pos: pos.LogPos}, nil
	}
	return p.masterPosition()
}

// masterPosition asks the server for its current binlog tail.
func (p *Producer) masterPosition() (mysql.Position, error) {
	conn, err := client.Connect(p.cfg.MySQL.Addr(), p.cfg.MySQL.User, p.cfg.MySQL.Password, "")
	if err != nil {
		return mysql.Position{}, err
	}
	defer conn.Close()

	r, err := conn.Execute("SHOW MASTER STATUS")
	if err != nil {
		return mysql.Position{}, err
	}
	if r.RowNumber() == 0 {
		return mysql.Position{}, errors.New("server reports no binlog; is log_bin enabled?")
	}
	name, err := r.GetString(0, 0)
	if err != nil {
		return mysql.Position{}, err
	}
	pos, err := r.GetInt(0, 1)
	if err != nil {
		return mysql.Position{}, err
	}
	return mysql.Position{Name: name, Pos: uint32(pos)}, nil
}

// handleEvent processes one decoded binlog event and returns the stream
// position reached after it. Every decoded event — rotate, row events that
// are merged, and events filtered out or irrelevant to the cache (XID,
// table map, GTID, ...) — advances the returned position, since the
// non-blocking tail check in Run must compare against it regardless of
// event kind: the server's reported tail (SHOW MASTER STATUS) sits at the
// commit (XID) event that follows the last watched row event, never at a
// RowsEvent's own LogPos.
func (p *Producer) handleEvent(ev *replication.BinlogEvent) (mysql.Position, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProducerEventLatency)

	switch e := ev.Event.(type) {
	case *replication.RotateEvent:
		nextFile := string(e.NextLogName)
		if err := p.posStore.SetFile(nextFile); err != nil {
			return mysql.Position{}, fmt.Errorf("producer: advance position on rotate: %w", err)
		}
		if err := p.posStore.SetPos(uint32(e.Position)); err != nil {
			return mysql.Position{}, fmt.Errorf("producer: advance position on rotate: %w", err)
		}
		p.currentFile = nextFile
		p.log.Info().Str("log_file", nextFile).Uint64("log_pos", e.Position).Msg("binlog rotated")
		p.record(events.KindRotate, "binlog rotated to "+nextFile)
		return mysql.Position{Name: nextFile, Pos: uint32(e.Position)}, nil

	case *replication.RowsEvent:
		action, ok := actionForEventType(ev.Header.EventType)
		if !ok {
			// A row event type actionForEventType does not map to an
			// insert/update/delete; nothing to merge, but position still
			// advances.
			return mysql.Position{Name: p.currentFile, Pos: ev.Header.LogPos}, nil
		}
		if !p.watches(action) {
			return mysql.Position{Name: p.currentFile, Pos: ev.Header.LogPos}, nil
		}

		metrics.ProducerEventsTotal.WithLabelValues(string(action)).Inc()

		lag := time.Now().Unix() - int64(ev.Header.Timestamp)
		metrics.ProducerLagSeconds.Set(float64(lag))
		if p.cfg.LatencyThreshold > 0 && lag > p.cfg.LatencyThreshold {
			p.log.Warn().Int64("lag_seconds", lag).Msg("binlog event latency exceeds threshold")
		}

		schema := string(e.Table.Schema)
		table := string(e.Table.Table)
		qualified := types.NewTable(schema, table)
		if !p.watchesTable(schema, qualified) {
			return mysql.Position{Name: p.currentFile, Pos: ev.Header.LogPos}, nil
		}

		colNames, err := p.columnNames(e, schema, table)
		if err != nil {
			return mysql.Position{}, fmt.Errorf("producer: resolve columns for %s: %w", qualified, err)
		}
		rows := extractRows(e, colNames, action, time.Now().Unix())

		keyColumns, err := p.resolver.Resolve(schema, table)
		if err != nil {
			return mysql.Position{}, fmt.Errorf("producer: fatal, %s has neither a primary key nor a configured surrogate: %w", qualified, err)
		}

		if err := p.saveWithRetry(qualified, keyColumns, rows); err != nil {
			return mysql.Position{}, err
		}

		if err := p.posStore.SetPos(ev.Header.LogPos); err != nil {
			return mysql.Position{}, fmt.Errorf("producer: advance position: %w", err)
		}

		p.rowCount++
		if p.rowCount%progressInterval == 0 {
			p.log.Info().Uint64("rows", p.rowCount).Msg("producer progress")
		}

		if p.cfg.DumpThreshold > 0 && p.rowCount%sizeCheckInterval == 0 {
			if size, err := p.cache.Size(); err == nil && size > p.cfg.DumpThreshold {
				p.log.Info().Int64("cache_size", size).Msg("cache size exceeds threshold, triggering dump")
				p.record(events.KindDumpStarted, "cache size threshold exceeded")
				go func() {
					if err := p.runDumpCommand(); err != nil {
						p.log.Error().Err(err).Msg("threshold-triggered dump command failed")
					}
				}()
			}
		}

		return mysql.Position{Name: p.currentFile, Pos: ev.Header.LogPos}, nil
	}
	return mysql.Position{Name: p.currentFile, Pos: ev.Header.LogPos}, nil
}

// saveWithRetry handles a BackendFull save: invoke the external dump
// command, wait for it to terminate, then retry the same save exactly
// once. A second failure is fatal.
func (p *Producer) saveWithRetry(table types.Table, keyColumns []string, rows []types.Row) error {
	err := p.cache.Save(table, keyColumns, rows)
	if err == nil {
		return nil
	}
	if errors.Is(err, cache.ErrSaveIgnore) {
		p.log.Warn().Err(err).Str("table", string(table)).Msg("row dropped: SaveIgnore")
		return nil
	}
	if !errors.Is(err, cache.ErrBackendFull) {
		return fmt.Errorf("producer: save failed for %s: %w", table, err)
	}

	p.log.Info().Str("table", string(table)).Msg("cache backend full, triggering dump and retrying save once")
	p.record(events.KindBackendFull, "backend full, triggering synchronous dump")
	if err := p.runDumpCommand(); err != nil {
		p.log.Error().Err(err).Msg("backend-full dump command failed")
	}

	if err := p.cache.Save(table, keyColumns, rows); err != nil {
		return fmt.Errorf("producer: fatal, save retried after backend-full dump still failed for %s: %w", table, err)
	}
	return nil
}

func (p *Producer) watches(action types.Action) bool {
	for _, e := range p.cfg.WatchedEvents() {
		if e == string(action) {
			return true
		}
	}
	return false
}

func (p *Producer) watchesTable(schema string, qualified types.Table) bool {
	if len(p.cfg.Schemas) > 0 && !contains(p.cfg.Schemas, schema) {
		return false
	}
	if len(p.cfg.Tables) > 0 && !contains(p.cfg.Tables, string(qualified)) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// actionForEventType maps a decoded RowsEvent's header type to the CDC
// action it represents, handling both v1 and v2 row-event wire formats.
func actionForEventType(t replication.EventType) (types.Action, bool) {
	switch t {
	case replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return types.ActionInsert, true
	case replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return types.ActionUpdate, true
	case replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return types.ActionDelete, true
	default:
		return "", false
	}
}

// columnNames resolves the ordered column names for a row event. Servers
// running with binlog_row_metadata=FULL carry the names in the table map
// event itself; otherwise they come from information_schema via the
// resolver's per-table cache.
func (p *Producer) columnNames(e *replication.RowsEvent, schema, table string) ([]string, error) {
	if names := e.Table.ColumnNameString(); len(names) > 0 {
		return names, nil
	}
	return p.resolver.Columns(schema, table)
}

// extractRows builds one mutation record per affected row: insert uses the
// new values, delete uses the old values, update uses the after-image. ts
// is the wall clock at the moment the event was observed and becomes every
// record's cdc_ts.
func extractRows(e *replication.RowsEvent, colNames []string, action types.Action, ts int64) []types.Row {
	var out []types.Row
	switch action {
	case types.ActionUpdate:
		for i := 1; i < len(e.Rows); i += 2 {
			out = append(out, rowFromValues(colNames, e.Rows[i], action, ts))
		}
	default:
		for _, vals := range e.Rows {
			out = append(out, rowFromValues(colNames, vals, action, ts))
		}
	}
	return out
}

func rowFromValues(colNames []string, vals []interface{}, action types.Action, ts int64) types.Row {
	row := make(types.Row, len(colNames)+2)
	for i, name := range colNames {
		if i >= len(vals) {
			break
		}
		row[name] = stringifyColumn(vals[i])
	}
	row.SetAction(action)
	row[types.ColumnTimestamp] = fmt.Sprintf("%d", ts)
	return row
}

func stringifyColumn(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
