// Package dumper drains the staging cache table-by-table into dated CSV
// files, grouping rows by observed column signature so schema drift
// quarantines itself into separate files instead of corrupting a shared
// header.
package dumper

import (
	"fmt"

	"github.com/cuemby/binlogtap/pkg/cache"
	"github.com/cuemby/binlogtap/pkg/events"
	"github.com/cuemby/binlogtap/pkg/metrics"
	"github.com/cuemby/binlogtap/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// stagingCache is the subset of *cache.RedisCache the Dumper calls.
type stagingCache interface {
	DumpByTable(callback func(types.Table, []types.Row) error, maxRows int, tables cache.TableFilter) error
}

// Dumper writes the cache's pending rows to CSV files under outDir.
type Dumper struct {
	cache   stagingCache
	outDir  string
	log     zerolog.Logger
	journal *events.Journal
}

// New constructs a Dumper writing files under outDir.
func New(c stagingCache, outDir string, logger zerolog.Logger, journal *events.Journal) *Dumper {
	return &Dumper{cache: c, outDir: outDir, log: logger, journal: journal}
}

func (d *Dumper) record(kind events.Kind, table types.Table, detail string) {
	if d.journal == nil {
		return
	}
	d.journal.Record(events.Entry{Kind: kind, Table: string(table), Detail: detail})
}

// Run drains tables (or every pending table if empty) into CSV, at most
// maxRows rows per cache round trip, and returns the finalized file paths in
// the order they were closed so a caller can hand them to an Uploader queue.
func (d *Dumper) Run(maxRows int, tables cache.TableFilter) ([]string, error) {
	d.record(events.KindDumpStarted, "", "dump starting")

	var finalized []string
	err := d.cache.DumpByTable(func(table types.Table, rows []types.Row) error {
		timer := metrics.NewTimer()
		paths, err := writeBatch(d.outDir, table, rows)
		timer.ObserveDurationVec(metrics.DumpDuration, string(table))
		if err != nil {
			metrics.DumpFailuresTotal.WithLabelValues(string(table)).Inc()
			d.record(events.KindDumpFailed, table, err.Error())
			return err
		}

		metrics.DumpRowsTotal.WithLabelValues(string(table)).Add(float64(len(rows)))
		finalized = append(finalized, paths...)
		if len(paths) > 1 {
			d.log.Warn().Str("table", string(table)).Strs("files", paths).Msg("schema drift detected, wrote quarantined .tmp files")
		}
		d.log.Info().
			Str("table", string(table)).
			Str("rows", humanize.Comma(int64(len(rows)))).
			Msg("dump batch written")
		return nil
	}, maxRows, tables)

	if err != nil {
		return finalized, fmt.Errorf("dumper: %w", err)
	}

	d.log.Info().Int("files", len(finalized)).Msg("dump complete")
	d.record(events.KindDumpCompleted, "", fmt.Sprintf("%d file(s) finalized", len(finalized)))
	return finalized, nil
}
