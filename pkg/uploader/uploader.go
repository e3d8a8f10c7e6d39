// Package uploader is a single background worker that drains finalized CSV
// paths from a handoff queue fed by the dumper and copies them to a cloud
// object-store prefix in date-grouped batches, retrying failed batches
// against a per-date manifest log.
package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/binlogtap/pkg/events"
	"github.com/cuemby/binlogtap/pkg/metrics"
	"github.com/rs/zerolog"
)

const maxAttempts = 3

// retryBackoff is the fixed delay between batch upload retries. A var, not
// a const, so tests can shorten it.
var retryBackoff = 2 * time.Second

// ObjectStore is the upload destination for one local file. skipped
// reports that an object already existed at the destination and the write
// was skipped.
type ObjectStore interface {
	Put(ctx context.Context, key, path string) (skipped bool, err error)
}

// Uploader drives batches of finalized CSV files from a handoff queue to
// an ObjectStore.
type Uploader struct {
	store   ObjectStore
	prefix  string
	log     zerolog.Logger
	journal *events.Journal

	// retried tracks file paths that have already been fed back through
	// the batcher once, so a second exhaustion gives up instead of
	// looping forever.
	retried map[string]bool
}

// New constructs an Uploader writing under the given object-store prefix.
func New(store ObjectStore, prefix string, logger zerolog.Logger, journal *events.Journal) *Uploader {
	return &Uploader{store: store, prefix: prefix, log: logger, journal: journal, retried: make(map[string]bool)}
}

func (u *Uploader) record(kind events.Kind, detail string) {
	if u.journal == nil {
		return
	}
	u.journal.Record(events.Entry{Kind: kind, Detail: detail})
}

// Run drains queue until it is closed (the dumper signals completion by
// closing the channel), batching files by date as they arrive and flushing
// any full batch immediately. Once the queue closes, remaining partial
// batches are flushed too.
func (u *Uploader) Run(ctx context.Context, queue <-chan string) error {
	b := newBatcher()
	for {
		select {
		case path, ok := <-queue:
			if !ok {
				u.flushAll(ctx, b, true)
				return nil
			}
			b.add(filepath.Base(filepath.Dir(path)), path)
			u.flushAll(ctx, b, false)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (u *Uploader) flushAll(ctx context.Context, b *batcher, force bool) {
	for {
		date, files, ok := b.nextBatch(force)
		if !ok {
			return
		}
		u.processBatch(ctx, b, date, files)
	}
}

// processBatch uploads one batch in at most maxAttempts attempts (the first
// try plus maxAttempts-1 retries) with a fixed 2s backoff, narrowing to whichever files failed on each attempt.
// On final exhaustion it re-parses the date's manifest and, the first
// time, requeues whatever is still unconfirmed for one further attempt; a
// second exhaustion of the same files is logged and left on disk.
func (u *Uploader) processBatch(ctx context.Context, b *batcher, date string, files []string) {
	dateDir := filepath.Dir(files[0])
	remaining := files
	timer := metrics.NewTimer()

	op := func() error {
		failed, err := u.uploadOnce(ctx, dateDir, remaining)
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			remaining = failed
			return fmt.Errorf("uploader: %d of %d file(s) failed in batch for %s", len(failed), len(files), date)
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(retryBackoff), maxAttempts-1)
	err := backoff.RetryNotify(op, bo, func(err error, d time.Duration) {
		metrics.UploadRetriesTotal.Inc()
		u.log.Warn().Err(err).Str("date", date).Dur("backoff", d).Msg("retrying upload batch")
	})
	timer.ObserveDuration(metrics.UploadDuration)

	if err == nil {
		metrics.UploadBatchesTotal.WithLabelValues("success").Inc()
		u.record(events.KindUploadBatchDone, fmt.Sprintf("uploaded %d file(s) for %s", len(files), date))
		return
	}

	unconfirmed, uerr := unconfirmedSources(dateDir, files)
	if uerr != nil || unconfirmed == nil {
		unconfirmed = remaining
	}

	alreadyRequeued := len(unconfirmed) > 0
	for _, f := range unconfirmed {
		if !u.retried[f] {
			alreadyRequeued = false
			break
		}
	}

	if alreadyRequeued {
		metrics.UploadBatchesTotal.WithLabelValues("exhausted").Inc()
		u.log.Error().Str("date", date).Strs("files", unconfirmed).Msg("upload batch exhausted retries twice, files remain on disk")
		u.record(events.KindUploadExhausted, fmt.Sprintf("upload batch for %s exhausted retries, %d file(s) unconfirmed", date, len(unconfirmed)))
		return
	}

	for _, f := range unconfirmed {
		u.retried[f] = true
	}
	u.log.Warn().Str("date", date).Strs("files", unconfirmed).Msg("requeuing unconfirmed uploads for one more attempt")
	b.requeue(date, unconfirmed)
}

func (u *Uploader) uploadOnce(ctx context.Context, dateDir string, toUpload []string) (failed []string, err error) {
	rows := make([]manifestRow, 0, len(toUpload))
	for _, path := range toUpload {
		key := u.destinationKey(dateDir, path)
		start := time.Now()
		info, statErr := os.Stat(path)

		skipped, putErr := u.store.Put(ctx, key, path)

		row := manifestRow{
			Source:      path,
			Destination: key,
			Start:       start.UTC().Format(time.RFC3339),
			End:         time.Now().UTC().Format(time.RFC3339),
		}
		if statErr == nil {
			row.SourceSize = info.Size()
		}
		if putErr != nil {
			row.Result = "failed"
			row.Description = putErr.Error()
			failed = append(failed, path)
		} else {
			row.Result = "success"
			row.BytesTransferred = row.SourceSize
			if skipped {
				row.Description = "skip-existing"
			}
		}
		rows = append(rows, row)
	}
	if merr := appendManifest(dateDir, rows); merr != nil {
		return failed, merr
	}
	return failed, nil
}

func (u *Uploader) destinationKey(dateDir, path string) string {
	date := filepath.Base(dateDir)
	name := filepath.Base(path)
	prefix := strings.TrimSuffix(u.prefix, "/")
	if prefix == "" {
		return date + "/" + name
	}
	return prefix + "/" + date + "/" + name
}
