// Package metrics registers binlogtap's Prometheus metrics (cache size, rows
// merged/ignored by action, dump duration and row counts, upload batch
// outcomes and retries, producer lag) and exposes them via Handler for
// scraping. Collector polls a StagingCache on an interval the way the
// Producer/Dumper/Uploader update their own counters inline.
package metrics
