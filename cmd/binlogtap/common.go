package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/cuemby/binlogtap/pkg/cache"
	"github.com/cuemby/binlogtap/pkg/config"
	"github.com/cuemby/binlogtap/pkg/log"
	"github.com/cuemby/binlogtap/pkg/position"
	"github.com/cuemby/binlogtap/pkg/types"
	"github.com/rs/zerolog"
)

// configureOutput points the global logger at stderr (verbose) or at
// <logDir>/<name>.log otherwise (dump.log for the dumper, load.log for the
// loader, <component>.log for anything else), and returns a child logger
// stamped with the component name and the pipeline's server id.
func configureOutput(component string, serverID uint32, logDir string, verbose bool) (zerolog.Logger, error) {
	if !verbose && logDir != "" {
		name := component
		switch component {
		case "dumper":
			name = "dump"
		case "loader":
			name = "load"
		}
		f, err := openLogFile(logDir, name)
		if err != nil {
			return zerolog.Logger{}, err
		}
		log.Init(log.Config{Level: log.InfoLevel, Output: f})
	}
	return log.WithComponent(component).With().Uint32("server_id", serverID).Logger(), nil
}

// parseTables turns positional "schema.table" arguments into a TableFilter.
// An empty list means "all tables".
func parseTables(args []string) (cache.TableFilter, error) {
	if len(args) == 0 {
		return nil, nil
	}
	tables := make(cache.TableFilter, 0, len(args))
	for _, a := range args {
		parts := strings.SplitN(a, ".", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("table %q must be schema.table", a)
		}
		tables = append(tables, types.NewTable(parts[0], parts[1]))
	}
	return tables, nil
}

// parseUploadURL decodes a "-g UPLOAD_URL" flag of the form
// "gcs://bucket/prefix" or "s3://bucket/prefix?region=us-east-1" into a
// config.Upload record.
func parseUploadURL(raw string) (*config.Upload, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse upload url %q: %w", raw, err)
	}
	if u.Scheme != "gcs" && u.Scheme != "s3" {
		return nil, fmt.Errorf("upload url %q: unsupported scheme %q (want gcs or s3)", raw, u.Scheme)
	}
	return &config.Upload{
		Provider: u.Scheme,
		Bucket:   u.Host,
		Prefix:   strings.TrimPrefix(u.Path, "/"),
		Region:   u.Query().Get("region"),
	}, nil
}

// openPositionStore selects a position store backend by URL scheme: a
// "redis://" (or scheme-less) URL opens pkg/position.RedisStore, the
// default, while a "bolt://" URL opens pkg/position.BoltStore rooted at the
// URL's path, for running the producer against a throwaway MySQL instance
// without standing up Redis.
func openPositionStore(raw string) (position.Store, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse position url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "bolt":
		dir := u.Path
		if dir == "" {
			dir = u.Opaque
		}
		if dir == "" {
			return nil, fmt.Errorf("bolt position url %q: missing path", raw)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bolt position dir %s: %w", dir, err)
		}
		return position.NewBoltStore(dir)
	case "redis", "rediss", "":
		return position.NewRedisStore(raw)
	default:
		return nil, fmt.Errorf("position url %q: unsupported scheme %q (want redis or bolt)", raw, u.Scheme)
	}
}

// loadOrBuildConfig resolves the dump/load subcommands' two config paths:
// either a single `-c CONFIG_FILE` or the explicit per-flag alternative.
func loadOrBuildConfig(cmdCfgPath string, build func() (*config.Config, error)) (*config.Config, error) {
	if cmdCfgPath != "" {
		return config.Load(cmdCfgPath)
	}
	return build()
}
