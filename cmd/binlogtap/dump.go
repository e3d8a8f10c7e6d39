package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/cuemby/binlogtap/pkg/cache"
	"github.com/cuemby/binlogtap/pkg/config"
	"github.com/cuemby/binlogtap/pkg/dumper"
	"github.com/cuemby/binlogtap/pkg/events"
	"github.com/cuemby/binlogtap/pkg/uploader"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [table...]",
	Short: "Drain the Staging Cache to dated CSV files, optionally uploading them",
	Long: `dump reads every watched table (or just the tables named as
arguments) out of the Staging Cache into CSV files under the dump
directory, grouping rows by observed column signature so schema drift
quarantines itself into .tmp files. When -g/--upload-url (or the config
file's upload section) is set, the finalized files are handed off to the
Uploader once the whole dump has completed.`,
	Args: cobra.ArbitraryArgs,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringP("config", "c", "", "Path to a pipeline config file, in place of the flags below")
	dumpCmd.Flags().Uint32P("server-id", "s", 0, "MySQL replication server id (namespaces the cache)")
	dumpCmd.Flags().StringP("cache-url", "u", "", "Staging Cache redis:// connection URL")
	dumpCmd.Flags().StringP("dump-dir", "d", "", "Output directory for CSV files")
	dumpCmd.Flags().IntP("max-rows", "m", 0, "Maximum rows per cache read chunk (0 = no limit, one chunk per table)")
	dumpCmd.Flags().StringP("log-dir", "l", "", "Directory for dump.log when not verbose")
	dumpCmd.Flags().StringP("upload-url", "g", "", "Optional destination, e.g. gcs://bucket/prefix or s3://bucket/prefix?region=us-east-1")
	dumpCmd.Flags().BoolP("verbose", "v", false, "Log to stderr instead of dump.log")
}

func runDump(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadOrBuildConfig(cfgPath, func() (*config.Config, error) {
		serverID, _ := cmd.Flags().GetUint32("server-id")
		cacheURL, _ := cmd.Flags().GetString("cache-url")
		dumpDir, _ := cmd.Flags().GetString("dump-dir")
		maxRows, _ := cmd.Flags().GetInt("max-rows")
		logDir, _ := cmd.Flags().GetString("log-dir")
		uploadURL, _ := cmd.Flags().GetString("upload-url")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if cacheURL == "" || dumpDir == "" {
			return nil, fmt.Errorf("configuration fault: -u/--cache-url and -d/--dump-dir are required without -c")
		}
		upload, err := parseUploadURL(uploadURL)
		if err != nil {
			return nil, fmt.Errorf("configuration fault: %w", err)
		}
		return &config.Config{
			ServerID: serverID,
			CacheURL: cacheURL,
			DumpDir:  dumpDir,
			MaxRows:  maxRows,
			LogDir:   logDir,
			Verbose:  verbose,
			Upload:   upload,
		}, nil
	})
	if err != nil {
		return err
	}

	logger, err := configureOutput("dumper", cfg.ServerID, cfg.LogDir, cfg.Verbose)
	if err != nil {
		return err
	}

	tables, err := parseTables(args)
	if err != nil {
		return fmt.Errorf("configuration fault: %w", err)
	}

	journal := events.NewJournal()

	stagingCache, err := cache.NewRedisCache(cfg.CacheURL, cfg.ServerID, logger, journal)
	if err != nil {
		return fmt.Errorf("configuration fault: open staging cache: %w", err)
	}
	defer stagingCache.Close()

	d := dumper.New(stagingCache, cfg.DumpDir, logger, journal)

	paths, err := d.Run(cfg.MaxRows, tables)
	if err != nil {
		return err
	}

	if cfg.Upload == nil {
		return nil
	}
	return uploadPaths(cmd.Context(), cfg, logger, journal, paths)
}

// uploadPaths hands the Dumper's finalized file paths to the Uploader over
// the handoff queue the two packages share, closing it once all paths are
// enqueued (the Go-channel realization of the Dumper's termination
// sentinel).
func uploadPaths(ctx context.Context, cfg *config.Config, logger zerolog.Logger, journal *events.Journal, paths []string) error {
	store, closeStore, err := openObjectStore(ctx, cfg.Upload)
	if err != nil {
		return fmt.Errorf("configuration fault: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	u := uploader.New(store, cfg.Upload.Prefix, logger, journal)
	queue := make(chan string, len(paths))
	for _, p := range paths {
		queue <- p
	}
	close(queue)

	if err := u.Run(ctx, queue); err != nil {
		return fmt.Errorf("uploader: %w", err)
	}
	return nil
}

func openObjectStore(ctx context.Context, upload *config.Upload) (uploader.ObjectStore, func() error, error) {
	switch upload.Provider {
	case "gcs":
		store, err := uploader.NewGCSStore(ctx, upload.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "s3":
		opts := []func(*awsconfig.LoadOptions) error{}
		if upload.Region != "" {
			opts = append(opts, awsconfig.WithRegion(upload.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		return uploader.NewS3Store(awsCfg, upload.Bucket), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported upload provider %q", upload.Provider)
	}
}
