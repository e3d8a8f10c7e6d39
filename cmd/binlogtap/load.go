package main

import (
	"fmt"

	"github.com/cuemby/binlogtap/pkg/cache"
	"github.com/cuemby/binlogtap/pkg/config"
	"github.com/cuemby/binlogtap/pkg/loader"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load <csv_file> <primary_key>...",
	Short: "Replay a CSV file produced by dump back into the Staging Cache",
	Long: `load is the inverse of dump: it reads a CSV file a dump produced
and saves its rows back into the Staging Cache under the qualified table
name parsed from the file's basename, using the given primary key column(s)
as the effective key.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().StringP("config", "c", "", "Path to a pipeline config file, in place of -s/-u")
	loadCmd.Flags().Uint32P("server-id", "s", 0, "MySQL replication server id (namespaces the cache)")
	loadCmd.Flags().StringP("cache-url", "u", "", "Staging Cache redis:// connection URL")
	loadCmd.Flags().StringP("log-dir", "l", "", "Directory for load.log when not verbose")
	loadCmd.Flags().BoolP("verbose", "v", false, "Log to stderr instead of load.log")
}

func runLoad(cmd *cobra.Command, args []string) error {
	csvFile, keyColumns := args[0], args[1:]

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadOrBuildConfig(cfgPath, func() (*config.Config, error) {
		serverID, _ := cmd.Flags().GetUint32("server-id")
		cacheURL, _ := cmd.Flags().GetString("cache-url")
		logDir, _ := cmd.Flags().GetString("log-dir")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if cacheURL == "" {
			return nil, fmt.Errorf("configuration fault: -u/--cache-url is required without -c")
		}
		return &config.Config{ServerID: serverID, CacheURL: cacheURL, LogDir: logDir, Verbose: verbose}, nil
	})
	if err != nil {
		return err
	}

	logger, err := configureOutput("loader", cfg.ServerID, cfg.LogDir, cfg.Verbose)
	if err != nil {
		return err
	}

	stagingCache, err := cache.NewRedisCache(cfg.CacheURL, cfg.ServerID, logger, nil)
	if err != nil {
		return fmt.Errorf("configuration fault: open staging cache: %w", err)
	}
	defer stagingCache.Close()

	l := loader.New(stagingCache)
	n, err := l.Load(csvFile, keyColumns)
	if err != nil {
		return err
	}
	logger.Info().Int("rows", n).Str("file", csvFile).Msg("loaded rows into staging cache")
	return nil
}
