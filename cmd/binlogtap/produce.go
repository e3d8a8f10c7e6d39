package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/binlogtap/pkg/cache"
	"github.com/cuemby/binlogtap/pkg/config"
	"github.com/cuemby/binlogtap/pkg/events"
	"github.com/cuemby/binlogtap/pkg/keyresolver"
	"github.com/cuemby/binlogtap/pkg/metrics"
	"github.com/cuemby/binlogtap/pkg/producer"
	"github.com/spf13/cobra"
)

var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Tail the MySQL binlog and stage mutations in the cache",
	Long: `produce opens a row-based replication stream against MySQL,
merges watched row mutations into the Staging Cache, and drives the
configured dump command when the cache crosses its size threshold or the
backend reports full; the latency threshold only logs a warning. In
blocking mode it runs until the stream fails or it is interrupted; in
non-blocking mode it exits once the server's current binlog tail is
reached.`,
	RunE: runProduce,
}

func init() {
	produceCmd.Flags().StringP("config", "c", "", "Path to the pipeline config file (required)")
	produceCmd.MarkFlagRequired("config")
}

func runProduce(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("configuration fault: %w", err)
	}

	logger, err := configureOutput("producer", cfg.ServerID, cfg.LogDir, cfg.Verbose)
	if err != nil {
		return err
	}

	posStore, err := openPositionStore(cfg.PositionURL)
	if err != nil {
		return fmt.Errorf("configuration fault: open position store: %w", err)
	}
	defer posStore.Close()

	journal := events.NewJournal()

	stagingCache, err := cache.NewRedisCache(cfg.CacheURL, cfg.ServerID, logger, journal)
	if err != nil {
		return fmt.Errorf("configuration fault: open staging cache: %w", err)
	}
	defer stagingCache.Close()

	collector := metrics.NewCollector(stagingCache)
	collector.Start()
	defer collector.Stop()

	resolver, err := keyresolver.New(mysqlDSN(cfg), cfg.SurrogateKeys)
	if err != nil {
		return fmt.Errorf("configuration fault: open key resolver: %w", err)
	}
	defer resolver.Close()

	p := producer.New(cfg, posStore, stagingCache, resolver, logger, journal)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return p.Run(ctx)
}

// mysqlDSN builds the go-sql-driver/mysql data source name the key
// resolver uses for information_schema lookups, from the same MySQL
// connection settings the replication stream uses.
func mysqlDSN(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/", cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Addr())
}
