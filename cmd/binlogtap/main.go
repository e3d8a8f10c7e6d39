package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/cuemby/binlogtap/pkg/log"
	"github.com/cuemby/binlogtap/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "binlogtap",
	Short: "binlogtap - MySQL binlog CDC capture, dump and load pipeline",
	Long: `binlogtap tails a MySQL row-based replication stream, stages the
resulting mutations in a Redis-backed cache keyed by primary key, and
periodically dumps the cache to dated CSV files that are optionally
uploaded to a cloud object store.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("binlogtap version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. 127.0.0.1:9090)")

	cobra.OnInitialize(initLogging, initMetricsServer)

	rootCmd.AddCommand(produceCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(loadCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func initMetricsServer() {
	addr, _ := rootCmd.PersistentFlags().GetString("metrics-addr")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Logger.Info().Str("addr", addr).Msg("metrics server listening")
}

// openLogFile routes non-verbose output to <logDir>/<name>.log.
func openLogFile(logDir, name string) (*os.File, error) {
	if logDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return os.OpenFile(logDir+"/"+name+".log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
