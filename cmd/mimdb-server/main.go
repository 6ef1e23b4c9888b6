// Command mimdb-server runs the MIMDB HTTP service.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arloliu/mimdb/api"
	"github.com/arloliu/mimdb/metastore"
	"github.com/arloliu/mimdb/query"
)

const (
	defaultPort    = 3000
	defaultDataDir = "./mimdb_data"
)

func main() {
	var (
		port    int
		dataDir string
	)

	rootCmd := &cobra.Command{
		Use:          "mimdb-server",
		Short:        "MIMDB columnar analytical database server",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServer(port, dataDir)
		},
	}

	rootCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	rootCmd.Flags().StringVarP(&dataDir, "data-dir", "d", defaultDataDir, "data directory path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(port int, dataDir string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ms, err := metastore.Open(dataDir, logger)
	if err != nil {
		return fmt.Errorf("initialize metastore: %w", err)
	}

	registry := prometheus.NewRegistry()
	executor := query.NewExecutor(ms, logger, query.NewMetrics(registry))
	server := api.NewServer(ms, executor, logger, registry)

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting mimdb server",
		zap.Int("port", port),
		zap.String("data_dir", dataDir))

	return http.ListenAndServe(addr, server.Handler())
}
