package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/signalsfoundry/intrusion-game/internal/config"
	"github.com/signalsfoundry/intrusion-game/internal/logging"
	"github.com/signalsfoundry/intrusion-game/internal/observability"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "netgame",
		Short: "Attacker/defender self-play on a network graph",
		Long: `netgame pits a learning attacker, spreading an infection across a directed
network, against a learning defender that inspects traffic and quarantines
suspicious sources. Both sides train from their own experience between
episodes.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML config file layered over the defaults")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newLossesCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				_ = json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "netgame version %s\n", version)
		},
	}
}

// loadConfig reads --config and applies the storage flags shared by every
// subcommand that opens a store.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Storage.Backend, _ = flags.GetString("store")
	}
	if flags.Changed("models-dir") {
		cfg.Storage.ModelsDir, _ = flags.GetString("models-dir")
	}
	if flags.Changed("logs-dir") {
		cfg.Storage.LogsDir, _ = flags.GetString("logs-dir")
	}
	if flags.Changed("db-path") {
		cfg.Storage.SQLitePath, _ = flags.GetString("db-path")
	}
	return cfg, nil
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "", "Model store backend: memory, file or sqlite")
	cmd.Flags().String("models-dir", "", "Directory for <Role>Model.m files (file store)")
	cmd.Flags().String("logs-dir", "", "Directory for <Role>Logs.l files (file store)")
	cmd.Flags().String("db-path", "", "Database file (sqlite store)")
}

func serveMetrics(addr string, collector *observability.GameCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
