package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/intrusion-game/core"
	"github.com/signalsfoundry/intrusion-game/internal/config"
	"github.com/signalsfoundry/intrusion-game/internal/logging"
	"github.com/signalsfoundry/intrusion-game/internal/observability"
	"github.com/signalsfoundry/intrusion-game/internal/sim"
	"github.com/signalsfoundry/intrusion-game/internal/storage"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play episodes, optionally training and persisting both agents",
		Example: `  netgame run --episodes 50 --topology configs/networks/default.txt \
    --traffic configs/datasets/traffic.csv --attacks configs/datasets/attacks.csv --train`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runConfig(cmd)
			if err != nil {
				return err
			}
			episodes, _ := cmd.Flags().GetInt("episodes")
			train, _ := cmd.Flags().GetBool("train")
			load, _ := cmd.Flags().GetBool("load")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
			jsonOut, _ := cmd.Flags().GetBool("json")

			return runSession(cmd.Context(), cmd.OutOrStdout(), cfg, sim.RunOptions{
				Episodes: episodes,
				Train:    train,
				Load:     load,
			}, metricsAddr, jsonOut)
		},
	}

	cmd.Flags().Int("episodes", 1, "Number of episodes to play")
	cmd.Flags().String("topology", "", "Topology file: one 'origin,destination' edge per line")
	cmd.Flags().String("traffic", "", "Background traffic dataset (CSV)")
	cmd.Flags().String("attacks", "", "Attack dataset (CSV with malicious rows)")
	cmd.Flags().Bool("train", false, "Train both agents after every episode and persist them")
	cmd.Flags().Bool("load", false, "Load both agents from the store before the first episode")
	cmd.Flags().Float64("epsilon", 1, "Initial exploration rate")
	cmd.Flags().Int64("seed", 0, "Random seed (0 derives one from the clock)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	addStoreFlags(cmd)
	return cmd
}

// runConfig layers the run flags over the config file.
func runConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("topology") {
		cfg.Paths.Topology, _ = flags.GetString("topology")
	}
	if flags.Changed("traffic") {
		cfg.Paths.Traffic, _ = flags.GetString("traffic")
	}
	if flags.Changed("attacks") {
		cfg.Paths.Attacks, _ = flags.GetString("attacks")
	}
	if flags.Changed("epsilon") {
		cfg.Agent.Epsilon, _ = flags.GetFloat64("epsilon")
	}
	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
	}
	if cfg.Paths.Topology == "" || cfg.Paths.Traffic == "" || cfg.Paths.Attacks == "" {
		return config.Config{}, fmt.Errorf("%w: --topology, --traffic and --attacks are required", config.ErrInvalid)
	}
	return cfg, cfg.Validate()
}

func runSession(ctx context.Context, out io.Writer, cfg config.Config, opts sim.RunOptions, metricsAddr string, jsonOut bool) error {
	log := logging.NewFromEnv()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	var collector *observability.GameCollector
	if metricsAddr != "" {
		collector, err = observability.NewGameCollector(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		if srv := serveMetrics(metricsAddr, collector, log); srv != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer storage.CloseIfSupported(store)

	inputs, err := sim.LoadInputs(cfg)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	runner, err := sim.NewRunner(cfg, inputs,
		sim.WithLogger(log),
		sim.WithStore(store),
		sim.WithCollector(collector),
		sim.WithEpisodeListener(func(res core.EpisodeResult) {
			if jsonOut {
				_ = enc.Encode(res)
				return
			}
			fmt.Fprintf(out, "episode %d: turns=%d infected=%d/%d quarantined=%d severed=%d attacker=%.3f defender=%.3f\n",
				res.Episode, res.Turns, res.Infected, inputs.Topology.NodeCount(),
				res.Quarantined, res.SeveredEdges, res.AttackerScore, res.DefenderScore)
		}),
	)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx, opts)
	if err != nil {
		return err
	}
	if !jsonOut {
		fmt.Fprintf(out, "run %s: %d episodes, seed %d\n", summary.RunID, len(summary.Episodes), summary.Seed)
	}
	return nil
}
