// Package sim runs self-play sessions: it wires the game engine to both
// learning agents, plays a number of episodes, and trains, persists or
// restores the agents' policies between them.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/signalsfoundry/intrusion-game/core"
	"github.com/signalsfoundry/intrusion-game/internal/agent"
	"github.com/signalsfoundry/intrusion-game/internal/config"
	"github.com/signalsfoundry/intrusion-game/internal/dataset"
	"github.com/signalsfoundry/intrusion-game/internal/logging"
	"github.com/signalsfoundry/intrusion-game/internal/observability"
	"github.com/signalsfoundry/intrusion-game/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

// Inputs are the parsed files a session plays on.
type Inputs struct {
	Topology *core.Topology
	Traffic  *dataset.Dataset
	Attacks  *dataset.Dataset
}

// LoadInputs reads the topology and both datasets named in cfg.Paths.
func LoadInputs(cfg config.Config) (Inputs, error) {
	topo, err := core.LoadTopologyFile(cfg.Paths.Topology)
	if err != nil {
		return Inputs{}, err
	}
	traffic, err := dataset.LoadFile(cfg.Paths.Traffic, cfg.Dataset)
	if err != nil {
		return Inputs{}, fmt.Errorf("traffic dataset: %w", err)
	}
	attacks, err := dataset.LoadFile(cfg.Paths.Attacks, cfg.Dataset)
	if err != nil {
		return Inputs{}, fmt.Errorf("attack dataset: %w", err)
	}
	if attacks.MaliciousCount() == 0 {
		return Inputs{}, fmt.Errorf("attack dataset %s: %w", cfg.Paths.Attacks, dataset.ErrNoMaliciousRows)
	}
	return Inputs{Topology: topo, Traffic: traffic, Attacks: attacks}, nil
}

// RunOptions select what a session does besides playing.
type RunOptions struct {
	Episodes int
	// Train runs a training sweep after every episode, then persists both
	// models and appends their mean losses to the store.
	Train bool
	// Load restores both models from the store before the first episode.
	// A missing model is an error.
	Load bool
}

// Summary describes a finished session.
type Summary struct {
	RunID    string
	Seed     int64
	Episodes []core.EpisodeResult
	// Training reports, one per trained episode.
	AttackerTraining []core.TrainReport
	DefenderTraining []core.TrainReport
}

// Option customises Runner construction.
type Option func(*Runner)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithStore sets the model store. Without one an in-memory store is used.
func WithStore(s storage.Store) Option {
	return func(r *Runner) {
		if s != nil {
			r.store = s
		}
	}
}

// WithCollector records game and training metrics.
func WithCollector(c *observability.GameCollector) Option {
	return func(r *Runner) {
		r.collector = c
	}
}

// WithEpisodeListener registers a callback invoked after every episode.
func WithEpisodeListener(fn func(core.EpisodeResult)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.episodeListeners = append(r.episodeListeners, fn)
		}
	}
}

// WithTurnListener forwards per-turn summaries from the engine.
func WithTurnListener(fn func(core.TurnSummary)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.turnListeners = append(r.turnListeners, fn)
		}
	}
}

// Runner owns one engine and its two agents for the length of a session.
type Runner struct {
	cfg       config.Config
	seed      int64
	log       logging.Logger
	store     storage.Store
	collector *observability.GameCollector

	episodeListeners []func(core.EpisodeResult)
	turnListeners    []func(core.TurnSummary)

	engine   *core.GameEngine
	attacker *agent.Attacker
	defender *agent.Defender
}

// NewRunner builds fresh agents sized to the topology and an engine around
// them. A zero cfg.Seed is replaced by a clock-derived seed; Seed reports
// the one in use.
func NewRunner(cfg config.Config, in Inputs, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if in.Topology == nil || in.Topology.NodeCount() == 0 {
		return nil, core.ErrEmptyTopology
	}
	if in.Traffic == nil || in.Attacks == nil {
		return nil, core.ErrNoDataset
	}

	r := &Runner{
		cfg:  cfg,
		seed: cfg.Seed,
		log:  logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.store == nil {
		r.store = storage.NewMemoryStore()
	}
	if r.seed == 0 {
		r.seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(r.seed))

	n := in.Topology.NodeCount()
	attackerModel, err := agent.NewAttackerModel(cfg.Agent, n, rng)
	if err != nil {
		return nil, fmt.Errorf("attacker model: %w", err)
	}
	defenderModel, err := agent.NewDefenderModel(cfg.Agent, rng)
	if err != nil {
		return nil, fmt.Errorf("defender model: %w", err)
	}
	if r.attacker, err = agent.NewAttacker(cfg.Agent, n, attackerModel, in.Attacks, rng, agent.WithLogger(r.log)); err != nil {
		return nil, err
	}
	if r.defender, err = agent.NewDefender(cfg.Agent, defenderModel, rng, agent.WithLogger(r.log)); err != nil {
		return nil, err
	}

	engineOpts := []core.Option{core.WithLogger(r.log)}
	if r.collector != nil {
		engineOpts = append(engineOpts, core.WithMetricsRecorder(r.collector))
	}
	for _, fn := range r.turnListeners {
		engineOpts = append(engineOpts, core.WithTurnListener(fn))
	}
	r.engine, err = core.NewGameEngine(cfg.Game, in.Topology, in.Traffic, r.attacker, r.defender, rng, engineOpts...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Seed returns the seed of the session's random source.
func (r *Runner) Seed() int64 { return r.seed }

func (r *Runner) Engine() *core.GameEngine  { return r.engine }
func (r *Runner) Attacker() *agent.Attacker { return r.attacker }
func (r *Runner) Defender() *agent.Defender { return r.defender }
func (r *Runner) Store() storage.Store      { return r.store }
func (r *Runner) agents() []agent.Agent     { return []agent.Agent{r.attacker, r.defender} }

// Run plays opts.Episodes episodes. The context is honoured between turns
// and between episodes; on cancellation the results so far are returned
// with the context error.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	if opts.Episodes < 0 {
		return Summary{}, fmt.Errorf("episodes must not be negative, got %d", opts.Episodes)
	}
	ctx, log := logging.WithRunLogger(ctx, r.log)
	summary := Summary{RunID: logging.RunIDFromContext(ctx), Seed: r.seed}

	ctx, span := observability.StartSpan(ctx, "sim.run",
		attribute.Int("episodes", opts.Episodes),
		attribute.Bool("train", opts.Train),
		attribute.Bool("load", opts.Load),
		attribute.Int64("seed", r.seed),
	)
	defer span.End()

	if opts.Train || opts.Load {
		if err := r.store.Init(ctx); err != nil {
			span.RecordError(err)
			return summary, fmt.Errorf("init store: %w", err)
		}
	}
	if opts.Load {
		if err := r.load(ctx); err != nil {
			span.RecordError(err)
			return summary, err
		}
	}
	for _, a := range r.agents() {
		r.collector.SetEpsilon(string(a.Role()), a.Epsilon())
	}

	log.Info(ctx, "session started",
		logging.Int("episodes", opts.Episodes),
		logging.Bool("train", opts.Train),
		logging.Bool("load", opts.Load),
		logging.Any("seed", r.seed),
		logging.Int("nodes", r.engine.NodeCount()),
	)

	for i := 0; i < opts.Episodes; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		epCtx, epLog := logging.WithEpisodeLogger(ctx, log, i+1)

		result, err := r.engine.RunEpisode(epCtx)
		if err != nil {
			span.RecordError(err)
			return summary, fmt.Errorf("episode %d: %w", i+1, err)
		}
		summary.Episodes = append(summary.Episodes, result)
		for _, fn := range r.episodeListeners {
			fn(result)
		}

		if !opts.Train {
			continue
		}
		attackerReport, defenderReport, err := r.train(epCtx)
		if err != nil {
			span.RecordError(err)
			return summary, fmt.Errorf("episode %d: %w", i+1, err)
		}
		summary.AttackerTraining = append(summary.AttackerTraining, attackerReport)
		summary.DefenderTraining = append(summary.DefenderTraining, defenderReport)
		epLog.Info(epCtx, "training complete",
			logging.Int("attacker_samples", attackerReport.Samples),
			logging.Int("defender_samples", defenderReport.Samples),
			logging.Float("attacker_epsilon", attackerReport.Epsilon),
			logging.Float("defender_epsilon", defenderReport.Epsilon),
		)
	}

	log.Info(ctx, "session complete", logging.Int("episodes", len(summary.Episodes)))
	return summary, nil
}

// train runs one sweep per agent, then persists both models and appends
// their losses.
func (r *Runner) train(ctx context.Context) (core.TrainReport, core.TrainReport, error) {
	start := time.Now()
	attackerReport, err := r.attacker.Train(ctx)
	if err != nil {
		return attackerReport, core.TrainReport{}, fmt.Errorf("train attacker: %w", err)
	}
	r.collector.ObserveTraining(string(agent.RoleAttacker), attackerReport, time.Since(start))

	start = time.Now()
	defenderReport, err := r.defender.Train(ctx)
	if err != nil {
		return attackerReport, defenderReport, fmt.Errorf("train defender: %w", err)
	}
	r.collector.ObserveTraining(string(agent.RoleDefender), defenderReport, time.Since(start))

	reports := map[agent.Role]core.TrainReport{
		agent.RoleAttacker: attackerReport,
		agent.RoleDefender: defenderReport,
	}
	for _, a := range r.agents() {
		if err := r.save(ctx, a); err != nil {
			return attackerReport, defenderReport, err
		}
		rep := reports[a.Role()]
		if err := r.store.AppendLoss(ctx, string(a.Role()), rep.MeanLoss, rep.HasLoss); err != nil {
			return attackerReport, defenderReport, fmt.Errorf("append %s loss: %w", a.Role(), err)
		}
	}
	return attackerReport, defenderReport, nil
}

func (r *Runner) save(ctx context.Context, a agent.Agent) error {
	ctx, span := observability.StartSpan(ctx, "storage.save_model", attribute.String("role", string(a.Role())))
	defer span.End()
	if err := a.Save(ctx, r.store); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (r *Runner) load(ctx context.Context) error {
	var errs []error
	for _, a := range r.agents() {
		ctx, span := observability.StartSpan(ctx, "storage.load_model", attribute.String("role", string(a.Role())))
		if err := a.Load(ctx, r.store); err != nil {
			span.RecordError(err)
			errs = append(errs, err)
		}
		span.End()
	}
	return errors.Join(errs...)
}
