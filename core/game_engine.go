package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/signalsfoundry/intrusion-game/internal/config"
	"github.com/signalsfoundry/intrusion-game/internal/logging"
	"github.com/signalsfoundry/intrusion-game/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/intrusion-game/core"

// Phase is the episode state of a GameEngine.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseRunning
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseRunning:
		return "running"
	case PhaseTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Quarantine kinds reported to metrics recorders.
const (
	QuarantineIsolate = "isolate"
	QuarantineSever   = "sever"
)

// TurnSummary describes what happened during one turn.
type TurnSummary struct {
	Episode      int
	Turn         int
	Background   int
	Attacked     bool
	AttackTarget string
	Inspected    int
	Uninspected  int
	Dropped      int
	Infections   int
	Isolations   int
	Severed      int
	Reachable    int
	Infected     int
}

// EpisodeResult describes a finished episode.
type EpisodeResult struct {
	Episode       int
	SeedNode      string
	Turns         int
	Infected      int
	Quarantined   int
	SeveredEdges  int
	Attacks       int
	Messages      int
	Inspected     int
	Uninspected   int
	Dropped       int
	AttackerScore float64
	DefenderScore float64
	Truncated     bool
}

// MetricsRecorder receives game events. Implementations must be cheap; they
// are called inline for every message.
type MetricsRecorder interface {
	ObserveInspection(truth model.TrafficLabel, label model.SuspicionLabel)
	ObserveUninspected()
	ObserveDropped()
	ObserveInfection()
	ObserveQuarantine(kind string, edges int)
	ObserveTurn(summary TurnSummary)
	ObserveEpisode(result EpisodeResult)
}

// GameEngine runs episodes of the infection and quarantine game. It owns
// the topology exclusively; agents only see snapshots. The engine is
// single-threaded: every call must come from the same goroutine.
type GameEngine struct {
	cfg       config.Game
	blueprint *Topology
	traffic   *TrafficGenerator
	attacker  Attacker
	defender  Defender
	rng       *rand.Rand
	log       logging.Logger
	metrics   MetricsRecorder
	listeners []func(TurnSummary)

	topo    *Topology
	phase   Phase
	episode int
	result  EpisodeResult
}

// Option customises GameEngine construction.
type Option func(*GameEngine)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *GameEngine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional recorder for game events.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *GameEngine) {
		e.metrics = m
	}
}

// WithTurnListener registers a callback invoked after every turn.
func WithTurnListener(fn func(TurnSummary)) Option {
	return func(e *GameEngine) {
		if fn != nil {
			e.listeners = append(e.listeners, fn)
		}
	}
}

// NewGameEngine wires an engine. The blueprint topology is cloned at the
// start of every episode and never mutated. rng is the single random source
// for traffic sampling, seeding and inspection draws; share it with the
// agents to make a run reproducible from one seed.
func NewGameEngine(cfg config.Game, blueprint *Topology, traffic TrafficSource, attacker Attacker, defender Defender, rng *rand.Rand, opts ...Option) (*GameEngine, error) {
	if blueprint == nil || blueprint.NodeCount() == 0 {
		return nil, ErrEmptyTopology
	}
	if attacker == nil || defender == nil {
		return nil, errors.New("NewGameEngine: attacker and defender are required")
	}
	if rng == nil {
		return nil, errors.New("NewGameEngine: rng is required")
	}
	gen, err := NewTrafficGenerator(traffic, cfg.MaxBackgroundMessages)
	if err != nil {
		return nil, fmt.Errorf("NewGameEngine: %w", err)
	}

	e := &GameEngine{
		cfg:       cfg,
		blueprint: blueprint.Clone(),
		traffic:   gen,
		attacker:  attacker,
		defender:  defender,
		rng:       rng,
		log:       logging.Noop(),
		phase:     PhaseInitializing,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Phase returns the current episode phase.
func (e *GameEngine) Phase() Phase { return e.phase }

// Episode returns the number of the current (or last) episode, starting at 1.
func (e *GameEngine) Episode() int { return e.episode }

// Topology exposes the live topology for inspection. It is nil until the
// first Initialize. Callers must not mutate it.
func (e *GameEngine) Topology() *Topology { return e.topo }

// NodeCount is the size of the network every episode is played on.
func (e *GameEngine) NodeCount() int { return e.blueprint.NodeCount() }

// Result returns the running tally of the current episode.
func (e *GameEngine) Result() EpisodeResult { return e.result }

// Initialize starts a new episode: it reloads the topology, infects one
// random seed node, and clears both agents' per-episode memory. Learned
// model weights are untouched. If nothing is reachable from the seed the
// episode is terminal immediately.
func (e *GameEngine) Initialize(ctx context.Context) error {
	e.phase = PhaseInitializing
	e.episode++
	e.topo = e.blueprint.Clone()

	seed := e.topo.NodeID(e.rng.Intn(e.topo.NodeCount()))
	if err := e.topo.Infect(seed); err != nil {
		return err
	}

	e.attacker.PrepareForNextGame()
	e.defender.PrepareForNextGame()

	e.result = EpisodeResult{
		Episode:  e.episode,
		SeedNode: seed,
		Infected: e.topo.InfectedCount(),
	}

	e.phase = PhaseRunning
	if e.topo.Exhausted() {
		e.phase = PhaseTerminal
	}
	e.logger(ctx).Debug(ctx, "episode initialised",
		logging.Int("episode", e.episode),
		logging.String("seed", seed),
		logging.Int("nodes", e.topo.NodeCount()),
		logging.Int("edges", e.topo.EdgeCount()),
		logging.Int("reachable", e.topo.ReachableCount()),
	)
	return nil
}

// Step plays one turn: it builds the traffic queues, asks the attacker for
// its move, then delivers every queued message in node order.
func (e *GameEngine) Step(ctx context.Context) (TurnSummary, error) {
	switch e.phase {
	case PhaseInitializing:
		return TurnSummary{}, ErrNotInitialized
	case PhaseTerminal:
		return TurnSummary{}, ErrEpisodeOver
	}

	queues := e.traffic.Generate(e.topo, e.rng)
	summary := TurnSummary{
		Episode:    e.episode,
		Turn:       e.result.Turns + 1,
		Background: queues.Total(),
	}

	obs := AttackObservation{
		TrafficFlow: queues.Flow(),
		Reachable:   e.topo.ReachableVector(),
		Potential:   e.topo.PotentialVector(e.cfg.MinPotential),
		Infected:    e.topo.Infected(),
		Graph:       e.topo,
	}
	attackFeatures := obs.Features()

	attack, target, err := e.attacker.GetAttack(obs)
	if err != nil {
		return summary, fmt.Errorf("attacker decision: %w", err)
	}
	if attack != nil {
		if _, err := queues.InsertAttack(e.topo, *attack, e.rng); err != nil {
			return summary, err
		}
		summary.Attacked = true
		summary.AttackTarget = attack.Destination
		e.result.Attacks++
	}

	// Queue lengths are fixed when the turn starts; they model the load the
	// defender faces, not what is left after earlier deliveries.
	lengths := make([]int, queues.NodeCount())
	for i := range lengths {
		lengths[i] = queues.Len(i)
	}

	for i := 0; i < queues.NodeCount(); i++ {
		for _, entry := range queues.Queue(i) {
			if err := e.deliver(ctx, entry, lengths[i], attackFeatures, target, &summary); err != nil {
				return summary, err
			}
		}
	}

	e.result.Turns++
	e.result.Infected = e.topo.InfectedCount()
	e.result.Quarantined = len(e.topo.QuarantinedNodes())
	e.result.SeveredEdges = e.topo.SeveredEdges()
	summary.Reachable = e.topo.ReachableCount()
	summary.Infected = e.topo.InfectedCount()

	switch {
	case e.topo.Exhausted():
		e.phase = PhaseTerminal
	case e.cfg.MaxTurns > 0 && e.result.Turns >= e.cfg.MaxTurns:
		e.phase = PhaseTerminal
		e.result.Truncated = true
	}

	e.logger(ctx).Debug(ctx, "turn complete",
		logging.Int("turn", summary.Turn),
		logging.Bool("attacked", summary.Attacked),
		logging.String("target", summary.AttackTarget),
		logging.Int("inspected", summary.Inspected),
		logging.Int("uninspected", summary.Uninspected),
		logging.Int("infected", summary.Infected),
		logging.Int("reachable", summary.Reachable),
	)
	if e.metrics != nil {
		e.metrics.ObserveTurn(summary)
	}
	for _, fn := range e.listeners {
		fn(summary)
	}
	return summary, nil
}

// deliver processes a single queued message. Stakes are read before any
// mutation so the reward reflects the network the message arrived in.
func (e *GameEngine) deliver(ctx context.Context, entry QueuedMessage, queueLen int, attackFeatures []float64, target int, summary *TurnSummary) error {
	msg := entry.Message
	e.result.Messages++

	// A quarantine earlier in the turn may have cut the path this message
	// was travelling on.
	if !e.topo.HasEdge(msg.Origin, msg.Destination) {
		summary.Dropped++
		e.result.Dropped++
		if e.metrics != nil {
			e.metrics.ObserveDropped()
		}
		return nil
	}

	potential := e.topo.Potential(msg.Destination, e.cfg.MinPotential)

	if e.rng.Float64() >= InspectionChance(e.cfg.Inspection, queueLen) {
		summary.Uninspected++
		e.result.Uninspected++
		if e.metrics != nil {
			e.metrics.ObserveUninspected()
		}
		if err := e.maybeInfect(ctx, msg, model.SuspicionNone, summary); err != nil {
			return err
		}
		if entry.Attack {
			if reward, ok := AttackerReward(msg, model.SuspicionNone, potential); ok {
				e.attacker.AddTrainingPoint(attackFeatures, target, reward)
				e.result.AttackerScore += reward
			}
		}
		return nil
	}

	label, err := e.defender.Inspect(msg)
	if err != nil {
		return fmt.Errorf("defender inspection: %w", err)
	}
	summary.Inspected++
	e.result.Inspected++
	if e.metrics != nil {
		e.metrics.ObserveInspection(msg.Label, label)
	}

	if err := e.quarantine(ctx, msg, label, summary); err != nil {
		return err
	}
	if err := e.maybeInfect(ctx, msg, label, summary); err != nil {
		return err
	}

	reward := DefenderReward(msg, label, potential)
	e.defender.AddTrainingPoint(msg, label, reward)
	e.result.DefenderScore += reward

	if entry.Attack {
		if attackerReward, ok := AttackerReward(msg, label, potential); ok {
			e.attacker.AddTrainingPoint(attackFeatures, target, attackerReward)
			e.result.AttackerScore += attackerReward
		}
	}
	return nil
}

// quarantine applies the defender's response. HIGH isolates the origin by
// severing all of its outgoing edges; MEDIUM severs only the edge the
// message used; LOW and NONE leave the topology alone.
func (e *GameEngine) quarantine(ctx context.Context, msg model.Message, label model.SuspicionLabel, summary *TurnSummary) error {
	switch label {
	case model.SuspicionHigh:
		removed, err := e.topo.Isolate(msg.Origin)
		if err != nil {
			return err
		}
		summary.Isolations++
		summary.Severed += removed
		if e.metrics != nil {
			e.metrics.ObserveQuarantine(QuarantineIsolate, removed)
		}
		e.logger(ctx).Debug(ctx, "origin isolated",
			logging.String("origin", msg.Origin),
			logging.Int("edges", removed),
		)
	case model.SuspicionMedium:
		if e.topo.Sever(msg.Origin, msg.Destination) {
			summary.Severed++
			if e.metrics != nil {
				e.metrics.ObserveQuarantine(QuarantineSever, 1)
			}
			e.logger(ctx).Debug(ctx, "edge severed",
				logging.String("origin", msg.Origin),
				logging.String("destination", msg.Destination),
			)
		}
	}
	return nil
}

// maybeInfect infects the destination when a malicious message from an
// infected origin gets through without a MEDIUM or HIGH verdict. Malicious
// background rows from clean origins carry no infection.
func (e *GameEngine) maybeInfect(ctx context.Context, msg model.Message, label model.SuspicionLabel, summary *TurnSummary) error {
	if !msg.IsMalicious() || label.Flagged() {
		return nil
	}
	if !e.topo.IsInfected(msg.Origin) || e.topo.IsInfected(msg.Destination) {
		return nil
	}
	if err := e.topo.Infect(msg.Destination); err != nil {
		return err
	}
	summary.Infections++
	if e.metrics != nil {
		e.metrics.ObserveInfection()
	}
	e.logger(ctx).Debug(ctx, "node infected",
		logging.String("node", msg.Destination),
		logging.String("from", msg.Origin),
	)
	return nil
}

// RunEpisode initialises a fresh episode and plays turns until nothing is
// reachable (or the turn guard trips). The context is checked between turns.
func (e *GameEngine) RunEpisode(ctx context.Context) (EpisodeResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "game.episode",
		trace.WithAttributes(attribute.Int("episode", e.episode+1)))
	defer span.End()

	if err := e.Initialize(ctx); err != nil {
		span.RecordError(err)
		return EpisodeResult{}, err
	}
	span.SetAttributes(attribute.String("seed_node", e.result.SeedNode))
	e.logger(ctx).Info(ctx, "episode started",
		logging.String("seed", e.result.SeedNode),
		logging.Int("reachable", e.topo.ReachableCount()),
	)

	for e.phase == PhaseRunning {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return e.result, err
		}
		if _, err := e.Step(ctx); err != nil {
			span.RecordError(err)
			return e.result, err
		}
	}

	span.SetAttributes(
		attribute.Int("turns", e.result.Turns),
		attribute.Int("infected", e.result.Infected),
		attribute.Bool("truncated", e.result.Truncated),
	)
	if e.result.Truncated {
		e.logger(ctx).Warn(ctx, "episode truncated by turn guard",
			logging.Int("episode", e.episode),
			logging.Int("max_turns", e.cfg.MaxTurns),
		)
	}
	e.logger(ctx).Info(ctx, "episode complete",
		logging.Int("turns", e.result.Turns),
		logging.Int("infected", e.result.Infected),
		logging.Int("quarantined", e.result.Quarantined),
		logging.Int("severed_edges", e.result.SeveredEdges),
		logging.Float("attacker_score", e.result.AttackerScore),
		logging.Float("defender_score", e.result.DefenderScore),
	)
	if e.metrics != nil {
		e.metrics.ObserveEpisode(e.result)
	}
	return e.result, nil
}

// logger prefers the episode-scoped logger carried by ctx.
func (e *GameEngine) logger(ctx context.Context) logging.Logger {
	return logging.LoggerFromContext(ctx, e.log)
}

// Train runs one training sweep for both agents.
func (e *GameEngine) Train(ctx context.Context) (attacker, defender TrainReport, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "game.train", trace.WithAttributes(attribute.Int("episode", e.episode)))
	defer span.End()

	attacker, err = e.attacker.Train(ctx)
	if err != nil {
		span.RecordError(err)
		return attacker, defender, fmt.Errorf("train attacker: %w", err)
	}
	defender, err = e.defender.Train(ctx)
	if err != nil {
		span.RecordError(err)
		return attacker, defender, fmt.Errorf("train defender: %w", err)
	}
	return attacker, defender, nil
}
