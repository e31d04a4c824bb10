package core

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/signalsfoundry/intrusion-game/internal/config"
	"github.com/signalsfoundry/intrusion-game/model"
)

type attackPoint struct {
	features []float64
	target   int
	reward   float64
}

// scriptedAttacker attacks the first reachable node, or passes when pass is
// set or nothing is reachable.
type scriptedAttacker struct {
	pass     bool
	points   []attackPoint
	prepared int
	trained  int
}

func (a *scriptedAttacker) GetAttack(obs AttackObservation) (*model.Message, int, error) {
	n := obs.Graph.NodeCount()
	if a.pass {
		return nil, n, nil
	}
	for i, r := range obs.Reachable {
		if r == 0 {
			continue
		}
		dest := obs.Graph.NodeID(i)
		for _, origin := range obs.Infected {
			if obs.Graph.HasEdge(origin, dest) {
				msg := model.NewMessage(origin, dest, model.LabelMalicious, model.FlowStats{TotalPackets: 1})
				return &msg, i, nil
			}
		}
	}
	return nil, n, nil
}

func (a *scriptedAttacker) AddTrainingPoint(features []float64, destination int, reward float64) {
	a.points = append(a.points, attackPoint{features: features, target: destination, reward: reward})
}

func (a *scriptedAttacker) PrepareForNextGame() {
	a.points = nil
	a.prepared++
}

func (a *scriptedAttacker) Train(context.Context) (TrainReport, error) {
	a.trained++
	return TrainReport{Samples: len(a.points)}, nil
}

type defendPoint struct {
	msg    model.Message
	label  model.SuspicionLabel
	reward float64
}

// scriptedDefender labels messages with a fixed function of the message.
type scriptedDefender struct {
	label    func(model.Message) model.SuspicionLabel
	inspects int
	points   []defendPoint
	prepared int
}

func (d *scriptedDefender) Inspect(msg model.Message) (model.SuspicionLabel, error) {
	d.inspects++
	return d.label(msg), nil
}

func (d *scriptedDefender) AddTrainingPoint(msg model.Message, label model.SuspicionLabel, reward float64) {
	d.points = append(d.points, defendPoint{msg: msg, label: label, reward: reward})
}

func (d *scriptedDefender) PrepareForNextGame() {
	d.points = nil
	d.prepared++
}

func (d *scriptedDefender) Train(context.Context) (TrainReport, error) {
	return TrainReport{Samples: len(d.points)}, nil
}

func always(l model.SuspicionLabel) func(model.Message) model.SuspicionLabel {
	return func(model.Message) model.SuspicionLabel { return l }
}

func byTruth(malicious, benign model.SuspicionLabel) func(model.Message) model.SuspicionLabel {
	return func(m model.Message) model.SuspicionLabel {
		if m.IsMalicious() {
			return malicious
		}
		return benign
	}
}

// alwaysInspect makes every inspection draw succeed; neverInspect makes
// every one fail.
var (
	alwaysInspect = config.InspectionCurve{Capacity: 1e6, Steepness: 1}
	neverInspect  = config.InspectionCurve{Capacity: -1e6, Steepness: 1}
)

func testGameConfig(curve config.InspectionCurve) config.Game {
	cfg := config.Default().Game
	cfg.Inspection = curve
	return cfg
}

func newTestEngine(t *testing.T, cfg config.Game, topo *Topology, att Attacker, def Defender, opts ...Option) *GameEngine {
	t.Helper()
	engine, err := NewGameEngine(cfg, topo, benignRows(8), att, def, rand.New(rand.NewSource(99)), opts...)
	if err != nil {
		t.Fatalf("NewGameEngine: %v", err)
	}
	return engine
}

func TestNewGameEngineValidation(t *testing.T) {
	cfg := testGameConfig(alwaysInspect)
	rng := rand.New(rand.NewSource(1))
	att, def := &scriptedAttacker{}, &scriptedDefender{label: always(model.SuspicionNone)}

	if _, err := NewGameEngine(cfg, NewTopology(), benignRows(1), att, def, rng); !errors.Is(err, ErrEmptyTopology) {
		t.Fatalf("empty topology err = %v", err)
	}
	if _, err := NewGameEngine(cfg, ring("a", "b"), rowSource{}, att, def, rng); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("empty dataset err = %v", err)
	}
	if _, err := NewGameEngine(cfg, ring("a", "b"), benignRows(1), nil, def, rng); err == nil {
		t.Fatalf("nil attacker accepted")
	}
	if _, err := NewGameEngine(cfg, ring("a", "b"), benignRows(1), att, def, nil); err == nil {
		t.Fatalf("nil rng accepted")
	}
}

func TestStepBeforeInitialize(t *testing.T) {
	engine := newTestEngine(t, testGameConfig(alwaysInspect), ring("a", "b"), &scriptedAttacker{}, &scriptedDefender{label: always(model.SuspicionNone)})
	if _, err := engine.Step(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Step err = %v, want ErrNotInitialized", err)
	}
}

func TestNodeCountBeforeFirstEpisode(t *testing.T) {
	engine := newTestEngine(t, testGameConfig(alwaysInspect), ring("A", "B", "C"), &scriptedAttacker{}, &scriptedDefender{label: always(model.SuspicionNone)})
	if engine.Topology() != nil {
		t.Fatalf("live topology exists before Initialize")
	}
	if engine.NodeCount() != 3 {
		t.Fatalf("NodeCount() = %d, want 3", engine.NodeCount())
	}
}

func TestUndefendedRingIsFullyInfected(t *testing.T) {
	att := &scriptedAttacker{}
	def := &scriptedDefender{label: always(model.SuspicionNone)}
	engine := newTestEngine(t, testGameConfig(alwaysInspect), ring("A", "B", "C"), att, def)

	res, err := engine.RunEpisode(context.Background())
	if err != nil {
		t.Fatalf("RunEpisode: %v", err)
	}
	if engine.Phase() != PhaseTerminal {
		t.Fatalf("phase = %v, want terminal", engine.Phase())
	}
	if res.Infected != 3 || res.Turns != 2 || res.Truncated {
		t.Fatalf("result = %+v, want 3 infected in 2 turns", res)
	}
	// First attack exposes the last clean node (potential 1); the second
	// closes the ring and earns the floor.
	if len(att.points) != 2 || att.points[0].reward != 1 || att.points[1].reward != 1 {
		t.Fatalf("attacker experience = %+v", att.points)
	}
	if res.AttackerScore != 2 {
		t.Fatalf("attacker score = %v, want 2", res.AttackerScore)
	}
	for _, p := range att.points {
		if len(p.features) != 9 {
			t.Fatalf("attacker features have %d values, want 3 x 3", len(p.features))
		}
	}
	if att.prepared != 1 || def.prepared != 1 {
		t.Fatalf("agents prepared %d/%d times, want once each", att.prepared, def.prepared)
	}
}

func TestHighVerdictIsolatesAttackOrigin(t *testing.T) {
	att := &scriptedAttacker{}
	def := &scriptedDefender{label: byTruth(model.SuspicionHigh, model.SuspicionNone)}
	engine := newTestEngine(t, testGameConfig(alwaysInspect), ring("A", "B", "C"), att, def)

	res, err := engine.RunEpisode(context.Background())
	if err != nil {
		t.Fatalf("RunEpisode: %v", err)
	}
	seed := res.SeedNode
	if res.Infected != 1 || res.Turns != 1 {
		t.Fatalf("result = %+v, want the seed alone after one turn", res)
	}
	if !engine.Topology().Quarantined(seed) || engine.Topology().OutDegree(seed) != 0 {
		t.Fatalf("seed %s not isolated", seed)
	}
	if len(att.points) != 1 || att.points[0].reward != -1 {
		t.Fatalf("attacker experience = %+v, want one -1", att.points)
	}
	var caught int
	for _, p := range def.points {
		if p.msg.IsMalicious() {
			caught++
			if p.reward != 1 {
				t.Fatalf("defender reward for catching the attack = %v, want 1", p.reward)
			}
		}
	}
	if caught != 1 {
		t.Fatalf("defender saw %d attacks, want 1", caught)
	}
}

func TestFalsePositiveHighOnBenignTraffic(t *testing.T) {
	att := &scriptedAttacker{pass: true}
	def := &scriptedDefender{label: always(model.SuspicionHigh)}
	engine := newTestEngine(t, testGameConfig(alwaysInspect), ring("A", "B", "C", "D"), att, def)

	ctx := context.Background()
	if err := engine.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	summary, err := engine.Step(ctx)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if summary.Inspected == 0 {
		t.Fatalf("no background traffic inspected")
	}
	if len(att.points) != 0 {
		t.Fatalf("benign traffic produced attacker experience")
	}
	for _, p := range def.points {
		if p.reward >= 0 {
			t.Fatalf("HIGH on benign traffic rewarded %v, want negative", p.reward)
		}
		if !engine.Topology().Quarantined(p.msg.Origin) {
			t.Fatalf("origin %s of a HIGH verdict not quarantined", p.msg.Origin)
		}
	}
	if engine.Topology().InfectedCount() != 1 {
		t.Fatalf("benign traffic infected nodes")
	}
}

func TestSingleNodeTopologyIsTerminalAtStart(t *testing.T) {
	topo := NewTopology()
	topo.AddNode("solo")
	att := &scriptedAttacker{}
	engine := newTestEngine(t, testGameConfig(alwaysInspect), topo, att, &scriptedDefender{label: always(model.SuspicionNone)})

	res, err := engine.RunEpisode(context.Background())
	if err != nil {
		t.Fatalf("RunEpisode: %v", err)
	}
	if res.Turns != 0 || res.SeedNode != "solo" || engine.Phase() != PhaseTerminal {
		t.Fatalf("result = %+v phase = %v, want terminal with zero turns", res, engine.Phase())
	}
	if _, err := engine.Step(context.Background()); !errors.Is(err, ErrEpisodeOver) {
		t.Fatalf("Step after terminal err = %v", err)
	}
}

func TestSkippedInspectionDeliversAttack(t *testing.T) {
	att := &scriptedAttacker{}
	def := &scriptedDefender{label: always(model.SuspicionHigh)}
	engine := newTestEngine(t, testGameConfig(neverInspect), ring("A", "B", "C"), att, def)

	res, err := engine.RunEpisode(context.Background())
	if err != nil {
		t.Fatalf("RunEpisode: %v", err)
	}
	if def.inspects != 0 || len(def.points) != 0 {
		t.Fatalf("defender consulted %d times with %d points", def.inspects, len(def.points))
	}
	if res.Infected != 3 || res.Uninspected == 0 || res.Inspected != 0 {
		t.Fatalf("result = %+v", res)
	}
	for _, p := range att.points {
		if p.reward <= 0 {
			t.Fatalf("unseen attack rewarded %v, want positive potential", p.reward)
		}
	}
}

func TestMessagesOnSeveredEdgeAreDropped(t *testing.T) {
	topo := NewTopology()
	topo.AddEdge("a", "b")
	att := &scriptedAttacker{}
	def := &scriptedDefender{label: always(model.SuspicionMedium)}
	engine := newTestEngine(t, testGameConfig(alwaysInspect), topo, att, def)
	ctx := context.Background()

	// Re-roll until the seed is the node with an outgoing edge.
	for i := 0; i < 64; i++ {
		if err := engine.Initialize(ctx); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if engine.Phase() == PhaseRunning {
			break
		}
	}
	if engine.Phase() != PhaseRunning {
		t.Fatalf("seed never landed on a")
	}

	summary, err := engine.Step(ctx)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if summary.Inspected != 1 || summary.Severed != 1 {
		t.Fatalf("summary = %+v, want exactly one inspection that severs a -> b", summary)
	}
	if summary.Dropped != summary.Background {
		t.Fatalf("dropped %d of %d background messages behind the severed edge", summary.Dropped, summary.Background)
	}
	if engine.Topology().IsInfected("b") || engine.Phase() != PhaseTerminal {
		t.Fatalf("MEDIUM verdict must stop the infection and end the game")
	}
}

func TestTurnGuardTruncates(t *testing.T) {
	cfg := testGameConfig(alwaysInspect)
	cfg.MaxTurns = 3
	var turns []TurnSummary
	engine := newTestEngine(t, cfg, ring("A", "B", "C"), &scriptedAttacker{pass: true}, &scriptedDefender{label: always(model.SuspicionNone)},
		WithTurnListener(func(s TurnSummary) { turns = append(turns, s) }))

	res, err := engine.RunEpisode(context.Background())
	if err != nil {
		t.Fatalf("RunEpisode: %v", err)
	}
	if !res.Truncated || res.Turns != 3 || len(turns) != 3 {
		t.Fatalf("result = %+v with %d turn callbacks, want truncation after 3", res, len(turns))
	}
	if turns[2].Turn != 3 || turns[0].Attacked {
		t.Fatalf("unexpected turn summaries %+v", turns)
	}
}

func TestRunEpisodeHonoursCancellation(t *testing.T) {
	engine := newTestEngine(t, testGameConfig(alwaysInspect), ring("A", "B", "C"), &scriptedAttacker{pass: true}, &scriptedDefender{label: always(model.SuspicionNone)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.RunEpisode(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunEpisode err = %v, want context.Canceled", err)
	}
}

type countingRecorder struct {
	inspections, uninspected, dropped, infections, quarantines, turns, episodes int
}

func (r *countingRecorder) ObserveInspection(model.TrafficLabel, model.SuspicionLabel) { r.inspections++ }
func (r *countingRecorder) ObserveUninspected()                                        { r.uninspected++ }
func (r *countingRecorder) ObserveDropped()                                            { r.dropped++ }
func (r *countingRecorder) ObserveInfection()                                          { r.infections++ }
func (r *countingRecorder) ObserveQuarantine(string, int)                              { r.quarantines++ }
func (r *countingRecorder) ObserveTurn(TurnSummary)                                    { r.turns++ }
func (r *countingRecorder) ObserveEpisode(EpisodeResult)                               { r.episodes++ }

func TestEngineReportsMetrics(t *testing.T) {
	rec := &countingRecorder{}
	engine := newTestEngine(t, testGameConfig(alwaysInspect), ring("A", "B", "C"), &scriptedAttacker{}, &scriptedDefender{label: always(model.SuspicionNone)},
		WithMetricsRecorder(rec))

	res, err := engine.RunEpisode(context.Background())
	if err != nil {
		t.Fatalf("RunEpisode: %v", err)
	}
	if rec.episodes != 1 || rec.turns != res.Turns || rec.infections != 2 || rec.inspections != res.Inspected {
		t.Fatalf("recorder = %+v, result = %+v", rec, res)
	}
}

func TestEngineTrainDrivesBothAgents(t *testing.T) {
	att := &scriptedAttacker{}
	engine := newTestEngine(t, testGameConfig(alwaysInspect), ring("A", "B", "C"), att, &scriptedDefender{label: always(model.SuspicionNone)})
	if _, err := engine.RunEpisode(context.Background()); err != nil {
		t.Fatalf("RunEpisode: %v", err)
	}
	a, d, err := engine.Train(context.Background())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if att.trained != 1 || a.Samples != 2 || d.Samples == 0 {
		t.Fatalf("train reports %+v %+v", a, d)
	}
}

func TestThresholdDefender(t *testing.T) {
	def := NewThresholdDefender(ScorerFunc(func(m model.Message) (float64, error) {
		if m.IsMalicious() {
			return 0.9, nil
		}
		return 0.05, nil
	}), defaultClassifier(t))

	if l, _ := def.Inspect(maliciousMsg); l != model.SuspicionHigh {
		t.Fatalf("malicious labelled %v", l)
	}
	if l, _ := def.Inspect(benignMsg); l != model.SuspicionNone {
		t.Fatalf("benign labelled %v", l)
	}
	def.AddTrainingPoint(benignMsg, model.SuspicionNone, 2)
	if def.Score() != 2 {
		t.Fatalf("score = %v", def.Score())
	}
	def.PrepareForNextGame()
	if def.Score() != 0 {
		t.Fatalf("score not reset")
	}
}
