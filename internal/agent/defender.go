package agent

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/signalsfoundry/intrusion-game/core"
	"github.com/signalsfoundry/intrusion-game/internal/config"
	"github.com/signalsfoundry/intrusion-game/internal/policy"
	"github.com/signalsfoundry/intrusion-game/model"
)

// DefenderRecord is one defender experience. The action is the label the
// defender assigned.
type DefenderRecord struct {
	Features []float64
	Label    model.SuspicionLabel
	Reward   float64
}

// Defender inspects messages and learns which verdicts pay off.
type Defender struct {
	learner
	memory *Memory[DefenderRecord]
}

var (
	_ core.Defender = (*Defender)(nil)
	_ Agent         = (*Defender)(nil)
)

// NewDefenderModel builds the default network for a defender: one input per
// message feature and one output per suspicion label.
func NewDefenderModel(cfg config.Agent, rng *rand.Rand) (policy.Model, error) {
	return policy.NewNetwork(model.FeatureCount, cfg.HiddenLayers, model.SuspicionLabelCount, cfg.LearningRate, rng)
}

// NewDefender wires a defender around m, which must map FeatureCount inputs
// to SuspicionLabelCount scores.
func NewDefender(cfg config.Agent, m policy.Model, rng *rand.Rand, opts ...Option) (*Defender, error) {
	ln, err := newLearner(RoleDefender, cfg, m, rng, opts)
	if err != nil {
		return nil, err
	}
	if m.InputSize() != model.FeatureCount || m.OutputSize() != model.SuspicionLabelCount {
		return nil, fmt.Errorf("%w: defender needs %d -> %d, got %d -> %d", ErrShape,
			model.FeatureCount, model.SuspicionLabelCount, m.InputSize(), m.OutputSize())
	}
	return &Defender{
		learner: ln,
		memory:  NewMemory[DefenderRecord](cfg.MemoryCapacity),
	}, nil
}

// Inspect labels msg. With probability epsilon the label is uniformly
// random; otherwise it is the argmax of the policy's four scores.
func (d *Defender) Inspect(msg model.Message) (model.SuspicionLabel, error) {
	if d.explore() {
		return model.SuspicionLabels[d.rng.Intn(len(model.SuspicionLabels))], nil
	}
	scores, err := d.model.Predict(msg.NetworkInputs())
	if err != nil {
		return model.SuspicionNone, fmt.Errorf("defender predict: %w", err)
	}
	best := policy.Argmax(scores)
	if best < 0 {
		return model.SuspicionNone, nil
	}
	return model.SuspicionLabel(best), nil
}

// AddTrainingPoint stores the experience and adds reward to the score.
func (d *Defender) AddTrainingPoint(msg model.Message, label model.SuspicionLabel, reward float64) {
	d.memory.Push(DefenderRecord{
		Features: msg.NetworkInputs(),
		Label:    label,
		Reward:   reward,
	})
	d.score += reward
}

// PrepareForNextGame clears the per-episode memory and score.
func (d *Defender) PrepareForNextGame() {
	d.memory.Reset()
	d.score = 0
}

// MemoryLen returns the number of stored experiences.
func (d *Defender) MemoryLen() int { return d.memory.Len() }

// Memory exposes the experience buffer for inspection.
func (d *Defender) Memory() *Memory[DefenderRecord] { return d.memory }

// Train replays every stored experience once. The score of the label that
// was chosen is replaced by the observed reward; the other three keep the
// model's own prediction. Epsilon decays after a non-empty sweep.
func (d *Defender) Train(ctx context.Context) (core.TrainReport, error) {
	return replay(ctx, &d.learner, d.memory,
		func(r DefenderRecord) []float64 { return r.Features },
		func(r DefenderRecord, target []float64) { target[r.Label] = r.Reward },
	)
}
