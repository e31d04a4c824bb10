package agent

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/signalsfoundry/intrusion-game/core"
	"github.com/signalsfoundry/intrusion-game/internal/config"
	"github.com/signalsfoundry/intrusion-game/internal/policy"
	"github.com/signalsfoundry/intrusion-game/model"
)

// AttackSource supplies malicious flows to disguise attacks as.
type AttackSource interface {
	SampleMalicious(rng *rand.Rand) (model.Message, error)
}

// AttackerRecord is one attacker experience. Features is the full
// observation the decision was made from; its middle third is the
// reachability mask at that time.
type AttackerRecord struct {
	Features []float64
	Action   int
	Reward   float64
}

// Attacker picks a reachable node to infect each turn, or passes.
type Attacker struct {
	learner
	memory    *Memory[AttackerRecord]
	nodeCount int
	attacks   AttackSource
}

var (
	_ core.Attacker = (*Attacker)(nil)
	_ Agent         = (*Attacker)(nil)
)

// NewAttackerModel builds the default network for an attacker on a graph of
// nodeCount nodes: 3 x nodeCount inputs and one output per node plus pass.
func NewAttackerModel(cfg config.Agent, nodeCount int, rng *rand.Rand) (policy.Model, error) {
	return policy.NewNetwork(3*nodeCount, cfg.HiddenLayers, nodeCount+1, cfg.LearningRate, rng)
}

// NewAttacker wires an attacker for a graph of nodeCount nodes.
func NewAttacker(cfg config.Agent, nodeCount int, m policy.Model, attacks AttackSource, rng *rand.Rand, opts ...Option) (*Attacker, error) {
	if nodeCount < 1 {
		return nil, fmt.Errorf("attacker needs at least one node, got %d", nodeCount)
	}
	if attacks == nil {
		return nil, fmt.Errorf("attacker needs an attack source")
	}
	ln, err := newLearner(RoleAttacker, cfg, m, rng, opts)
	if err != nil {
		return nil, err
	}
	if m.InputSize() != 3*nodeCount || m.OutputSize() != nodeCount+1 {
		return nil, fmt.Errorf("%w: attacker on %d nodes needs %d -> %d, got %d -> %d", ErrShape,
			nodeCount, 3*nodeCount, nodeCount+1, m.InputSize(), m.OutputSize())
	}
	return &Attacker{
		learner:   ln,
		memory:    NewMemory[AttackerRecord](cfg.MemoryCapacity),
		nodeCount: nodeCount,
		attacks:   attacks,
	}, nil
}

// PassIndex is the action index meaning "attack nothing this turn".
func (a *Attacker) PassIndex() int { return a.nodeCount }

// GetAttack chooses a destination. With probability epsilon the choice is
// uniform over reachable nodes plus pass; otherwise it is the argmax of the
// policy's scores with unreachable nodes disqualified. For a node choice the
// attack originates at the first infected node (in infection order) with an
// edge to the destination and carries the statistics of a random malicious
// row.
func (a *Attacker) GetAttack(obs core.AttackObservation) (*model.Message, int, error) {
	n := a.nodeCount
	if len(obs.Reachable) != n || obs.Graph == nil || obs.Graph.NodeCount() != n {
		return nil, n, fmt.Errorf("%w: attacker built for %d nodes, observation has %d", ErrShape, n, len(obs.Reachable))
	}

	var choice int
	if a.explore() {
		options := make([]int, 0, n+1)
		for i, r := range obs.Reachable {
			if r > 0 {
				options = append(options, i)
			}
		}
		options = append(options, n)
		choice = options[a.rng.Intn(len(options))]
	} else {
		scores, err := a.model.Predict(obs.Features())
		if err != nil {
			return nil, n, fmt.Errorf("attacker predict: %w", err)
		}
		for i := 0; i < n; i++ {
			if obs.Reachable[i] <= 0 {
				scores[i] = math.Inf(-1)
			}
		}
		choice = policy.Argmax(scores)
		if choice < 0 || (choice < n && obs.Reachable[choice] <= 0) {
			choice = n
		}
	}

	if choice == n {
		return nil, n, nil
	}

	dest := obs.Graph.NodeID(choice)
	origin := ""
	for _, id := range obs.Infected {
		if obs.Graph.HasEdge(id, dest) {
			origin = id
			break
		}
	}
	if origin == "" {
		return nil, n, fmt.Errorf("no infected node has an edge to %q", dest)
	}

	row, err := a.attacks.SampleMalicious(a.rng)
	if err != nil {
		return nil, n, fmt.Errorf("sample attack flow: %w", err)
	}
	msg := row.WithEndpoints(origin, dest)
	return &msg, choice, nil
}

// AddTrainingPoint stores the experience and adds reward to the score.
func (a *Attacker) AddTrainingPoint(features []float64, destination int, reward float64) {
	a.memory.Push(AttackerRecord{
		Features: append([]float64(nil), features...),
		Action:   destination,
		Reward:   reward,
	})
	a.score += reward
}

// PrepareForNextGame clears the per-episode memory and score.
func (a *Attacker) PrepareForNextGame() {
	a.memory.Reset()
	a.score = 0
}

// MemoryLen returns the number of stored experiences.
func (a *Attacker) MemoryLen() int { return a.memory.Len() }

// Memory exposes the experience buffer for inspection.
func (a *Attacker) Memory() *Memory[AttackerRecord] { return a.memory }

// Train replays every stored experience once. The chosen action's score is
// replaced by the reward and nodes that were unreachable at decision time
// are pinned to zero, matching the mask applied when deciding.
func (a *Attacker) Train(ctx context.Context) (core.TrainReport, error) {
	n := a.nodeCount
	return replay(ctx, &a.learner, a.memory,
		func(r AttackerRecord) []float64 { return r.Features },
		func(r AttackerRecord, target []float64) {
			for i := 0; i < n; i++ {
				if i != r.Action && r.Features[n+i] <= 0 {
					target[i] = 0
				}
			}
			target[r.Action] = r.Reward
		},
	)
}
