// Package agent implements the two learning players of the game. Both roles
// share a learner: a bounded experience memory, an epsilon-greedy
// exploration schedule, the cumulative episode score and an injected policy
// model. Only the decision and target-correction rules differ per role.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/signalsfoundry/intrusion-game/core"
	"github.com/signalsfoundry/intrusion-game/internal/config"
	"github.com/signalsfoundry/intrusion-game/internal/logging"
	"github.com/signalsfoundry/intrusion-game/internal/policy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/signalsfoundry/intrusion-game/internal/agent"

// ErrShape is returned when a policy model's input or output size does not
// fit the role it is handed to.
var ErrShape = errors.New("policy shape does not match role")

// Role names a player. It doubles as the key persisted models are stored
// under.
type Role string

const (
	RoleAttacker Role = "Attacker"
	RoleDefender Role = "Defender"
)

// ModelStore persists one opaque weight blob per role.
type ModelStore interface {
	SaveModel(ctx context.Context, role string, blob []byte) error
	LoadModel(ctx context.Context, role string) ([]byte, error)
}

// Agent is the capability surface shared by both roles.
type Agent interface {
	core.Player
	Role() Role
	Epsilon() float64
	Score() float64
	MemoryLen() int
	Save(ctx context.Context, store ModelStore) error
	Load(ctx context.Context, store ModelStore) error
}

// Option customises agent construction.
type Option func(*learner)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(ln *learner) {
		if l != nil {
			ln.log = l
		}
	}
}

// learner is the state both roles share.
type learner struct {
	role    Role
	cfg     config.Agent
	model   policy.Model
	rng     *rand.Rand
	log     logging.Logger
	epsilon float64
	score   float64
}

func newLearner(role Role, cfg config.Agent, model policy.Model, rng *rand.Rand, opts []Option) (learner, error) {
	if model == nil {
		return learner{}, fmt.Errorf("%s: policy model is required", role)
	}
	if rng == nil {
		return learner{}, fmt.Errorf("%s: rng is required", role)
	}
	ln := learner{
		role:    role,
		cfg:     cfg,
		model:   model,
		rng:     rng,
		log:     logging.Noop(),
		epsilon: cfg.Epsilon,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&ln)
		}
	}
	return ln, nil
}

func (l *learner) Role() Role          { return l.role }
func (l *learner) Epsilon() float64    { return l.epsilon }
func (l *learner) Score() float64      { return l.score }
func (l *learner) Model() policy.Model { return l.model }

// SetEpsilon overrides the exploration rate, e.g. to evaluate a trained
// policy greedily.
func (l *learner) SetEpsilon(eps float64) { l.epsilon = eps }

func (l *learner) explore() bool {
	return l.rng.Float64() < l.epsilon
}

// decayEpsilon applies one step of the schedule. The rate never rises and
// never drops below the floor; a rate already at or under the floor is left
// as is.
func (l *learner) decayEpsilon() {
	if l.epsilon <= l.cfg.EpsilonMin {
		return
	}
	l.epsilon = max(l.cfg.EpsilonMin, l.epsilon*l.cfg.EpsilonDecay)
}

// replayOrder returns the indices a sweep visits.
func (l *learner) replayOrder(n int) []int {
	if l.cfg.ShuffleReplay {
		return l.rng.Perm(n)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// Save writes the model weights under the role name.
func (l *learner) Save(ctx context.Context, store ModelStore) error {
	blob, err := l.model.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s model: %w", l.role, err)
	}
	if err := store.SaveModel(ctx, string(l.role), blob); err != nil {
		return fmt.Errorf("save %s model: %w", l.role, err)
	}
	return nil
}

// Load replaces the model weights with the ones stored under the role name.
func (l *learner) Load(ctx context.Context, store ModelStore) error {
	blob, err := store.LoadModel(ctx, string(l.role))
	if err != nil {
		return fmt.Errorf("load %s model: %w", l.role, err)
	}
	if err := l.model.UnmarshalBinary(blob); err != nil {
		return fmt.Errorf("decode %s model: %w", l.role, err)
	}
	return nil
}

// replay runs one full-memory training sweep. For each record the current
// prediction is corrected in place by correct and fitted as the new target.
func replay[T any](ctx context.Context, l *learner, mem *Memory[T], features func(T) []float64, correct func(T, []float64)) (core.TrainReport, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.train")
	defer span.End()
	span.SetAttributes(
		attribute.String("role", string(l.role)),
		attribute.Int("samples", mem.Len()),
	)

	if mem.Len() == 0 {
		return core.TrainReport{Epsilon: l.epsilon}, nil
	}
	if err := ctx.Err(); err != nil {
		return core.TrainReport{Epsilon: l.epsilon}, err
	}

	total := 0.0
	for _, idx := range l.replayOrder(mem.Len()) {
		rec := mem.At(idx)
		x := features(rec)
		target, err := l.model.Predict(x)
		if err != nil {
			span.RecordError(err)
			return core.TrainReport{Epsilon: l.epsilon}, fmt.Errorf("%s predict: %w", l.role, err)
		}
		correct(rec, target)
		loss, err := l.model.Fit(x, target)
		if err != nil {
			span.RecordError(err)
			return core.TrainReport{Epsilon: l.epsilon}, fmt.Errorf("%s fit: %w", l.role, err)
		}
		total += loss
	}
	l.decayEpsilon()

	report := core.TrainReport{
		Samples:  mem.Len(),
		MeanLoss: total / float64(mem.Len()),
		HasLoss:  true,
		Epsilon:  l.epsilon,
	}
	span.SetAttributes(attribute.Float64("mean_loss", report.MeanLoss))
	l.log.Debug(ctx, "training sweep complete",
		logging.String("role", string(l.role)),
		logging.Int("samples", report.Samples),
		logging.Float("mean_loss", report.MeanLoss),
		logging.Float("epsilon", report.Epsilon),
	)
	return report, nil
}

