package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/intrusion-game/model"
)

// GraphView is the read-only part of a Topology handed to agents.
type GraphView interface {
	NodeCount() int
	NodeID(i int) string
	HasEdge(origin, destination string) bool
}

// AttackObservation is the per-turn snapshot an attacker decides from.
// Vectors are indexed like the topology.
type AttackObservation struct {
	TrafficFlow []float64
	Reachable   []float64
	Potential   []float64
	Infected    []string
	Graph       GraphView
}

// Features concatenates flow, reachability and potential into the flat
// 3 x nodeCount vector fed to the attacker's policy.
func (o AttackObservation) Features() []float64 {
	out := make([]float64, 0, len(o.TrafficFlow)+len(o.Reachable)+len(o.Potential))
	out = append(out, o.TrafficFlow...)
	out = append(out, o.Reachable...)
	out = append(out, o.Potential...)
	return out
}

// TrainReport summarises one training sweep.
type TrainReport struct {
	Samples  int
	MeanLoss float64
	// HasLoss is false when the sweep recorded no losses, e.g. on an empty
	// experience buffer.
	HasLoss bool
	Epsilon float64
}

// Player is the part of an agent the engine drives between episodes.
type Player interface {
	PrepareForNextGame()
	Train(ctx context.Context) (TrainReport, error)
}

// Attacker chooses where to spread each turn.
type Attacker interface {
	Player
	// GetAttack returns the attack message and the chosen destination index.
	// A nil message with index NodeCount means the attacker passes.
	GetAttack(obs AttackObservation) (*model.Message, int, error)
	AddTrainingPoint(features []float64, destination int, reward float64)
}

// Defender labels the messages it inspects.
type Defender interface {
	Player
	Inspect(msg model.Message) (model.SuspicionLabel, error)
	AddTrainingPoint(msg model.Message, label model.SuspicionLabel, reward float64)
}

// Scorer produces a continuous suspicion score in [0, 1] for a message.
type Scorer interface {
	Suspicion(msg model.Message) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(msg model.Message) (float64, error)

func (f ScorerFunc) Suspicion(msg model.Message) (float64, error) { return f(msg) }

// ThresholdDefender is a non-learning defender that scores each message and
// bins the score with a SuspicionClassifier. It is used as a fixed baseline
// opponent and in tests.
type ThresholdDefender struct {
	Scorer     Scorer
	Classifier SuspicionClassifier

	score float64
}

// NewThresholdDefender builds a baseline defender.
func NewThresholdDefender(scorer Scorer, classifier SuspicionClassifier) *ThresholdDefender {
	return &ThresholdDefender{Scorer: scorer, Classifier: classifier}
}

func (d *ThresholdDefender) Inspect(msg model.Message) (model.SuspicionLabel, error) {
	s, err := d.Scorer.Suspicion(msg)
	if err != nil {
		return model.SuspicionNone, fmt.Errorf("score message: %w", err)
	}
	return d.Classifier.Classify(s), nil
}

func (d *ThresholdDefender) AddTrainingPoint(_ model.Message, _ model.SuspicionLabel, reward float64) {
	d.score += reward
}

func (d *ThresholdDefender) PrepareForNextGame() { d.score = 0 }

func (d *ThresholdDefender) Train(context.Context) (TrainReport, error) {
	return TrainReport{}, nil
}

// Score returns the cumulative reward of the current episode.
func (d *ThresholdDefender) Score() float64 { return d.score }
