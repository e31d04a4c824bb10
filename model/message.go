package model

import (
	"fmt"
	"math"
	"strings"
)

// TrafficLabel is the ground truth attached to a message by the dataset it
// was sampled from.
type TrafficLabel string

const (
	LabelBenign    TrafficLabel = "Benign"
	LabelMalicious TrafficLabel = "Malicious"
)

// ParseTrafficLabel accepts the dataset spelling of a label, ignoring case and
// surrounding whitespace.
func ParseTrafficLabel(raw string) (TrafficLabel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "benign":
		return LabelBenign, nil
	case "malicious":
		return LabelMalicious, nil
	default:
		return "", fmt.Errorf("unknown traffic label %q", raw)
	}
}

// FeatureCount is the length of Message.Features.
const FeatureCount = 4

// FlowStats holds the numeric columns of a traffic record.
type FlowStats struct {
	Duration     float64
	SourceBytes  float64
	TotalBytes   float64
	TotalPackets float64
}

// Message is one simulated network event. Values are never mutated once
// built; use WithEndpoints to derive a re-addressed copy.
type Message struct {
	Origin      string
	Destination string
	Label       TrafficLabel
	Stats       FlowStats
}

// NewMessage builds a message between two nodes.
func NewMessage(origin, destination string, label TrafficLabel, stats FlowStats) Message {
	return Message{
		Origin:      origin,
		Destination: destination,
		Label:       label,
		Stats:       stats,
	}
}

// IsMalicious reports whether the ground truth of the message is malicious.
func (m Message) IsMalicious() bool {
	return m.Label == LabelMalicious
}

// WithEndpoints returns a copy of m addressed from origin to destination.
func (m Message) WithEndpoints(origin, destination string) Message {
	m.Origin = origin
	m.Destination = destination
	return m
}

// Features returns the raw feature vector
// [duration, sourceBytes, totalBytes, totalPackets].
func (m Message) Features() []float64 {
	return []float64{
		m.Stats.Duration,
		m.Stats.SourceBytes,
		m.Stats.TotalBytes,
		m.Stats.TotalPackets,
	}
}

// NetworkInputs returns Features compressed with log1p so byte counts in the
// millions stay in a range a small network can learn from. Negative and
// non-finite values become zero.
func (m Message) NetworkInputs() []float64 {
	raw := m.Features()
	out := make([]float64, len(raw))
	for i, v := range raw {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[i] = math.Log1p(v)
	}
	return out
}

func (m Message) String() string {
	return fmt.Sprintf("%s,%s,%s", m.Origin, m.Destination, m.Label)
}
