package core

import (
	"fmt"

	"github.com/signalsfoundry/intrusion-game/internal/config"
	"github.com/signalsfoundry/intrusion-game/model"
)

// SuspicionClassifier bins a continuous inspection score into one of the four
// ordered suspicion labels. Bins are left-exclusive and right-inclusive, so
// a score equal to a cutoff lands in the lower bin.
type SuspicionClassifier struct {
	none, low, medium float64
}

// NewSuspicionClassifier validates that the cutoffs strictly increase.
func NewSuspicionClassifier(c config.Cutoffs) (SuspicionClassifier, error) {
	if !(c.None < c.Low && c.Low < c.Medium) {
		return SuspicionClassifier{}, fmt.Errorf("suspicion cutoffs must increase: %v, %v, %v", c.None, c.Low, c.Medium)
	}
	return SuspicionClassifier{none: c.None, low: c.Low, medium: c.Medium}, nil
}

// Classify maps s to a label.
//
//	s <= c1       NONE
//	c1 < s <= c2  LOW
//	c2 < s <= c3  MEDIUM
//	s > c3        HIGH
func (c SuspicionClassifier) Classify(s float64) model.SuspicionLabel {
	switch {
	case s <= c.none:
		return model.SuspicionNone
	case s <= c.low:
		return model.SuspicionLow
	case s <= c.medium:
		return model.SuspicionMedium
	default:
		return model.SuspicionHigh
	}
}
