// Package policy defines the function approximator both agents learn with.
//
// The game core only sees the Model interface: Predict maps a fixed-length
// feature vector to one score per action, and Fit takes one gradient step
// towards a target score vector and reports the loss.
package policy

import (
	"encoding"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotInitialized is the panic value raised when a model is queried or
	// fitted before it has been built or loaded. It signals a programming
	// error, not a runtime condition.
	ErrNotInitialized = errors.New("policy model not initialized")
	// ErrDimension is returned when a vector does not match the model shape.
	ErrDimension = errors.New("policy dimension mismatch")
)

// Model is a learnable mapping from features to per-action scores.
type Model interface {
	Predict(features []float64) ([]float64, error)
	Fit(features, target []float64) (float64, error)
	InputSize() int
	OutputSize() int
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Argmax returns the index of the largest score, breaking ties by first
// occurrence. NaN scores are never chosen. It returns -1 when no score is
// comparable.
func Argmax(scores []float64) int {
	best := -1
	for i, s := range scores {
		if math.IsNaN(s) {
			continue
		}
		if best < 0 || s > scores[best] {
			best = i
		}
	}
	return best
}

func checkLen(what string, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s has %d values, model expects %d", ErrDimension, what, got, want)
	}
	return nil
}
