package core

import (
	"math"

	"github.com/signalsfoundry/intrusion-game/internal/config"
)

// InspectionChance is the probability that a message waiting in a queue of
// length queueLen gets inspected. It follows a logistic curve centred on the
// configured capacity, so short queues are almost always inspected and the
// chance falls smoothly as queues grow past capacity.
func InspectionChance(curve config.InspectionCurve, queueLen int) float64 {
	if queueLen <= 0 {
		return 1
	}
	return 1 / (1 + math.Exp(curve.Steepness*(float64(queueLen)-curve.Capacity)))
}
