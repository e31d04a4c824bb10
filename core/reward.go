package core

import "github.com/signalsfoundry/intrusion-game/model"

// DefenderReward scores a verdict against the ground truth of a message,
// scaled by the potential of the message's destination.
//
//	truth      HIGH   MEDIUM   LOW/NONE
//	malicious  +p     +p/2     -p
//	benign     -p     -p/2     +p
func DefenderReward(msg model.Message, label model.SuspicionLabel, potential float64) float64 {
	if msg.IsMalicious() {
		switch label {
		case model.SuspicionHigh:
			return potential
		case model.SuspicionMedium:
			return potential / 2
		default:
			return -potential
		}
	}
	switch label {
	case model.SuspicionHigh:
		return -potential
	case model.SuspicionMedium:
		return -potential / 2
	default:
		return potential
	}
}

// AttackerReward is the zero-sum counterpart of DefenderReward. It only has
// meaning for malicious messages; ok is false for benign traffic, which
// never produces attacker experience.
func AttackerReward(msg model.Message, label model.SuspicionLabel, potential float64) (reward float64, ok bool) {
	if !msg.IsMalicious() {
		return 0, false
	}
	return -DefenderReward(msg, label, potential), true
}
