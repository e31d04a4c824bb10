package model

import (
	"fmt"
	"strings"
)

// SuspicionLabel is the ordinal verdict a defender attaches to a message.
// The numeric value doubles as the index of the label in a defender policy's
// output vector.
type SuspicionLabel int

const (
	SuspicionNone SuspicionLabel = iota
	SuspicionLow
	SuspicionMedium
	SuspicionHigh
)

// SuspicionLabelCount is the number of distinct suspicion labels.
const SuspicionLabelCount = 4

// SuspicionLabels lists every label in ascending order.
var SuspicionLabels = []SuspicionLabel{SuspicionNone, SuspicionLow, SuspicionMedium, SuspicionHigh}

func (l SuspicionLabel) String() string {
	switch l {
	case SuspicionNone:
		return "NONE"
	case SuspicionLow:
		return "LOW"
	case SuspicionMedium:
		return "MEDIUM"
	case SuspicionHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("SuspicionLabel(%d)", int(l))
	}
}

// Valid reports whether l is one of the four defined labels.
func (l SuspicionLabel) Valid() bool {
	return l >= SuspicionNone && l <= SuspicionHigh
}

// Flagged reports whether the label triggers a quarantine action
// (MEDIUM or HIGH).
func (l SuspicionLabel) Flagged() bool {
	return l == SuspicionMedium || l == SuspicionHigh
}

// Color is the display color used when rendering a node by its last verdict.
func (l SuspicionLabel) Color() string {
	switch l {
	case SuspicionNone:
		return "blue"
	case SuspicionLow:
		return "yellow"
	case SuspicionMedium:
		return "orange"
	case SuspicionHigh:
		return "red"
	default:
		return "gray"
	}
}

// ParseSuspicionLabel is the inverse of String.
func ParseSuspicionLabel(raw string) (SuspicionLabel, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "NONE":
		return SuspicionNone, nil
	case "LOW":
		return SuspicionLow, nil
	case "MEDIUM":
		return SuspicionMedium, nil
	case "HIGH":
		return SuspicionHigh, nil
	default:
		return SuspicionNone, fmt.Errorf("unknown suspicion label %q", raw)
	}
}
