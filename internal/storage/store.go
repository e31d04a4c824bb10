// Package storage persists trained policy weights and the per-role training
// loss log. Backends are selected by name: an in-process memory store, a
// directory of flat files, or a SQLite database.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrModelNotFound is returned when no weights were saved for a role.
	ErrModelNotFound = errors.New("model not found")
	// ErrVersionMismatch is returned for blobs written by an incompatible
	// codec.
	ErrVersionMismatch = errors.New("model codec version mismatch")
	// ErrCorrupt is returned for blobs that fail to decode.
	ErrCorrupt = errors.New("model blob corrupt")
)

// LossEntry is one line of a role's training log. Valid is false for
// sweeps that produced no loss.
type LossEntry struct {
	Loss  float64
	Valid bool
}

// Store is the persistence surface the runner and agents depend on.
type Store interface {
	Init(ctx context.Context) error
	SaveModel(ctx context.Context, role string, blob []byte) error
	LoadModel(ctx context.Context, role string) ([]byte, error)
	AppendLoss(ctx context.Context, role string, meanLoss float64, ok bool) error
	LossHistory(ctx context.Context, role string) ([]LossEntry, error)
}
