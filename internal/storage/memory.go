package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps everything in process. It is the default for tests and
// for runs that neither load nor persist.
type MemoryStore struct {
	mu     sync.RWMutex
	models map[string][]byte
	losses map[string][]LossEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		models: make(map[string][]byte),
		losses: make(map[string][]LossEntry),
	}
}

func (s *MemoryStore) Init(context.Context) error { return nil }

func (s *MemoryStore) SaveModel(_ context.Context, role string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[role] = EncodeModel(blob)
	return nil
}

func (s *MemoryStore) LoadModel(_ context.Context, role string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.models[role]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, role)
	}
	return DecodeModel(data)
}

func (s *MemoryStore) AppendLoss(_ context.Context, role string, meanLoss float64, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := LossEntry{Valid: ok}
	if ok {
		entry.Loss = meanLoss
	}
	s.losses[role] = append(s.losses[role], entry)
	return nil
}

func (s *MemoryStore) LossHistory(_ context.Context, role string) ([]LossEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LossEntry(nil), s.losses[role]...), nil
}
