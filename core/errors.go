package core

import "errors"

var (
	ErrMalformedTopology = errors.New("malformed topology")
	ErrEmptyTopology     = errors.New("topology has no nodes")
	ErrUnknownNode       = errors.New("unknown node")
	ErrNoDataset         = errors.New("dataset is empty")
	ErrNotInitialized    = errors.New("game not initialized")
	ErrEpisodeOver       = errors.New("episode already terminal")
)
