package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps models and loss logs in a single database file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveModel(ctx context.Context, role string, blob []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO models (role, codec_version, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(role) DO UPDATE SET
			codec_version = excluded.codec_version,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, role, int(CurrentCodecVersion), EncodeModel(blob), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) LoadModel(ctx context.Context, role string) ([]byte, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM models WHERE role = ?`, role).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, role)
		}
		return nil, err
	}
	blob, err := DecodeModel(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s model: %w", role, err)
	}
	return blob, nil
}

func (s *SQLiteStore) AppendLoss(ctx context.Context, role string, meanLoss float64, ok bool) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	loss := sql.NullFloat64{Float64: meanLoss, Valid: ok}
	_, err = db.ExecContext(ctx, `
		INSERT INTO training_losses (id, role, loss, recorded_at)
		VALUES (?, ?, ?, ?)
	`, uuid.NewString(), role, loss, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) LossHistory(ctx context.Context, role string) ([]LossEntry, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT loss FROM training_losses WHERE role = ? ORDER BY seq`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LossEntry
	for rows.Next() {
		var loss sql.NullFloat64
		if err := rows.Scan(&loss); err != nil {
			return nil, err
		}
		out = append(out, LossEntry{Loss: loss.Float64, Valid: loss.Valid})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("sqlite store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS models (
			role TEXT PRIMARY KEY,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS training_losses (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			role TEXT NOT NULL,
			loss REAL,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS training_losses_role ON training_losses (role, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
