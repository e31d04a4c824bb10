package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	modelSuffix = "Model.m"
	logSuffix   = "Logs.l"
)

// FileStore writes one model file and one loss log per role:
// <modelsDir>/<Role>Model.m and <logsDir>/<Role>Logs.l. The log holds one
// mean loss per line; a sweep without a loss writes an empty line.
type FileStore struct {
	modelsDir string
	logsDir   string

	mu sync.Mutex
}

func NewFileStore(modelsDir, logsDir string) *FileStore {
	return &FileStore{modelsDir: modelsDir, logsDir: logsDir}
}

func (s *FileStore) Init(context.Context) error {
	if s.modelsDir == "" || s.logsDir == "" {
		return errors.New("file store needs a models and a logs directory")
	}
	for _, dir := range []string{s.modelsDir, s.logsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ModelPath returns the file a role's weights are written to.
func (s *FileStore) ModelPath(role string) string {
	return filepath.Join(s.modelsDir, role+modelSuffix)
}

// LogPath returns the file a role's losses are appended to.
func (s *FileStore) LogPath(role string) string {
	return filepath.Join(s.logsDir, role+logSuffix)
}

func (s *FileStore) SaveModel(_ context.Context, role string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.ModelPath(role)
	tmp, err := os.CreateTemp(s.modelsDir, role+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(EncodeModel(blob)); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStore) LoadModel(_ context.Context, role string) ([]byte, error) {
	data, err := os.ReadFile(s.ModelPath(role))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, s.ModelPath(role))
		}
		return nil, err
	}
	return DecodeModel(data)
}

func (s *FileStore) AppendLoss(_ context.Context, role string, meanLoss float64, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.LogPath(role), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	line := "\n"
	if ok {
		line = strconv.FormatFloat(meanLoss, 'g', -1, 64) + "\n"
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *FileStore) LossHistory(_ context.Context, role string) ([]LossEntry, error) {
	f, err := os.Open(s.LogPath(role))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []LossEntry
	sc := bufio.NewScanner(f)
	for lineNo := 1; sc.Scan(); lineNo++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			out = append(out, LossEntry{})
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", s.LogPath(role), lineNo, err)
		}
		out = append(out, LossEntry{Loss: v, Valid: true})
	}
	return out, sc.Err()
}
