// Package state persists the engine's positions and blacklist to a single
// JSON document on disk.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// Store loads and saves EngineState at a fixed path.
type Store struct {
	path   string
	backup domain.BlobWriter
	prefix string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithBackup uploads a copy of every saved state under prefix.
func WithBackup(w domain.BlobWriter, prefix string) Option {
	return func(s *Store) {
		s.backup = w
		s.prefix = prefix
	}
}

// NewStore creates a Store for the file at path.
func NewStore(path string, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: logger.With(slog.String("component", "state_store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load reads the state file. A missing, unreadable, unparsable or invalid
// file yields a fresh empty state; the cause is logged.
func (s *Store) Load(ctx context.Context) *domain.EngineState {
	st, err := s.Read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.InfoContext(ctx, "state: no state file, starting empty", slog.String("path", s.path))
		} else {
			s.logger.WarnContext(ctx, "state: discarding unreadable state",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return domain.NewEngineState()
	}
	s.logger.DebugContext(ctx, "state: loaded",
		slog.Int("positions", len(st.Positions)),
		slog.Int("blacklist", len(st.Blacklist)),
		slog.Int("pending", len(st.Pending)),
	)
	return st
}

// Read parses and validates the state file, returning any error.
func (s *Store) Read() (*domain.EngineState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("state: read: %w", err)
	}
	return Decode(data)
}

// Decode parses a state document.
func Decode(data []byte) (*domain.EngineState, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("state: decode: %w: empty document", domain.ErrInvalidState)
	}
	var st domain.EngineState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: decode: %w", err)
	}
	st.Normalize()
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("state: decode: %w", err)
	}
	return &st, nil
}

// Encode renders st as indented JSON.
func Encode(st *domain.EngineState) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("state: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Save writes st through a temp file in the same directory followed by a
// rename, so a crash mid-write leaves either the old or the new document.
// Failures are logged and returned; callers treat them as non-fatal.
func (s *Store) Save(ctx context.Context, st *domain.EngineState) error {
	if err := s.write(st); err != nil {
		s.logger.ErrorContext(ctx, "state: save failed",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return err
	}
	if s.backup != nil {
		s.upload(ctx, st)
	}
	return nil
}

func (s *Store) write(st *domain.EngineState) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("state: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("state: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("state: chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}

func (s *Store) upload(ctx context.Context, st *domain.EngineState) {
	data, err := Encode(st)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s/%s/%s", s.prefix, time.Now().UTC().Format("2006/01/02"), filepath.Base(s.path))
	if err := s.backup.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		s.logger.WarnContext(ctx, "state: backup upload failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
