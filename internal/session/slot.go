package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultFilePerm os.FileMode = 0o600
	defaultDirPerm  os.FileMode = 0o700
)

// ErrSlotCorrupt is returned by Load when the stored entry cannot be decoded.
var ErrSlotCorrupt = errors.New("stored credentials are corrupt")

// Slot is the durable mirror of the credential pair. A missing entry loads as
// the empty pair without error.
type Slot interface {
	Load(ctx context.Context) (Pair, error)
	Save(ctx context.Context, pair Pair) error
	Purge(ctx context.Context) error
}

// FileSlot keeps the pair in a single JSON file.
type FileSlot struct {
	path string
}

// NewFileSlot creates a slot backed by the file at path.
func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

// Path returns the backing file location.
func (s *FileSlot) Path() string {
	return s.path
}

func (s *FileSlot) Load(ctx context.Context) (Pair, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Pair{}, nil
		}
		return Pair{}, fmt.Errorf("read credentials: %w", err)
	}

	// Security: enforce strict permissions
	if info.Mode().Perm()&0o077 != 0 {
		return Pair{}, fmt.Errorf("credential file %s must have 0600 permissions", s.path)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Pair{}, fmt.Errorf("read credentials: %w", err)
	}

	var pair Pair
	if err := json.Unmarshal(data, &pair); err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrSlotCorrupt, err)
	}
	return pair, nil
}

// Save writes to a temp file first and renames it over the old one, so a crash
// never leaves a half-written pair behind.
func (s *FileSlot) Save(ctx context.Context, pair Pair) error {
	if err := os.MkdirAll(filepath.Dir(s.path), defaultDirPerm); err != nil {
		return err
	}

	data, err := json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return err
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, defaultFilePerm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("rename temp file: %v; remove temp file: %w", err, removeErr)
		}
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *FileSlot) Purge(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// MemorySlot keeps the pair in process memory. Used by tests and ephemeral runs.
type MemorySlot struct {
	mu     sync.Mutex
	pair   Pair
	stored bool
	saves  int
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

func (s *MemorySlot) Load(ctx context.Context) (Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair, nil
}

func (s *MemorySlot) Save(ctx context.Context, pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
	s.stored = true
	s.saves++
	return nil
}

func (s *MemorySlot) Purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = Pair{}
	s.stored = false
	return nil
}

// Stored reports whether the slot currently holds an entry.
func (s *MemorySlot) Stored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored
}

// Saves returns how many times Save was called.
func (s *MemorySlot) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
