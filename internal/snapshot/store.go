// Package snapshot stores page screenshots as an image file plus a JSON
// sidecar named by a uuid.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
	"github.com/google/uuid"
)

// SnapshotMeta describes one stored screenshot.
type SnapshotMeta struct {
	ID          string    `json:"id"`
	Reason      string    `json:"reason"`
	ContractKey string    `json:"contract_key,omitempty"`
	Format      string    `json:"format"`
	SizeBytes   int       `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Notes       string    `json:"notes,omitempty"`
}

// Store manages snapshot files on disk.
type Store struct {
	dir    string
	format string
	mu     sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, format: "png"}, nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return cdpcontrol.NewError(cdpcontrol.CodeValidation, fmt.Sprintf("invalid snapshot id: %q", id), nil)
	}
	return nil
}

// Save writes the image and its sidecar. ID, CreatedAt, Format and
// SizeBytes are filled when empty; the stored meta is returned.
func (s *Store) Save(meta SnapshotMeta, imageData []byte) (SnapshotMeta, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if err := validateID(meta.ID); err != nil {
		return SnapshotMeta{}, err
	}
	if meta.Format == "" {
		meta.Format = s.format
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.SizeBytes = len(imageData)

	s.mu.Lock()
	defer s.mu.Unlock()

	imgPath := filepath.Join(s.dir, meta.ID+"."+meta.Format)
	jsonPath := filepath.Join(s.dir, meta.ID+".json")

	if err := os.WriteFile(imgPath, imageData, 0o644); err != nil {
		return SnapshotMeta{}, fmt.Errorf("snapshot store: write image: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(imgPath)
		return SnapshotMeta{}, fmt.Errorf("snapshot store: marshal meta: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		_ = os.Remove(imgPath)
		return SnapshotMeta{}, fmt.Errorf("snapshot store: write meta: %w", err)
	}
	return meta, nil
}

// SaveShot stores a screenshot taken during a scan.
func (s *Store) SaveShot(_ context.Context, reason, contractKey string, image []byte) error {
	meta, err := s.Save(SnapshotMeta{Reason: reason, ContractKey: contractKey}, image)
	if err != nil {
		return err
	}
	slog.Debug("snapshot saved", "id", meta.ID, "reason", reason, "key", contractKey, "size_bytes", meta.SizeBytes)
	return nil
}

// Get reads snapshot metadata by ID.
func (s *Store) Get(id string) (SnapshotMeta, error) {
	if err := validateID(id); err != nil {
		return SnapshotMeta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMeta(id)
}

func (s *Store) readMeta(id string) (SnapshotMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return SnapshotMeta{}, cdpcontrol.NewError(cdpcontrol.CodeSnapshotNotFound, "snapshot not found: "+id, nil)
		}
		return SnapshotMeta{}, fmt.Errorf("snapshot store: read meta: %w", err)
	}
	var meta SnapshotMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return SnapshotMeta{}, fmt.Errorf("snapshot store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns all snapshots, newest first.
func (s *Store) List() ([]SnapshotMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot store: glob: %w", err)
	}

	metas := make([]SnapshotMeta, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Debug("snapshot meta unreadable", "path", path, "error", err)
			continue
		}
		var meta SnapshotMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			slog.Debug("snapshot meta invalid", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// ReadImage returns the raw image bytes and format.
func (s *Store) ReadImage(id string) ([]byte, string, error) {
	if err := validateID(id); err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id+"."+meta.Format))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", cdpcontrol.NewError(cdpcontrol.CodeSnapshotNotFound, "snapshot image not found: "+id, nil)
		}
		return nil, "", fmt.Errorf("snapshot store: read image: %w", err)
	}
	return data, meta.Format, nil
}

// Delete removes both files. A missing image is logged, not returned.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, id+"."+meta.Format)); err != nil {
		slog.Debug("snapshot image cleanup failed", "id", id, "error", err)
	}
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil {
		return fmt.Errorf("snapshot store: delete meta: %w", err)
	}
	return nil
}
