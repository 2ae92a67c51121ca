// Package store persists tracker state: JSON snapshot files, a SQL
// recorder for every data point and CSV export.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgnsrekt/chainscout/internal/market"
	"github.com/dgnsrekt/chainscout/internal/tracker"
)

const (
	latestName   = "latest.json"
	filePrefix   = "contracts_"
	stampLayout  = "20060102_150405"
	snapshotPerm = 0o644
)

// ErrNoSnapshot is returned by LoadLatest before the first Save.
var ErrNoSnapshot = errors.New("store: no snapshot saved yet")

// Snapshot is the persisted tracker state.
type Snapshot struct {
	RunID     string                         `json:"run_id"`
	SavedAt   time.Time                      `json:"saved_at"`
	Contracts []tracker.Contract             `json:"contracts"`
	History   map[string][]tracker.DataPoint `json:"history"`
	Bias      *market.Reading                `json:"bias,omitempty"`
}

// JSONStore writes snapshots as a timestamped file plus latest.json.
type JSONStore struct {
	dir  string
	keep int
	now  func() time.Time
}

// NewJSONStore stores snapshots in dir, keeping at most keep timestamped
// files (zero keeps all).
func NewJSONStore(dir string, keep int) *JSONStore {
	return &JSONStore{dir: dir, keep: keep, now: time.Now}
}

// Dir returns the snapshot directory.
func (s *JSONStore) Dir() string { return s.dir }

// LatestPath returns the path of latest.json.
func (s *JSONStore) LatestPath() string { return filepath.Join(s.dir, latestName) }

// Save writes snap and returns the timestamped file path. SavedAt is set
// when zero.
func (s *JSONStore) Save(snap Snapshot) (string, error) {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = s.now().UTC()
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("store: encode snapshot: %w", err)
	}

	name := filePrefix + snap.SavedAt.UTC().Format(stampLayout) + ".json"
	path := filepath.Join(s.dir, name)
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	if err := writeAtomic(s.LatestPath(), data); err != nil {
		return "", err
	}
	if s.keep > 0 {
		if err := s.prune(); err != nil {
			return path, err
		}
	}
	return path, nil
}

// LoadLatest reads latest.json.
func (s *JSONStore) LoadLatest() (Snapshot, error) {
	return ReadSnapshot(s.LatestPath())
}

// ReadSnapshot decodes one snapshot file.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("store: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("store: decode snapshot %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}

// Files lists timestamped snapshot files, oldest first.
func (s *JSONStore) Files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list: %w", err)
	}
	var out []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, filePrefix) || !strings.HasSuffix(n, ".json") {
			continue
		}
		out = append(out, filepath.Join(s.dir, n))
	}
	// The stamp layout sorts lexically in time order.
	sort.Strings(out)
	return out, nil
}

func (s *JSONStore) prune() error {
	files, err := s.Files()
	if err != nil {
		return err
	}
	for len(files) > s.keep {
		if err := os.Remove(files[0]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("store: prune: %w", err)
		}
		files = files[1:]
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(snapshotPerm); err != nil {
		tmp.Close()
		return fmt.Errorf("store: chmod %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("store: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
