package storage

import (
	"log/slog"
	"path"
	"sync"
)

// WriterRegistry hands out one JSONLWriter per sub-directory and file base,
// creating them on first use.
type WriterRegistry struct {
	baseDir    string
	maxSizeMB  int
	bufferSize int

	writers map[string]*JSONLWriter
	mu      sync.RWMutex
}

// NewWriterRegistry creates a registry rooted at baseDir.
func NewWriterRegistry(baseDir string, bufferSize int, maxSizeMB int) *WriterRegistry {
	return &WriterRegistry{
		baseDir:    baseDir,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		writers:    make(map[string]*JSONLWriter),
	}
}

// GetWriter returns (or creates) the writer for subDir/fileBase.jsonl.
// Data points use ("stream/datapoints", "chainscout"); captures use
// ("captures/<path segment>/http", <browser id>).
func (r *WriterRegistry) GetWriter(subDir, fileBase string) *JSONLWriter {
	key := path.Join(subDir, fileBase)

	r.mu.RLock()
	w, ok := r.writers[key]
	r.mu.RUnlock()
	if ok {
		return w
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.writers[key]; ok {
		return w
	}
	w = NewNamedJSONLWriter(r.baseDir, subDir, r.bufferSize, r.maxSizeMB, fileBase)
	r.writers[key] = w
	slog.Info("jsonl writer created", "subdir", subDir, "file_base", fileBase)
	return w
}

// Stats sums written and dropped counts over every writer.
func (r *WriterRegistry) Stats() (written, dropped int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.writers {
		wr, dr := w.Stats()
		written += wr
		dropped += dr
	}
	return written, dropped
}

// Close closes all managed writers.
func (r *WriterRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for key, writer := range r.writers {
		if err := writer.Close(); err != nil {
			slog.Error("jsonl writer close failed", "writer", key, "error", err)
			lastErr = err
		}
	}
	r.writers = make(map[string]*JSONLWriter)
	return lastErr
}
