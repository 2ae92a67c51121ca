package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrBufferFull is returned by Write when the queue is full and the record
// was dropped.
var ErrBufferFull = errors.New("buffer full")

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("writer is closed")

// JSONLWriter appends JSON lines asynchronously to
// baseDir/<UTC date>/subDir/<fileBase>.jsonl, rotated by size.
type JSONLWriter struct {
	baseDir     string
	subDir      string // e.g. "stream/datapoints" or "captures/options_chains_SPY/http"
	maxSizeMB   int
	fileBase    string // filename without extension; a unix timestamp when empty
	writeCh     chan any
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	currentDate string
	logger      *lumberjack.Logger
	mu          sync.Mutex

	written atomic.Int64
	dropped atomic.Int64

	now func() time.Time
}

// NewJSONLWriter creates a writer using timestamp-based filenames.
func NewJSONLWriter(baseDir, subDir string, bufferSize int, maxSizeMB int) *JSONLWriter {
	return newJSONLWriter(baseDir, subDir, bufferSize, maxSizeMB, "")
}

// NewNamedJSONLWriter creates a writer whose files are named fileBase.jsonl.
func NewNamedJSONLWriter(baseDir, subDir string, bufferSize int, maxSizeMB int, fileBase string) *JSONLWriter {
	return newJSONLWriter(baseDir, subDir, bufferSize, maxSizeMB, fileBase)
}

func newJSONLWriter(baseDir, subDir string, bufferSize int, maxSizeMB int, fileBase string) *JSONLWriter {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	w := &JSONLWriter{
		baseDir:   baseDir,
		subDir:    subDir,
		maxSizeMB: maxSizeMB,
		fileBase:  fileBase,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}

	w.wg.Add(1)
	go w.writeLoop()

	return w
}

// Write queues a record. It never blocks: when the queue is full the record
// is dropped and ErrBufferFull returned.
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		w.dropped.Add(1)
		slog.Warn("jsonl buffer full, dropping record", "subdir", w.subDir)
		return ErrBufferFull
	}
}

// Stats returns the number of records written and dropped so far.
func (w *JSONLWriter) Stats() (written, dropped int64) {
	return w.written.Load(), w.dropped.Load()
}

// Close shuts down the writer and flushes pending data.
func (w *JSONLWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	// Drain remaining items with timeout
	timeout := time.After(5 * time.Second)
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-timeout:
			slog.Warn("jsonl writer close timeout, some records may be lost", "subdir", w.subDir)
			goto done
		default:
			goto done
		}
	}

done:
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		err := w.logger.Close()
		w.logger = nil
		return err
	}
	return nil
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			return
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("jsonl marshal failed", "error", err, "subdir", w.subDir)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	currentDate := w.now().UTC().Format("2006-01-02")
	if currentDate != w.currentDate || w.logger == nil {
		if err := w.rotateForDate(currentDate); err != nil {
			slog.Error("jsonl open failed", "error", err, "subdir", w.subDir)
			return
		}
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("jsonl write failed", "error", err, "subdir", w.subDir)
		return
	}
	w.written.Add(1)
}

func (w *JSONLWriter) rotateForDate(date string) error {
	if w.logger != nil {
		w.logger.Close()
		w.logger = nil
	}

	dir := filepath.Join(w.baseDir, date, w.subDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	base := w.fileBase
	if base == "" {
		base = fmt.Sprintf("%d", w.now().Unix())
	}
	filename := filepath.Join(dir, base+".jsonl")

	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}

	w.currentDate = date
	slog.Info("jsonl file opened", "file", filename, "subdir", w.subDir)
	return nil
}
