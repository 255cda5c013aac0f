package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrWriterClosed = errors.New("jsonl writer closed")
	ErrBufferFull   = errors.New("jsonl buffer full")
)

// JSONLWriter appends JSON lines asynchronously to
// <baseDir>/<date>/<subDir>/<name>.jsonl, rotating by size with lumberjack
// and by UTC date.
type JSONLWriter struct {
	baseDir   string
	subDir    string
	name      string
	maxSizeMB int

	writeCh   chan any
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	now         func() time.Time
}

func NewJSONLWriter(baseDir, subDir, name string, bufferSize, maxSizeMB int) *JSONLWriter {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	w := &JSONLWriter{
		baseDir:   baseDir,
		subDir:    subDir,
		name:      name,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a record. It never blocks; a full buffer drops the record.
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return ErrWriterClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		slog.Warn("JSONL write buffer full, dropping record", "subdir", w.subDir, "name", w.name)
		return ErrBufferFull
	}
}

// Close stops the writer after draining queued records.
func (w *JSONLWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

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
			w.drain()
			return
		}
	}
}

func (w *JSONLWriter) drain() {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-timeout:
			slog.Warn("JSONL writer close timeout, some records may be lost", "subdir", w.subDir)
			return
		default:
			return
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal record", "error", err, "subdir", w.subDir)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if w.logger == nil || date != w.currentDate {
		if err := w.openForDate(date); err != nil {
			slog.Error("Failed to open JSONL file", "error", err, "subdir", w.subDir)
			return
		}
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write record", "error", err, "subdir", w.subDir)
	}
}

func (w *JSONLWriter) openForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}
	dir := filepath.Join(w.baseDir, date, w.subDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	filename := filepath.Join(dir, w.name+".jsonl")
	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
	}
	w.currentDate = date
	slog.Info("Opened new JSONL file", "file", filename)
	return nil
}
