package storage

import (
	"log/slog"
	"sync"
)

// WriterRegistry hands out one JSONLWriter per site and stream, e.g.
// "news.example" / "exchanges".
type WriterRegistry struct {
	baseDir    string
	maxSizeMB  int
	bufferSize int

	writers map[string]map[string]*JSONLWriter
	mu      sync.Mutex
	closed  bool
}

func NewWriterRegistry(baseDir string, bufferSize, maxSizeMB int) *WriterRegistry {
	return &WriterRegistry{
		baseDir:    baseDir,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		writers:    make(map[string]map[string]*JSONLWriter),
	}
}

// Append writes record to the site's stream file. name becomes the file
// name and is typically a short session id.
func (r *WriterRegistry) Append(site, stream, name string, record any) error {
	w, err := r.writer(site, stream, name)
	if err != nil {
		return err
	}
	return w.Write(record)
}

func (r *WriterRegistry) writer(site, stream, name string) (*JSONLWriter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrWriterClosed
	}

	key := site + "/" + stream
	if byName, ok := r.writers[key]; ok {
		if w, ok := byName[name]; ok {
			return w, nil
		}
	} else {
		r.writers[key] = make(map[string]*JSONLWriter)
	}

	w := NewJSONLWriter(r.baseDir, key, name, r.bufferSize, r.maxSizeMB)
	r.writers[key][name] = w
	slog.Debug("Created JSONL writer", "site", site, "stream", stream, "name", name)
	return w, nil
}

// Release closes the writers for name, e.g. when its session is replaced.
func (r *WriterRegistry) Release(name string) {
	r.mu.Lock()
	var release []*JSONLWriter
	for _, byName := range r.writers {
		if w, ok := byName[name]; ok {
			release = append(release, w)
			delete(byName, name)
		}
	}
	r.mu.Unlock()

	for _, w := range release {
		if err := w.Close(); err != nil {
			slog.Error("Failed to close writer", "name", name, "error", err)
		}
	}
}

func (r *WriterRegistry) Close() error {
	r.mu.Lock()
	writers := r.writers
	r.writers = make(map[string]map[string]*JSONLWriter)
	r.closed = true
	r.mu.Unlock()

	var lastErr error
	for key, byName := range writers {
		for name, w := range byName {
			if err := w.Close(); err != nil {
				slog.Error("Failed to close writer", "stream", key, "name", name, "error", err)
				lastErr = err
			}
		}
	}
	return lastErr
}
