package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/miniagent/pkg/events"
)

const logExt = ".yaml"

// fileLog is the top-level container of a conversation file.
type fileLog struct {
	Events []events.Event `yaml:"events"`
}

// FileStore keeps one YAML file per conversation under
// {root}/conversations/{name}.yaml.
//
// Appends are funneled through one writer goroutine per conversation: callers
// enqueue a request and wait for the commit result, which serializes
// concurrent appenders without a per-file lock. Each commit rewrites the full
// file to a temp path and renames it into place, so readers never observe a
// partial write.
type FileStore struct {
	dir string

	mu      sync.Mutex
	writers map[string]*logWriter
	closed  bool
	wg      sync.WaitGroup
}

// appendRequest is one queued append awaiting commit.
type appendRequest struct {
	events []events.Event
	done   chan error
}

// logWriter is the single write consumer for one conversation.
type logWriter struct {
	requests chan appendRequest
}

// writerQueueDepth bounds how many appends may queue per conversation before
// enqueueing blocks the caller.
const writerQueueDepth = 16

// NewFileStore creates the conversations directory under root and returns a
// ready store.
func NewFileStore(root string) (*FileStore, error) {
	dir := filepath.Join(root, "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating conversations directory: %w", err)
	}
	return &FileStore{
		dir:     dir,
		writers: make(map[string]*logWriter),
	}, nil
}

// Load reads a conversation's full log. A missing file yields an empty log.
func (s *FileStore) Load(_ context.Context, name string) ([]events.Event, error) {
	if err := validateName(name); err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}

	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}

	var log fileLog
	if err := yaml.Unmarshal(data, &log); err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}
	return log.Events, nil
}

// Append enqueues events on the conversation's writer and waits for the
// commit result. The wait is unconditional: once enqueued, the commit either
// happens or fails, and the caller learns which — abandoning midway would
// leave memory and disk disagreeing about the log length.
func (s *FileStore) Append(_ context.Context, name string, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	if err := validateName(name); err != nil {
		return &SaveError{Name: name, Err: err}
	}

	w, err := s.writer(name)
	if err != nil {
		return &SaveError{Name: name, Err: err}
	}

	req := appendRequest{events: evs, done: make(chan error, 1)}
	w.requests <- req
	if err := <-req.done; err != nil {
		return &SaveError{Name: name, Err: err}
	}
	return nil
}

// Exists reports whether the conversation file is present.
func (s *FileStore) Exists(_ context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns all stored conversation names, sorted.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), logExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), logExt))
	}
	sort.Strings(names)
	return names, nil
}

// Close stops accepting appends, drains every writer queue, and waits for
// in-flight commits to finish.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, w := range s.writers {
		close(w.requests)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+logExt)
}

// writer returns the conversation's write consumer, starting it on first use.
func (s *FileStore) writer(name string) (*logWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if w, ok := s.writers[name]; ok {
		return w, nil
	}

	w := &logWriter{requests: make(chan appendRequest, writerQueueDepth)}
	s.writers[name] = w
	s.wg.Add(1)
	go s.runWriter(name, w)
	return w, nil
}

// runWriter processes append requests for one conversation in arrival order.
func (s *FileStore) runWriter(name string, w *logWriter) {
	defer s.wg.Done()
	for req := range w.requests {
		req.done <- s.commit(name, req.events)
	}
}

// commit reads the current log, concatenates the new events, and atomically
// replaces the file via rename.
func (s *FileStore) commit(name string, evs []events.Event) error {
	existing, err := s.Load(context.Background(), name)
	if err != nil {
		return fmt.Errorf("reading current log: %w", err)
	}

	log := fileLog{Events: append(existing, evs...)}
	data, err := yaml.Marshal(log)
	if err != nil {
		return fmt.Errorf("encoding log: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove temp log file", "path", tmpPath, "error", err)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		cleanup()
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
