// Package policyloader watches the policy document file on disk and
// hot-swaps it into the running engine, without ever letting a bad
// reload take the engine down.
//
// Grounded on the teacher's pkg/config/profile_loader.go (read-file,
// parse-YAML, return-struct shape, reused here for a single watched
// path instead of a directory of profiles) and pkg/trust/pack_loader.go's
// fail-closed discipline: a reload that fails to read or parse leaves
// the previously active document in place and only logs, it never
// panics or zeroes out the engine's policy. The poll loop itself is
// grounded on pkg/api/idempotency.go's time.NewTicker cleanup loop.
package policyloader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/netauton/sna-pdp/pkg/policy"
)

// DefaultPollInterval is how often the watched path's mtime is checked
// when the caller doesn't provide one.
const DefaultPollInterval = 10 * time.Second

// EngineSetter is the subset of *engine.Engine the watcher depends on.
// Matching only this method keeps policyloader decoupled from the
// engine package's other collaborators.
type EngineSetter interface {
	SetDocument(doc *policy.Document) error
}

// Watcher polls a single policy document path and pushes parsed
// documents into an EngineSetter whenever the file changes and parses
// cleanly.
type Watcher struct {
	path         string
	pollInterval time.Duration
	engine       EngineSetter
	logger       *slog.Logger

	mu          sync.Mutex
	lastModTime time.Time
}

// New returns a Watcher for path. pollInterval defaults to
// DefaultPollInterval when <= 0. logger defaults to slog.Default().
func New(path string, pollInterval time.Duration, engine EngineSetter, logger *slog.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, pollInterval: pollInterval, engine: engine, logger: logger}
}

// LoadInitial reads and parses the policy document once and pushes it
// into the engine. Unlike the steady-state poll loop, a failure here
// is returned to the caller: at startup there is no previously active
// document to fail back to, so the process should not come up at all.
func (w *Watcher) LoadInitial() error {
	data, modTime, err := w.read()
	if err != nil {
		return fmt.Errorf("policyloader: initial load: %w", err)
	}
	doc, err := policy.Parse(data)
	if err != nil {
		return fmt.Errorf("policyloader: initial parse: %w", err)
	}
	if err := w.engine.SetDocument(doc); err != nil {
		return fmt.Errorf("policyloader: initial set: %w", err)
	}

	w.mu.Lock()
	w.lastModTime = modTime
	w.mu.Unlock()
	return nil
}

// Run polls the watched path until ctx is canceled, reloading whenever
// the file's mtime advances. Reload failures (unreadable file, parse
// error, non-newer version) are logged and otherwise ignored: the
// previously loaded policy document stays active.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reloadIfChanged(ctx)
		}
	}
}

func (w *Watcher) reloadIfChanged(ctx context.Context) {
	data, modTime, err := w.read()
	if err != nil {
		w.logger.ErrorContext(ctx, "policyloader: reload read failed, keeping active policy", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	unchanged := !modTime.After(w.lastModTime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	doc, err := policy.Parse(data)
	if err != nil {
		w.logger.ErrorContext(ctx, "policyloader: reload parse failed, keeping active policy", "path", w.path, "error", err)
		return
	}

	if err := w.engine.SetDocument(doc); err != nil {
		w.logger.WarnContext(ctx, "policyloader: reload rejected by engine, keeping active policy", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.lastModTime = modTime
	w.mu.Unlock()
	w.logger.InfoContext(ctx, "policyloader: policy document reloaded", "path", w.path, "version", doc.Version())
}

func (w *Watcher) read() ([]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat %s: %w", w.path, err)
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read %s: %w", w.path, err)
	}
	return data, info.ModTime(), nil
}
