// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/upbrr/internal/fsutil"
)

// ErrLocked is returned when another process holds the queue log.
var ErrLocked = errors.New("queue is in use by another process")

// LogPath returns the processed-files log of a named queue.
func LogPath(dir, name string) string {
	return filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+"_processed_files.log")
}

// Ledger records completed item paths for a named queue. The on-disk form is a JSON
// array that is rewritten on every completion.
type Ledger struct {
	path string
	lock *flock.Flock

	mu    sync.Mutex
	done  map[string]struct{}
	order []string
}

// Open loads the ledger for name and takes an exclusive lock on it for the run.
func Open(dir, name string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	path := LogPath(dir, name)
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock queue %q: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}

	l := &Ledger{
		path: path,
		lock: lock,
		done: make(map[string]struct{}),
	}

	if err := l.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	log.Debug().Str("queue", name).Int("done", len(l.order)).Msg("Loaded queue ledger")
	return l, nil
}

func (l *Ledger) load() error {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read queue log: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return fmt.Errorf("queue log %s is malformed: %w", l.path, err)
	}
	for _, p := range paths {
		if _, ok := l.done[p]; ok {
			continue
		}
		l.done[p] = struct{}{}
		l.order = append(l.order, p)
	}
	return nil
}

func (l *Ledger) IsDone(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.done[path]
	return ok
}

// MarkDone adds path and persists the full set atomically.
func (l *Ledger) MarkDone(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.done[path]; ok {
		return nil
	}
	l.done[path] = struct{}{}
	l.order = append(l.order, path)

	if err := fsutil.WriteJSONAtomic(l.path, l.order, 0o644); err != nil {
		delete(l.done, path)
		l.order = l.order[:len(l.order)-1]
		return fmt.Errorf("persist queue log: %w", err)
	}
	return nil
}

// Done returns the completed paths in completion order.
func (l *Ledger) Done() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.order)
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Close() error {
	if l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}

// Reset removes the log of a queue. Explicit operator action only.
func Reset(dir, name string) error {
	path := LogPath(dir, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_ = os.Remove(path + ".lock")
	return nil
}
