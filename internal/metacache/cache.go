// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metacache persists per-item working state under <root>/<uuid>/meta.json.
package metacache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/upbrr/internal/fsutil"
	"github.com/autobrr/upbrr/internal/models"
)

const stateFileName = "meta.json"

type Phase string

const (
	PhaseGathered    Phase = "post-metadata-gather"
	PhasePreTrackers Phase = "pre-trackers"
	PhaseScreenshots Phase = "post-screenshot"
	PhaseTorrent     Phase = "post-torrent-creation"
	PhaseSubmission  Phase = "post-submission"
)

// CorruptStateError is returned when meta.json exists but cannot be decoded.
// The file is left untouched for the operator to inspect.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("persisted state %s is malformed: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

func (e *CorruptStateError) Is(target error) bool {
	_, ok := target.(*CorruptStateError)
	return ok
}

type Cache struct {
	root string
	now  func() time.Time

	mu           sync.Mutex
	fingerprints map[string]uint64
}

func New(root string) *Cache {
	return &Cache{
		root:         root,
		now:          time.Now,
		fingerprints: make(map[string]uint64),
	}
}

// ItemDir is the working directory of one item; artifacts live next to meta.json.
func (c *Cache) ItemDir(id string) string {
	return filepath.Join(c.root, id)
}

func (c *Cache) StatePath(id string) string {
	return filepath.Join(c.ItemDir(id), stateFileName)
}

// LoadOrInit returns the persisted state merged with fresh input, or a state built
// from fresh input when nothing was persisted. restored reports which case applied.
func (c *Cache) LoadOrInit(in *models.Input) (state *models.WorkingState, restored bool, err error) {
	id := in.State.UUID
	path := c.StatePath(id)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		fresh := in.State.Clone()
		if err := os.MkdirAll(c.ItemDir(id), 0o755); err != nil {
			return nil, false, fmt.Errorf("create item dir: %w", err)
		}
		return fresh, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read persisted state: %w", err)
	}

	var saved models.WorkingState
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, false, &CorruptStateError{Path: path, Err: err}
	}
	if saved.UUID != "" && saved.UUID != id {
		return nil, false, &CorruptStateError{Path: path, Err: fmt.Errorf("uuid %q does not match item %q", saved.UUID, id)}
	}
	saved.UUID = id

	c.remember(id, fingerprint(&saved))

	merged := models.Merge(&saved, in)

	log.Debug().
		Str("item", id).
		Str("path", merged.Path).
		Msg("Restored persisted item state")

	return merged, true, nil
}

// Checkpoint writes the full state atomically. Writing a state identical to the last
// checkpoint of this item is a no-op, so repeated checkpoints leave the file unchanged.
func (c *Cache) Checkpoint(state *models.WorkingState, phase Phase) error {
	if state == nil || state.UUID == "" {
		return errors.New("checkpoint: state has no uuid")
	}

	fp := fingerprint(state)
	path := c.StatePath(state.UUID)

	c.mu.Lock()
	last, seen := c.fingerprints[state.UUID]
	c.mu.Unlock()

	if seen && last == fp {
		if _, err := os.Stat(path); err == nil {
			log.Trace().Str("item", state.UUID).Str("phase", string(phase)).Msg("Checkpoint unchanged, skipping write")
			return nil
		}
	}

	snapshot := state.Clone()
	snapshot.UpdatedAt = c.now().UTC().Truncate(time.Second)

	if err := fsutil.WriteJSONAtomic(path, snapshot, 0o600); err != nil {
		return fmt.Errorf("checkpoint %s: %w", phase, err)
	}
	state.UpdatedAt = snapshot.UpdatedAt

	c.remember(state.UUID, fp)

	log.Debug().Str("item", state.UUID).Str("phase", string(phase)).Msg("Checkpoint written")
	return nil
}

// Delete removes an item's directory. Only called on explicit operator request.
func (c *Cache) Delete(id string) error {
	dir := c.ItemDir(id)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	c.mu.Lock()
	delete(c.fingerprints, id)
	c.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete item state: %w", err)
	}
	log.Info().Str("item", id).Msg("Deleted persisted item state")
	return nil
}

func (c *Cache) remember(id string, fp uint64) {
	c.mu.Lock()
	c.fingerprints[id] = fp
	c.mu.Unlock()
}

// fingerprint hashes the state without its timestamp.
func fingerprint(state *models.WorkingState) uint64 {
	clone := state.Clone()
	clone.UpdatedAt = time.Time{}
	data, err := json.Marshal(clone)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
