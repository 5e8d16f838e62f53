// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package streaming

import (
	"fmt"
	"sync"
	"time"
)

// Errors returned by ApplyPatch.
var (
	ErrInvariantField = fmt.Errorf("patch targets an invariant field")
	ErrStalePatch     = fmt.Errorf("patch is older than current state")
)

// Provenance identifies where a state patch came from.
type Provenance struct {
	TimestampMS int64
	Source      string
}

// State is a session's versioned state: an invariant section fixed at
// creation and a mutable section updated by last-write-wins patches.
type State struct {
	mu sync.RWMutex

	invariants map[string]any
	mutable    map[string]any
	version    int64

	lastPatchTS     int64
	lastPatchSource string
}

// NewState creates session state. The invariant section never changes after
// this call.
func NewState(sessionID string, invariants map[string]any) *State {
	inv := make(map[string]any, len(invariants)+2)
	for k, v := range invariants {
		inv[k] = v
	}
	inv["session_id"] = sessionID
	inv["created_at"] = time.Now().UTC().Format(time.RFC3339)
	return &State{
		invariants: inv,
		mutable:    make(map[string]any),
	}
}

// Version returns the current state version.
func (s *State) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Invariant reads a field from the invariant section.
func (s *State) Invariant(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.invariants[key]
	return v, ok
}

// Get reads a field from the mutable section.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.mutable[key]
	return v, ok
}

// Mutable returns a copy of the mutable section.
func (s *State) Mutable() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.mutable))
	for k, v := range s.mutable {
		out[k] = v
	}
	return out
}

// ApplyPatch merges the patch into the mutable section under last-write-wins
// ordering by provenance timestamp. A patch at or before the last accepted
// timestamp is ignored (same-timestamp ties break on source string, then
// arrival). Patches naming an invariant field fail without any change.
// Returns the resulting state version.
func (s *State) ApplyPatch(patch map[string]any, prov Provenance) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range patch {
		if _, isInvariant := s.invariants[key]; isInvariant {
			return s.version, fmt.Errorf("%w: %q", ErrInvariantField, key)
		}
	}

	if prov.TimestampMS < s.lastPatchTS {
		return s.version, fmt.Errorf("%w: %d < %d", ErrStalePatch, prov.TimestampMS, s.lastPatchTS)
	}
	if prov.TimestampMS == s.lastPatchTS && s.lastPatchTS != 0 {
		// Stable tiebreak: the lexically larger source wins; an equal or
		// smaller source loses to the already-applied patch.
		if prov.Source <= s.lastPatchSource {
			return s.version, fmt.Errorf("%w: same timestamp, source %q loses to %q",
				ErrStalePatch, prov.Source, s.lastPatchSource)
		}
	}

	for k, v := range patch {
		s.mutable[k] = v
	}
	s.lastPatchTS = prov.TimestampMS
	s.lastPatchSource = prov.Source
	s.version++
	return s.version, nil
}
