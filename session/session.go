// Copyright (C) 2024 fastgen-dev
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package session holds the state a solver worker shares across the
// lifetime of one fuzzing session: identity, the hook interface the
// outer fuzzer can use to steer which branches get solved, and the
// hit-count/flip bookkeeping consulted by the solve heuristics (§4.4,
// §6.4).
package session

import (
	"sync"

	"github.com/dchest/siphash"
	"github.com/google/uuid"
)

// ID identifies one solver session, generated fresh at StartSession.
type ID = uuid.UUID

// Hooks lets the embedding fuzzer observe session lifecycle events and
// veto branches before they're solved. QsymFilter reports whether a
// branch should be solved (true) or skipped (false); the worker consults
// it only when Config.QsymFilter is set. Noop implements a Hooks that
// never filters anything, the default when no embedder is present.
type Hooks interface {
	StartSession() (ID, error)
	EndSession(id ID)
	QsymFilter(id ID, addr, ctx uint64, direction bool) bool
}

// Noop is the zero-configuration Hooks: it always assigns a fresh
// random session ID and never filters a branch.
type Noop struct{}

func (Noop) StartSession() (ID, error)                               { return uuid.New(), nil }
func (Noop) EndSession(ID)                                           {}
func (Noop) QsymFilter(id ID, addr, ctx uint64, direction bool) bool { return true }

// branchKey hashes (addr, ctx, localcnt, result) into a single
// comparable key, the same composite identity the source uses to index
// branch_hitcount and branch_fliplist:
// `(msg.addr, msg.ctx, localcnt, msg.result)`. localcnt and result are
// part of the key, not just addr/ctx, because a hot loop revisits the
// same address many times within a session; omitting localcnt would
// make every repeat hit of a loop branch count against the same
// hitcount bucket instead of starting fresh at 1 per occurrence (§4.4,
// testable property 5).
type branchKey uint64

// siphash keys for composite-key hashing. Fixed rather than random so
// that hitcount/fliplist keys are stable across a session's lifetime
// irrespective of map iteration order or restarts within a run.
const (
	hashK0 = 0x9ae16a3b2f90404f
	hashK1 = 0xc949d7c7509e6557
)

func makeBranchKey(addr, ctx uint64, localcnt uint32, result uint64) branchKey {
	var buf [28]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(addr >> (8 * i))
		buf[8+i] = byte(ctx >> (8 * i))
		buf[20+i] = byte(result >> (8 * i))
	}
	for i := 0; i < 4; i++ {
		buf[16+i] = byte(localcnt >> (8 * i))
	}
	return branchKey(siphash.Hash(hashK0, hashK1, buf[:]))
}

// SharedState is the mutable bookkeeping a Worker consults on every
// Cond/GEP message: how many times a given (addr, ctx, localcnt,
// result) branch occurrence has been seen this session, and whether a
// given (occurrence, direction) pair has already been flipped. It is
// safe for concurrent use, matching the teacher's convention of
// guarding shared maps with a dedicated sync.RWMutex rather than a
// global lock.
type SharedState struct {
	mu       sync.RWMutex
	hitcount map[branchKey]uint32
	flipped  map[branchKey]map[bool]struct{}
}

// NewSharedState returns empty session-wide bookkeeping.
func NewSharedState() *SharedState {
	return &SharedState{
		hitcount: make(map[branchKey]uint32),
		flipped:  make(map[branchKey]map[bool]struct{}),
	}
}

// Hit increments and returns the hit count for
// (addr, ctx, localcnt, result).
func (s *SharedState) Hit(addr, ctx uint64, localcnt uint32, result uint64) uint32 {
	key := makeBranchKey(addr, ctx, localcnt, result)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hitcount[key]++
	return s.hitcount[key]
}

// HitCount returns the current hit count for
// (addr, ctx, localcnt, result) without incrementing it.
func (s *SharedState) HitCount(addr, ctx uint64, localcnt uint32, result uint64) uint32 {
	key := makeBranchKey(addr, ctx, localcnt, result)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hitcount[key]
}

// Flipped reports whether direction has already been recorded as
// flipped for (addr, ctx, localcnt, result).
func (s *SharedState) Flipped(addr, ctx uint64, localcnt uint32, result uint64, direction bool) bool {
	key := makeBranchKey(addr, ctx, localcnt, result)
	s.mu.RLock()
	defer s.mu.RUnlock()
	dirs, ok := s.flipped[key]
	if !ok {
		return false
	}
	_, ok = dirs[direction]
	return ok
}

// MarkFlipped records that direction has now been solved for
// (addr, ctx, localcnt, result), so a later hit on the same branch
// occurrence and direction can be skipped by the flipped heuristic.
func (s *SharedState) MarkFlipped(addr, ctx uint64, localcnt uint32, result uint64, direction bool) {
	key := makeBranchKey(addr, ctx, localcnt, result)
	s.mu.Lock()
	defer s.mu.Unlock()
	dirs, ok := s.flipped[key]
	if !ok {
		dirs = make(map[bool]struct{})
		s.flipped[key] = dirs
	}
	dirs[direction] = struct{}{}
}
