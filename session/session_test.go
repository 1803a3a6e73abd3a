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

package session

import "testing"

func TestNoopAlwaysAllowsAndAssignsFreshIDs(t *testing.T) {
	n := Noop{}
	a, err := n.StartSession()
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	b, err := n.StartSession()
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct session IDs")
	}
	if !n.QsymFilter(a, 1, 2, true) {
		t.Fatalf("Noop.QsymFilter should never veto a branch")
	}
}

func TestSharedStateHitIncrements(t *testing.T) {
	s := NewSharedState()
	if got := s.Hit(1, 2, 1, 7); got != 1 {
		t.Fatalf("first Hit = %d, want 1", got)
	}
	if got := s.Hit(1, 2, 1, 7); got != 2 {
		t.Fatalf("second Hit = %d, want 2", got)
	}
	if got := s.HitCount(1, 2, 1, 7); got != 2 {
		t.Fatalf("HitCount = %d, want 2", got)
	}
	if got := s.HitCount(9, 9, 1, 7); got != 0 {
		t.Fatalf("HitCount for an unseen branch = %d, want 0", got)
	}
}

func TestSharedStateHitKeyedOnLocalcntAndResult(t *testing.T) {
	s := NewSharedState()
	// Same (addr, ctx) but a distinct localcnt is a fresh occurrence: a
	// hot loop revisiting the same branch must not accumulate hitcount
	// across occurrences.
	if got := s.Hit(1, 2, 1, 7); got != 1 {
		t.Fatalf("Hit at localcnt=1 = %d, want 1", got)
	}
	if got := s.Hit(1, 2, 2, 7); got != 1 {
		t.Fatalf("Hit at localcnt=2 = %d, want 1 (distinct occurrence)", got)
	}
	// Same (addr, ctx, localcnt) but a distinct result is also distinct.
	if got := s.Hit(1, 2, 1, 8); got != 1 {
		t.Fatalf("Hit at result=8 = %d, want 1 (distinct result)", got)
	}
	if got := s.Hit(1, 2, 1, 7); got != 2 {
		t.Fatalf("repeat Hit at localcnt=1,result=7 = %d, want 2", got)
	}
}

func TestSharedStateFlipped(t *testing.T) {
	s := NewSharedState()
	if s.Flipped(1, 2, 3, 7, true) {
		t.Fatalf("expected an unrecorded direction to report unflipped")
	}
	s.MarkFlipped(1, 2, 3, 7, true)
	if !s.Flipped(1, 2, 3, 7, true) {
		t.Fatalf("expected the marked direction to report flipped")
	}
	if s.Flipped(1, 2, 3, 7, false) {
		t.Fatalf("expected the opposite direction to remain unflipped")
	}
	if s.Flipped(1, 2, 4, 7, true) {
		t.Fatalf("expected a distinct localcnt to remain unflipped")
	}
}

func TestSharedStateDistinctBranchesIndependent(t *testing.T) {
	s := NewSharedState()
	s.Hit(1, 1, 1, 0)
	if got := s.HitCount(2, 2, 1, 0); got != 0 {
		t.Fatalf("expected a distinct (addr, ctx) pair to be unaffected, got %d", got)
	}
}
