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

// Package branchdep implements the Branch-Dependency Store (BDS): for
// each union-find-root byte, the ordered list of preserved path
// conditions that touch any byte in that class. It is the sole
// mechanism by which past branches constrain new solves (§4.3).
package branchdep

import (
	"github.com/aclements/go-z3/z3"

	"github.com/fastgen-dev/fastgen/unionfind"
)

// Entry holds the preserved conditions recorded at one UF-root byte.
type Entry struct {
	Conds []z3.Bool
}

// Store is a per-session mapping from UF-representative byte index to
// its preserved condition list, sized to the session's tainted_size.
type Store struct {
	entries []*Entry
}

// New returns an empty Store sized for n input bytes.
func New(n int) *Store {
	return &Store{entries: make([]*Entry, n)}
}

// Preserve appends cond to the list at anchor, recording the taken
// direction of a branch without solving it.
func (s *Store) Preserve(anchor int, cond z3.Bool) {
	e := s.entries[anchor]
	if e == nil {
		e = &Entry{}
		s.entries[anchor] = e
	}
	e.Conds = append(e.Conds, cond)
}

// AssertDeps visits every member of anchor's UF class, asserts every
// condition preserved at each member into solver, and returns the
// full set of byte offsets touched by the class (used by the caller
// to extract model values for the nested solution).
func (s *Store) AssertDeps(solver *z3.Solver, anchor int, uf *unionfind.UnionFind) map[int]struct{} {
	touched := make(map[int]struct{})
	for _, off := range uf.Set(anchor) {
		touched[off] = struct{}{}
		if e := s.entries[off]; e != nil {
			for _, cond := range e.Conds {
				solver.Assert(cond)
			}
		}
	}
	return touched
}
