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

package branchdep

import (
	"testing"

	"github.com/aclements/go-z3/z3"

	"github.com/fastgen-dev/fastgen/unionfind"
)

func newCtx() *z3.Context {
	return z3.NewContext(z3.NewConfig())
}

func TestAssertDepsReplaysPreservedConditions(t *testing.T) {
	ctx := newCtx()
	uf := unionfind.New(4)
	anchor := uf.UnionSet([]int{0, 1})

	store := New(4)
	x := ctx.BVConst("byte_0", 8)
	store.Preserve(anchor, x.Eq(ctx.BVVal(5, 8)))

	solver := z3.NewSolver(ctx)
	touched := store.AssertDeps(solver, anchor, uf)

	if _, ok := touched[0]; !ok {
		t.Fatalf("expected byte 0 in the touched set")
	}
	if _, ok := touched[1]; !ok {
		t.Fatalf("expected byte 1 (unioned with 0) in the touched set")
	}

	solver.Assert(x.Eq(ctx.BVVal(6, 8)))
	sat, err := solver.Check()
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	if sat {
		t.Fatalf("expected the replayed x==5 constraint to conflict with x==6")
	}
}

func TestAssertDepsEmptyAnchorIsNoop(t *testing.T) {
	ctx := newCtx()
	uf := unionfind.New(2)
	store := New(2)

	solver := z3.NewSolver(ctx)
	touched := store.AssertDeps(solver, 0, uf)
	if len(touched) != 1 {
		t.Fatalf("expected singleton touched set for an untouched anchor, got %v", touched)
	}
	sat, err := solver.Check()
	if err != nil {
		t.Fatalf("check error: %v", err)
	}
	if !sat {
		t.Fatalf("expected an empty solver to be trivially sat")
	}
}
