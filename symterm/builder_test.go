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

package symterm

import (
	"encoding/binary"
	"testing"

	"github.com/aclements/go-z3/z3"

	"github.com/fastgen-dev/fastgen/uniontable"
)

// fakeTable builds a raw union-table byte slice from a list of labels,
// label index i living at slot i (slot 0 is the unused NoLabel slot).
func fakeTable(labels []uniontable.Label) *uniontable.Table {
	const recordSize = 32
	buf := make([]byte, recordSize*(len(labels)+1))
	for i, l := range labels {
		off := (i + 1) * recordSize
		binary.LittleEndian.PutUint32(buf[off:], l.L1)
		binary.LittleEndian.PutUint32(buf[off+4:], l.L2)
		binary.LittleEndian.PutUint16(buf[off+8:], l.Op)
		binary.LittleEndian.PutUint16(buf[off+10:], l.Size)
		binary.LittleEndian.PutUint64(buf[off+12:], l.Op1)
		binary.LittleEndian.PutUint64(buf[off+20:], l.Op2)
		binary.LittleEndian.PutUint32(buf[off+28:], l.Depth)
	}
	return uniontable.FromBytes(buf)
}

func newTestCtx() *z3.Context {
	cfg := z3.NewConfig()
	return z3.NewContext(cfg)
}

// S1: a direct byte compare. READ(offset=0) at label 1, then
// BVEQ(l1=1, op2=0x41) at label 2. Solving label 2 true should yield a
// model with byte_0 == 0x41.
func TestBuilder_DirectByteCompare(t *testing.T) {
	ctx := newTestCtx()
	table := fakeTable([]uniontable.Label{
		{Op: uniontable.OpRead, Size: 8, Op1: 0, Depth: 1},
		{L1: 1, Op: uniontable.OpBvEq << 8, Size: 1, Op2: 0x41, Depth: 2},
	})
	b := NewBuilder(ctx, table, nil)

	term, ok := b.Build(2)
	if !ok {
		t.Fatalf("Build(2) failed")
	}
	if !term.IsBool() {
		t.Fatalf("expected boolean term")
	}

	solver := z3.NewSolver(ctx)
	solver.Assert(term.Bool)
	sat, err := solver.Check()
	if err != nil {
		t.Fatalf("solver check error: %v", err)
	}
	if !sat {
		t.Fatalf("expected sat")
	}
	model, err := solver.Model()
	if err != nil {
		t.Fatalf("model error: %v", err)
	}
	val, ok := model.Eval(ctx.BVConst("byte_0", 8), true)
	if !ok {
		t.Fatalf("could not evaluate byte_0 in the model")
	}
	if n, ok := val.AsInt64(); !ok || n != 0x41 {
		t.Fatalf("byte_0 = %#x, want 0x41", n)
	}

	deps := b.Deps(2)
	if _, ok := deps[0]; !ok {
		t.Fatalf("expected dependency on byte 0, got %v", deps)
	}
}

// S2: a 16-bit little-endian load over bytes 0..1 compared against
// 0x4243, validating OpLoad's "higher offset atop lower" ordering (the
// same order CONCAT uses) so that byte_0 == 0x43 and byte_1 == 0x42
// (little-endian: low byte first).
func TestBuilder_LoadConcatEndianness(t *testing.T) {
	ctx := newTestCtx()
	table := fakeTable([]uniontable.Label{
		{Op: uniontable.OpRead, Size: 8, Op1: 0, Depth: 1},
		{L1: 1, L2: 2, Op: uniontable.OpLoad, Size: 16, Depth: 2},
		{L1: 2, Op: uniontable.OpBvEq << 8, Size: 1, Op2: 0x4243, Depth: 3},
	})
	b := NewBuilder(ctx, table, nil)

	term, ok := b.Build(3)
	if !ok {
		t.Fatalf("Build(3) failed")
	}

	solver := z3.NewSolver(ctx)
	solver.Assert(term.Bool)
	sat, err := solver.Check()
	if err != nil {
		t.Fatalf("solver check error: %v", err)
	}
	if !sat {
		t.Fatalf("expected sat")
	}
	model, err := solver.Model()
	if err != nil {
		t.Fatalf("model error: %v", err)
	}
	for name, want := range map[string]int64{"byte_0": 0x43, "byte_1": 0x42} {
		val, ok := model.Eval(ctx.BVConst(name, 8), true)
		if !ok {
			t.Fatalf("could not evaluate %s in the model", name)
		}
		if n, ok := val.AsInt64(); !ok || n != want {
			t.Fatalf("%s = %#x, want %#x", name, n, want)
		}
	}

	deps := b.Deps(3)
	if _, ok := deps[0]; !ok {
		t.Fatalf("expected dependency on byte 0")
	}
	if _, ok := deps[1]; !ok {
		t.Fatalf("expected dependency on byte 1")
	}
}

// S3: two branches sharing byte 1 via overlapping dependency sets,
// checked by building both labels against the same Builder/table and
// confirming both report byte 1 as a dependency.
func TestBuilder_NestedSharedDependency(t *testing.T) {
	ctx := newTestCtx()
	table := fakeTable([]uniontable.Label{
		{Op: uniontable.OpRead, Size: 8, Op1: 1, Depth: 1},                        // label 1: READ(1)
		{L1: 1, Op: uniontable.OpBvEq << 8, Size: 1, Op2: 0x10, Depth: 2},          // label 2: byte_1 == 0x10
		{Op: uniontable.OpRead, Size: 8, Op1: 1, Depth: 1},                        // label 3: READ(1) again
		{L1: 3, Op: uniontable.OpBvUlt << 8, Size: 1, Op2: 0x20, Depth: 2},         // label 4: byte_1 < 0x20
	})
	b := NewBuilder(ctx, table, nil)

	t1, ok := b.Build(2)
	if !ok {
		t.Fatalf("Build(2) failed")
	}
	t2, ok := b.Build(4)
	if !ok {
		t.Fatalf("Build(4) failed")
	}

	d1 := b.Deps(2)
	d2 := b.Deps(4)
	if _, ok := d1[1]; !ok {
		t.Fatalf("expected label 2 to depend on byte 1")
	}
	if _, ok := d2[1]; !ok {
		t.Fatalf("expected label 4 to depend on byte 1")
	}

	solver := z3.NewSolver(ctx)
	solver.Assert(t1.Bool)
	solver.Assert(t2.Bool)
	sat, err := solver.Check()
	if err != nil {
		t.Fatalf("solver check error: %v", err)
	}
	if !sat {
		t.Fatalf("expected joint constraints to be sat")
	}
}

// S4: a 300-deep chain of ADD labels must be rejected by the depth
// cutoff before Build ever descends into buildBinary.
func TestBuilder_DepthCutoff(t *testing.T) {
	ctx := newTestCtx()

	const chainLen = 300
	labels := make([]uniontable.Label, 0, chainLen+1)
	labels = append(labels, uniontable.Label{Op: uniontable.OpRead, Size: 8, Op1: 0, Depth: 1})
	for i := 2; i <= chainLen+1; i++ {
		labels = append(labels, uniontable.Label{
			L1: uint32(i - 1), Op: uniontable.OpAdd, Size: 8, Op2: 1, Depth: uint32(i),
		})
	}
	table := fakeTable(labels)
	b := NewBuilder(ctx, table, nil)

	_, ok := b.Build(uint32(len(labels)))
	if ok {
		t.Fatalf("expected depth cutoff to reject a %d-deep chain", chainLen)
	}
}

// S6: a GEP-style index flip modeled as a comparison whose left side
// is a symbolic byte and whose right side is an immediate bound; the
// flipped comparison (ULT -> UGE) over the same byte must also build,
// and asserting both together must be unsat since they are exact
// complements.
func TestBuilder_IndexFlip(t *testing.T) {
	ctx := newTestCtx()
	table := fakeTable([]uniontable.Label{
		{Op: uniontable.OpRead, Size: 8, Op1: 4, Depth: 1},
		{L1: 1, Op: uniontable.OpBvUlt << 8, Size: 1, Op2: 10, Depth: 2},
		{L1: 1, Op: uniontable.OpBvUge << 8, Size: 1, Op2: 10, Depth: 2},
	})
	b := NewBuilder(ctx, table, nil)

	lt, ok := b.Build(2)
	if !ok {
		t.Fatalf("Build(2) failed")
	}
	ge, ok := b.Build(3)
	if !ok {
		t.Fatalf("Build(3) failed")
	}

	solver := z3.NewSolver(ctx)
	solver.Assert(lt.Bool)
	solver.Assert(ge.Bool)
	sat, err := solver.Check()
	if err != nil {
		t.Fatalf("solver check error: %v", err)
	}
	if sat {
		t.Fatalf("expected the flipped pair to be jointly unsat")
	}
}
