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
	"strconv"

	"github.com/aclements/go-z3/z3"

	"github.com/fastgen-dev/fastgen/uniontable"
)

// Builder translates union-table labels into solver Terms. It must be
// entered fresh per solve session: the expr and deps memos are
// per-session caches keyed by label and MUST NOT leak across seeds
// (§4.6), since a seed change invalidates every offset the memoized
// terms refer to.
type Builder struct {
	ctx   *z3.Context
	table *uniontable.Table

	// fmemcmpData buffers the concrete LHS payload most recently
	// captured for a given label by a type-2 (fmemcmp) message.
	fmemcmpData map[uint32][]byte

	exprMemo map[uint32]Term
	depsMemo map[uint32]map[int]struct{}
}

// NewBuilder returns a Builder bound to ctx and table. fmemcmpData may be
// shared with the caller's session state; the Builder only reads it.
func NewBuilder(ctx *z3.Context, table *uniontable.Table, fmemcmpData map[uint32][]byte) *Builder {
	return &Builder{
		ctx:         ctx,
		table:       table,
		fmemcmpData: fmemcmpData,
		exprMemo:    make(map[uint32]Term),
		depsMemo:    make(map[uint32]map[int]struct{}),
	}
}

// Deps returns the byte-dependency set accumulated for label during
// the most recent successful Build call that reached it. It returns
// nil if label was never built.
func (b *Builder) Deps(label uint32) map[int]struct{} {
	return b.depsMemo[label]
}

// Build recursively translates label into a solver Term, returning
// (Term{}, false) when the label is 0, its depth exceeds MaxDepth, one
// of its children is unresolvable, or an operator-specific invariant
// is violated (§4.2).
func (b *Builder) Build(label uint32) (Term, bool) {
	if label < uniontable.ConstOffset || label == ^uint32(0) {
		return Term{}, false
	}
	if t, ok := b.exprMemo[label]; ok {
		return t, true
	}

	info, ok := b.table.Get(label)
	if !ok {
		return Term{}, false
	}
	if info.Depth > uniontable.MaxDepth {
		return Term{}, false
	}

	switch info.Op {
	case uniontable.OpRead:
		node := b.ctx.BVConst(readConstName(info.Op1), 8)
		t := FromBV(node)
		b.exprMemo[label] = t
		b.depsMemo[label] = set(int(info.Op1))
		return t, true

	case uniontable.OpLoad:
		readInfo, ok := b.table.Get(info.L1)
		if !ok {
			return Term{}, false
		}
		offset := uint32(readInfo.Op1)
		node := b.ctx.BVConst(readConstName(uint64(offset)), 8)
		deps := map[int]struct{}{int(offset): {}}
		for i := uint32(1); i < info.L2; i++ {
			next := b.ctx.BVConst(readConstName(uint64(offset+i)), 8)
			node = next.Concat(node)
			deps[int(offset+i)] = struct{}{}
		}
		t := FromBV(node)
		b.exprMemo[label] = t
		b.depsMemo[label] = deps
		return t, true

	case uniontable.OpZExt:
		return b.buildExt(label, info, true)
	case uniontable.OpSExt:
		return b.buildExt(label, info, false)

	case uniontable.OpTrunc:
		child, ok := b.Build(info.L1)
		if !ok {
			return Term{}, false
		}
		t := FromBV(child.AsBV(b.ctx).Extract(uint(info.Size)-1, 0))
		b.exprMemo[label] = t
		b.depsMemo[label] = b.depsMemo[info.L1]
		return t, true

	case uniontable.OpExtract:
		child, ok := b.Build(info.L1)
		if !ok {
			return Term{}, false
		}
		lo := uint(info.Op2)
		hi := lo + uint(info.Size) - 1
		t := FromBV(child.AsBV(b.ctx).Extract(hi, lo))
		b.exprMemo[label] = t
		b.depsMemo[label] = b.depsMemo[info.L1]
		return t, true

	case uniontable.OpNot:
		if info.L2 == 0 || info.Size != 1 {
			return Term{}, false
		}
		child, ok := b.Build(info.L2)
		if !ok || !child.IsBool() {
			return Term{}, false
		}
		t := FromBool(child.Bool.Not())
		b.exprMemo[label] = t
		b.depsMemo[label] = b.depsMemo[info.L2]
		return t, true

	case uniontable.OpNeg:
		if info.L2 == 0 {
			return Term{}, false
		}
		child, ok := b.Build(info.L2)
		if !ok {
			return Term{}, false
		}
		t := FromBV(child.AsBV(b.ctx).Neg())
		b.exprMemo[label] = t
		b.depsMemo[label] = b.depsMemo[info.L2]
		return t, true

	case uniontable.OpFmemcmp:
		return b.buildFmemcmp(label, info)
	}

	return b.buildBinary(label, info)
}

func readConstName(offset uint64) string {
	return "byte_" + strconv.FormatUint(offset, 10)
}

func set(v int) map[int]struct{} {
	return map[int]struct{}{v: {}}
}

// buildExt implements ZEXT (zeroExt=true) and SEXT (zeroExt=false).
// A boolean child is first ITE-lifted to a 1-bit bitvector, then
// widened by size-1 extra bits; a bitvector child is widened directly
// by size-width(child) extra bits (§4.2, §4.6).
func (b *Builder) buildExt(label uint32, info uniontable.Label, zeroExt bool) (Term, bool) {
	child, ok := b.Build(info.L1)
	if !ok {
		return Term{}, false
	}
	var extra uint
	var bv z3.BV
	if child.IsBool() {
		bv = child.AsBV(b.ctx)
		extra = uint(info.Size) - 1
	} else {
		bv = child.BV
		extra = uint(info.Size) - bv.Size()
	}
	var out z3.BV
	if zeroExt {
		out = bv.ZeroExtend(extra)
	} else {
		out = bv.SignExtend(extra)
	}
	t := FromBV(out)
	b.exprMemo[label] = t
	b.depsMemo[label] = b.depsMemo[info.L1]
	return t, true
}

// buildFmemcmp implements the symbolic memcmp operator: it returns a
// BV32 that is 0 iff LHS == RHS. The LHS is the symbolic l1 term when
// present, else the buffered concrete payload captured by the most
// recent type-2 message for this label's l2 (§4.2, §4.6).
func (b *Builder) buildFmemcmp(label uint32, info uniontable.Label) (Term, bool) {
	if info.L2 == 0 {
		return Term{}, false
	}
	var left Term
	var leftOK bool
	var leftDeps map[int]struct{}
	if info.L1 != 0 {
		left, leftOK = b.Build(info.L1)
		leftDeps = b.depsMemo[info.L1]
	} else {
		data, has := b.fmemcmpData[uint32(info.L2)]
		if !has || len(data) == 0 {
			return Term{}, false
		}
		left = FromBV(concreteBytes(b.ctx, data))
		leftOK = true
	}
	right, rightOK := b.Build(info.L2)
	if !leftOK || !rightOK {
		return Term{}, false
	}
	equal := left.AsBV(b.ctx).Eq(right.AsBV(b.ctx))
	zero := b.ctx.BVVal(0, 32)
	one := b.ctx.BVVal(1, 32)
	t := FromBV(equal.IfThenElse(zero, one))
	merged := map[int]struct{}{}
	for k := range leftDeps {
		merged[k] = struct{}{}
	}
	if info.L2 >= uniontable.ConstOffset {
		for k := range b.depsMemo[info.L2] {
			merged[k] = struct{}{}
		}
	}
	b.exprMemo[label] = t
	b.depsMemo[label] = merged
	return t, true
}

// concreteBytes builds a little-endian concatenation of raw bytes
// into a single bitvector, matching read_concrete in the source.
func concreteBytes(ctx *z3.Context, data []byte) z3.BV {
	node := ctx.BVVal(uint64(data[0]), 8)
	for i := 1; i < len(data); i++ {
		node = ctx.BVVal(uint64(data[i]), 8).Concat(node)
	}
	return node
}

// buildBinary handles every two-operand node: the low-byte
// arithmetic/bitwise/concat family and the high-byte comparison
// family (§4.2).
func (b *Builder) buildBinary(label uint32, info uniontable.Label) (Term, bool) {
	size := uint(info.Size)

	left, _, ok := b.operand(info.L1, info, size, true)
	if !ok {
		return Term{}, false
	}
	right, _, ok := b.operand(info.L2, info, size, false)
	if !ok {
		return Term{}, false
	}

	merged := map[int]struct{}{}
	if info.L1 >= uniontable.ConstOffset {
		for k := range b.depsMemo[info.L1] {
			merged[k] = struct{}{}
		}
	}
	if info.L2 >= uniontable.ConstOffset {
		for k := range b.depsMemo[info.L2] {
			merged[k] = struct{}{}
		}
	}
	b.depsMemo[label] = merged

	if t, ok := b.lowByte(left, right, info); ok {
		b.exprMemo[label] = t
		return t, true
	}
	if t, ok := b.highByte(left, right, info); ok {
		b.exprMemo[label] = t
		return t, true
	}
	return Term{}, false
}

// operand resolves one side of a binary node: if the child label is
// present it is built recursively; otherwise a constant of the
// appropriate width is substituted from op1/op2, per the missing-side
// substitution rule in §4.2 (including CONCAT's asymmetric width and
// the boolean-constant special case at width 1). Outside CONCAT, the
// constant takes the width of the other, present operand.
func (b *Builder) operand(childLabel uint32, info uniontable.Label, size uint, isLeft bool) (Term, uint, bool) {
	if childLabel >= 1 {
		t, ok := b.Build(childLabel)
		if !ok {
			return Term{}, 0, false
		}
		return t, t.width(), true
	}

	width := size
	if other, ok := b.table.Get(otherChild(info, isLeft)); ok {
		if info.Op&0xff == uniontable.OpConcat {
			width = size - uint(other.Size)
		} else {
			// A comparison's Size is its 1-bit result width, so the
			// constant takes the width of the operand it meets.
			width = uint(other.Size)
		}
	}
	imm := info.Op1
	if !isLeft {
		imm = info.Op2
	}
	if width == 1 {
		return FromBool(b.ctx.BoolVal(imm == 1)), 1, true
	}
	return FromBV(b.ctx.BVVal(imm, width)), width, true
}

func otherChild(info uniontable.Label, isLeft bool) uint32 {
	if isLeft {
		return info.L2
	}
	return info.L1
}

func (b *Builder) lowByte(left, right Term, info uniontable.Label) (Term, bool) {
	size1 := left.width()
	boolDomain := size1 == 1
	switch info.Low() {
	case uniontable.OpAnd:
		if boolDomain {
			return FromBool(z3.And(b.ctx, left.Bool, right.Bool)), true
		}
		return FromBV(left.AsBV(b.ctx).And(right.AsBV(b.ctx))), true
	case uniontable.OpOr:
		if boolDomain {
			return FromBool(z3.Or(b.ctx, left.Bool, right.Bool)), true
		}
		return FromBV(left.AsBV(b.ctx).Or(right.AsBV(b.ctx))), true
	case uniontable.OpXor:
		if boolDomain {
			return FromBool(left.Bool.Xor(right.Bool)), true
		}
		return FromBV(left.AsBV(b.ctx).Xor(right.AsBV(b.ctx))), true
	case uniontable.OpShl:
		return FromBV(left.AsBV(b.ctx).Lsh(right.AsBV(b.ctx))), true
	case uniontable.OpLshr:
		return FromBV(left.AsBV(b.ctx).LshR(right.AsBV(b.ctx))), true
	case uniontable.OpAshr:
		return FromBV(left.AsBV(b.ctx).AshR(right.AsBV(b.ctx))), true
	case uniontable.OpAdd:
		return FromBV(left.AsBV(b.ctx).Add(right.AsBV(b.ctx))), true
	case uniontable.OpSub:
		return FromBV(left.AsBV(b.ctx).Sub(right.AsBV(b.ctx))), true
	case uniontable.OpMul:
		return FromBV(left.AsBV(b.ctx).Mul(right.AsBV(b.ctx))), true
	case uniontable.OpUdiv:
		return FromBV(left.AsBV(b.ctx).UDiv(right.AsBV(b.ctx))), true
	case uniontable.OpSdiv:
		return FromBV(left.AsBV(b.ctx).SDiv(right.AsBV(b.ctx))), true
	case uniontable.OpUrem:
		return FromBV(left.AsBV(b.ctx).URem(right.AsBV(b.ctx))), true
	case uniontable.OpSrem:
		return FromBV(left.AsBV(b.ctx).SRem(right.AsBV(b.ctx))), true
	case uniontable.OpConcat:
		// right occupies the most significant bits: this mirrors
		// how the target builds little-endian loads byte by byte
		// (validated on scenario S2).
		return FromBV(right.AsBV(b.ctx).Concat(left.AsBV(b.ctx))), true
	}
	return Term{}, false
}

func (b *Builder) highByte(left, right Term, info uniontable.Label) (Term, bool) {
	switch info.High() {
	case uniontable.OpBvEq:
		return FromBool(genericEq(b.ctx, left, right)), true
	case uniontable.OpBvNeq:
		return FromBool(genericEq(b.ctx, left, right).Not()), true
	case uniontable.OpBvUlt:
		return FromBool(left.AsBV(b.ctx).ULT(right.AsBV(b.ctx))), true
	case uniontable.OpBvUle:
		return FromBool(left.AsBV(b.ctx).ULE(right.AsBV(b.ctx))), true
	case uniontable.OpBvUgt:
		return FromBool(left.AsBV(b.ctx).UGT(right.AsBV(b.ctx))), true
	case uniontable.OpBvUge:
		return FromBool(left.AsBV(b.ctx).UGE(right.AsBV(b.ctx))), true
	case uniontable.OpBvSlt:
		return FromBool(left.AsBV(b.ctx).SLT(right.AsBV(b.ctx))), true
	case uniontable.OpBvSle:
		return FromBool(left.AsBV(b.ctx).SLE(right.AsBV(b.ctx))), true
	case uniontable.OpBvSgt:
		return FromBool(left.AsBV(b.ctx).SGT(right.AsBV(b.ctx))), true
	case uniontable.OpBvSge:
		return FromBool(left.AsBV(b.ctx).SGE(right.AsBV(b.ctx))), true
	}
	return Term{}, false
}

// genericEq is BVEQ/BVNEQ's generic-over-sort equality: when both
// sides are boolean it compares directly, otherwise it coerces both
// to bitvectors first (§4.2: "BVEQ/BVNEQ are generic over BV and
// boolean sorts via distinct").
func genericEq(ctx *z3.Context, left, right Term) z3.Bool {
	if left.IsBool() && right.IsBool() {
		return left.Bool.Eq(right.Bool)
	}
	return left.AsBV(ctx).Eq(right.AsBV(ctx))
}
