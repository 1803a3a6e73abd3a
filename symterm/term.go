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

// Package symterm is the Expression Builder (EB): a recursive
// translator from a union-table label to a solver term, with a
// per-label memo and a byte-dependency memo. It treats every term as
// either boolean or bitvector sort, coercing at operator boundaries
// the way the source's z3 ast::Dynamic dispatch does.
package symterm

import "github.com/aclements/go-z3/z3"

// Sort tags which arm of Term is live.
type Sort int

const (
	SortBV Sort = iota
	SortBool
)

// Term is a tagged union over z3's bitvector and boolean sorts,
// mirroring the source's use of z3::ast::Dynamic and its sort-kind
// dispatch at every operator boundary.
type Term struct {
	Sort Sort
	BV   z3.BV
	Bool z3.Bool
}

// FromBV wraps a bitvector AST as a Term.
func FromBV(bv z3.BV) Term { return Term{Sort: SortBV, BV: bv} }

// FromBool wraps a boolean AST as a Term.
func FromBool(b z3.Bool) Term { return Term{Sort: SortBool, Bool: b} }

// IsBool reports whether the term carries boolean sort.
func (t Term) IsBool() bool { return t.Sort == SortBool }

// AsBV coerces t to a bitvector, ITE-lifting a boolean term to a
// 1-bit bitvector first (the same lift ZEXT/SEXT apply to boolean
// children before widening).
func (t Term) AsBV(ctx *z3.Context) z3.BV {
	if t.Sort == SortBV {
		return t.BV
	}
	one := ctx.BVVal(1, 1)
	zero := ctx.BVVal(0, 1)
	return t.Bool.IfThenElse(one, zero)
}

// width returns the bit width of a BV term, or 1 for a boolean term
// (its ITE-lifted width).
func (t Term) width() uint {
	if t.Sort == SortBV {
		return t.BV.Size()
	}
	return 1
}

