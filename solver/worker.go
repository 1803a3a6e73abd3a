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

// Package solver implements the Solver Worker (SW): a single-threaded
// cooperative consumer of the framed event pipe that drives the
// Expression Builder and Branch-Dependency Store against a live Z3
// session and pushes solved inputs onto a blocking Solution queue
// (§4.4, §4.5).
package solver

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/aclements/go-z3/z3"

	"github.com/fastgen-dev/fastgen/branchdep"
	"github.com/fastgen-dev/fastgen/config"
	"github.com/fastgen-dev/fastgen/queue"
	"github.com/fastgen-dev/fastgen/session"
	"github.com/fastgen-dev/fastgen/symterm"
	"github.com/fastgen-dev/fastgen/uniontable"
	"github.com/fastgen-dev/fastgen/unionfind"
)

// hitcountCap and localCap bound how much attention any one branch
// address gets within a session: beyond hitcountCap tries, a branch is
// assumed saturated; beyond localCap occurrences in a single run, it's
// assumed to be in a hot loop not worth solving (§4.4).
const (
	hitcountCap = 5
	localCap    = 16
	localSkip   = 64
)

// localKey identifies a branch occurrence by address and calling
// context, scoped to one worker's run (not shared across sessions).
type localKey struct {
	addr uint64
	ctx  uint64
}

// Worker drives one solve session: a single z3.Context/z3.Solver pair,
// a UnionFind and BranchDependency store sized to the tainted input,
// and an Expression Builder whose memo lives for the worker's whole
// lifetime (safe because a union table only grows monotonically
// within one target execution).
type Worker struct {
	cfg config.Config

	table   *uniontable.Table
	zctx    *z3.Context
	solver  *z3.Solver
	builder *symterm.Builder

	uf  *unionfind.UnionFind
	bds *branchdep.Store

	fmemcmpData map[uint32][]byte
	branchLocal map[localKey]uint32

	shared *session.SharedState
	hooks  session.Hooks

	solutions *queue.BlockingQueue

	logger *log.Logger
}

// NewWorker builds a Worker over table, sized for taintedSize input
// bytes, sharing hitcount/fliplist bookkeeping via shared and handing
// solved inputs to solutions.
func NewWorker(cfg config.Config, table *uniontable.Table, taintedSize int, shared *session.SharedState, hooks session.Hooks, solutions *queue.BlockingQueue, logger *log.Logger) *Worker {
	zcfg := z3.NewConfig()
	zcfg.SetTimeout(cfg.SolverTimeout)
	zctx := z3.NewContext(zcfg)
	solver := z3.NewSolver(zctx)
	fmemcmpData := make(map[uint32][]byte)

	if logger == nil {
		logger = log.Default()
	}
	if hooks == nil {
		hooks = session.Noop{}
	}

	return &Worker{
		cfg:         cfg,
		table:       table,
		zctx:        zctx,
		solver:      solver,
		builder:     symterm.NewBuilder(zctx, table, fmemcmpData),
		uf:          unionfind.New(taintedSize),
		bds:         branchdep.New(taintedSize),
		fmemcmpData: fmemcmpData,
		branchLocal: make(map[localKey]uint32),
		shared:      shared,
		hooks:       hooks,
		solutions:   solutions,
		logger:      logger,
	}
}

// MarkFlipped records that (addr, ctx, localcnt, result, direction)
// has now been explored, for the embedder to call once it has
// confirmed a pushed Solution actually flips that branch occurrence.
func (w *Worker) MarkFlipped(addr, ctx uint64, localcnt uint32, result uint64, direction bool) {
	w.shared.MarkFlipped(addr, ctx, localcnt, result, direction)
}

// Run reads frames from r until the pipe closes or the session's
// wall-clock budget (config.SessionWallClock, independent of
// cfg.SolverTimeout's per-check limit) is exhausted, dispatching each
// one to the matching solve primitive (§4.4).
func (w *Worker) Run(r io.Reader) error {
	id, err := w.hooks.StartSession()
	if err != nil {
		return fmt.Errorf("solver: start session: %w", err)
	}
	defer w.hooks.EndSession(id)

	start := time.Now()
	for {
		frame, err := ReadFrame(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("solver: read frame: %w", err)
		}

		local := w.localCount(frame.Addr, frame.Ctx)

		var hitcount uint32
		var flipped bool
		if frame.Addr != 0 {
			hitcount = w.shared.Hit(frame.Addr, frame.Ctx, local, frame.Result)
			flipped = w.shared.Flipped(frame.Addr, frame.Ctx, local, frame.Result, frame.Result == 1)
		} else {
			hitcount = 1
		}

		switch frame.MsgType {
		case MsgCond:
			if local > localSkip {
				continue
			}
			trySolve := hitcount <= hitcountCap && !flipped && local <= localCap
			if w.cfg.QsymFilter {
				trySolve = w.hooks.QsymFilter(id, frame.Addr, frame.Ctx, frame.Result == 1)
			}
			w.dispatchCond(frame, local, trySolve)

		case MsgGEP:
			if local > localSkip {
				continue
			}
			trySolve := hitcount <= hitcountCap && local <= localCap
			w.dispatchGEP(frame, local, trySolve)

		case MsgFmemcmp:
			payload, err := ReadPayload(r, frame.Result)
			if err != nil {
				return err
			}
			w.fmemcmpData[frame.Label] = payload

		case MsgAddCons:
			w.addCons(frame.Label)

		default:
			// reserved for future message kinds; ignored.
		}

		if time.Since(start) > config.SessionWallClock {
			return nil
		}
	}
}

func (w *Worker) localCount(addr, ctx uint64) uint32 {
	if addr == 0 {
		return 1
	}
	key := localKey{addr, ctx}
	n := w.branchLocal[key] + 1
	w.branchLocal[key] = n
	return n
}

// dispatchCond implements solve_cond: build the branch's predicate,
// union its byte dependencies, optionally solve for the flipped
// direction (and, nested, for the flipped direction jointly with every
// earlier branch sharing those bytes), then preserve the taken
// direction for future nested solves.
func (w *Worker) dispatchCond(frame Frame, local uint32, trySolve bool) {
	cond, ok := w.builder.Build(frame.Label)
	if !ok {
		return
	}
	deps := w.builder.Deps(frame.Label)
	anchor := w.uf.UnionSet(depSlice(deps))

	if trySolve {
		w.solver.Reset()
		assertFlip(w.solver, w.zctx, cond, frame.Result == 1)
		if sat, _ := w.solver.Check(); sat {
			model, err := w.solver.Model()
			if err == nil {
				sol := generateSolution(w.zctx, model, deps)
				w.push(frame, local, true, sol)

				w.solver.Push()
				touched := w.bds.AssertDeps(w.solver, anchor, w.uf)
				if sat, _ := w.solver.Check(); sat {
					if model, err := w.solver.Model(); err == nil {
						w.push(frame, local, true, generateSolution(w.zctx, model, touched))
					}
				}
			}
		}
	}

	w.bds.Preserve(anchor, pathCondition(w.zctx, cond, frame.Result == 1))
}

// dispatchGEP implements solve_gep: identical shape to dispatchCond
// but the target is an arbitrary bitvector index rather than a taken
// boolean direction.
func (w *Worker) dispatchGEP(frame Frame, local uint32, trySolve bool) {
	cond, ok := w.builder.Build(frame.Label)
	if !ok {
		return
	}
	deps := w.builder.Deps(frame.Label)
	anchor := w.uf.UnionSet(depSlice(deps))

	if cond.IsBool() {
		// A GEP message referencing a label that built to a boolean
		// condition has no bitvector index to target against; the
		// source's solve_gep bails out the same way ("condition must
		// be a bv for gep") without preserving anything for this call.
		w.logger.Printf("solver: gep label %d did not resolve to a bitvector condition", frame.Label)
		return
	}

	target := w.zctx.BVVal(frame.Result, cond.BV.Size())

	if trySolve {
		w.solver.Reset()
		w.solver.Assert(cond.BV.Eq(target).Not())
		if sat, _ := w.solver.Check(); sat {
			model, err := w.solver.Model()
			if err == nil {
				sol := generateSolution(w.zctx, model, deps)
				w.push(frame, local, false, sol)

				w.solver.Push()
				touched := w.bds.AssertDeps(w.solver, anchor, w.uf)
				if sat, _ := w.solver.Check(); sat {
					if model, err := w.solver.Model(); err == nil {
						w.push(frame, local, false, generateSolution(w.zctx, model, touched))
					}
				}
			}
		}
	}

	w.bds.Preserve(anchor, cond.BV.Eq(target))
}

// addCons implements add_cons: build the label's predicate purely to
// union its dependencies and preserve it, with no attempt to solve it
// (used for GEP-index offset bookkeeping messages).
func (w *Worker) addCons(label uint32) {
	if label == 0 {
		return
	}
	cond, ok := w.builder.Build(label)
	if !ok {
		return
	}
	deps := w.builder.Deps(label)
	anchor := w.uf.UnionSet(depSlice(deps))
	if !cond.IsBool() {
		w.logger.Printf("solver: add_cons label %d did not resolve to a boolean condition", label)
		return
	}
	w.bds.Preserve(anchor, cond.Bool)
}

func (w *Worker) push(frame Frame, local uint32, isCond bool, sol map[int]byte) {
	w.solutions.Push(queue.Solution{
		Bytes:      byteMap(sol),
		Addr:       frame.Addr,
		Ctx:        frame.Ctx,
		LocalCount: local,
		Direction:  frame.Result == 1,
		Predicate:  uint16(frame.Predicate),
		TargetCond: frame.TargetCond,
		IsCond:     isCond,
		IsGEP:      !isCond,
	})
}

func depSlice(deps map[int]struct{}) []int {
	out := make([]int, 0, len(deps))
	for k := range deps {
		out = append(out, k)
	}
	return out
}

func byteMap(m map[int]byte) map[int]byte {
	if m == nil {
		return map[int]byte{}
	}
	return m
}

// assertFlip asserts that cond must differ from the direction actually
// taken, generically over boolean and bitvector sort.
func assertFlip(solver *z3.Solver, ctx *z3.Context, cond symterm.Term, directionTrue bool) {
	if cond.IsBool() {
		target := ctx.BoolVal(directionTrue)
		solver.Assert(cond.Bool.Eq(target).Not())
		return
	}
	width := cond.BV.Size()
	var target z3.BV
	if directionTrue {
		target = ctx.BVVal(1, width)
	} else {
		target = ctx.BVVal(0, width)
	}
	solver.Assert(cond.BV.Eq(target).Not())
}

// pathCondition is the condition preserved at a branch's UF anchor: an
// assertion that the branch took the direction it actually took,
// generic over sort the same way assertFlip is.
func pathCondition(ctx *z3.Context, cond symterm.Term, directionTrue bool) z3.Bool {
	if cond.IsBool() {
		return cond.Bool.Eq(ctx.BoolVal(directionTrue))
	}
	width := cond.BV.Size()
	var target z3.BV
	if directionTrue {
		target = ctx.BVVal(1, width)
	} else {
		target = ctx.BVVal(0, width)
	}
	return cond.BV.Eq(target)
}

// generateSolution reads each dependency byte's concrete value out of
// a satisfying model.
func generateSolution(ctx *z3.Context, model *z3.Model, deps map[int]struct{}) map[int]byte {
	sol := make(map[int]byte, len(deps))
	for off := range deps {
		name := "byte_" + strconv.Itoa(off)
		v := ctx.BVConst(name, 8)
		if val, ok := model.Eval(v, true); ok {
			if n, ok := val.AsInt64(); ok {
				sol[off] = byte(n)
			}
		}
	}
	return sol
}
