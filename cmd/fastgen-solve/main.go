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

// Command fastgen-solve attaches to an instrumented target's union
// table and drains its event pipe, solving branches as they stream in
// and writing generated inputs to an output directory.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fastgen-dev/fastgen/config"
	"github.com/fastgen-dev/fastgen/corpus"
	"github.com/fastgen-dev/fastgen/queue"
	"github.com/fastgen-dev/fastgen/session"
	"github.com/fastgen-dev/fastgen/solver"
	"github.com/fastgen-dev/fastgen/uniontable"
)

var (
	pipePath      string
	shmid         int
	taintedSize   int
	solverTimeout int
	qsymFilter    bool
	outDir        string
)

func init() {
	flag.StringVar(&pipePath, "pipe", "/tmp/fastgen.pipe", "path of the named pipe carrying the event stream")
	flag.IntVar(&shmid, "shmid", -1, "SysV shared-memory id of the union table")
	flag.IntVar(&taintedSize, "tainted-size", 1<<16, "number of tainted input bytes to track")
	flag.IntVar(&solverTimeout, "solver-timeout", 90, "per-check solver timeout, in seconds (the session wall-clock bound is a fixed 90s, see config.SessionWallClock)")
	flag.BoolVar(&qsymFilter, "qsym-filter", false, "defer branch-solve decisions to an external qsym-style filter")
	flag.StringVar(&outDir, "out", "out", "directory to write solved inputs to")
}

func main() {
	flag.Parse()
	log.Default().SetOutput(os.Stderr)

	if shmid < 0 {
		log.Fatal("fastgen-solve: -shmid is required")
	}

	cfg := config.FromEnv()
	if solverTimeout > 0 {
		cfg.SolverTimeout = time.Duration(solverTimeout) * time.Second
	}
	cfg.QsymFilter = cfg.QsymFilter || qsymFilter
	if taintedSize > 0 {
		cfg.MaxInputLen = taintedSize
	}

	if err := solver.MakeFIFO(pipePath); err != nil {
		log.Fatalf("fastgen-solve: %v", err)
	}

	tableSize := taintedSize * 32 // one 32-byte record per potential label
	attached, err := uniontable.Attach(shmid, tableSize)
	if err != nil {
		log.Fatalf("fastgen-solve: %v", err)
	}
	defer func() {
		if err := attached.Detach(); err != nil {
			log.Printf("fastgen-solve: detach: %v", err)
		}
	}()

	pipe, err := os.OpenFile(pipePath, os.O_RDONLY, 0)
	if err != nil {
		log.Fatalf("fastgen-solve: open pipe: %v", err)
	}
	defer pipe.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatalf("fastgen-solve: mkdir %s: %v", outDir, err)
	}

	shared := session.NewSharedState()
	solutions := queue.NewBlockingQueue(256)
	worker := solver.NewWorker(cfg, attached.Table, taintedSize, shared, session.Noop{}, solutions, log.Default())

	archive, err := corpus.NewArchive()
	if err != nil {
		log.Fatalf("fastgen-solve: %v", err)
	}
	defer archive.Close()

	go drainSolutions(solutions, outDir, archive)

	log.Printf("fastgen-solve: attached shmid=%d pipe=%s tainted_size=%d check_timeout=%s session_wall_clock=%s qsym_filter=%v",
		shmid, pipePath, taintedSize, cfg.SolverTimeout, config.SessionWallClock, cfg.QsymFilter)

	if err := worker.Run(pipe); err != nil {
		log.Fatalf("fastgen-solve: worker: %v", err)
	}
	solutions.Close()
}

// drainSolutions writes each solved input to outDir as a zstd-
// compressed, content-addressed JSON record, keeping intake simple
// until an embedder swaps in its own corpus.Dir-backed writer.
func drainSolutions(solutions *queue.BlockingQueue, outDir string, archive *corpus.Archive) {
	for {
		sol, ok := solutions.Pop()
		if !ok {
			return
		}
		data, err := json.Marshal(sol)
		if err != nil {
			log.Printf("fastgen-solve: marshal solution: %v", err)
			continue
		}
		id := corpus.Hash(data)
		compressed := archive.Compress(data, nil)
		name := filepath.Join(outDir, fmt.Sprintf("solution-%s.zst", id[:16]))
		if err := os.WriteFile(name, compressed, 0o644); err != nil {
			log.Printf("fastgen-solve: write %s: %v", name, err)
		}
	}
}
