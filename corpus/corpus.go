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

// Package corpus walks a seed directory and an AFL-style sync
// directory hierarchy, handing each eligible file to a caller-supplied
// runner. It is the solver side's input intake, adapted from the
// source's sync_depot/sync_afl sweep (§6, §9).
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Runner is called once per discovered seed file's contents. A
// non-nil error aborts the current directory walk.
type Runner func(data []byte) error

// Dir coordinates seed intake for one fuzzing session: a primary seed
// directory plus zero or more AFL peer sync directories, each with its
// own high-water mark so a re-sync only replays new queue entries.
type Dir struct {
	maxInputLen int
	watermarks  map[string]int
}

// New returns a Dir that discards any seed file whose size is
// maxInputLen or more, matching the source's MAX_INPUT_LEN gate.
func New(maxInputLen int) *Dir {
	return &Dir{maxInputLen: maxInputLen, watermarks: make(map[string]int)}
}

// Hash returns a content-addressed identifier for a seed's bytes,
// used to name saved solutions. SyncSeeds and SyncAFL do not call it
// and do not dedupe identical inputs.
func Hash(data []byte) string {
	sum := blake2b.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// SyncSeeds walks every regular file directly under dir and calls run
// on each one under maxInputLen, skipping larger files rather than
// failing the sweep (§9, grounded on sync_depot).
func (d *Dir) SyncSeeds(dir string, run Runner) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("corpus: read seed dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if int(info.Size()) >= d.maxInputLen {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := run(data); err != nil {
			return err
		}
	}
	return nil
}

// SyncAFL walks syncDir for peer fuzzer output directories (any
// subdirectory containing both a "queue" directory and an
// "is_main_node" marker file) and replays each peer's new queue
// entries through run, advancing that peer's high-water mark so a
// later call only sees files with a higher AFL sequence id (§9,
// grounded on sync_afl/get_afl_id/sync_one_afl_dir).
func (d *Dir) SyncAFL(syncDir string, run Runner) error {
	peers, err := os.ReadDir(syncDir)
	if err != nil {
		return fmt.Errorf("corpus: read sync dir %s: %w", syncDir, err)
	}
	for _, peer := range peers {
		if !peer.IsDir() || strings.HasPrefix(peer.Name(), ".") {
			continue
		}
		peerDir := filepath.Join(syncDir, peer.Name())
		queueDir := filepath.Join(peerDir, "queue")
		markerPath := filepath.Join(peerDir, "is_main_node")

		qInfo, err := os.Stat(queueDir)
		if err != nil || !qInfo.IsDir() {
			continue
		}
		if _, err := os.Stat(markerPath); err != nil {
			continue
		}
		if err := d.syncOneAFLDir(queueDir, peer.Name(), run); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dir) syncOneAFLDir(queueDir, peerName string, run Runner) error {
	minID := d.watermarks[peerName]
	maxID := minID

	entries, err := os.ReadDir(queueDir)
	if err != nil {
		return fmt.Errorf("corpus: read afl queue dir %s: %w", queueDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := aflID(entry.Name())
		if !ok || id < minID {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if int(info.Size()) < d.maxInputLen {
			data, err := os.ReadFile(filepath.Join(queueDir, entry.Name()))
			if err == nil {
				if err := run(data); err != nil {
					return err
				}
			}
		}
		if id > maxID {
			maxID = id
		}
	}
	d.watermarks[peerName] = maxID + 1
	return nil
}

// aflID extracts the 6-digit sequence number AFL embeds at offset 3
// of a queue entry's filename (e.g. "id:000123,..."), mirroring
// get_afl_id.
func aflID(name string) (int, bool) {
	if len(name) < 9 {
		return 0, false
	}
	id, err := strconv.Atoi(name[3:9])
	if err != nil {
		return 0, false
	}
	return id, true
}
