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

package corpus

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSyncSeeds(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "small"), []byte("ab"))
	writeFile(t, filepath.Join(dir, "big"), make([]byte, 100))

	d := New(10)
	var seen [][]byte
	err := d.SyncSeeds(dir, func(data []byte) error {
		cp := append([]byte(nil), data...)
		seen = append(seen, cp)
		return nil
	})
	if err != nil {
		t.Fatalf("SyncSeeds: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected exactly the small seed to pass the size gate, got %d files", len(seen))
	}
	if string(seen[0]) != "ab" {
		t.Fatalf("unexpected seed contents: %q", seen[0])
	}
}

func TestSyncAFLWatermarkAdvances(t *testing.T) {
	sync := t.TempDir()
	peer := filepath.Join(sync, "peer-01")
	queue := filepath.Join(peer, "queue")
	if err := os.MkdirAll(queue, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(peer, "is_main_node"), nil)
	writeFile(t, filepath.Join(queue, "id:000001,src:000000"), []byte("a"))
	writeFile(t, filepath.Join(queue, "id:000002,src:000000"), []byte("b"))

	d := New(1 << 20)
	var first []string
	if err := d.SyncAFL(sync, func(data []byte) error {
		first = append(first, string(data))
		return nil
	}); err != nil {
		t.Fatalf("SyncAFL: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected both queue entries on first sync, got %d", len(first))
	}

	writeFile(t, filepath.Join(queue, "id:000003,src:000000"), []byte("c"))
	var second []string
	if err := d.SyncAFL(sync, func(data []byte) error {
		second = append(second, string(data))
		return nil
	}); err != nil {
		t.Fatalf("SyncAFL: %v", err)
	}
	if len(second) != 1 || second[0] != "c" {
		t.Fatalf("expected only the new entry on second sync, got %v", second)
	}
}

func TestSyncAFLSkipsDirsWithoutMarker(t *testing.T) {
	sync := t.TempDir()
	peer := filepath.Join(sync, "peer-01")
	queue := filepath.Join(peer, "queue")
	if err := os.MkdirAll(queue, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(queue, "id:000001,src:000000"), []byte("a"))

	d := New(1 << 20)
	var seen int
	if err := d.SyncAFL(sync, func(data []byte) error {
		seen++
		return nil
	}); err != nil {
		t.Fatalf("SyncAFL: %v", err)
	}
	if seen != 0 {
		t.Fatalf("expected peer without is_main_node to be skipped, saw %d files", seen)
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("hello"))
	b := Hash([]byte("hello"))
	c := Hash([]byte("world"))
	if a != b {
		t.Fatalf("Hash is not deterministic: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("distinct inputs hashed to the same value")
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}
