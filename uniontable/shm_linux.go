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

//go:build linux

package uniontable

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Attached wraps a Table backed by a live SysV shared-memory
// attachment. Attach is read-only from the solver's perspective: the
// target process is the sole writer (§3.1 invariant that the table is
// monotonically written by the target).
type Attached struct {
	*Table
	shmid int
	addr  uintptr
}

// Attach maps the shared-memory segment identified by shmid
// read-only and returns a Table view over it sized to size bytes.
// Attach is fatal-on-failure for the caller: a failed attach should
// propagate to the outer fuzzer per spec §7 ("Shared-memory attach
// failure: fatal for the worker").
func Attach(shmid int, size int) (*Attached, error) {
	addr, err := unix.SysvShmAttach(shmid, 0, unix.SHM_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("uniontable: shmat(%d): %w", shmid, err)
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&addr[0])), size)
	return &Attached{Table: FromBytes(mem), shmid: shmid, addr: uintptr(unsafe.Pointer(&addr[0]))}, nil
}

// Detach releases the shared-memory mapping. It is a no-op if called
// more than once.
func (a *Attached) Detach() error {
	if a.addr == 0 {
		return nil
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(a.addr)), 1)
	err := unix.SysvShmDetach(mem)
	a.addr = 0
	if err != nil {
		return fmt.Errorf("uniontable: shmdt: %w", err)
	}
	return nil
}
