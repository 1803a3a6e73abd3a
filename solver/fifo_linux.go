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

package solver

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MakeFIFO creates the named pipe the worker reads its event stream
// from, ignoring the case where it already exists from a prior run.
func MakeFIFO(path string) error {
	err := unix.Mkfifo(path, 0o700)
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("solver: mkfifo %s: %w", path, err)
	}
	return nil
}
