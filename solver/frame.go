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

package solver

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MsgType selects which solve primitive a Frame drives.
type MsgType uint32

const (
	MsgCond    MsgType = 0
	MsgGEP     MsgType = 1
	MsgFmemcmp MsgType = 2
	MsgAddCons MsgType = 3
)

// Frame is one fixed-layout, little-endian record read off the event
// pipe. It carries no length prefix; a MsgFmemcmp frame is followed in
// the stream by Result raw payload bytes (the concrete comparison
// buffer), read separately by the caller.
type Frame struct {
	MsgType MsgType
	TID     uint32
	Label   uint32
	Result  uint64
	Addr    uint64
	Ctx     uint64
	// Seq is the wire-provided local sequence number for the
	// (Addr, Ctx) pair. The worker recomputes its own tally instead of
	// trusting this field, since the instrumented target's counter can
	// drift across forked executions.
	Seq        uint32
	BID        uint32
	SCtx       uint32
	Predicate  uint32
	TargetCond uint64
}

const frameSize = 4 + 4 + 4 + 8 + 8 + 8 + 4 + 4 + 4 + 4 + 8

// ReadFrame decodes one Frame from r, blocking until a full frame is
// available or the pipe is closed.
func ReadFrame(r io.Reader) (Frame, error) {
	var buf [frameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Frame{}, err
	}
	var f Frame
	f.MsgType = MsgType(binary.LittleEndian.Uint32(buf[0:4]))
	f.TID = binary.LittleEndian.Uint32(buf[4:8])
	f.Label = binary.LittleEndian.Uint32(buf[8:12])
	f.Result = binary.LittleEndian.Uint64(buf[12:20])
	f.Addr = binary.LittleEndian.Uint64(buf[20:28])
	f.Ctx = binary.LittleEndian.Uint64(buf[28:36])
	f.Seq = binary.LittleEndian.Uint32(buf[36:40])
	f.BID = binary.LittleEndian.Uint32(buf[40:44])
	f.SCtx = binary.LittleEndian.Uint32(buf[44:48])
	f.Predicate = binary.LittleEndian.Uint32(buf[48:52])
	f.TargetCond = binary.LittleEndian.Uint64(buf[52:60])
	return f, nil
}

// ReadPayload reads n raw bytes following a MsgFmemcmp frame.
func ReadPayload(r io.Reader, n uint64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("solver: short fmemcmp payload: %w", err)
	}
	return buf, nil
}
