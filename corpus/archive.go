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
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Archive compresses solved inputs before they're written to a saved
// corpus directory, so a long-running session's output doesn't grow
// unbounded on disk (grounded on compr/compression.go's zstd wrapper),
// and decompresses them again for readers of that directory.
type Archive struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewArchive returns an Archive ready for concurrent Compress calls
// and single-threaded Decompress calls, matching the teacher's split
// between a per-writer encoder and a shared decoder.
func NewArchive() (*Archive, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("corpus: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("corpus: new zstd decoder: %w", err)
	}
	return &Archive{enc: enc, dec: dec}, nil
}

// Compress appends the zstd-compressed form of src to dst.
func (a *Archive) Compress(src, dst []byte) []byte {
	return a.enc.EncodeAll(src, dst)
}

// Decompress appends the decompressed form of src to dst.
func (a *Archive) Decompress(src, dst []byte) ([]byte, error) {
	out, err := a.dec.DecodeAll(src, dst)
	if err != nil {
		return nil, fmt.Errorf("corpus: zstd decode: %w", err)
	}
	return out, nil
}

// Close releases the archive's encoder and decoder resources.
func (a *Archive) Close() {
	a.enc.Close()
	a.dec.Close()
}
