// Frontline Perception System
// Copyright (C) 2020-2025 TurbineOne LLC
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package frame

import (
	"github.com/TurbineOne/udf-pipeline/pkg/codec"
)

// Data owns one plane's pixel buffer and its metadata. The releaser hook
// fires exactly once, when the plane is destroyed or its buffer is
// replaced; a nil releaser is permitted for planes whose storage is
// owned transitively.
type Data struct {
	meta     *MetaData
	pixels   []byte
	releaser func()

	// size is the current byte length of the live portion of pixels:
	// w*h*c until encode() replaces the buffer with encoded bytes.
	size int

	released bool
}

// newData wraps a pixel buffer in a plane. The initial size is the
// packed w*h*c length from meta.
func newData(pixels []byte, releaser func(), meta *MetaData) *Data {
	return &Data{
		meta:     meta,
		pixels:   pixels,
		releaser: releaser,
		size:     meta.Width() * meta.Height() * meta.Channels(),
	}
}

// bytes returns the live portion of the pixel buffer.
func (d *Data) bytes() []byte {
	return d.pixels[:d.size]
}

// encode compresses the plane in place according to its metadata. The
// old buffer's releaser fires and the encoded bytes take its place; the
// metadata keeps the pre-encode dimensions. No-op when the encode type
// is none.
func (d *Data) encode() error {
	if d.meta.EncodeType() == codec.EncodeNone {
		return nil
	}

	encoded, err := codec.Encode(d.bytes(),
		d.meta.Width(), d.meta.Height(), d.meta.Channels(),
		d.meta.EncodeType(), d.meta.EncodeLevel())
	if err != nil {
		return err
	}

	if d.releaser != nil {
		d.releaser()
	}

	d.pixels = encoded
	d.size = len(encoded)
	d.releaser = nil // encoded buffer is plain garbage-collected memory

	return nil
}

// release fires the plane's releaser. Safe to call more than once; the
// hook runs at most once.
func (d *Data) release() {
	if d.released {
		return
	}

	d.released = true

	if d.releaser != nil {
		d.releaser()
	}
}
