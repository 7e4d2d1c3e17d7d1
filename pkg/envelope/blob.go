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

package envelope

import "sync/atomic"

// sharedBuf is the reference-counted buffer behind one or more Blob
// handles. The release hook fires exactly once, when the last reference
// is dropped and the buffer is owned.
type sharedBuf struct {
	data    []byte
	refs    atomic.Int32
	release func()
	owned   bool
}

// Blob is a handle to a shared byte buffer carried in an envelope's
// unkeyed slot.
type Blob struct {
	shared *sharedBuf
}

// NewBlob returns a new blob element wrapping data. The blob starts with
// one reference, is owned, and has no release hook.
func NewBlob(data []byte) *Element {
	sb := &sharedBuf{
		data:  data,
		owned: true,
	}
	sb.refs.Store(1)

	return &Element{typ: TypeBlob, blob: &Blob{shared: sb}}
}

// Bytes returns the underlying buffer. Callers must not retain the slice
// past the blob's last Unref().
func (b *Blob) Bytes() []byte {
	return b.shared.data
}

// Len returns the buffer length in bytes.
func (b *Blob) Len() int {
	return len(b.shared.data)
}

// SetRelease installs the hook invoked when the last reference drops.
// Passing owned=false disarms release entirely; the buffer is then
// considered borrowed and the blob never frees it.
func (b *Blob) SetRelease(release func(), owned bool) {
	b.shared.release = release
	b.shared.owned = owned
}

// Ref adds a reference to the shared buffer.
func (b *Blob) Ref() {
	b.shared.refs.Add(1)
}

// Unref drops a reference. When the count reaches zero on an owned
// buffer, the release hook fires.
func (b *Blob) Unref() {
	if b.shared.refs.Add(-1) != 0 {
		return
	}

	if b.shared.owned && b.shared.release != nil {
		b.shared.release()
		b.shared.release = nil
	}
}
