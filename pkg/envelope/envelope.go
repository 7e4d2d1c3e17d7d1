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

// Package envelope implements the typed key-value metadata store that
// frames travel in on the wire. An envelope holds named elements (ints,
// floats, strings, bools, objects, arrays) plus at most one distinguished
// unkeyed blob slot carrying the frame's pixel payload. Blob elements
// share reference-counted buffers so ownership can be handed across the
// pipeline boundary without copying.
//
// An envelope is not safe for concurrent use; it is owned by exactly one
// frame (or one caller) at a time.
package envelope

import (
	"encoding/json"
	"fmt"
)

// BlobKey is the pseudo-key addressing the unkeyed blob slot.
const BlobKey = ""

// NotFoundError indicates a key is not present in the envelope.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	if e.Key == BlobKey {
		return "envelope has no blob element"
	}

	return fmt.Sprintf("envelope has no element %q", e.Key)
}

// DuplicateKeyError indicates a Put() would overwrite an existing key.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("envelope already has element %q", e.Key)
}

// BlobTypeError indicates a non-blob element was put into the blob slot.
type BlobTypeError struct {
	Got Type
}

func (e *BlobTypeError) Error() string {
	return fmt.Sprintf("unkeyed envelope element must be a blob or blob array, got %s", e.Got)
}

// Envelope is the typed metadata store. The zero value is not usable;
// construct with New().
type Envelope struct {
	items map[string]*Element

	// blob is the single unkeyed element. It is either a blob or an
	// array of blobs (multi-plane payloads).
	blob *Element
}

// New returns a new, empty envelope.
func New() *Envelope {
	return &Envelope{
		items: make(map[string]*Element),
	}
}

// Put adds an element under the given key. Putting to BlobKey targets the
// unkeyed blob slot: the first put stores the element, subsequent puts
// promote the slot to an array of blobs and append, matching the wire
// contract for multi-plane payloads.
func (env *Envelope) Put(key string, el *Element) error {
	if key == BlobKey {
		return env.putBlob(el)
	}

	if _, ok := env.items[key]; ok {
		return &DuplicateKeyError{key}
	}

	env.items[key] = el

	return nil
}

func (env *Envelope) putBlob(el *Element) error {
	if el.typ != TypeBlob && el.typ != TypeArray {
		return &BlobTypeError{el.typ}
	}

	if env.blob == nil {
		env.blob = el

		return nil
	}

	if el.typ == TypeArray {
		return &DuplicateKeyError{BlobKey}
	}

	// Promote a single blob to an array of blobs on the second put.
	if env.blob.typ == TypeBlob {
		arr := NewArray()
		arr.arr.Add(env.blob)
		env.blob = arr
	}

	env.blob.arr.Add(el)

	return nil
}

// Get returns the element stored under key. BlobKey returns the unkeyed
// blob element (a blob or an array of blobs).
func (env *Envelope) Get(key string) (*Element, error) {
	if key == BlobKey {
		if env.blob == nil {
			return nil, &NotFoundError{BlobKey}
		}

		return env.blob, nil
	}

	el, ok := env.items[key]
	if !ok {
		return nil, &NotFoundError{key}
	}

	return el, nil
}

// Remove deletes the element stored under key.
func (env *Envelope) Remove(key string) error {
	if key == BlobKey {
		if env.blob == nil {
			return &NotFoundError{BlobKey}
		}

		env.blob = nil

		return nil
	}

	if _, ok := env.items[key]; !ok {
		return &NotFoundError{key}
	}

	delete(env.items, key)

	return nil
}

// DetachBlob removes the unkeyed element from the envelope and returns
// it, transferring ownership of the underlying buffers to the caller.
// The envelope keeps its keyed elements.
func (env *Envelope) DetachBlob() (*Element, error) {
	if env.blob == nil {
		return nil, &NotFoundError{BlobKey}
	}

	el := env.blob
	env.blob = nil

	return el, nil
}

// HasBlob reports whether the unkeyed slot is occupied.
func (env *Envelope) HasBlob() bool {
	return env.blob != nil
}

// Len returns the number of keyed elements.
func (env *Envelope) Len() int {
	return len(env.items)
}

// Keys returns the keys of all keyed elements, in no particular order.
func (env *Envelope) Keys() []string {
	keys := make([]string, 0, len(env.items))
	for k := range env.items {
		keys = append(keys, k)
	}

	return keys
}

// Close releases the envelope's blob buffers and drops all elements.
// Safe to call more than once.
func (env *Envelope) Close() {
	if env.blob != nil {
		env.blob.unrefBlobs()
		env.blob = nil
	}

	env.items = make(map[string]*Element)
}

// MarshalJSON renders the keyed portion of the envelope as a JSON
// object. The blob slot is not included; blob bytes travel out of band.
func (env *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(env.items)
}
