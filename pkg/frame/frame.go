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

// Package frame implements the composite image carrier that travels the
// UDF pipeline: an ordered set of pixel planes plus a mutable metadata
// envelope, with one-shot serialization to a wire envelope that takes
// over ownership of every pixel buffer.
package frame

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/TurbineOne/udf-pipeline/pkg/codec"
	"github.com/TurbineOne/udf-pipeline/pkg/envelope"
)

// Envelope keys of the per-plane descriptor.
const (
	KeyImgHandle     = "img_handle"
	KeyWidth         = "width"
	KeyHeight        = "height"
	KeyChannels      = "channels"
	KeyEncodingType  = "encoding_type"
	KeyEncodingLevel = "encoding_level"

	// KeyAdditionalFrames is the envelope array of descriptors for
	// planes 1..N-1.
	KeyAdditionalFrames = "additional_frames"
)

const (
	lIndex     = "planeIndex"
	lPlanes    = "planes"
	lImgHandle = "imgHandle"
	lEncoding  = "encoding"
	lSniffed   = "sniffed"
)

//nolint:gochecknoglobals // allows logging from non-method funcs
var log = zerolog.Nop()

// SetLogger installs the package logger.
func SetLogger(logger zerolog.Logger) {
	log = logger.With().Str("pkg", "frame").Logger()
}

var (
	// ErrAfterSerialize is returned by mutating or reading operations on
	// a frame that has been serialized.
	ErrAfterSerialize = errors.New("frame has been serialized")

	// ErrAlreadySerialized is returned by a second Serialize() call.
	ErrAlreadySerialized = errors.New("frame has already been serialized")
)

// IndexError indicates a plane index outside [0, NumFrames).
type IndexError struct {
	Index  int
	Planes int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("plane index %d out of range [0, %d)", e.Index, e.Planes)
}

// fieldStore is the common surface of the envelope root and a nested
// object; plane descriptors live in one or the other.
type fieldStore interface {
	Put(key string, el *envelope.Element) error
	Get(key string) (*envelope.Element, error)
	Remove(key string) error
}

// Frame is the composite carrier. It is not safe for concurrent use; it
// is owned by exactly one goroutine at a time and handed off through
// queues.
type Frame struct {
	planes []*Data

	// env is the metadata store. It is relinquished on Serialize().
	env *envelope.Envelope

	// addl caches the additional_frames array once the second plane
	// exists.
	addl *envelope.Array

	serialized atomic.Bool

	// handedOff is set once Serialize() starts attaching blobs: from
	// that point the envelope owns the planes and Close() must not
	// touch them.
	handedOff bool
}

// New returns an empty frame with a fresh envelope.
func New() *Frame {
	return &Frame{
		env: envelope.New(),
	}
}

// writeDescriptor stages a plane descriptor into store. Either every
// field lands or none does: on a failed put, fields already placed are
// rolled back.
func writeDescriptor(store fieldStore, meta *MetaData) error {
	type field struct {
		key string
		el  *envelope.Element
	}

	var fields []field

	// img_handle is optional on the wire; deserialized planes may not
	// have one.
	if meta.ImgHandle() != "" {
		fields = append(fields, field{KeyImgHandle, envelope.NewString(meta.ImgHandle())})
	}

	fields = append(fields,
		field{KeyWidth, envelope.NewInt(int64(meta.Width()))},
		field{KeyHeight, envelope.NewInt(int64(meta.Height()))},
		field{KeyChannels, envelope.NewInt(int64(meta.Channels()))},
	)

	if meta.EncodeType() != codec.EncodeNone {
		fields = append(fields,
			field{KeyEncodingType, envelope.NewString(meta.EncodeType().String())},
			field{KeyEncodingLevel, envelope.NewInt(int64(meta.EncodeLevel()))},
		)
	}

	for i, fld := range fields {
		if err := store.Put(fld.key, fld.el); err != nil {
			for _, placed := range fields[:i] {
				_ = store.Remove(placed.key)
			}

			return fmt.Errorf("failed to put %q descriptor field: %w", fld.key, err)
		}
	}

	return nil
}

// removeDescriptor drops every descriptor field present in store.
func removeDescriptor(store fieldStore) {
	for _, key := range []string{
		KeyImgHandle, KeyWidth, KeyHeight, KeyChannels,
		KeyEncodingType, KeyEncodingLevel,
	} {
		_ = store.Remove(key)
	}
}

// descriptorStore returns the field store holding plane index's
// descriptor: the envelope root for plane 0, the additional_frames
// object otherwise.
func (f *Frame) descriptorStore(index int) (fieldStore, error) {
	if index == 0 {
		return f.env, nil
	}

	el, err := f.addl.At(index - 1)
	if err != nil {
		return nil, fmt.Errorf("missing descriptor for plane %d: %w", index, err)
	}

	obj, err := el.Object()
	if err != nil {
		return nil, fmt.Errorf("descriptor for plane %d: %w", index, err)
	}

	return obj, nil
}

// AddFrame appends a plane to the frame. The first plane's descriptor
// lands at the envelope root; later planes append an object to the
// additional_frames array, created lazily on the second plane. The
// envelope mutation is atomic: on failure no plane is added and no field
// is changed.
func (f *Frame) AddFrame(pixels []byte, releaser func(),
	width, height, channels int, encodeType codec.EncodeType, encodeLevel int,
) error {
	if f.serialized.Load() {
		return ErrAfterSerialize
	}

	meta, err := NewMetaData(newImgHandle(), width, height, channels,
		encodeType, encodeLevel)
	if err != nil {
		return err
	}

	if len(f.planes) == 0 {
		if err := writeDescriptor(f.env, meta); err != nil {
			return err
		}
	} else {
		obj := envelope.NewObject()

		objStore, _ := obj.Object()
		if err := writeDescriptor(objStore, meta); err != nil {
			return err
		}

		if f.addl == nil {
			arrEl := envelope.NewArray()
			if err := f.env.Put(KeyAdditionalFrames, arrEl); err != nil {
				return fmt.Errorf("failed to put %q: %w", KeyAdditionalFrames, err)
			}

			f.addl, _ = arrEl.Array()
		}

		// The descriptor object was fully staged above, so this append
		// is the single committing step.
		f.addl.Add(obj)
	}

	f.planes = append(f.planes, newData(pixels, releaser, meta))

	log.Debug().Int(lPlanes, len(f.planes)).Str(lImgHandle, meta.ImgHandle()).
		Msg("plane added")

	return nil
}

// SetData replaces plane index's buffer and dimensions. The encoding
// fields and img_handle carry over from the old metadata; the old
// plane's releaser fires after the descriptor is rewritten.
func (f *Frame) SetData(index int, pixels []byte, releaser func(),
	width, height, channels int,
) error {
	if f.serialized.Load() {
		return ErrAfterSerialize
	}

	old, err := f.plane(index)
	if err != nil {
		return err
	}

	meta, err := NewMetaData(old.meta.ImgHandle(), width, height, channels,
		old.meta.EncodeType(), old.meta.EncodeLevel())
	if err != nil {
		return err
	}

	store, err := f.descriptorStore(index)
	if err != nil {
		return err
	}

	removeDescriptor(store)

	if err := writeDescriptor(store, meta); err != nil {
		return err
	}

	old.release()
	f.planes[index] = newData(pixels, releaser, meta)

	return nil
}

// SetEncoding updates plane index's pending encoding. The actual encode
// is deferred to Serialize(). Switching to none removes the encoding
// fields from the descriptor.
func (f *Frame) SetEncoding(encodeType codec.EncodeType, encodeLevel, index int) error {
	if f.serialized.Load() {
		return ErrAfterSerialize
	}

	d, err := f.plane(index)
	if err != nil {
		return err
	}

	if err := d.meta.SetEncoding(encodeType, encodeLevel); err != nil {
		return err
	}

	store, err := f.descriptorStore(index)
	if err != nil {
		return err
	}

	_ = store.Remove(KeyEncodingType)
	_ = store.Remove(KeyEncodingLevel)

	if encodeType != codec.EncodeNone {
		if err := store.Put(KeyEncodingType, envelope.NewString(encodeType.String())); err != nil {
			return fmt.Errorf("failed to put %q: %w", KeyEncodingType, err)
		}

		if err := store.Put(KeyEncodingLevel, envelope.NewInt(int64(encodeLevel))); err != nil {
			_ = store.Remove(KeyEncodingType)

			return fmt.Errorf("failed to put %q: %w", KeyEncodingLevel, err)
		}
	}

	return nil
}

func (f *Frame) plane(index int) (*Data, error) {
	if index < 0 || index >= len(f.planes) {
		return nil, &IndexError{Index: index, Planes: len(f.planes)}
	}

	return f.planes[index], nil
}

// NumFrames returns the number of planes.
func (f *Frame) NumFrames() int {
	return len(f.planes)
}

// Width returns plane index's width.
func (f *Frame) Width(index int) (int, error) {
	d, err := f.plane(index)
	if err != nil {
		return 0, err
	}

	return d.meta.Width(), nil
}

// Height returns plane index's height.
func (f *Frame) Height(index int) (int, error) {
	d, err := f.plane(index)
	if err != nil {
		return 0, err
	}

	return d.meta.Height(), nil
}

// Channels returns plane index's channel count.
func (f *Frame) Channels(index int) (int, error) {
	d, err := f.plane(index)
	if err != nil {
		return 0, err
	}

	return d.meta.Channels(), nil
}

// EncodeType returns plane index's pending encode type.
func (f *Frame) EncodeType(index int) (codec.EncodeType, error) {
	d, err := f.plane(index)
	if err != nil {
		return codec.EncodeNone, err
	}

	return d.meta.EncodeType(), nil
}

// EncodeLevel returns plane index's pending encode level.
func (f *Frame) EncodeLevel(index int) (int, error) {
	d, err := f.plane(index)
	if err != nil {
		return 0, err
	}

	return d.meta.EncodeLevel(), nil
}

// ImgHandle returns plane index's correlation id.
func (f *Frame) ImgHandle(index int) (string, error) {
	d, err := f.plane(index)
	if err != nil {
		return "", err
	}

	return d.meta.ImgHandle(), nil
}

// Data returns plane index's live pixel bytes for in-place mutation.
// Unavailable once the frame is serialized.
func (f *Frame) Data(index int) ([]byte, error) {
	if f.serialized.Load() {
		return nil, ErrAfterSerialize
	}

	d, err := f.plane(index)
	if err != nil {
		return nil, err
	}

	return d.bytes(), nil
}

// Meta returns the frame's metadata envelope for direct reads and
// writes of application keys. Unavailable once the frame is serialized.
func (f *Frame) Meta() (*envelope.Envelope, error) {
	if f.serialized.Load() {
		return nil, ErrAfterSerialize
	}

	return f.env, nil
}

// Serialize encodes pending plane encodings and moves every plane's
// buffer into the envelope's unkeyed blob slot, then hands the envelope
// back to the caller. One-shot: the serialized flag is set before the
// envelope is touched, so all other operations fail from here on. An
// encode failure leaves the frame unusable but still owning its planes
// — the caller destroys it with Close(). A failure after the first blob
// is attached is terminal: the envelope owns the planes by then and the
// frame cannot be recovered.
//
// Ownership after success: the envelope owns every plane buffer through
// the blobs' shared refcounts, and the last blob's release hook owns the
// frame itself — dropping the last blob reference fires every plane
// releaser exactly once. A zero-plane frame serializes to a blobless
// envelope.
func (f *Frame) Serialize() (*envelope.Envelope, error) {
	if !f.serialized.CompareAndSwap(false, true) {
		return nil, ErrAlreadySerialized
	}

	for i, d := range f.planes {
		if err := d.encode(); err != nil {
			// No blob holds the planes yet; Close() still releases them
			// and the envelope.
			return nil, fmt.Errorf("failed to encode plane %d: %w", i, err)
		}
	}

	env := f.env
	f.env = nil
	f.addl = nil
	f.handedOff = true

	last := len(f.planes) - 1

	for i, d := range f.planes {
		el := envelope.NewBlob(d.bytes())

		if i == last {
			blob, _ := el.Blob()
			blob.SetRelease(f.releasePlanes, true)
		}

		if err := env.Put(envelope.BlobKey, el); err != nil {
			// Terminal: earlier blobs may already be attached.
			return nil, fmt.Errorf("failed to put plane %d blob: %w", i, err)
		}
	}

	log.Debug().Int(lPlanes, len(f.planes)).Msg("frame serialized")

	return env, nil
}

// releasePlanes fires every plane's releaser. Wired as the last blob's
// release hook on serialize.
func (f *Frame) releasePlanes() {
	for _, d := range f.planes {
		d.release()
	}

	f.planes = nil
}

// Close destroys a frame whose planes were never handed to an
// envelope: plane releasers fire and the envelope is dropped. This
// covers frames that were never serialized and frames whose Serialize()
// failed while encoding. After a successful Serialize() the envelope
// owns everything and Close is a no-op. Idempotent.
func (f *Frame) Close() {
	if f.handedOff {
		return
	}

	// All further mutation and reading fails.
	f.serialized.Store(true)

	for _, d := range f.planes {
		d.release()
	}

	f.planes = nil

	if f.env != nil {
		f.env.Close()
		f.env = nil
	}
}
