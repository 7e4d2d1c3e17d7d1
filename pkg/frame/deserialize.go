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
	"fmt"

	"github.com/TurbineOne/udf-pipeline/pkg/codec"
	"github.com/TurbineOne/udf-pipeline/pkg/envelope"
)

// MissingFieldError indicates a required wire field is absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("envelope is missing required field %q", e.Field)
}

// WrongTypeError indicates a wire field holds an unexpected type.
type WrongTypeError struct {
	Field string
	Want  envelope.Type
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("envelope field %q must be of type %s", e.Field, e.Want)
}

// PlaneCountError indicates the blob array and additional_frames array
// disagree about the plane count.
type PlaneCountError struct {
	Blobs       int
	Descriptors int
}

func (e *PlaneCountError) Error() string {
	return fmt.Sprintf("%d plane blobs but %d additional descriptors; want blobs-1",
		e.Blobs, e.Descriptors)
}

// BlobSizeError indicates a plane blob shorter than its descriptor's
// packed w*h*c length.
type BlobSizeError struct {
	Index int
	Want  int
	Got   int
}

func (e *BlobSizeError) Error() string {
	return fmt.Sprintf("plane %d blob holds %d bytes, descriptor needs %d",
		e.Index, e.Got, e.Want)
}

func readInt(store fieldStore, key string) (int, error) {
	el, err := store.Get(key)
	if err != nil {
		return 0, &MissingFieldError{key}
	}

	v, err := el.Int()
	if err != nil {
		return 0, &WrongTypeError{Field: key, Want: envelope.TypeInt}
	}

	return int(v), nil
}

// readOptString returns "" without error when the key is absent.
func readOptString(store fieldStore, key string) (string, error) {
	el, err := store.Get(key)
	if err != nil {
		return "", nil
	}

	v, err := el.String()
	if err != nil {
		return "", &WrongTypeError{Field: key, Want: envelope.TypeString}
	}

	return v, nil
}

// detachBlobs pulls the unkeyed element out of env and flattens it to an
// ordered blob list.
func detachBlobs(env *envelope.Envelope) ([]*envelope.Blob, error) {
	el, err := env.DetachBlob()
	if err != nil {
		return nil, &MissingFieldError{envelope.BlobKey}
	}

	if blob, err := el.Blob(); err == nil {
		return []*envelope.Blob{blob}, nil
	}

	arr, err := el.Array()
	if err != nil {
		return nil, &WrongTypeError{Field: envelope.BlobKey, Want: envelope.TypeBlob}
	}

	blobs := make([]*envelope.Blob, arr.Len())

	for i := range blobs {
		item, _ := arr.At(i)

		blob, err := item.Blob()
		if err != nil {
			return nil, &WrongTypeError{Field: envelope.BlobKey, Want: envelope.TypeBlob}
		}

		blobs[i] = blob
	}

	return blobs, nil
}

// deserializePlane builds one plane from its descriptor store and blob.
// Encoded planes are decoded and their descriptor rewritten to the
// decoded dimensions with the encoding fields dropped; unencoded planes
// alias the blob's shared buffer and release it with the plane.
func deserializePlane(index int, store fieldStore, blob *envelope.Blob) (*Data, error) {
	width, err := readInt(store, KeyWidth)
	if err != nil {
		return nil, err
	}

	height, err := readInt(store, KeyHeight)
	if err != nil {
		return nil, err
	}

	channels, err := readInt(store, KeyChannels)
	if err != nil {
		return nil, err
	}

	imgHandle, err := readOptString(store, KeyImgHandle)
	if err != nil {
		return nil, err
	}

	encName, err := readOptString(store, KeyEncodingType)
	if err != nil {
		return nil, err
	}

	if encName == "" {
		// Unencoded plane: the pixel buffer is the blob's shared buffer.
		want := width * height * channels
		if blob.Len() < want {
			return nil, &BlobSizeError{Index: index, Want: want, Got: blob.Len()}
		}

		meta, err := NewMetaData(imgHandle, width, height, channels, codec.EncodeNone, 0)
		if err != nil {
			return nil, err
		}

		return newData(blob.Bytes(), blob.Unref, meta), nil
	}

	encType, err := codec.ParseEncodeType(encName)
	if err != nil {
		return nil, err
	}

	if _, err := readInt(store, KeyEncodingLevel); err != nil {
		return nil, err
	}

	if sniffed := codec.Detect(blob.Bytes()); sniffed != "image/"+encName {
		log.Debug().Int(lIndex, index).Str(lEncoding, encName).Str(lSniffed, sniffed).
			Msg("blob bytes do not sniff as the declared encoding")
	}

	pixels, w, h, c, err := codec.Decode(blob.Bytes())
	if err != nil {
		return nil, err
	}

	log.Debug().Int(lIndex, index).Str(lEncoding, encType.String()).
		Msg("decoded plane")

	// The encoded buffer is no longer needed.
	blob.Unref()

	meta, err := NewMetaData(imgHandle, w, h, c, codec.EncodeNone, 0)
	if err != nil {
		return nil, err
	}

	// The descriptor reverts to an unencoded plane at the decoded
	// dimensions so it keeps mirroring the in-memory metadata.
	removeDescriptor(store)

	if err := writeDescriptor(store, meta); err != nil {
		return nil, err
	}

	return newData(pixels, nil, meta), nil
}

// FromEnvelope deserializes a wire envelope into a frame, taking
// ownership of the envelope and its blob element(s). The envelope stays
// on as the frame's metadata store with the blob slot detached.
func FromEnvelope(env *envelope.Envelope) (*Frame, error) {
	blobs, err := detachBlobs(env)
	if err != nil {
		return nil, err
	}

	f := &Frame{env: env}

	stores := []fieldStore{env}

	if len(blobs) > 1 {
		arrEl, err := env.Get(KeyAdditionalFrames)
		if err != nil {
			return nil, &MissingFieldError{KeyAdditionalFrames}
		}

		arr, err := arrEl.Array()
		if err != nil {
			return nil, &WrongTypeError{Field: KeyAdditionalFrames, Want: envelope.TypeArray}
		}

		if arr.Len() != len(blobs)-1 {
			return nil, &PlaneCountError{Blobs: len(blobs), Descriptors: arr.Len()}
		}

		f.addl = arr

		for i := 0; i < arr.Len(); i++ {
			el, _ := arr.At(i)

			obj, err := el.Object()
			if err != nil {
				return nil, &WrongTypeError{Field: KeyAdditionalFrames, Want: envelope.TypeObject}
			}

			stores = append(stores, obj)
		}
	}

	for i, store := range stores {
		d, err := deserializePlane(i, store, blobs[i])
		if err != nil {
			// Unwind planes already built so their releasers fire, and
			// drop the remaining blob references.
			for _, built := range f.planes {
				built.release()
			}

			for _, blob := range blobs[i:] {
				blob.Unref()
			}

			return nil, fmt.Errorf("failed to deserialize plane %d: %w", i, err)
		}

		f.planes = append(f.planes, d)
	}

	log.Debug().Int(lPlanes, len(f.planes)).Msg("frame deserialized")

	return f, nil
}
