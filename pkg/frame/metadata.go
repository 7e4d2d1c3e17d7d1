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
	"encoding/hex"
	"fmt"
	"math/rand"

	"github.com/TurbineOne/udf-pipeline/pkg/codec"
)

// imgHandleBytes is the number of random bytes in an img_handle; hex
// encoding doubles it on the wire.
const imgHandleBytes = 5

// newImgHandle generates a short random hex correlation id for a plane.
// Uniqueness across a process is not guaranteed.
func newImgHandle() string {
	b := make([]byte, imgHandleBytes)
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}

	return hex.EncodeToString(b)
}

// EncodingLevelError indicates an encode level outside the valid range
// for its encode type.
type EncodingLevelError struct {
	Type  codec.EncodeType
	Level int
}

func (e *EncodingLevelError) Error() string {
	return fmt.Sprintf("encode level %d invalid for encoding type %s", e.Level, e.Type)
}

// MetaData describes a single image plane: its correlation handle,
// dimensions, and pending encoding. It is exclusively owned by one Data.
type MetaData struct {
	imgHandle string
	width     int
	height    int
	channels  int

	encodeType  codec.EncodeType
	encodeLevel int
}

// NewMetaData returns plane metadata after validating the encode level
// against the encode type.
func NewMetaData(imgHandle string, width, height, channels int,
	encodeType codec.EncodeType, encodeLevel int,
) (*MetaData, error) {
	if !codec.VerifyLevel(encodeType, encodeLevel) {
		return nil, &EncodingLevelError{Type: encodeType, Level: encodeLevel}
	}

	return &MetaData{
		imgHandle:   imgHandle,
		width:       width,
		height:      height,
		channels:    channels,
		encodeType:  encodeType,
		encodeLevel: encodeLevel,
	}, nil
}

func (m *MetaData) ImgHandle() string { return m.imgHandle }

func (m *MetaData) Width() int { return m.width }

func (m *MetaData) Height() int { return m.height }

func (m *MetaData) Channels() int { return m.channels }

func (m *MetaData) EncodeType() codec.EncodeType { return m.encodeType }

func (m *MetaData) EncodeLevel() int { return m.encodeLevel }

func (m *MetaData) SetWidth(w int) { m.width = w }

func (m *MetaData) SetHeight(h int) { m.height = h }

func (m *MetaData) SetChannels(c int) { m.channels = c }

// SetEncoding updates the pending encoding, revalidating the level.
func (m *MetaData) SetEncoding(t codec.EncodeType, level int) error {
	if !codec.VerifyLevel(t, level) {
		return &EncodingLevelError{Type: t, Level: level}
	}

	m.encodeType = t
	m.encodeLevel = level

	return nil
}
