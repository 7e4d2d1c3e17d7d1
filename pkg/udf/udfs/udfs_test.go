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

package udfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TurbineOne/udf-pipeline/pkg/codec"
	"github.com/TurbineOne/udf-pipeline/pkg/frame"
	"github.com/TurbineOne/udf-pipeline/pkg/udf"
)

func loadBuiltin(t *testing.T, name string, config udf.Config) udf.Handle {
	t.Helper()

	h, err := udf.NewLoader().Load(name, config)
	require.NoError(t, err)

	return h
}

func newTestFrame(t *testing.T, w, h, c int) *frame.Frame {
	t.Helper()

	pixels := make([]byte, w*h*c)
	for i := range pixels {
		pixels[i] = byte(i)
	}

	f := frame.New()
	require.NoError(t, f.AddFrame(pixels, nil, w, h, c, codec.EncodeNone, 0))

	return f
}

func TestDummyPassesThrough(t *testing.T) {
	h := loadBuiltin(t, "dummy", nil)
	defer h.Close()

	f := newTestFrame(t, 4, 4, 3)
	defer f.Close()

	before, _ := f.Data(0)
	beforeCopy := make([]byte, len(before))
	copy(beforeCopy, before)

	assert.Equal(t, udf.Ok, h.Process(f))

	after, _ := f.Data(0)
	assert.Equal(t, beforeCopy, after)
}

func TestRawDummyStampsMetadata(t *testing.T) {
	h := loadBuiltin(t, "rawdummy", nil)
	defer h.Close()

	f := newTestFrame(t, 4, 4, 3)
	defer f.Close()

	assert.Equal(t, udf.Ok, h.Process(f))

	env, err := f.Meta()
	require.NoError(t, err)

	el, err := env.Get("dummy_frames")
	require.NoError(t, err)

	v, _ := el.Int()
	assert.EqualValues(t, 1, v)
}

func TestResizeScalesPrimaryPlane(t *testing.T) {
	h := loadBuiltin(t, "resize", udf.Config{"width": 8, "height": 4})
	defer h.Close()

	f := newTestFrame(t, 16, 8, 3)
	defer f.Close()

	assert.Equal(t, udf.FrameModified, h.Process(f))

	w, _ := f.Width(0)
	ht, _ := f.Height(0)
	c, _ := f.Channels(0)
	assert.Equal(t, 8, w)
	assert.Equal(t, 4, ht)
	assert.Equal(t, 3, c)

	data, err := f.Data(0)
	require.NoError(t, err)
	assert.Len(t, data, 8*4*3)
}

func TestResizeNoopWithoutDims(t *testing.T) {
	h := loadBuiltin(t, "resize", nil)
	defer h.Close()

	f := newTestFrame(t, 16, 8, 3)
	defer f.Close()

	assert.Equal(t, udf.Ok, h.Process(f))

	w, _ := f.Width(0)
	assert.Equal(t, 16, w)
}
