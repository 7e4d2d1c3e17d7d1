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

package udf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/TurbineOne/udf-pipeline/pkg/codec"
	"github.com/TurbineOne/udf-pipeline/pkg/frame"
)

// writeScript drops a scripted UDF module into a temp search path and
// returns a loader pointed at it.
func writeScript(t *testing.T, name, src string) *Loader {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+scriptExt),
		[]byte(src), 0o644))
	t.Setenv(LibraryPathEnv, dir)

	return NewLoader()
}

func TestScriptedPassThrough(t *testing.T) {
	loader := writeScript(t, "passthru", `
def process(frames, meta):
    return (False, None, None)
`)

	h, err := loader.Load("passthru", nil)
	require.NoError(t, err)

	f := testFrame(t)
	defer f.Close()

	assert.Equal(t, Ok, h.Process(f))
	h.Close()
}

func TestScriptedReturnsInputIsOk(t *testing.T) {
	loader := writeScript(t, "echo", `
def process(frames, meta):
    return (False, frames, None)
`)

	h, err := loader.Load("echo", nil)
	require.NoError(t, err)

	f := testFrame(t)
	defer f.Close()

	// Same object identity means no modification.
	assert.Equal(t, Ok, h.Process(f))
	h.Close()
}

func TestScriptedDrop(t *testing.T) {
	loader := writeScript(t, "dropper", `
def process(frames, meta):
    return (True, None, None)
`)

	h, err := loader.Load("dropper", nil)
	require.NoError(t, err)

	f := testFrame(t)
	defer f.Close()

	assert.Equal(t, DropFrame, h.Process(f))
	h.Close()
}

func TestScriptedModify(t *testing.T) {
	loader := writeScript(t, "modify", `
def process(frames, meta):
    meta["ADDED"] = 55
    n = frames.width * frames.height * frames.channels
    return (False, plane(frames.width, frames.height, frames.channels, b"\x01" * n), meta)
`)

	h, err := loader.Load("modify", nil)
	require.NoError(t, err)

	f := testFrame(t)
	defer f.Close()

	assert.Equal(t, FrameModified, h.Process(f))

	data, err := f.Data(0)
	require.NoError(t, err)

	for _, b := range data {
		require.EqualValues(t, 1, b)
	}

	env, err := f.Meta()
	require.NoError(t, err)

	el, err := env.Get("ADDED")
	require.NoError(t, err)

	v, err := el.Int()
	require.NoError(t, err)
	assert.EqualValues(t, 55, v)

	h.Close()
}

func TestScriptedMultiPlane(t *testing.T) {
	loader := writeScript(t, "multimod", `
def _ones(p):
    return plane(p.width, p.height, p.channels, b"\x07" * (p.width * p.height * p.channels))

def process(frames, meta):
    if type(frames) != "list":
        return (False, None, None)
    return (False, [_ones(p) for p in frames], None)
`)

	h, err := loader.Load("multimod", nil)
	require.NoError(t, err)

	f := frame.New()
	require.NoError(t, f.AddFrame([]byte("Hello, World1\x00"), nil,
		14, 1, 1, codec.EncodeNone, 0))
	require.NoError(t, f.AddFrame([]byte("Hello, World2\x00"), nil,
		14, 1, 1, codec.EncodeNone, 0))

	defer f.Close()

	assert.Equal(t, FrameModified, h.Process(f))

	for i := 0; i < 2; i++ {
		data, err := f.Data(i)
		require.NoError(t, err)

		for _, b := range data {
			require.EqualValues(t, 7, b)
		}
	}

	h.Close()
}

func TestScriptedInitConfig(t *testing.T) {
	loader := writeScript(t, "configured", `
_threshold = [0]

def init(config):
    _threshold[0] = config["threshold"]

def process(frames, meta):
    meta["threshold"] = _threshold[0]
    return (False, None, meta)
`)

	h, err := loader.Load("configured", Config{"threshold": 42})
	require.NoError(t, err)

	f := testFrame(t)
	defer f.Close()

	assert.Equal(t, Ok, h.Process(f))

	env, _ := f.Meta()
	el, err := env.Get("threshold")
	require.NoError(t, err)

	v, _ := el.Int()
	assert.EqualValues(t, 42, v)

	h.Close()
}

func TestScriptedBadOutputShape(t *testing.T) {
	loader := writeScript(t, "badshape", `
def process(frames, meta):
    return (False, "not a plane", None)
`)

	h, err := loader.Load("badshape", nil)
	require.NoError(t, err)

	f := testFrame(t)
	defer f.Close()

	assert.Equal(t, Error, h.Process(f))
	h.Close()
}

func TestScriptedRuntimeError(t *testing.T) {
	loader := writeScript(t, "crashy", `
def process(frames, meta):
    fail("boom")
`)

	h, err := loader.Load("crashy", nil)
	require.NoError(t, err)

	f := testFrame(t)
	defer f.Close()

	assert.Equal(t, Error, h.Process(f))
	h.Close()
}

func TestScriptedMissingProcess(t *testing.T) {
	loader := writeScript(t, "empty", `x = 1`)

	_, err := loader.Load("empty", nil)
	loadErr := &LoadError{}
	require.ErrorAs(t, err, &loadErr)
}

func TestScriptedEnvelopeSnapshot(t *testing.T) {
	loader := writeScript(t, "reader", `
def process(frames, meta):
    if meta["width"] != 14:
        fail("expected width 14, got %s" % meta["width"])
    return (False, None, None)
`)

	h, err := loader.Load("reader", nil)
	require.NoError(t, err)

	f := testFrame(t)
	defer f.Close()

	assert.Equal(t, Ok, h.Process(f))
	h.Close()
}

func TestScriptedPlaneAttrs(t *testing.T) {
	p := &planeValue{width: 4, height: 2, channels: 3, pixels: make([]byte, 24)}

	shape, err := p.Attr("shape")
	require.NoError(t, err)
	assert.Equal(t, "(2, 4, 3)", shape.String())

	data, err := p.Attr("data")
	require.NoError(t, err)
	assert.Len(t, string(data.(starlark.Bytes)), 24)

	missing, err := p.Attr("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
