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
	"github.com/TurbineOne/udf-pipeline/pkg/frame"
)

// nativeHandle wraps a single-plane NativeUdf. It builds a Mat view over
// plane 0, runs the callee, and swaps the callee's output buffer into
// the frame when one was produced.
type nativeHandle struct {
	name        string
	udf         NativeUdf
	initialized bool
}

func newNativeHandle(name string, udf NativeUdf) *nativeHandle {
	return &nativeHandle{
		name: name,
		udf:  udf,
	}
}

func (h *nativeHandle) Name() string {
	return h.name
}

// Initialize is one-shot; the callee was already constructed with its
// config by the loader's factory.
func (h *nativeHandle) Initialize(_ Config) error {
	if h.initialized {
		return &AlreadyInitializedError{h.name}
	}

	h.initialized = true

	return nil
}

// sameBuffer reports whether two slices share a backing array origin.
func sameBuffer(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

func (h *nativeHandle) Process(f *frame.Frame) RetCode {
	width, err := f.Width(0)
	if err != nil {
		log.Error().Err(err).Str(lUDF, h.name).Msg("frame has no primary plane")

		return Error
	}

	height, _ := f.Height(0)
	channels, _ := f.Channels(0)

	pixels, err := f.Data(0)
	if err != nil {
		log.Error().Err(err).Str(lUDF, h.name).Msg("cannot view frame data")

		return Error
	}

	in := &Mat{Width: width, Height: height, Channels: channels, Pixels: pixels}
	out := &Mat{}

	meta, err := f.Meta()
	if err != nil {
		log.Error().Err(err).Str(lUDF, h.name).Msg("cannot view frame meta-data")

		return Error
	}

	ret := h.udf.Process(in, out, meta)

	switch ret {
	case DropFrame, Error:
		return ret
	default:
	}

	// A distinct output buffer replaces plane 0; reusing the input
	// buffer counts as an in-place edit.
	if !out.Empty() && !sameBuffer(out.Pixels, in.Pixels) {
		if err := f.SetData(0, out.Pixels, nil,
			out.Width, out.Height, out.Channels); err != nil {
			log.Error().Err(err).Str(lUDF, h.name).Msg("failed to set UDF output")

			return Error
		}

		return FrameModified
	}

	return Ok
}

func (h *nativeHandle) Close() {
	if c, ok := h.udf.(Closer); ok {
		c.Close()
	}
}

// rawHandle wraps a RawUdf, which is multi-plane aware and works on the
// Frame directly. The handle simply forwards.
type rawHandle struct {
	name        string
	udf         RawUdf
	initialized bool
}

func newRawHandle(name string, udf RawUdf) *rawHandle {
	return &rawHandle{
		name: name,
		udf:  udf,
	}
}

func (h *rawHandle) Name() string {
	return h.name
}

func (h *rawHandle) Initialize(_ Config) error {
	if h.initialized {
		return &AlreadyInitializedError{h.name}
	}

	h.initialized = true

	return nil
}

func (h *rawHandle) Process(f *frame.Frame) RetCode {
	ret := h.udf.Process(f)

	if ret == Error {
		log.Error().Str(lUDF, h.name).Msg("error in UDF process method")
	}

	return ret
}

func (h *rawHandle) Close() {
	if c, ok := h.udf.(Closer); ok {
		c.Close()
	}
}
