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

// Package udf loads user-defined frame transforms and runs ordered
// chains of them over a frame stream. A UDF is resolved by name from the
// in-process registry, from a dynamic library, or from a scripted
// module, and is presented to the pipeline behind one uniform Handle.
package udf

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/TurbineOne/udf-pipeline/pkg/envelope"
	"github.com/TurbineOne/udf-pipeline/pkg/frame"
)

const (
	lUDF      = "udf"
	lRetCode  = "retCode"
	lPath     = "path"
	lWorkers  = "workers"
	lMaxJobs  = "maxJobs"
	lEncoding = "encoding"
)

//nolint:gochecknoglobals // allows logging from non-method funcs
var log = zerolog.Nop()

// SetLogger installs the package logger. Call before constructing a
// Loader or Manager.
func SetLogger(logger zerolog.Logger) {
	log = logger.With().Str("pkg", "udf").Logger()
}

// RetCode is a UDF's verdict on one frame.
type RetCode int

const (
	Ok RetCode = iota
	DropFrame
	FrameModified
	Error
)

func (r RetCode) String() string {
	switch r {
	case Ok:
		return "ok"
	case DropFrame:
		return "drop-frame"
	case FrameModified:
		return "frame-modified"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("RetCode(%d)", int(r))
	}
}

// Config is the open-shape configuration passed to a UDF's constructor.
type Config map[string]interface{}

// Mat is the single-plane pixel view handed to native UDFs: packed
// bytes in row-major (height, width, channels) order.
type Mat struct {
	Width    int
	Height   int
	Channels int
	Pixels   []byte
}

// Empty reports whether the Mat holds no pixels.
func (m *Mat) Empty() bool {
	return len(m.Pixels) == 0
}

// NativeUdf is the single-plane transform contract. The callee reads
// the input view and either mutates it in place (leaving out empty) or
// fills out with a newly allocated result.
type NativeUdf interface {
	Process(in *Mat, out *Mat, meta *envelope.Envelope) RetCode
}

// RawUdf is the multi-plane-aware transform contract: the callee works
// on the Frame directly.
type RawUdf interface {
	Process(f *frame.Frame) RetCode
}

// Closer is optionally implemented by UDFs that hold resources.
type Closer interface {
	Close()
}

// Handle is the uniform wrapper around one loaded UDF.
type Handle interface {
	// Name returns the UDF's configured name.
	Name() string

	// Initialize prepares the UDF with its config. One-shot; a second
	// call is an error.
	Initialize(config Config) error

	// Process runs the UDF over one frame. Must be safe for concurrent
	// calls on distinct frames.
	Process(f *frame.Frame) RetCode

	// Close releases the UDF's resources.
	Close()
}

// AlreadyInitializedError indicates a second Initialize() on a handle.
type AlreadyInitializedError struct {
	Name string
}

func (e *AlreadyInitializedError) Error() string {
	return fmt.Sprintf("UDF %q is already initialized", e.Name)
}
