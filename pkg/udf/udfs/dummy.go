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
	"github.com/TurbineOne/udf-pipeline/pkg/envelope"
	"github.com/TurbineOne/udf-pipeline/pkg/frame"
	"github.com/TurbineOne/udf-pipeline/pkg/udf"
)

//nolint:gochecknoinits // loader registry, like database/sql drivers
func init() {
	udf.Register("dummy", func(_ udf.Config) (interface{}, error) {
		return &dummyUdf{}, nil
	})

	udf.Register("rawdummy", func(_ udf.Config) (interface{}, error) {
		return &rawDummyUdf{}, nil
	})
}

// dummyUdf is a native pass-through: it looks at the input view and
// changes nothing.
type dummyUdf struct{}

func (u *dummyUdf) Process(in *udf.Mat, _ *udf.Mat, _ *envelope.Envelope) udf.RetCode {
	log.Debug().Int("width", in.Width).Int("height", in.Height).
		Int("channels", in.Channels).Msg("dummy UDF processing frame")

	return udf.Ok
}

// rawDummyUdf is a raw pass-through: it stamps the plane count into the
// frame's metadata and leaves the pixels alone.
type rawDummyUdf struct{}

func (u *rawDummyUdf) Process(f *frame.Frame) udf.RetCode {
	log.Info().Int("frames", f.NumFrames()).Msg("raw dummy UDF received frame")

	env, err := f.Meta()
	if err != nil {
		return udf.Error
	}

	_ = env.Remove("dummy_frames")

	if err := env.Put("dummy_frames", envelope.NewInt(int64(f.NumFrames()))); err != nil {
		return udf.Error
	}

	return udf.Ok
}
