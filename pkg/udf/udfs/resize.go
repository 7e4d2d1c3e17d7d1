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
	"image"

	"golang.org/x/image/draw"

	"github.com/TurbineOne/udf-pipeline/pkg/envelope"
	"github.com/TurbineOne/udf-pipeline/pkg/udf"
)

//nolint:gochecknoinits // loader registry, like database/sql drivers
func init() {
	udf.Register("resize", func(config udf.Config) (interface{}, error) {
		return &resizeUdf{
			width:  cfgInt(config, "width", 0),
			height: cfgInt(config, "height", 0),
		}, nil
	})
}

// resizeUdf scales the primary plane to the configured dimensions with
// nearest-neighbor sampling. A zero width or height passes the frame
// through untouched.
type resizeUdf struct {
	width  int
	height int
}

// matToNRGBA expands a packed BGR(A)/gray plane into an NRGBA image for
// the scaler.
func matToNRGBA(m *udf.Mat) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))

	for i, j := 0, 0; i < m.Width*m.Height*m.Channels; i, j = i+m.Channels, j+4 {
		switch m.Channels {
		case 1:
			img.Pix[j+0] = m.Pixels[i]
			img.Pix[j+1] = m.Pixels[i]
			img.Pix[j+2] = m.Pixels[i]
			img.Pix[j+3] = 0xff
		case 4:
			img.Pix[j+0] = m.Pixels[i+2]
			img.Pix[j+1] = m.Pixels[i+1]
			img.Pix[j+2] = m.Pixels[i+0]
			img.Pix[j+3] = m.Pixels[i+3]
		default:
			img.Pix[j+0] = m.Pixels[i+2]
			img.Pix[j+1] = m.Pixels[i+1]
			img.Pix[j+2] = m.Pixels[i+0]
			img.Pix[j+3] = 0xff
		}
	}

	return img
}

// nrgbaToPixels packs an NRGBA image back into plane byte order.
func nrgbaToPixels(img *image.NRGBA, channels int) []byte {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	pixels := make([]byte, w*h*channels)

	for i, j := 0, 0; i < len(pixels); i, j = i+channels, j+4 {
		switch channels {
		case 1:
			pixels[i] = img.Pix[j+1] // green carries gray after round-trip
		case 4:
			pixels[i+0] = img.Pix[j+2]
			pixels[i+1] = img.Pix[j+1]
			pixels[i+2] = img.Pix[j+0]
			pixels[i+3] = img.Pix[j+3]
		default:
			pixels[i+0] = img.Pix[j+2]
			pixels[i+1] = img.Pix[j+1]
			pixels[i+2] = img.Pix[j+0]
		}
	}

	return pixels
}

func (u *resizeUdf) Process(in *udf.Mat, out *udf.Mat, _ *envelope.Envelope) udf.RetCode {
	if u.width <= 0 || u.height <= 0 {
		return udf.Ok
	}

	if u.width == in.Width && u.height == in.Height {
		return udf.Ok
	}

	src := matToNRGBA(in)
	dst := image.NewNRGBA(image.Rect(0, 0, u.width, u.height))

	draw.NearestNeighbor.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)

	out.Width = u.width
	out.Height = u.height
	out.Channels = in.Channels
	out.Pixels = nrgbaToPixels(dst, in.Channels)

	log.Debug().Int("fromWidth", in.Width).Int("fromHeight", in.Height).
		Int("toWidth", u.width).Int("toHeight", u.height).Msg("resized frame")

	return udf.Ok
}
