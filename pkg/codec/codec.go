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

// Package codec is the still-image codec boundary for the pipeline.
// It encodes a tightly packed (width, height, channels) pixel plane to
// JPEG or PNG bytes and decodes such bytes back to a plane. Planes are
// 1-channel grayscale or 3-channel BGR, the upstream camera pipeline
// convention. The decoder cannot reproduce an alpha channel, so other
// channel counts are rejected at encode time rather than silently
// narrowed on the way back.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg" // also registers the JPEG decoder with image.Decode
	"image/png"  // also registers the PNG decoder with image.Decode

	"github.com/aofei/mimesniffer"
)

// EncodeType selects the lossy/lossless encoding applied to a plane.
type EncodeType int

const (
	EncodeNone EncodeType = iota
	EncodeJPEG
	EncodePNG
)

// Wire names of the encode types.
const (
	encodeNameJPEG = "jpeg"
	encodeNamePNG  = "png"
)

func (t EncodeType) String() string {
	switch t {
	case EncodeNone:
		return "none"
	case EncodeJPEG:
		return encodeNameJPEG
	case EncodePNG:
		return encodeNamePNG
	default:
		return fmt.Sprintf("EncodeType(%d)", int(t))
	}
}

// UnknownEncodingError indicates an encoding name outside {jpeg, png}.
type UnknownEncodingError struct {
	Name string
}

func (e *UnknownEncodingError) Error() string {
	return fmt.Sprintf("unknown encoding type %q", e.Name)
}

// ParseEncodeType maps a wire encoding name to its EncodeType.
func ParseEncodeType(name string) (EncodeType, error) {
	switch name {
	case encodeNameJPEG:
		return EncodeJPEG, nil
	case encodeNamePNG:
		return EncodePNG, nil
	default:
		return EncodeNone, &UnknownEncodingError{name}
	}
}

// VerifyLevel reports whether level is valid for the encode type:
// 0..100 for JPEG quality, 0..9 for PNG compression. EncodeNone accepts
// any level.
func VerifyLevel(t EncodeType, level int) bool {
	switch t {
	case EncodeJPEG:
		return level >= 0 && level <= 100
	case EncodePNG:
		return level >= 0 && level <= 9
	default:
		return true
	}
}

// EncodeError wraps a codec failure during encoding.
type EncodeError struct {
	Type EncodeType
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("failed to encode plane as %s: %v", e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError wraps a codec failure during decoding.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode plane: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// BadPlaneError indicates plane dimensions that the codec cannot encode.
type BadPlaneError struct {
	Width    int
	Height   int
	Channels int
	Size     int
}

func (e *BadPlaneError) Error() string {
	return fmt.Sprintf("cannot encode %dx%dx%d plane of %d bytes",
		e.Width, e.Height, e.Channels, e.Size)
}

// pngLevel maps the 0..9 compression range onto the Go encoder's tiers.
// 0 is store-only, 1..3 favor speed, 4..6 use the default tier, 7..9
// favor size.
func pngLevel(level int) png.CompressionLevel {
	switch {
	case level == 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

// toImage wraps a packed plane in an image.Image, converting BGR to
// the RGB order the encoders expect. Only 1- and 3-channel planes are
// accepted; Decode has no way to hand a 4th channel back, so encoding
// one would break the encode/decode dimension round trip.
func toImage(pixels []byte, w, h, c int) (image.Image, error) {
	if w <= 0 || h <= 0 || len(pixels) < w*h*c {
		return nil, &BadPlaneError{Width: w, Height: h, Channels: c, Size: len(pixels)}
	}

	switch c {
	case 1:
		img := &image.Gray{
			Pix:    pixels,
			Stride: w,
			Rect:   image.Rect(0, 0, w, h),
		}

		return img, nil

	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, w, h))

		for i, j := 0, 0; i < w*h*c; i, j = i+c, j+4 {
			img.Pix[j+0] = pixels[i+2] // R
			img.Pix[j+1] = pixels[i+1] // G
			img.Pix[j+2] = pixels[i+0] // B
			img.Pix[j+3] = 0xff
		}

		return img, nil

	default:
		return nil, &BadPlaneError{Width: w, Height: h, Channels: c, Size: len(pixels)}
	}
}

// Encode compresses a packed plane into encoded image bytes. The level
// is JPEG quality (0..100) or PNG compression (0..9) according to t.
func Encode(pixels []byte, w, h, c int, t EncodeType, level int) ([]byte, error) {
	img, err := toImage(pixels, w, h, c)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	switch t {
	case EncodeJPEG:
		quality := level
		if quality < 1 {
			quality = 1 // The Go encoder floors quality at 1.
		}

		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, &EncodeError{Type: t, Err: err}
		}

	case EncodePNG:
		enc := &png.Encoder{CompressionLevel: pngLevel(level)}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, &EncodeError{Type: t, Err: err}
		}

	default:
		return nil, &EncodeError{Type: t, Err: fmt.Errorf("type is not encodable")}
	}

	return buf.Bytes(), nil
}

// Decode expands encoded image bytes back into a packed plane. Grayscale
// images decode to one channel; everything else decodes to 3-channel BGR.
func Decode(data []byte) (pixels []byte, w, h, c int, err error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, 0, &DecodeError{Err: err}
	}

	bounds := img.Bounds()
	w = bounds.Dx()
	h = bounds.Dy()

	if gray, ok := img.(*image.Gray); ok {
		c = 1
		pixels = make([]byte, w*h)

		for y := 0; y < h; y++ {
			copy(pixels[y*w:(y+1)*w], gray.Pix[y*gray.Stride:y*gray.Stride+w])
		}

		return pixels, w, h, c, nil
	}

	c = 3
	pixels = make([]byte, w*h*c)

	i := 0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			pixels[i+0] = byte(b >> 8)
			pixels[i+1] = byte(g >> 8)
			pixels[i+2] = byte(r >> 8)
			i += c
		}
	}

	return pixels, w, h, c, nil
}

// Detect sniffs the mime type of encoded bytes. Used to cross-check a
// frame's declared encoding against what's actually in the blob.
func Detect(data []byte) string {
	return mimesniffer.Sniff(data)
}
