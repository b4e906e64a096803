// Package frame holds 2D intensity frames and reads and writes them as FITS
// and 16-bit PNG files.
//
// Pixel values decoded from integer files are normalised to [0, 1]; 16-bit
// data is divided by 65535 and 8-bit data by 255.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrShape is returned when frames of different sizes are combined
var ErrShape = errors.New("frame dimensions do not match")

// Frame is a row-major grid of pixel values
type Frame struct {
	W, H int
	Pix  []float64
}

// New returns a zero valued frame
func New(w, h int) *Frame {
	return &Frame{W: w, H: h, Pix: make([]float64, w*h)}
}

// At returns the value at column x, row y
func (f *Frame) At(x, y int) float64 {
	return f.Pix[y*f.W+x]
}

// Set sets the value at column x, row y
func (f *Frame) Set(x, y int, v float64) {
	f.Pix[y*f.W+x] = v
}

// SameShape returns true if f and o have the same dimensions
func (f *Frame) SameShape(o *Frame) bool {
	return f.W == o.W && f.H == o.H
}

// Clone returns a deep copy of f
func (f *Frame) Clone() *Frame {
	out := &Frame{W: f.W, H: f.H, Pix: make([]float64, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out
}

// Sum returns the sum of all pixels
func (f *Frame) Sum() float64 {
	return floats.Sum(f.Pix)
}

// Mean returns the mean pixel value, 0 for an empty frame
func (f *Frame) Mean() float64 {
	if len(f.Pix) == 0 {
		return 0
	}
	return stat.Mean(f.Pix, nil)
}

// MinMax returns the extreme pixel values, zeros for an empty frame
func (f *Frame) MinMax() (float64, float64) {
	if len(f.Pix) == 0 {
		return 0, 0
	}
	return floats.Min(f.Pix), floats.Max(f.Pix)
}

// FromU16 converts raw 16-bit sensor counts to a normalised frame
func FromU16(w, h int, buf []uint16) (*Frame, error) {
	if len(buf) != w*h {
		return nil, fmt.Errorf("%w: %d pixels for %dx%d", ErrShape, len(buf), w, h)
	}
	f := New(w, h)
	for i, v := range buf {
		f.Pix[i] = float64(v) / 65535
	}
	return f, nil
}

// FromImage converts a decoded image to a normalised frame.  Color images
// are converted to luminance
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := New(b.Dx(), b.Dy())
	switch t := img.(type) {
	case *image.Gray16:
		for y := 0; y < f.H; y++ {
			for x := 0; x < f.W; x++ {
				f.Set(x, y, float64(t.Gray16At(b.Min.X+x, b.Min.Y+y).Y)/65535)
			}
		}
	case *image.Gray:
		for y := 0; y < f.H; y++ {
			for x := 0; x < f.W; x++ {
				f.Set(x, y, float64(t.GrayAt(b.Min.X+x, b.Min.Y+y).Y)/255)
			}
		}
	default:
		for y := 0; y < f.H; y++ {
			for x := 0; x < f.W; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				f.Set(x, y, float64(g.Y)/65535)
			}
		}
	}
	return f
}

// Gray16 quantises the frame to 16 bits, clipping to [0, 1]
func (f *Frame) Gray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, f.W, f.H))
	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			img.SetGray16(x, y, color.Gray16{Y: quantize(f.At(x, y), 65535)})
		}
	}
	return img
}

// Normalized returns a copy of f scaled so its maximum is 1.  A frame with no
// positive value is returned unscaled
func (f *Frame) Normalized() *Frame {
	out := f.Clone()
	_, max := f.MinMax()
	if max > 0 {
		floats.Scale(1/max, out.Pix)
	}
	return out
}

func quantize(v, full float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return uint16(full)
	}
	return uint16(v*full + 0.5)
}

// Average returns the pixelwise mean of frames
func Average(frames []*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames to average")
	}
	out := New(frames[0].W, frames[0].H)
	for _, f := range frames {
		if !f.SameShape(out) {
			return nil, fmt.Errorf("%w: %dx%d and %dx%d", ErrShape, out.W, out.H, f.W, f.H)
		}
		floats.Add(out.Pix, f.Pix)
	}
	floats.Scale(1/float64(len(frames)), out.Pix)
	return out, nil
}
