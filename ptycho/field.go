// Package ptycho reconstructs a complex object field from far field
// diffraction patterns captured at overlapping probe positions, using the
// ptychographic iterative engine (PIE)
package ptycho

import (
	"math"
	"math/cmplx"

	"github.com/ptycholab/ptycholab/frame"
)

// Field is a row-major grid of complex values
type Field struct {
	W, H int
	Data []complex128
}

// NewField returns a zero valued field
func NewField(w, h int) *Field {
	return &Field{W: w, H: h, Data: make([]complex128, w*h)}
}

// FromFrame returns a field with the values of f as its real part
func FromFrame(f *frame.Frame) *Field {
	out := NewField(f.W, f.H)
	for i, v := range f.Pix {
		out.Data[i] = complex(v, 0)
	}
	return out
}

// Clone returns a deep copy of f
func (f *Field) Clone() *Field {
	out := NewField(f.W, f.H)
	copy(out.Data, f.Data)
	return out
}

// Energy returns the sum of squared magnitudes
func (f *Field) Energy() float64 {
	e := 0.
	for _, v := range f.Data {
		e += real(v)*real(v) + imag(v)*imag(v)
	}
	return e
}

// Magnitude returns |f| as a frame
func (f *Field) Magnitude() *frame.Frame {
	out := frame.New(f.W, f.H)
	for i, v := range f.Data {
		out.Pix[i] = cmplx.Abs(v)
	}
	return out
}

// Phase returns arg(f) in (-π, π] as a frame
func (f *Field) Phase() *frame.Frame {
	out := frame.New(f.W, f.H)
	for i, v := range f.Data {
		out.Pix[i] = cmplx.Phase(v)
	}
	return out
}

// Resize returns f resampled to w x h by bilinear interpolation, sampling
// at pixel centres.  Edges are clamped
func Resize(f *Field, w, h int) *Field {
	if f.W == w && f.H == h {
		return f.Clone()
	}
	out := NewField(w, h)
	if f.W == 0 || f.H == 0 {
		return out
	}
	sx := float64(f.W) / float64(w)
	sy := float64(f.H) / float64(h)
	for y := 0; y < h; y++ {
		y0, y1, fy := sample(y, sy, f.H)
		for x := 0; x < w; x++ {
			x0, x1, fx := sample(x, sx, f.W)
			top := f.Data[y0*f.W+x0]*complex(1-fx, 0) + f.Data[y0*f.W+x1]*complex(fx, 0)
			bot := f.Data[y1*f.W+x0]*complex(1-fx, 0) + f.Data[y1*f.W+x1]*complex(fx, 0)
			out.Data[y*w+x] = top*complex(1-fy, 0) + bot*complex(fy, 0)
		}
	}
	return out
}

// sample returns the source indices bracketing destination index i and the
// weight of the upper one
func sample(i int, scale float64, n int) (int, int, float64) {
	s := (float64(i)+0.5)*scale - 0.5
	if s <= 0 {
		return 0, 0, 0
	}
	lo := int(math.Floor(s))
	if lo >= n-1 {
		return n - 1, n - 1, 0
	}
	return lo, lo + 1, s - float64(lo)
}
