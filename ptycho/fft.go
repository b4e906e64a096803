package ptycho

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT2C returns the centred, orthonormal 2D Fourier transform of f,
// fftshift(fft2(ifftshift(f)))/√(WH)
func FFT2C(f *Field) *Field {
	return newPlan(f.W, f.H).transform(f, true)
}

// IFFT2C is the inverse of FFT2C
func IFFT2C(f *Field) *Field {
	return newPlan(f.W, f.H).transform(f, false)
}

// plan holds the 1D transforms for one grid size
type plan struct {
	w, h     int
	row, col *fourier.CmplxFFT
	scale    complex128
	colBuf   []complex128
}

func newPlan(w, h int) *plan {
	return &plan{
		w: w, h: h,
		row:    fourier.NewCmplxFFT(w),
		col:    fourier.NewCmplxFFT(h),
		scale:  complex(1/math.Sqrt(float64(w*h)), 0),
		colBuf: make([]complex128, h),
	}
}

// transform applies the centred transform in the given direction
func (p *plan) transform(f *Field, forward bool) *Field {
	out := NewField(p.w, p.h)
	// ifftshift on the way in
	for y := 0; y < p.h; y++ {
		sy := (y + p.h/2) % p.h
		for x := 0; x < p.w; x++ {
			sx := (x + p.w/2) % p.w
			out.Data[y*p.w+x] = f.Data[sy*p.w+sx]
		}
	}
	for y := 0; y < p.h; y++ {
		r := out.Data[y*p.w : (y+1)*p.w]
		if forward {
			p.row.Coefficients(r, r)
		} else {
			p.row.Sequence(r, r)
		}
	}
	for x := 0; x < p.w; x++ {
		for y := 0; y < p.h; y++ {
			p.colBuf[y] = out.Data[y*p.w+x]
		}
		if forward {
			p.col.Coefficients(p.colBuf, p.colBuf)
		} else {
			p.col.Sequence(p.colBuf, p.colBuf)
		}
		for y := 0; y < p.h; y++ {
			out.Data[y*p.w+x] = p.colBuf[y]
		}
	}
	// fftshift on the way out
	res := NewField(p.w, p.h)
	for y := 0; y < p.h; y++ {
		sy := (y + (p.h+1)/2) % p.h
		for x := 0; x < p.w; x++ {
			sx := (x + (p.w+1)/2) % p.w
			res.Data[y*p.w+x] = out.Data[sy*p.w+sx] * p.scale
		}
	}
	return res
}
