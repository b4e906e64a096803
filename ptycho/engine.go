package ptycho

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/ptycholab/ptycholab/dataset"
	"github.com/ptycholab/ptycholab/frame"
)

const (
	// DefaultBeta is the feedback parameter of the object update
	DefaultBeta = 0.9

	// DefaultEpsilon regularises the division by the probe intensity
	DefaultEpsilon = 1e-8
)

// Engine runs PIE.  The probe is held fixed; only the object is updated
type Engine struct {
	// Iterations is the number of passes over every pattern
	Iterations int

	// Beta is the feedback parameter, DefaultBeta if zero
	Beta float64

	// Epsilon is the regulariser, DefaultEpsilon if zero
	Epsilon float64

	// SnapshotEvery, if positive, calls OnSnapshot after every
	// iteration it divides, counting from zero
	SnapshotEvery int

	// OnSnapshot receives the iteration number and a copy of the object
	OnSnapshot func(it int, object *Field)

	// OnIteration, if not nil, receives the normalised Fourier magnitude
	// error of every iteration, Σ(|Ψ|-√I)² / ΣI over all patterns
	OnIteration func(it int, err float64)
}

func (e Engine) beta() float64 {
	if e.Beta == 0 {
		return DefaultBeta
	}
	return e.Beta
}

func (e Engine) epsilon() float64 {
	if e.Epsilon == 0 {
		return DefaultEpsilon
	}
	return e.Epsilon
}

// roi is the clipped window of one position on the object grid
type roi struct {
	x0, y0, w, h int
}

// Reconstruct recovers the object from intensity patterns measured with
// probe placed with its top left corner at positions, in pixels of the
// object grid.  The object has the size of the patterns and starts as the
// square root of their mean intensity with zero phase.  Windows are clipped
// to the grid; the probe and the measured amplitude are resized to the
// clipped window where needed.
//
// Cancelling ctx stops after the current iteration and returns the object
// so far along with the context's error
func (e Engine) Reconstruct(ctx context.Context, patterns []*frame.Frame, positions [][2]int, probe *Field) (*Field, error) {
	if len(patterns) == 0 {
		return nil, dataset.InputError{Reason: "no diffraction patterns"}
	}
	if len(patterns) != len(positions) {
		return nil, dataset.InputError{Reason: fmt.Sprintf("%d patterns for %d positions", len(patterns), len(positions))}
	}
	if probe == nil || probe.W == 0 || probe.H == 0 {
		return nil, dataset.InputError{Reason: "empty probe"}
	}
	gw, gh := patterns[0].W, patterns[0].H
	for i, p := range patterns {
		if p.W != gw || p.H != gh || len(p.Pix) != gw*gh {
			return nil, dataset.InputError{Reason: fmt.Sprintf("pattern %d is %dx%d, pattern 0 is %dx%d", i, p.W, p.H, gw, gh)}
		}
	}

	mean, err := frame.Average(patterns)
	if err != nil {
		return nil, dataset.InputError{Reason: "patterns", Err: err}
	}
	obj := NewField(gw, gh)
	for i, v := range mean.Pix {
		obj.Data[i] = complex(math.Sqrt(math.Max(v, 0)), 0)
	}

	// everything but the object is fixed across iterations
	rois := make([]roi, len(patterns))
	amps := make([]*Field, len(patterns))
	probes := map[[2]int]*Field{}
	plans := map[[2]int]*plan{}
	for i, pos := range positions {
		x0, y0 := max(pos[0], 0), max(pos[1], 0)
		x1, y1 := min(pos[0]+probe.W, gw), min(pos[1]+probe.H, gh)
		r := roi{x0: x0, y0: y0, w: x1 - x0, h: y1 - y0}
		rois[i] = r
		if r.w <= 0 || r.h <= 0 {
			continue
		}
		size := [2]int{r.w, r.h}
		if _, ok := probes[size]; !ok {
			probes[size] = Resize(probe, r.w, r.h)
			plans[size] = newPlan(r.w, r.h)
		}
		amp := NewField(gw, gh)
		for k, v := range patterns[i].Pix {
			amp.Data[k] = complex(math.Sqrt(math.Max(v, 0)), 0)
		}
		amps[i] = Resize(amp, r.w, r.h)
	}

	beta, eps := complex(e.beta(), 0), e.epsilon()
	for it := 0; it < e.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return obj, err
		}
		var resid, norm float64
		for i, r := range rois {
			if r.w <= 0 || r.h <= 0 {
				continue
			}
			size := [2]int{r.w, r.h}
			P, pl, amp := probes[size], plans[size], amps[i]

			exit := NewField(r.w, r.h)
			for y := 0; y < r.h; y++ {
				for x := 0; x < r.w; x++ {
					k := y*r.w + x
					exit.Data[k] = obj.Data[(r.y0+y)*gw+r.x0+x] * P.Data[k]
				}
			}
			psi := pl.transform(exit, true)
			for k, v := range psi.Data {
				a := real(amp.Data[k])
				m := cmplx.Abs(v)
				resid += (m - a) * (m - a)
				norm += a * a
				psi.Data[k] = cmplx.Rect(a, cmplx.Phase(v))
			}
			updated := pl.transform(psi, false)
			for y := 0; y < r.h; y++ {
				for x := 0; x < r.w; x++ {
					k := y*r.w + x
					p := P.Data[k]
					pp := real(p)*real(p) + imag(p)*imag(p)
					delta := beta * cmplx.Conj(p) * (updated.Data[k] - exit.Data[k]) / complex(pp+eps, 0)
					obj.Data[(r.y0+y)*gw+r.x0+x] += delta
				}
			}
		}
		if e.OnIteration != nil {
			if norm > 0 {
				e.OnIteration(it, resid/norm)
			} else {
				e.OnIteration(it, 0)
			}
		}
		if e.SnapshotEvery > 0 && it%e.SnapshotEvery == 0 && e.OnSnapshot != nil {
			e.OnSnapshot(it, obj.Clone())
		}
	}
	return obj, nil
}
