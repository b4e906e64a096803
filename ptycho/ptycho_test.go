package ptycho_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/ptycholab/ptycholab/dataset"
	"github.com/ptycholab/ptycholab/frame"
	"github.com/ptycholab/ptycholab/ptycho"
)

func randomField(w, h int, seed int64) *ptycho.Field {
	rng := rand.New(rand.NewSource(seed))
	f := ptycho.NewField(w, h)
	for i := range f.Data {
		f.Data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return f
}

func ExampleFFT2C() {
	f := ptycho.NewField(4, 4)
	for i := range f.Data {
		f.Data[i] = 1
	}
	F := ptycho.FFT2C(f)
	fmt.Printf("%.3f %.3f\n", cmplx.Abs(F.Data[2*4+2]), cmplx.Abs(F.Data[0]))
	// Output: 4.000 0.000
}

func TestFFT2CPreservesEnergy(t *testing.T) {
	f := randomField(8, 6, 1)
	F := ptycho.FFT2C(f)
	if d := math.Abs(F.Energy() - f.Energy()); d > 1e-9*f.Energy() {
		t.Errorf("energy changed by %g", d)
	}
}

func TestFFT2CRoundTrip(t *testing.T) {
	// odd sizes exercise the asymmetric shifts
	f := randomField(5, 3, 2)
	g := ptycho.IFFT2C(ptycho.FFT2C(f))
	for i := range f.Data {
		if cmplx.Abs(f.Data[i]-g.Data[i]) > 1e-12 {
			t.Fatalf("element %d: %v != %v", i, f.Data[i], g.Data[i])
		}
	}
}

func TestFFT2CCentresOddGrids(t *testing.T) {
	f := ptycho.NewField(5, 3)
	for i := range f.Data {
		f.Data[i] = 1
	}
	F := ptycho.FFT2C(f)
	if v := cmplx.Abs(F.Data[1*5+2]); math.Abs(v-math.Sqrt(15)) > 1e-12 {
		t.Errorf("expected √15 at the centre, got %v", v)
	}
}

func TestResize(t *testing.T) {
	f := &ptycho.Field{W: 2, H: 1, Data: []complex128{0, 1}}
	got := ptycho.Resize(f, 4, 1)
	want := []complex128{0, 0.25, 0.75, 1}
	for i := range want {
		if cmplx.Abs(got.Data[i]-want[i]) > 1e-12 {
			t.Errorf("expected %v, got %v", want, got.Data)
			break
		}
	}
}

func TestGaussianProbePeak(t *testing.T) {
	p := ptycho.GaussianProbe(4, 4, ptycho.ProbeParams{BeamDiameter: 2, Wavelength: 1, PixelSize: 1})
	if p.Data[2*4+2] != 1 {
		t.Errorf("expected the peak at (2, 2), got %v", p.Data[2*4+2])
	}
	if real(p.Data[0]) >= 1 || real(p.Data[0]) <= 0 {
		t.Errorf("expected the corner inside (0, 1), got %v", p.Data[0])
	}
}

// a single noiseless pattern; the Fourier residual must fall from the start
func TestReconstructReducesError(t *testing.T) {
	const n = 16
	probe := ptycho.GaussianProbe(n, n, ptycho.ProbeParams{BeamDiameter: 40, Wavelength: 1, PixelSize: 1})
	truth := ptycho.NewField(n, n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			truth.Data[y*n+x] = cmplx.Rect(1, 0.5*math.Sin(float64(x)/3)+0.3*math.Cos(float64(y)/2))
		}
	}
	exit := truth.Clone()
	for i := range exit.Data {
		exit.Data[i] *= probe.Data[i]
	}
	pattern := frame.New(n, n)
	for i, v := range ptycho.FFT2C(exit).Data {
		pattern.Pix[i] = real(v)*real(v) + imag(v)*imag(v)
	}

	var errs []float64
	var snaps []int
	e := ptycho.Engine{
		Iterations:    6,
		SnapshotEvery: 3,
		OnSnapshot:    func(it int, _ *ptycho.Field) { snaps = append(snaps, it) },
		OnIteration:   func(_ int, err float64) { errs = append(errs, err) },
	}
	obj, err := e.Reconstruct(context.Background(), []*frame.Frame{pattern}, [][2]int{{0, 0}}, probe)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 6 {
		t.Fatalf("expected 6 error values, got %d", len(errs))
	}
	if !(errs[1] < errs[0]) || !(errs[5] < errs[0]) {
		t.Errorf("error did not decrease: %v", errs)
	}
	if len(snaps) != 2 || snaps[0] != 0 || snaps[1] != 3 {
		t.Errorf("expected snapshots at 0 and 3, got %v", snaps)
	}
	if obj.W != n || obj.H != n {
		t.Errorf("expected a %dx%d object, got %dx%d", n, n, obj.W, obj.H)
	}
}

// distance returns the L2 distance between obj and truth once the global
// phase of obj is matched to truth
func distance(obj, truth *ptycho.Field) float64 {
	var inner complex128
	var no, nt float64
	for i, v := range obj.Data {
		inner += cmplx.Conj(v) * truth.Data[i]
		no += real(v)*real(v) + imag(v)*imag(v)
		nt += real(truth.Data[i])*real(truth.Data[i]) + imag(truth.Data[i])*imag(truth.Data[i])
	}
	return math.Sqrt(math.Max(no+nt-2*cmplx.Abs(inner), 0))
}

// a uniform object of unknown global phase under a flat probe; the distance
// to it must fall at every iteration
func TestReconstructApproachesKnownObject(t *testing.T) {
	const n = 8
	probe := ptycho.NewField(n, n)
	truth := ptycho.NewField(n, n)
	for i := range truth.Data {
		probe.Data[i] = 1
		truth.Data[i] = cmplx.Rect(0.5, 0.7)
	}
	pattern := frame.New(n, n)
	for i, v := range ptycho.FFT2C(truth).Data {
		pattern.Pix[i] = real(v)*real(v) + imag(v)*imag(v)
	}

	var dists []float64
	e := ptycho.Engine{
		Iterations:    6,
		Beta:          0.5,
		SnapshotEvery: 1,
		OnSnapshot:    func(_ int, obj *ptycho.Field) { dists = append(dists, distance(obj, truth)) },
	}
	if _, err := e.Reconstruct(context.Background(), []*frame.Frame{pattern}, [][2]int{{0, 0}}, probe); err != nil {
		t.Fatal(err)
	}
	if len(dists) != 6 {
		t.Fatalf("expected a snapshot per iteration, got %d", len(dists))
	}
	for i := 1; i < len(dists); i++ {
		if dists[i] > dists[i-1] {
			t.Errorf("distance rose at iteration %d: %v", i, dists)
		}
	}
	if !(dists[5] < dists[0]/4) {
		t.Errorf("expected the distance to shrink well below %v, got %v", dists[0], dists[5])
	}
}

func TestReconstructInputErrors(t *testing.T) {
	probe := ptycho.NewField(2, 2)
	e := ptycho.Engine{Iterations: 1}
	cases := map[string]func() error{
		"counts": func() error {
			_, err := e.Reconstruct(context.Background(), []*frame.Frame{frame.New(2, 2)}, nil, probe)
			return err
		},
		"shapes": func() error {
			_, err := e.Reconstruct(context.Background(), []*frame.Frame{frame.New(2, 2), frame.New(3, 2)}, [][2]int{{0, 0}, {0, 0}}, probe)
			return err
		},
		"probe": func() error {
			_, err := e.Reconstruct(context.Background(), []*frame.Frame{frame.New(2, 2)}, [][2]int{{0, 0}}, nil)
			return err
		},
	}
	for name, fn := range cases {
		var ie dataset.InputError
		if err := fn(); !errors.As(err, &ie) {
			t.Errorf("%s: expected an InputError, got %v", name, err)
		}
	}
}

func TestReconstructCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := ptycho.Engine{Iterations: 10}
	obj, err := e.Reconstruct(ctx, []*frame.Frame{frame.New(4, 4)}, [][2]int{{0, 0}}, ptycho.NewField(4, 4))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if obj == nil {
		t.Error("expected the initial object on cancellation")
	}
}
