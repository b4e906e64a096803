package stitch_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ptycholab/ptycholab/dataset"
	"github.com/ptycholab/ptycholab/frame"
	"github.com/ptycholab/ptycholab/stitch"
	"github.com/ptycholab/ptycholab/trajectory"
)

func ExampleOptical_Factor() {
	o := stitch.Optical{Wavelength: 739e-9, Distance: 68.54e-3, ProbeDiameter: 150e-6, PixelSize: 5.5e-6}
	fmt.Printf("%.4e\n", o.Factor())
	// Output: 3.3767e-04
}

func uniform(w, h int, v float64) *frame.Frame {
	f := frame.New(w, h)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func TestSingleFrameIdentity(t *testing.T) {
	f := frame.New(5, 4)
	for i := range f.Pix {
		f.Pix[i] = float64(i) / 32
	}
	out, _, err := stitch.CompositeFrames([]*frame.Frame{f}, []trajectory.Point{{X: 3, Y: -7}}, stitch.PixelsPerMicron(1), stitch.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f, out); diff != "" {
		t.Errorf("single frame was not reproduced (-want +got):\n%s", diff)
	}
}

func TestOrderInvariance(t *testing.T) {
	frames := []*frame.Frame{uniform(4, 4, 0.25), uniform(4, 4, 0.5), uniform(4, 4, 1)}
	pts := []trajectory.Point{{X: 0, Y: 0}, {X: 2, Y: 1}, {X: -1, Y: 3}}
	a, _, err := stitch.CompositeFrames(frames, pts, stitch.PixelsPerMicron(1), stitch.Options{})
	if err != nil {
		t.Fatal(err)
	}
	rf := []*frame.Frame{frames[2], frames[0], frames[1]}
	rp := []trajectory.Point{pts[2], pts[0], pts[1]}
	b, _, err := stitch.CompositeFrames(rf, rp, stitch.PixelsPerMicron(1), stitch.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("result depends on order (-first +second):\n%s", diff)
	}
}

func TestOverlapIsAveraged(t *testing.T) {
	frames := []*frame.Frame{uniform(2, 1, 0.25), uniform(2, 1, 0.75)}
	pts := []trajectory.Point{{X: 0, Y: 0}, {X: 1, Y: 0}}
	out, c, err := stitch.CompositeFrames(frames, pts, stitch.PixelsPerMicron(1), stitch.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0.25, 0.5, 0.75}, out.Pix); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 1}, c.Weight); diff != "" {
		t.Errorf("weights (-want +got):\n%s", diff)
	}
}

func TestZeroWeightIsZero(t *testing.T) {
	out, c, err := stitch.CompositeFrames([]*frame.Frame{uniform(2, 2, 1)}, []trajectory.Point{{X: 1, Y: 1}},
		stitch.PixelsPerMicron(1), stitch.Options{Width: 6, Height: 6})
	if err != nil {
		t.Fatal(err)
	}
	if c.Covered() != 4 {
		t.Errorf("expected 4 covered cells, got %d", c.Covered())
	}
	for k, w := range c.Weight {
		if w == 0 && out.Pix[k] != 0 {
			t.Fatalf("cell %d has no weight but value %v", k, out.Pix[k])
		}
	}
}

func TestFixedCanvasClips(t *testing.T) {
	_, c, err := stitch.CompositeFrames([]*frame.Frame{uniform(4, 4, 1)}, []trajectory.Point{{X: 0, Y: 0}},
		stitch.PixelsPerMicron(1), stitch.Options{Width: 10, Height: 10})
	if err != nil {
		t.Fatal(err)
	}
	// centred on the corner, only one quadrant lands on the canvas
	if c.Covered() != 4 {
		t.Errorf("expected 4 covered cells, got %d", c.Covered())
	}
}

func TestMismatchedCounts(t *testing.T) {
	_, _, err := stitch.CompositeFrames([]*frame.Frame{uniform(2, 2, 1)}, nil, stitch.PixelsPerMicron(1), stitch.Options{})
	var ie dataset.InputError
	if !errors.As(err, &ie) {
		t.Errorf("expected an InputError, got %v", err)
	}
}

func TestOpticalPixels(t *testing.T) {
	o := stitch.Optical{Wavelength: 1e-6, Distance: 1, ProbeDiameter: 1e-6, PixelSize: 1e-6}
	x, y := o.Pixels(trajectory.Point{X: 2.4, Y: -3.6})
	if x != 2 || y != -4 {
		t.Errorf("expected (2, -4), got (%d, %d)", x, y)
	}
}

// the footprint of a 10 point, 50 µm spiral is the union of the frames
func TestSpiralFootprint(t *testing.T) {
	const fw, fh = 8, 6
	pts := trajectory.FermatSpiral(10, 50, 0, 0)
	caps := make([]dataset.Capture, len(pts))
	for i, p := range pts {
		caps[i] = dataset.Capture{Index: i, Point: p, Frame: uniform(fw, fh, 1)}
	}
	out, c, err := stitch.Composite(caps, stitch.PixelsPerMicron(1), stitch.Options{})
	if err != nil {
		t.Fatal(err)
	}

	// independent union of the footprints in pixel coordinates
	union := map[[2]int]bool{}
	minX, maxX, minY, maxY := math.MaxInt, math.MinInt, math.MaxInt, math.MinInt
	for _, p := range pts {
		x, y := int(math.Round(p.X)), int(math.Round(p.Y))
		for j := 0; j < fh; j++ {
			for i := 0; i < fw; i++ {
				px, py := x-fw/2+i, y-fh/2+j
				union[[2]int{px, py}] = true
				if px < minX {
					minX = px
				}
				if px > maxX {
					maxX = px
				}
				if py < minY {
					minY = py
				}
				if py > maxY {
					maxY = py
				}
			}
		}
	}
	if c.W != maxX-minX+1 || c.H != maxY-minY+1 {
		t.Errorf("expected a %dx%d canvas, got %dx%d", maxX-minX+1, maxY-minY+1, c.W, c.H)
	}
	if c.Covered() != len(union) {
		t.Errorf("expected %d covered cells, got %d", len(union), c.Covered())
	}
	for k, w := range c.Weight {
		want := 0.
		if w > 0 {
			want = 1
		}
		if out.Pix[k] != want {
			t.Fatalf("cell %d: expected %v, got %v", k, want, out.Pix[k])
		}
	}
}
