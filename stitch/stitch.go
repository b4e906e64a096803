// Package stitch composites the frames of a scan onto a shared canvas at the
// positions they were captured, averaging where footprints overlap
package stitch

import (
	"fmt"
	"math"

	"github.com/ptycholab/ptycholab/dataset"
	"github.com/ptycholab/ptycholab/frame"
	"github.com/ptycholab/ptycholab/trajectory"
)

// Scale maps a stage position in µm to a canvas pixel offset
type Scale interface {
	Pixels(p trajectory.Point) (x, y int)
}

// PixelsPerMicron is a direct ratio between stage travel and canvas pixels
type PixelsPerMicron float64

// Pixels implements Scale
func (s PixelsPerMicron) Pixels(p trajectory.Point) (int, int) {
	return int(math.Round(p.X * float64(s))), int(math.Round(p.Y * float64(s)))
}

// Optical maps target plane positions to the sensor plane of a far field
// geometry.  All lengths are in metres
type Optical struct {
	Wavelength    float64 `json:"wavelength" yaml:"wavelength" koanf:"wavelength"`
	Distance      float64 `json:"distance" yaml:"distance" koanf:"distance"`
	ProbeDiameter float64 `json:"probeDiameter" yaml:"probeDiameter" koanf:"probeDiameter"`
	PixelSize     float64 `json:"pixelSize" yaml:"pixelSize" koanf:"pixelSize"`
}

// Factor is the magnification λ·d/D from target to sensor plane
func (o Optical) Factor() float64 {
	return o.Wavelength * o.Distance / o.ProbeDiameter
}

// Pixels implements Scale
func (o Optical) Pixels(p trajectory.Point) (int, int) {
	k := o.Factor() * 1e-6 / o.PixelSize
	return int(math.Round(p.X * k)), int(math.Round(p.Y * k))
}

// Canvas accumulates frames.  A frame centred on pixel offset (x, y) covers
// the cells from (x-W/2+OriginX, y-H/2+OriginY), clipped to the canvas
type Canvas struct {
	W, H   int
	Acc    []float64
	Weight []int

	OriginX, OriginY int
}

// NewCanvas returns an empty w x h canvas
func NewCanvas(w, h, originX, originY int) *Canvas {
	return &Canvas{
		W: w, H: h,
		Acc:     make([]float64, w*h),
		Weight:  make([]int, w*h),
		OriginX: originX, OriginY: originY,
	}
}

// Place adds f centred on pixel offset (x, y).  Parts outside the canvas
// are dropped
func (c *Canvas) Place(f *frame.Frame, x, y int) {
	x0 := x - f.W/2 + c.OriginX
	y0 := y - f.H/2 + c.OriginY
	for j := 0; j < f.H; j++ {
		cy := y0 + j
		if cy < 0 || cy >= c.H {
			continue
		}
		for i := 0; i < f.W; i++ {
			cx := x0 + i
			if cx < 0 || cx >= c.W {
				continue
			}
			k := cy*c.W + cx
			c.Acc[k] += f.Pix[j*f.W+i]
			c.Weight[k]++
		}
	}
}

// Finalize returns the average of every cell.  Cells no frame reached are zero
func (c *Canvas) Finalize() *frame.Frame {
	out := frame.New(c.W, c.H)
	for k, w := range c.Weight {
		if w > 0 {
			out.Pix[k] = c.Acc[k] / float64(w)
		}
	}
	return out
}

// Covered returns the number of cells at least one frame reached
func (c *Canvas) Covered() int {
	n := 0
	for _, w := range c.Weight {
		if w > 0 {
			n++
		}
	}
	return n
}

// Options configure Composite.  A zero Width or Height sizes the canvas to
// the union of all footprints; otherwise the canvas is fixed at that size
// with pixel offset zero at its top left corner, and frames are clipped to it
type Options struct {
	Width  int `json:"width" yaml:"width" koanf:"width"`
	Height int `json:"height" yaml:"height" koanf:"height"`
}

// Layout returns a canvas bounding the footprints of frames of size fw x fh
// at each point, and the pixel offset of each point
func Layout(pts []trajectory.Point, fw, fh int, s Scale) (*Canvas, [][2]int) {
	offsets := make([][2]int, len(pts))
	if len(pts) == 0 {
		return NewCanvas(0, 0, 0, 0), offsets
	}
	minX, minY := math.MaxInt, math.MaxInt
	maxX, maxY := math.MinInt, math.MinInt
	for i, p := range pts {
		x, y := s.Pixels(p)
		offsets[i] = [2]int{x, y}
		left, top := x-fw/2, y-fh/2
		if left < minX {
			minX = left
		}
		if top < minY {
			minY = top
		}
		if left+fw > maxX {
			maxX = left + fw
		}
		if top+fh > maxY {
			maxY = top + fh
		}
	}
	return NewCanvas(maxX-minX, maxY-minY, -minX, -minY), offsets
}

// CompositeFrames places frames[i] at pts[i] and returns the averaged canvas
func CompositeFrames(frames []*frame.Frame, pts []trajectory.Point, s Scale, opts Options) (*frame.Frame, *Canvas, error) {
	if len(frames) != len(pts) {
		return nil, nil, dataset.InputError{Reason: fmt.Sprintf("%d frames for %d positions", len(frames), len(pts))}
	}
	if len(frames) == 0 {
		return nil, nil, dataset.InputError{Reason: "no frames to composite"}
	}
	for i, f := range frames {
		if f == nil || len(f.Pix) != f.W*f.H {
			return nil, nil, dataset.InputError{Reason: fmt.Sprintf("frame %d is malformed", i)}
		}
	}
	var (
		c       *Canvas
		offsets [][2]int
	)
	if opts.Width > 0 && opts.Height > 0 {
		c = NewCanvas(opts.Width, opts.Height, 0, 0)
		offsets = make([][2]int, len(pts))
		for i, p := range pts {
			x, y := s.Pixels(p)
			offsets[i] = [2]int{x, y}
		}
	} else {
		// frames may differ in size; bound them by the largest
		fw, fh := 0, 0
		for _, f := range frames {
			if f.W > fw {
				fw = f.W
			}
			if f.H > fh {
				fh = f.H
			}
		}
		c, offsets = Layout(pts, fw, fh, s)
	}
	for i, f := range frames {
		c.Place(f, offsets[i][0], offsets[i][1])
	}
	return c.Finalize(), c, nil
}

// Composite stitches the captures of a data set
func Composite(caps []dataset.Capture, s Scale, opts Options) (*frame.Frame, *Canvas, error) {
	return CompositeFrames(dataset.Frames(caps), dataset.Points(caps), s, opts)
}
