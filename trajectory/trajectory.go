// Package trajectory generates golden-angle (Fermat/Vogel) spiral scan
// patterns and orders them into a travel path.
package trajectory

import (
	"errors"
	"math"
)

const (
	// DefaultStopFraction orders every point of the set
	DefaultStopFraction = 1.0

	// MaxShortestStart bounds ShortestStart, which is O(N³)
	MaxShortestStart = 512
)

var (
	// GoldenAngle is π(3-√5), the divergence angle of the spiral
	GoldenAngle = math.Pi * (3 - math.Sqrt(5))

	// ErrTooManyPoints is returned by ShortestStart above MaxShortestStart points
	ErrTooManyPoints = errors.New("too many points for an exhaustive shortest-start search")
)

// Point is a scan position in micrometers
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Params are the parameters a trajectory was generated from
type Params struct {
	// N is the point count handed to the generator, which yields N-1 points
	N int `json:"n" yaml:"n" koanf:"n"`

	// Radius is the radius of the spiral in micrometers
	Radius float64 `json:"radius" yaml:"radius" koanf:"radius"`

	// CenterX and CenterY locate the spiral in stage coordinates
	CenterX float64 `json:"centerX" yaml:"centerX" koanf:"centerX"`
	CenterY float64 `json:"centerY" yaml:"centerY" koanf:"centerY"`

	// FocusZ is the fixed focus axis position in micrometers, if any
	FocusZ *float64 `json:"focusZ,omitempty" yaml:"focusZ,omitempty" koanf:"focusZ"`
}

// Options control the ordering of the generated point set
type Options struct {
	// StopFraction is the fraction of points the nearest neighbor
	// path consumes before stopping.  Zero means DefaultStopFraction
	StopFraction float64 `json:"stopFraction" yaml:"stopFraction" koanf:"stopFraction"`

	// ShortestStart searches every start point for the shortest path
	ShortestStart bool `json:"shortestStart" yaml:"shortestStart" koanf:"shortestStart"`

	// Shift translates the set so no coordinate is negative
	Shift bool `json:"shift" yaml:"shift" koanf:"shift"`
}

// Trajectory is an ordered sequence of scan points and the parameters
// that produced it.  It is read-only once generated.
type Trajectory struct {
	Points []Point `json:"points"`
	Params Params  `json:"params"`
}

// Len returns the number of points
func (t Trajectory) Len() int {
	return len(t.Points)
}

// FermatSpiral returns n-1 points on a golden-angle spiral of the given
// radius about (cx, cy).  For n < 2 the result is empty.
func FermatSpiral(n int, radius, cx, cy float64) []Point {
	if n < 2 {
		return []Point{}
	}
	pts := make([]Point, n-1)
	for k := range pts {
		r := radius * math.Sqrt(float64(k)/float64(n))
		theta := GoldenAngle * float64(k)
		pts[k] = Point{X: r*math.Cos(theta) + cx, Y: r*math.Sin(theta) + cy}
	}
	return pts
}

// Shift translates pts so the minimum x and y are both zero
func Shift(pts []Point) []Point {
	out := make([]Point, len(pts))
	if len(pts) == 0 {
		return out
	}
	minX, minY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
	}
	for i, p := range pts {
		out[i] = Point{X: p.X - minX, Y: p.Y - minY}
	}
	return out
}

func sqdist(a, b Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// NearestNeighbor builds a greedy travel path from start through pts.
// At each step the remaining point closest to the last selected one is taken,
// ties going to the earlier index.  Points equal to one already on the path,
// the start included, are never selected again.
// The walk stops after ceil(fraction*len(pts)) steps or when pts are used up.
func NearestNeighbor(start Point, pts []Point, fraction float64) []Point {
	if fraction <= 0 {
		fraction = DefaultStopFraction
	}
	remaining := make([]Point, 0, len(pts))
	for _, p := range pts {
		if sqdist(p, start) != 0 {
			remaining = append(remaining, p)
		}
	}
	steps := int(math.Ceil(fraction * float64(len(pts))))
	path := make([]Point, 1, len(remaining)+1)
	path[0] = start
	for s := 0; s < steps && len(remaining) > 0; s++ {
		last := path[len(path)-1]
		best := 0
		bestD := sqdist(last, remaining[0])
		for i := 1; i < len(remaining); i++ {
			if d := sqdist(last, remaining[i]); d < bestD {
				best, bestD = i, d
			}
		}
		chosen := remaining[best]
		path = append(path, chosen)
		kept := remaining[:0]
		for _, p := range remaining {
			if p != chosen {
				kept = append(kept, p)
			}
		}
		remaining = kept
	}
	return path
}

// PathLength is the sum of the Euclidean segment lengths of pts, in order
func PathLength(pts []Point) float64 {
	var total float64
	for i := 1; i < len(pts); i++ {
		total += math.Hypot(pts[i].X-pts[i-1].X, pts[i].Y-pts[i-1].Y)
	}
	return total
}

// ShortestStart evaluates the nearest neighbor path from every point in pts
// and returns the shortest one.  Cost is O(N³); sets larger than
// MaxShortestStart are refused.
func ShortestStart(pts []Point, fraction float64) ([]Point, error) {
	if len(pts) > MaxShortestStart {
		return nil, ErrTooManyPoints
	}
	if len(pts) == 0 {
		return []Point{}, nil
	}
	var (
		best    []Point
		bestLen = math.Inf(1)
	)
	for _, start := range pts {
		path := NearestNeighbor(start, pts, fraction)
		if l := PathLength(path); l < bestLen {
			best, bestLen = path, l
		}
	}
	return best, nil
}

// Generate produces a spiral for p and orders it according to opts
func Generate(p Params, opts Options) (Trajectory, error) {
	pts := FermatSpiral(p.N, p.Radius, p.CenterX, p.CenterY)
	if opts.Shift {
		pts = Shift(pts)
	}
	t := Trajectory{Params: p}
	if len(pts) < 2 {
		t.Points = pts
		return t, nil
	}
	if opts.ShortestStart {
		path, err := ShortestStart(pts, opts.StopFraction)
		if err != nil {
			return t, err
		}
		t.Points = path
		return t, nil
	}
	t.Points = NearestNeighbor(pts[0], pts, opts.StopFraction)
	return t, nil
}
