package ptycho

import (
	"math"

	"github.com/ptycholab/ptycholab/trajectory"
)

// ProbeParams describe a Gaussian beam.  All lengths are in µm
type ProbeParams struct {
	// BeamDiameter is the beam diameter at the target plane
	BeamDiameter float64 `json:"beamDiameter" yaml:"beamDiameter" koanf:"beamDiameter"`

	// Wavelength of the illumination
	Wavelength float64 `json:"wavelength" yaml:"wavelength" koanf:"wavelength"`

	// PixelSize is the sensor pixel pitch
	PixelSize float64 `json:"pixelSize" yaml:"pixelSize" koanf:"pixelSize"`

	// Distance from the target to the sensor plane
	Distance float64 `json:"distance" yaml:"distance" koanf:"distance"`
}

// SpotSize returns the beam diameter after propagating Distance,
// w0·√(1+(d/zR)²) with zR = π·w0²/λ and w0 half the beam diameter
func (p ProbeParams) SpotSize() float64 {
	w0 := p.BeamDiameter / 2
	zR := math.Pi * w0 * w0 / p.Wavelength
	return w0 * math.Sqrt(1+(p.Distance/zR)*(p.Distance/zR))
}

// GaussianProbe returns a real Gaussian probe of w x h pixels whose
// standard deviation is half the spot size at the sensor plane
func GaussianProbe(w, h int, p ProbeParams) *Field {
	out := NewField(w, h)
	sigma := p.SpotSize() / 2
	denom := 2 * sigma * sigma
	for j := 0; j < h; j++ {
		y := float64(j-(h+1)/2) * p.PixelSize
		for i := 0; i < w; i++ {
			x := float64(i-(w+1)/2) * p.PixelSize
			out.Data[j*w+i] = complex(math.Exp(-(x*x+y*y)/denom), 0)
		}
	}
	return out
}

// PixelPositions converts stage positions in µm to integer pixel offsets
// of the probe window on the object grid
func PixelPositions(pts []trajectory.Point, pixelSize float64) [][2]int {
	out := make([][2]int, len(pts))
	for i, p := range pts {
		out[i] = [2]int{int(math.Round(p.X / pixelSize)), int(math.Round(p.Y / pixelSize))}
	}
	return out
}
