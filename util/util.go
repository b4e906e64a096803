// Package util contains misc internal utilities.
package util

// Clamp limits x to the range [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// Limiter is a software limit on a quantity, such as an axis position
type Limiter struct {
	Min float64 `json:"min" yaml:"min" koanf:"min"`
	Max float64 `json:"max" yaml:"max" koanf:"max"`
}

// Check returns true if min <= x <= max
func (l Limiter) Check(x float64) bool {
	return x >= l.Min && x <= l.Max
}

// Clamp restricts x to the limits
func (l Limiter) Clamp(x float64) float64 {
	return Clamp(x, l.Min, l.Max)
}
