// Package mathx contains small numeric helpers
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round up.
func Round(x, unit float64) float64 {
	return math.Floor(x/unit+0.5) * unit
}
