package util_test

import (
	"fmt"
	"testing"

	"github.com/ptycholab/ptycholab/util"
)

func ExampleLimiter_Check() {
	lim := util.Limiter{Min: -5000, Max: 5000}
	fmt.Println(lim.Check(120), lim.Check(-6000))
	// Output: true false
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestLimiterClampInRange(t *testing.T) {
	lim := util.Limiter{Min: 1, Max: 2}
	if got := lim.Clamp(1.5); got != 1.5 {
		t.Errorf("expected in range value to pass through, got %f", got)
	}
}
