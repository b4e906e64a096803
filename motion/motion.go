// Package motion contains abstract interfaces for a closed-loop positioning
// stage with X, Y and focus (Z) axes, along with a simulated stage and a
// software limit wrapper.
//
// Positions cross this interface in picometres, the native unit of piezo
// stick-slip controllers.  Scan coordinates are in micrometres; use
// MicronsToPicometres and PicometresToMicrons to convert.
package motion

import (
	"context"
	"fmt"
	"strings"

	"github.com/ptycholab/ptycholab/mathx"
)

// Axis is a stage axis
type Axis int

const (
	// X is the horizontal scan axis
	X Axis = iota

	// Y is the vertical scan axis
	Y

	// Z is the focus axis
	Z
)

// AllAxes is every axis of the stage, in channel order
var AllAxes = []Axis{X, Y, Z}

func (a Axis) String() string {
	switch a {
	case X:
		return "X"
	case Y:
		return "Y"
	case Z:
		return "Z"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// ParseAxis converts a case insensitive axis name to an Axis
func ParseAxis(s string) (Axis, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "X":
		return X, nil
	case "Y":
		return Y, nil
	case "Z":
		return Z, nil
	default:
		return 0, fmt.Errorf("unknown axis %q", s)
	}
}

// Target is a commanded absolute position of one axis, in picometres
type Target struct {
	Axis Axis
	Pos  int64
}

// MicronsToPicometres converts a position in µm to the nearest pm
func MicronsToPicometres(um float64) int64 {
	return int64(mathx.Round(um*1e6, 1))
}

// PicometresToMicrons converts a position in pm to µm
func PicometresToMicrons(pm int64) float64 {
	return float64(pm) / 1e6
}

// Mover describes an interface with absolute moves and position readback
type Mover interface {
	// MoveAbs commands an axis to an absolute position.  It returns once the
	// command is accepted, not when the move completes
	MoveAbs(Axis, int64) error

	// GetPos gets the current position of an axis
	GetPos(Axis) (int64, error)
}

// GroupMover describes an interface that commands several axes at once
type GroupMover interface {
	// MoveGroup commands every target in one transmission
	MoveGroup([]Target) error
}

// Holder describes an interface that holds an axis at its target
type Holder interface {
	// SetHold holds the axis at its target indefinitely if true,
	// else releases it
	SetHold(Axis, bool) error
}

// Stopper describes an interface that can stop motion
type Stopper interface {
	// Stop stops one axis
	Stop(Axis) error

	// StopGroup stops every given axis with a single transmission
	StopGroup(...Axis) error
}

// Waiter describes an interface that can wait for motion to finish
type Waiter interface {
	// WaitForMotionComplete blocks until none of the axes is moving,
	// returning early with the context's error if it is done first
	WaitForMotionComplete(context.Context, ...Axis) error
}

// Amplifier describes an interface that controls the drive amplifiers
type Amplifier interface {
	// EnableAmplifier enables the amplifier of an axis
	EnableAmplifier(Axis) error

	// GetAmplifier returns true if the amplifier is enabled
	GetAmplifier(Axis) (bool, error)
}

// Stage is everything the scan coordinator needs from a positioner
type Stage interface {
	Mover
	GroupMover
	Holder
	Stopper
	Waiter
	Amplifier
}
