package acquire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ptycholab/ptycholab/motion"
)

var (
	// ErrNotReady is returned when a scan is started without a stage, a
	// camera or a trajectory
	ErrNotReady = errors.New("coordinator is not ready: stage, camera and trajectory are required")

	// ErrRunning is returned when a scan is started while one is running
	ErrRunning = errors.New("a scan is already running")

	// ErrTimeout is returned when motion or a file write does not complete in time
	ErrTimeout = errors.New("timed out")

	// ErrAborted is returned when a scan is stopped by Abort
	ErrAborted = errors.New("scan aborted")
)

// HardwareError is a failure reported by the stage or the camera
type HardwareError struct {
	Op   string
	Axes []motion.Axis
	Err  error
}

func (e HardwareError) Error() string {
	if len(e.Axes) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	s := make([]string, len(e.Axes))
	for i, a := range e.Axes {
		s[i] = a.String()
	}
	return fmt.Sprintf("%s %s: %v", e.Op, strings.Join(s, ","), e.Err)
}

func (e HardwareError) Unwrap() error {
	return e.Err
}

// ScanError ends a scan.  Index is the trajectory index the scan had
// reached; -1 if it failed while homing.  An aborted scan reports the first
// point it did not start, every point before it was captured and logged
type ScanError struct {
	Index int
	Err   error
}

func (e ScanError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("scan failed while homing: %v", e.Err)
	}
	return fmt.Sprintf("scan stopped at point %d: %v", e.Index, e.Err)
}

func (e ScanError) Unwrap() error {
	return e.Err
}
