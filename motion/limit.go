package motion

import (
	"errors"
	"fmt"

	"github.com/ptycholab/ptycholab/util"
)

// ErrLimit is returned when a move would violate a software limit
var ErrLimit = errors.New("requested position violates software limits, aborted")

// Limited wraps a Stage and refuses moves outside per-axis software limits.
// Limits are in micrometres; axes without a limit are unrestricted
type Limited struct {
	Stage

	Limits map[Axis]util.Limiter
}

func (l Limited) check(a Axis, pos int64) error {
	lim, ok := l.Limits[a]
	if !ok {
		return nil
	}
	um := PicometresToMicrons(pos)
	if !lim.Check(um) {
		return fmt.Errorf("%w: %v to %g µm outside [%g, %g]", ErrLimit, a, um, lim.Min, lim.Max)
	}
	return nil
}

// MoveAbs checks the limit of the axis before passing the move through
func (l Limited) MoveAbs(a Axis, pos int64) error {
	if err := l.check(a, pos); err != nil {
		return err
	}
	return l.Stage.MoveAbs(a, pos)
}

// MoveGroup passes the move through only if every target is within limits
func (l Limited) MoveGroup(targets []Target) error {
	for _, t := range targets {
		if err := l.check(t.Axis, t.Pos); err != nil {
			return err
		}
	}
	return l.Stage.MoveGroup(targets)
}
