package acquire

import (
	"github.com/ptycholab/ptycholab/camera"
	"github.com/ptycholab/ptycholab/trajectory"
)

// Observer is notified of scan progress.  Calls are made synchronously on
// the goroutine running the scan and must not block
type Observer interface {
	// PointStarted is called before the stage is sent to point i
	PointStarted(i int, p trajectory.Point)

	// PointCaptured is called once the frame of point i is on disk
	PointCaptured(i int, p trajectory.Point, w camera.Written)

	// StateChanged is called on every state transition
	StateChanged(s State)
}

// ObserverFuncs adapts plain functions to an Observer.  Nil fields are skipped
type ObserverFuncs struct {
	Started  func(i int, p trajectory.Point)
	Captured func(i int, p trajectory.Point, w camera.Written)
	Changed  func(s State)
}

// PointStarted implements Observer
func (o ObserverFuncs) PointStarted(i int, p trajectory.Point) {
	if o.Started != nil {
		o.Started(i, p)
	}
}

// PointCaptured implements Observer
func (o ObserverFuncs) PointCaptured(i int, p trajectory.Point, w camera.Written) {
	if o.Captured != nil {
		o.Captured(i, p, w)
	}
}

// StateChanged implements Observer
func (o ObserverFuncs) StateChanged(s State) {
	if o.Changed != nil {
		o.Changed(s)
	}
}
