// Package acquire coordinates a scan: the stage is sent to each point of a
// trajectory and held there while the camera captures an averaged frame,
// and every visited point is appended to a position log.
package acquire

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ptycholab/ptycholab/camera"
	"github.com/ptycholab/ptycholab/dataset"
	"github.com/ptycholab/ptycholab/motion"
	"github.com/ptycholab/ptycholab/trajectory"
)

// State is the phase a coordinator is in
type State int

const (
	// Idle is the state between scans
	Idle State = iota

	// Homing is the move of the focus axis
	Homing

	// AtPoint is the move to, and settling at, a scan point
	AtPoint

	// Capturing is the capture and write of a frame
	Capturing

	// Releasing is the release of the per point hold
	Releasing

	// Finished is reached after the last point
	Finished

	// Aborting is entered when a scan is aborted or fails
	Aborting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Homing:
		return "homing"
	case AtPoint:
		return "at-point"
	case Capturing:
		return "capturing"
	case Releasing:
		return "releasing"
	case Finished:
		return "finished"
	case Aborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// Config holds the parameters of a scan
type Config struct {
	// Dir is the folder frames and the position log are written to
	Dir string `json:"dir" yaml:"dir" koanf:"dir"`

	// Frames is the number of frames averaged at each point
	Frames int `json:"frames" yaml:"frames" koanf:"frames"`

	// Settle is the delay between the end of motion and the capture
	Settle time.Duration `json:"settle" yaml:"settle" koanf:"settle"`

	// MotionTimeout bounds every wait for motion to complete
	MotionTimeout time.Duration `json:"motionTimeout" yaml:"motionTimeout" koanf:"motionTimeout"`

	// WriteTimeout bounds every wait for a frame to be written
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout" koanf:"writeTimeout"`
}

// DefaultConfig returns a configuration writing to the working directory
func DefaultConfig() Config {
	return Config{
		Dir:           ".",
		Frames:        10,
		Settle:        100 * time.Millisecond,
		MotionTimeout: 30 * time.Second,
		WriteTimeout:  60 * time.Second,
	}
}

// Report summarises a scan
type Report struct {
	// Visited is the number of points captured and logged
	Visited int

	// LogPath is the position log written
	LogPath string

	Started, Finished time.Time
}

// Status is a snapshot of the coordinator
type Status struct {
	State   string `json:"state"`
	Running bool   `json:"running"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger, log.Default() otherwise
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// WithObserver adds an observer
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, o)
	}
}

// Coordinator runs scans.  The stage and camera are borrowed, never closed.
//
// Run is called from one goroutine; Abort and Status may be called from any
type Coordinator struct {
	mu        sync.Mutex
	cfg       Config
	stage     motion.Stage
	cam       camera.Averager
	traj      trajectory.Trajectory
	state     State
	observers []Observer
	log       *log.Logger

	running atomic.Bool
	abort   atomic.Bool
	index   atomic.Int64
}

// New returns an idle coordinator
func New(cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{cfg: cfg, log: log.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Bind sets the stage and camera used by later scans
func (c *Coordinator) Bind(stage motion.Stage, cam camera.Averager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage, c.cam = stage, cam
}

// SetTrajectory sets the trajectory of later scans
func (c *Coordinator) SetTrajectory(t trajectory.Trajectory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traj = t
}

// Trajectory returns the trajectory of the next or running scan
func (c *Coordinator) Trajectory() trajectory.Trajectory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traj
}

// SetConfig replaces the configuration of later scans
func (c *Coordinator) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Config returns the configuration
func (c *Coordinator) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for display
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:   c.state.String(),
		Running: c.running.Load(),
		Index:   int(c.index.Load()),
		Total:   c.traj.Len(),
	}
}

// Running returns true while a scan is in progress
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Abort stops a running scan once its current point is captured and logged.
// The scan then stops every axis with one call and returns ErrAborted.
// Abort is a no-op when no scan is running.
//
// Cancelling the context given to Run interrupts the current point instead
func (c *Coordinator) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() {
		c.abort.Store(true)
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	obs := c.observers
	c.mu.Unlock()
	for _, o := range obs {
		o.StateChanged(s)
	}
}

func (c *Coordinator) each(fn func(Observer)) {
	c.mu.Lock()
	obs := c.observers
	c.mu.Unlock()
	for _, o := range obs {
		fn(o)
	}
}

// scan is the state of one Run
type scan struct {
	*Coordinator
	ctx   context.Context
	cfg   Config
	stage motion.Stage
	cam   camera.Averager
}

// Run executes the trajectory and blocks until it is finished, aborted or
// fails.  On failure the stage is stopped and the error is a ScanError.
// Cancelling ctx abandons the point in progress; Abort lets it complete.
// The coordinator is Idle again when Run returns
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunning
	}
	defer func() {
		c.mu.Lock()
		c.running.Store(false)
		c.abort.Store(false)
		c.mu.Unlock()
		c.setState(Idle)
	}()

	c.mu.Lock()
	s := scan{Coordinator: c, cfg: c.cfg, stage: c.stage, cam: c.cam}
	traj := c.traj
	c.mu.Unlock()
	if s.stage == nil || s.cam == nil || traj.Len() == 0 {
		return Report{}, ErrNotReady
	}
	if s.cfg.Frames < 1 {
		s.cfg.Frames = 1
	}
	s.ctx = ctx

	rep := Report{Started: time.Now(), LogPath: filepath.Join(s.cfg.Dir, dataset.LogName)}
	if err := os.MkdirAll(s.cfg.Dir, 0777); err != nil {
		return rep, ScanError{Index: -1, Err: err}
	}
	fid, err := os.Create(rep.LogPath)
	if err != nil {
		return rep, ScanError{Index: -1, Err: err}
	}
	defer fid.Close()
	plog, err := trajectory.NewLogWriter(fid)
	if err != nil {
		return rep, ScanError{Index: -1, Err: err}
	}

	c.index.Store(0)
	c.log.Printf("scan of %d points into %s started", traj.Len(), s.cfg.Dir)
	if err := s.home(traj.Params.FocusZ); err != nil {
		return rep, s.fail(-1, err)
	}
	for i, p := range traj.Points {
		c.index.Store(int64(i))
		if c.abort.Load() {
			return rep, s.fail(i, ErrAborted)
		}
		w, err := s.point(i, p)
		if err != nil {
			return rep, s.fail(i, err)
		}
		if err := plog.Append(p); err != nil {
			return rep, s.fail(i, err)
		}
		rep.Visited++
		c.each(func(o Observer) { o.PointCaptured(i, p, w) })
		c.setState(Releasing)
		for _, a := range []motion.Axis{motion.X, motion.Y} {
			if err := s.stage.SetHold(a, false); err != nil {
				return rep, s.fail(i, HardwareError{Op: "SetHold", Axes: []motion.Axis{a}, Err: err})
			}
		}
	}
	if c.abort.Load() {
		return rep, s.fail(traj.Len(), ErrAborted)
	}

	for _, a := range motion.AllAxes {
		if err := s.stage.SetHold(a, false); err != nil {
			c.log.Printf("releasing %v after the scan: %v", a, err)
		}
	}
	rep.Finished = time.Now()
	c.setState(Finished)
	c.log.Printf("scan finished, %d points in %v", rep.Visited, rep.Finished.Sub(rep.Started).Round(time.Millisecond))
	return rep, nil
}

// home moves the focus axis, if given in µm, and holds it for the scan
func (s scan) home(z *float64) error {
	s.setState(Homing)
	if z == nil {
		return nil
	}
	if err := s.stage.MoveAbs(motion.Z, motion.MicronsToPicometres(*z)); err != nil {
		return HardwareError{Op: "MoveAbs", Axes: []motion.Axis{motion.Z}, Err: err}
	}
	if err := s.stage.SetHold(motion.Z, true); err != nil {
		return HardwareError{Op: "SetHold", Axes: []motion.Axis{motion.Z}, Err: err}
	}
	return s.wait(motion.Z)
}

// point moves to p, holds, settles and captures
func (s scan) point(i int, p trajectory.Point) (camera.Written, error) {
	s.each(func(o Observer) { o.PointStarted(i, p) })
	s.setState(AtPoint)
	xy := []motion.Axis{motion.X, motion.Y}
	err := s.stage.MoveGroup([]motion.Target{
		{Axis: motion.X, Pos: motion.MicronsToPicometres(p.X)},
		{Axis: motion.Y, Pos: motion.MicronsToPicometres(p.Y)},
	})
	if err != nil {
		return camera.Written{}, HardwareError{Op: "MoveGroup", Axes: xy, Err: err}
	}
	for _, a := range xy {
		if err := s.stage.SetHold(a, true); err != nil {
			return camera.Written{}, HardwareError{Op: "SetHold", Axes: []motion.Axis{a}, Err: err}
		}
	}
	if err := s.wait(xy...); err != nil {
		return camera.Written{}, err
	}
	if s.cfg.Settle > 0 {
		t := time.NewTimer(s.cfg.Settle)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return camera.Written{}, s.ctx.Err()
		case <-t.C:
		}
	}

	s.setState(Capturing)
	seq, err := s.cam.CaptureAveraged(s.cfg.Dir, i, s.cfg.Frames)
	if err != nil {
		return camera.Written{}, HardwareError{Op: "CaptureAveraged", Err: err}
	}
	w, err := s.written(seq)
	if err != nil && w.Seq != seq {
		if cn, ok := s.cam.(camera.Canceler); ok {
			cn.Cancel(seq)
		}
	}
	return w, err
}

// wait blocks until the axes are at rest, bounded by MotionTimeout
func (s scan) wait(axes ...motion.Axis) error {
	ctx := s.ctx
	if s.cfg.MotionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.MotionTimeout)
		defer cancel()
	}
	err := s.stage.WaitForMotionComplete(ctx, axes...)
	switch {
	case err == nil:
		return nil
	case s.ctx.Err() != nil:
		return s.ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return HardwareError{Op: "WaitForMotionComplete", Axes: axes, Err: err}
	}
}

// written waits for the completion of capture seq, bounded by WriteTimeout.
// Completions of other captures belong to ones abandoned earlier, in this
// scan or a previous one, and are dropped
func (s scan) written(seq uint64) (camera.Written, error) {
	var timeout <-chan time.Time
	if s.cfg.WriteTimeout > 0 {
		t := time.NewTimer(s.cfg.WriteTimeout)
		defer t.Stop()
		timeout = t.C
	}
	for {
		select {
		case w := <-s.cam.Written():
			if w.Seq != seq {
				s.log.Printf("dropping stale completion of point %d", w.Index)
				continue
			}
			if !w.OK {
				err := w.Err
				if err == nil {
					err = errors.New("capture reported failure")
				}
				return w, HardwareError{Op: "write " + w.Path, Err: err}
			}
			return w, nil
		case <-s.ctx.Done():
			return camera.Written{}, s.ctx.Err()
		case <-timeout:
			return camera.Written{}, ErrTimeout
		}
	}
}

// fail stops every axis with one call and wraps err as a ScanError
func (s scan) fail(i int, err error) error {
	s.setState(Aborting)
	if serr := s.stage.StopGroup(motion.AllAxes...); serr != nil {
		s.log.Printf("stopping the stage: %v", serr)
	}
	s.log.Printf("scan stopped at point %d: %v", i, err)
	return ScanError{Index: i, Err: err}
}
