package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

const (
	mockServoPeriod    = time.Millisecond // 1kHz servo rate
	mockServoPeriodSec = 1e-3             // Period is for ticker, PeriodSec is for math
)

// ErrAmplifierDisabled is returned by the mock when an axis without an
// enabled amplifier is commanded to move
var ErrAmplifierDisabled = errors.New("amplifier disabled")

// Mock is a simulated stage.  Moves run on a servo goroutine at Velocity
// picometres per second; a zero Velocity completes moves on command.
//
// Every call is recorded, and any operation can be made to fail with FailOn,
// which makes the mock suitable for driving the scan coordinator in tests.
type Mock struct {
	sync.Mutex

	// Velocity is the slew rate in pm/s.  Zero means moves are instantaneous
	Velocity float64

	pos    map[Axis]int64
	target map[Axis]int64
	moving map[Axis]bool
	stop   map[Axis]bool
	hold   map[Axis]bool
	amp    map[Axis]bool
	fail   map[string]error
	calls  []string
}

// NewMock returns an instantaneous mock with every amplifier enabled
func NewMock() *Mock {
	m := &Mock{
		pos:    make(map[Axis]int64),
		target: make(map[Axis]int64),
		moving: make(map[Axis]bool),
		stop:   make(map[Axis]bool),
		hold:   make(map[Axis]bool),
		amp:    make(map[Axis]bool),
		fail:   make(map[string]error),
	}
	for _, a := range AllAxes {
		m.amp[a] = true
	}
	return m
}

// FailOn makes every later call of the named method return err.
// A nil err clears the failure
func (m *Mock) FailOn(method string, err error) {
	m.Lock()
	defer m.Unlock()
	if err == nil {
		delete(m.fail, method)
		return
	}
	m.fail[method] = err
}

// Calls returns the log of calls made, e.g. "MoveGroup X=1 Y=2" or "StopGroup X,Y,Z"
func (m *Mock) Calls() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of calls of the named method
func (m *Mock) CallCount(method string) int {
	m.Lock()
	defer m.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method || strings.HasPrefix(c, method+" ") {
			n++
		}
	}
	return n
}

// Holding returns true if the axis is being held indefinitely
func (m *Mock) Holding(a Axis) bool {
	m.Lock()
	defer m.Unlock()
	return m.hold[a]
}

// Moving returns true if the axis is in motion
func (m *Mock) Moving(a Axis) bool {
	m.Lock()
	defer m.Unlock()
	return m.moving[a]
}

// call records a call and returns any injected failure.  The lock must be held
func (m *Mock) call(method, args string) error {
	if args == "" {
		m.calls = append(m.calls, method)
	} else {
		m.calls = append(m.calls, method+" "+args)
	}
	return m.fail[method]
}

func axesString(axes []Axis) string {
	s := make([]string, len(axes))
	for i, a := range axes {
		s[i] = a.String()
	}
	return strings.Join(s, ",")
}

// start begins a move toward pos.  The lock must be held
func (m *Mock) start(a Axis, pos int64) {
	m.target[a] = pos
	m.stop[a] = false
	if m.Velocity <= 0 {
		m.pos[a] = pos
		return
	}
	if !m.moving[a] {
		m.moving[a] = true
		go m.servo(a)
	}
}

// servo slews an axis toward its target, re-reading the target every period
// so that a new command mid-move retargets rather than queues
func (m *Mock) servo(a Axis) {
	tick := time.NewTicker(mockServoPeriod)
	defer tick.Stop()
	for range tick.C {
		m.Lock()
		if m.stop[a] {
			m.moving[a] = false
			m.stop[a] = false
			m.target[a] = m.pos[a]
			m.Unlock()
			return
		}
		step := int64(math.Max(1, m.Velocity*mockServoPeriodSec))
		posErr := m.target[a] - m.pos[a]
		if posErr >= -step && posErr <= step {
			m.pos[a] = m.target[a]
			m.moving[a] = false
			m.Unlock()
			return
		}
		if posErr < 0 {
			step = -step
		}
		m.pos[a] += step
		m.Unlock()
	}
}

// MoveAbs commands an axis to an absolute position
func (m *Mock) MoveAbs(a Axis, pos int64) error {
	m.Lock()
	defer m.Unlock()
	if err := m.call("MoveAbs", fmt.Sprintf("%v=%d", a, pos)); err != nil {
		return err
	}
	if !m.amp[a] {
		return ErrAmplifierDisabled
	}
	m.start(a, pos)
	return nil
}

// MoveGroup commands every target at once.  No axis moves if any
// amplifier is disabled
func (m *Mock) MoveGroup(targets []Target) error {
	m.Lock()
	defer m.Unlock()
	args := make([]string, len(targets))
	for i, t := range targets {
		args[i] = fmt.Sprintf("%v=%d", t.Axis, t.Pos)
	}
	if err := m.call("MoveGroup", strings.Join(args, " ")); err != nil {
		return err
	}
	for _, t := range targets {
		if !m.amp[t.Axis] {
			return ErrAmplifierDisabled
		}
	}
	for _, t := range targets {
		m.start(t.Axis, t.Pos)
	}
	return nil
}

// GetPos gets the current position of an axis
func (m *Mock) GetPos(a Axis) (int64, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.call("GetPos", a.String()); err != nil {
		return 0, err
	}
	return m.pos[a], nil
}

// SetHold holds or releases an axis.  Releasing stops any motion
func (m *Mock) SetHold(a Axis, indefinite bool) error {
	m.Lock()
	defer m.Unlock()
	if err := m.call("SetHold", fmt.Sprintf("%v=%t", a, indefinite)); err != nil {
		return err
	}
	m.hold[a] = indefinite
	if !indefinite && m.moving[a] {
		m.stop[a] = true
	}
	return nil
}

// Stop stops an axis and ends any hold
func (m *Mock) Stop(a Axis) error {
	m.Lock()
	defer m.Unlock()
	if err := m.call("Stop", a.String()); err != nil {
		return err
	}
	m.halt(a)
	return nil
}

// StopGroup stops every axis given, recorded as a single call
func (m *Mock) StopGroup(axes ...Axis) error {
	m.Lock()
	defer m.Unlock()
	if err := m.call("StopGroup", axesString(axes)); err != nil {
		return err
	}
	for _, a := range axes {
		m.halt(a)
	}
	return nil
}

// halt stops an axis.  The lock must be held
func (m *Mock) halt(a Axis) {
	m.hold[a] = false
	if m.moving[a] {
		m.stop[a] = true
	}
}

// WaitForMotionComplete polls until none of the axes is moving
func (m *Mock) WaitForMotionComplete(ctx context.Context, axes ...Axis) error {
	m.Lock()
	err := m.call("WaitForMotionComplete", axesString(axes))
	m.Unlock()
	if err != nil {
		return err
	}
	tick := time.NewTicker(mockServoPeriod)
	defer tick.Stop()
	for {
		m.Lock()
		moving := false
		for _, a := range axes {
			moving = moving || m.moving[a]
		}
		m.Unlock()
		if !moving {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// EnableAmplifier enables the amplifier of an axis
func (m *Mock) EnableAmplifier(a Axis) error {
	m.Lock()
	defer m.Unlock()
	if err := m.call("EnableAmplifier", a.String()); err != nil {
		return err
	}
	m.amp[a] = true
	return nil
}

// DisableAmplifier disables the amplifier of an axis
func (m *Mock) DisableAmplifier(a Axis) {
	m.Lock()
	defer m.Unlock()
	m.amp[a] = false
}

// GetAmplifier returns true if the amplifier of the axis is enabled
func (m *Mock) GetAmplifier(a Axis) (bool, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.call("GetAmplifier", a.String()); err != nil {
		return false, err
	}
	return m.amp[a], nil
}
