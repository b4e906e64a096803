package camera

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ptycholab/ptycholab/frame"
	"github.com/ptycholab/ptycholab/imgrec"
)

// MockSource is a simulated sensor.  Each frame is produced by Pattern, or
// is uniformly Level if Pattern is nil
type MockSource struct {
	sync.Mutex

	W, H int

	// Level is the value of every pixel when Pattern is nil
	Level uint16

	// Pattern, if not nil, produces frame n (counted from zero)
	Pattern func(n int) []uint16

	// Err, if not nil, is returned by GetFrameU16
	Err error

	texp   time.Duration
	frames int
}

// NewMockSource returns a w x h mock at half scale with a 10ms exposure
func NewMockSource(w, h int) *MockSource {
	return &MockSource{W: w, H: h, Level: 1 << 15, texp: 10 * time.Millisecond}
}

// GetRes returns (W, H)
func (m *MockSource) GetRes() ([2]int, error) {
	m.Lock()
	defer m.Unlock()
	return [2]int{m.W, m.H}, nil
}

// GetFrameU16 returns the next frame
func (m *MockSource) GetFrameU16() ([]uint16, error) {
	m.Lock()
	defer m.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	n := m.frames
	m.frames++
	if m.Pattern != nil {
		return m.Pattern(n), nil
	}
	buf := make([]uint16, m.W*m.H)
	for i := range buf {
		buf[i] = m.Level
	}
	return buf, nil
}

// Frames returns the number of frames read out so far
func (m *MockSource) Frames() int {
	m.Lock()
	defer m.Unlock()
	return m.frames
}

// SetExposureTime sets the exposure time
func (m *MockSource) SetExposureTime(t time.Duration) error {
	m.Lock()
	defer m.Unlock()
	m.texp = t
	return nil
}

// GetExposureTime gets the exposure time
func (m *MockSource) GetExposureTime() (time.Duration, error) {
	m.Lock()
	defer m.Unlock()
	return m.texp, nil
}

// MockAverager is an Averager which signals completion after Delay without
// touching a sensor.  If Frame is set it is written to disk like a real
// capture; otherwise only the path is reported.
//
// Fail makes captures report failure, Silent makes them never complete
type MockAverager struct {
	sync.Mutex

	Delay  time.Duration
	Frame  *frame.Frame
	Fail   error
	Silent bool

	// OnCapture, if not nil, is called synchronously by CaptureAveraged
	OnCapture func(index int)

	written  chan Written
	requests []int
	seq      uint64
}

// NewMockAverager returns a mock which completes captures immediately
func NewMockAverager() *MockAverager {
	return &MockAverager{written: make(chan Written, 1)}
}

// CaptureAveraged records the request and completes it on a goroutine
func (m *MockAverager) CaptureAveraged(dir string, index, frames int) (uint64, error) {
	if frames < 1 {
		return 0, ErrFrames
	}
	m.Lock()
	m.requests = append(m.requests, index)
	m.seq++
	seq := m.seq
	delay, f, fail, silent, hook := m.Delay, m.Frame, m.Fail, m.Silent, m.OnCapture
	m.Unlock()
	if hook != nil {
		hook(index)
	}
	if silent {
		return seq, nil
	}
	go func() {
		time.Sleep(delay)
		w := Written{Seq: seq, Index: index, Path: filepath.Join(dir, fmt.Sprintf("%s%d%s", imgrec.DefaultPrefix, index, imgrec.DefaultExt))}
		switch {
		case fail != nil:
			w.Err = fail
		case f != nil:
			_, w.Err = imgrec.New(dir).Write(index, f)
			w.OK = w.Err == nil
		default:
			w.OK = true
		}
		m.written <- w
	}()
	return seq, nil
}

// Written returns the completion channel
func (m *MockAverager) Written() <-chan Written {
	return m.written
}

// Requests returns the indices captures were requested for, in order
func (m *MockAverager) Requests() []int {
	m.Lock()
	defer m.Unlock()
	out := make([]int, len(m.requests))
	copy(out, m.requests)
	return out
}
