package camera_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ptycholab/ptycholab/camera"
	"github.com/ptycholab/ptycholab/frame"
)

func receive(t *testing.T, a camera.Averager) camera.Written {
	t.Helper()
	select {
	case w := <-a.Written():
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the capture to be written")
	}
	return camera.Written{}
}

func TestGrabberAverages(t *testing.T) {
	src := camera.NewMockSource(4, 3)
	src.Pattern = func(n int) []uint16 {
		buf := make([]uint16, 12)
		if n%2 == 1 {
			for i := range buf {
				buf[i] = 65535
			}
		}
		return buf
	}
	g := camera.NewGrabber(src)
	defer g.Close()
	dir := t.TempDir()
	seq, err := g.CaptureAveraged(dir, 7, 2)
	if err != nil {
		t.Fatal(err)
	}
	w := receive(t, g)
	if !w.OK || w.Index != 7 || w.Seq != seq {
		t.Fatalf("expected a good capture of index 7, got %+v", w)
	}
	if w.Path != filepath.Join(dir, "image_7.fits") {
		t.Errorf("unexpected path %s", w.Path)
	}
	f, err := frame.Load(w.Path)
	if err != nil {
		t.Fatal(err)
	}
	if f.W != 4 || f.H != 3 {
		t.Errorf("expected 4x3, got %dx%d", f.W, f.H)
	}
	for i, v := range f.Pix {
		if v != 0.5 {
			t.Fatalf("pixel %d: expected 0.5, got %v", i, v)
		}
	}
	if src.Frames() != 2 {
		t.Errorf("expected 2 frames read, got %d", src.Frames())
	}
}

func TestGrabberReportsFailure(t *testing.T) {
	src := camera.NewMockSource(2, 2)
	src.Err = errors.New("sensor fault")
	g := camera.NewGrabber(src)
	defer g.Close()
	if _, err := g.CaptureAveraged(t.TempDir(), 0, 1); err != nil {
		t.Fatal(err)
	}
	if w := receive(t, g); w.OK || w.Err == nil {
		t.Errorf("expected a failed capture, got %+v", w)
	}
}

func TestFrameCountValidated(t *testing.T) {
	g := camera.NewGrabber(camera.NewMockSource(2, 2))
	defer g.Close()
	if _, err := g.CaptureAveraged(t.TempDir(), 0, 0); !errors.Is(err, camera.ErrFrames) {
		t.Errorf("expected ErrFrames, got %v", err)
	}
}

func TestMockAveragerWritesFrame(t *testing.T) {
	m := camera.NewMockAverager()
	m.Frame = frame.New(3, 3)
	dir := t.TempDir()
	if _, err := m.CaptureAveraged(dir, 2, 5); err != nil {
		t.Fatal(err)
	}
	w := receive(t, m)
	if !w.OK {
		t.Fatalf("capture failed: %v", w.Err)
	}
	if _, err := frame.Load(filepath.Join(dir, "image_2.fits")); err != nil {
		t.Error(err)
	}
	if got := m.Requests(); len(got) != 1 || got[0] != 2 {
		t.Errorf("expected one request for index 2, got %v", got)
	}
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	trigger := func(path string, frames int) error {
		go func() {
			time.Sleep(10 * time.Millisecond)
			frame.Save(path, frame.New(2, 2))
		}()
		return nil
	}
	w, err := camera.NewWatcher(trigger)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.Quiet = 20 * time.Millisecond
	seq, err := w.CaptureAveraged(dir, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.CaptureAveraged(dir, 4, 4); !errors.Is(err, camera.ErrBusy) {
		t.Errorf("expected ErrBusy while a capture is pending, got %v", err)
	}
	got := receive(t, w)
	if !got.OK || got.Index != 3 || got.Seq != seq {
		t.Errorf("expected a good capture of index 3, got %+v", got)
	}
}

func TestWatcherTriggerFailure(t *testing.T) {
	w, err := camera.NewWatcher(func(string, int) error { return errors.New("offline") })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if _, err := w.CaptureAveraged(t.TempDir(), 0, 1); err == nil {
		t.Error("expected the trigger error")
	}
	// the failed request must not leave the watcher busy
	if _, err := w.CaptureAveraged(t.TempDir(), 1, 1); errors.Is(err, camera.ErrBusy) {
		t.Error("watcher stayed busy after a failed trigger")
	}
}

func TestGrabberSequenceNumbersAreUnique(t *testing.T) {
	g := camera.NewGrabber(camera.NewMockSource(2, 2))
	defer g.Close()
	dir := t.TempDir()
	first, err := g.CaptureAveraged(dir, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	receive(t, g)
	second, err := g.CaptureAveraged(dir, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if w := receive(t, g); w.Seq != second || second == first {
		t.Errorf("expected a fresh sequence number for the same index, got %d then %d (written %d)", first, second, w.Seq)
	}
}

func TestWatcherCancelFreesIt(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	var paths []string
	trigger := func(path string, frames int) error {
		mu.Lock()
		paths = append(paths, path)
		mu.Unlock()
		return nil
	}
	w, err := camera.NewWatcher(trigger)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.Quiet = 20 * time.Millisecond

	// the acquisition software never writes the first file
	stale, err := w.CaptureAveraged(dir, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	w.Cancel(stale)
	seq, err := w.CaptureAveraged(dir, 1, 1)
	if err != nil {
		t.Fatalf("expected the watcher to accept a capture after Cancel, got %v", err)
	}

	// a late file of the cancelled capture is ignored
	mu.Lock()
	late, next := paths[0], paths[1]
	mu.Unlock()
	if err := frame.Save(late, frame.New(2, 2)); err != nil {
		t.Fatal(err)
	}
	if err := frame.Save(next, frame.New(2, 2)); err != nil {
		t.Fatal(err)
	}
	got := receive(t, w)
	if got.Seq != seq || got.Index != 1 || !got.OK {
		t.Errorf("expected the completion of capture %d, got %+v", seq, got)
	}
	select {
	case extra := <-w.Written():
		t.Errorf("unexpected completion %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}
