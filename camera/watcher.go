package camera

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ptycholab/ptycholab/frame"
	"github.com/ptycholab/ptycholab/imgrec"
)

// DefaultQuiet is how long a file must go unmodified before Watcher
// considers it complete
const DefaultQuiet = 200 * time.Millisecond

// TriggerFunc asks external acquisition software to capture and average
// frames frames and save them as path
type TriggerFunc func(path string, frames int) error

// Watcher is an Averager for cameras driven by other software which saves
// files on its own.  CaptureAveraged calls Trigger and the file is reported
// written once it has been quiet for Quiet and decodes as a frame
type Watcher struct {
	Trigger TriggerFunc

	// Prefix and Ext name the expected files, as in imgrec.Recorder
	Prefix, Ext string

	// Quiet is the settling time after the last write event
	Quiet time.Duration

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	dirs    map[string]bool
	pending map[string]watched
	timers  map[string]*time.Timer
	written chan Written
	seq     uint64
}

// watched is a capture whose file has not settled yet
type watched struct {
	seq   uint64
	index int
}

// NewWatcher returns a watcher expecting FITS files and starts its goroutine
func NewWatcher(trigger TriggerFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		Trigger: trigger,
		Prefix:  imgrec.DefaultPrefix,
		Ext:     imgrec.DefaultExt,
		Quiet:   DefaultQuiet,
		fsw:     fsw,
		dirs:    make(map[string]bool),
		pending: make(map[string]watched),
		timers:  make(map[string]*time.Timer),
		written: make(chan Written, 1),
	}
	go w.loop()
	return w, nil
}

// CaptureAveraged watches dir for the file of index and triggers the capture
func (w *Watcher) CaptureAveraged(dir string, index, frames int) (uint64, error) {
	if frames < 1 {
		return 0, ErrFrames
	}
	dir = filepath.Clean(dir)
	path := filepath.Join(dir, fmt.Sprintf("%s%d%s", w.Prefix, index, w.Ext))
	w.mu.Lock()
	if len(w.pending) > 0 {
		w.mu.Unlock()
		return 0, ErrBusy
	}
	if !w.dirs[dir] {
		if err := w.fsw.Add(dir); err != nil {
			w.mu.Unlock()
			return 0, err
		}
		w.dirs[dir] = true
	}
	w.seq++
	seq := w.seq
	w.pending[path] = watched{seq: seq, index: index}
	w.mu.Unlock()

	if err := w.Trigger(path, frames); err != nil {
		w.Cancel(seq)
		return 0, err
	}
	return seq, nil
}

// Cancel stops waiting for the file of capture seq.  A file which appears
// later is ignored
func (w *Watcher) Cancel(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, p := range w.pending {
		if p.seq != seq {
			continue
		}
		delete(w.pending, path)
		if t, ok := w.timers[path]; ok {
			t.Stop()
			delete(w.timers, path)
		}
	}
}

// SetNaming sets Prefix and Ext.  It must not be called during a capture
func (w *Watcher) SetNaming(prefix, ext string) {
	w.Prefix, w.Ext = prefix, ext
}

// Written returns the completion channel
func (w *Watcher) Written() <-chan Written {
	return w.written
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.touch(filepath.Clean(ev.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Println("camera watcher:", err)
		}
	}
}

// touch (re)arms the quiet timer of a pending file
func (w *Watcher) touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[path]; !ok {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.Quiet)
		return
	}
	w.timers[path] = time.AfterFunc(w.Quiet, func() { w.settle(path) })
}

func (w *Watcher) settle(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	w.mu.Unlock()
	if !ok {
		return
	}
	_, err := frame.Load(path)
	w.written <- Written{Seq: p.seq, Index: p.index, Path: path, OK: err == nil, Err: err}
}
