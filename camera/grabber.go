package camera

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/ptycholab/ptycholab/frame"
	"github.com/ptycholab/ptycholab/imgrec"
)

type request struct {
	seq           uint64
	dir           string
	index, frames int
}

// Grabber is an Averager reading frames from a FrameSource on its own
// goroutine.  One capture runs at a time
type Grabber struct {
	src FrameSource

	// Prefix and Ext name the files written, as in imgrec.Recorder
	Prefix, Ext string

	req     chan request
	written chan Written
	seq     atomic.Uint64

	closeOnce sync.Once
}

// NewGrabber returns a Grabber writing FITS files and starts its goroutine
func NewGrabber(src FrameSource) *Grabber {
	g := &Grabber{
		src:     src,
		Prefix:  imgrec.DefaultPrefix,
		Ext:     imgrec.DefaultExt,
		req:     make(chan request, 1),
		written: make(chan Written, 1),
	}
	go g.loop()
	return g
}

// CaptureAveraged queues a capture, returning ErrBusy if one is already queued
func (g *Grabber) CaptureAveraged(dir string, index, frames int) (uint64, error) {
	if frames < 1 {
		return 0, ErrFrames
	}
	seq := g.seq.Add(1)
	select {
	case g.req <- request{seq: seq, dir: dir, index: index, frames: frames}:
		return seq, nil
	default:
		return 0, ErrBusy
	}
}

// SetNaming sets Prefix and Ext.  It must not be called during a capture
func (g *Grabber) SetNaming(prefix, ext string) {
	g.Prefix, g.Ext = prefix, ext
}

// Written returns the completion channel
func (g *Grabber) Written() <-chan Written {
	return g.written
}

// Close stops the goroutine once any queued capture completes
func (g *Grabber) Close() error {
	g.closeOnce.Do(func() { close(g.req) })
	return nil
}

func (g *Grabber) loop() {
	for r := range g.req {
		path, err := g.capture(r)
		if err != nil {
			log.Printf("capture %d failed: %v", r.index, err)
		}
		g.written <- Written{Seq: r.seq, Index: r.index, Path: path, OK: err == nil, Err: err}
	}
}

func (g *Grabber) capture(r request) (string, error) {
	res, err := g.src.GetRes()
	if err != nil {
		return "", err
	}
	start := time.Now()
	frames := make([]*frame.Frame, 0, r.frames)
	for i := 0; i < r.frames; i++ {
		buf, err := g.src.GetFrameU16()
		if err != nil {
			return "", fmt.Errorf("frame %d of %d: %w", i+1, r.frames, err)
		}
		f, err := frame.FromU16(res[0], res[1], buf)
		if err != nil {
			return "", err
		}
		frames = append(frames, f)
	}
	avg, err := frame.Average(frames)
	if err != nil {
		return "", err
	}
	cards := []fitsio.Card{
		{Name: "NFRAMES", Value: r.frames, Comment: "number of frames averaged"},
		{Name: "DATE-OBS", Value: start.UTC().Format(time.RFC3339), Comment: "start of capture"},
		{Name: "DATAMEAN", Value: avg.Mean(), Comment: "mean normalised intensity"},
	}
	if e, ok := g.src.(ExposureSetter); ok {
		if texp, err := e.GetExposureTime(); err == nil {
			cards = append(cards, fitsio.Card{Name: "EXPTIME", Value: texp.Seconds(), Comment: "exposure time, seconds"})
		}
	}
	if m, ok := g.src.(MetadataMaker); ok {
		cards = append(cards, m.CollectHeaderMetadata()...)
	}
	rec := imgrec.New(r.dir)
	rec.Prefix, rec.Ext = g.Prefix, g.Ext
	return rec.Write(r.index, avg, cards...)
}
