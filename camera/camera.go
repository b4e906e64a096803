/*Package camera describes the interfaces a scan uses to acquire images, and
provides implementations of them.

A FrameSource is a sensor that can be read out frame by frame.  An Averager
captures several frames, averages them and writes the result to a file,
signalling completion on a channel; Grabber builds one on a FrameSource and
Watcher on external acquisition software that writes files on its own.
*/
package camera

import (
	"errors"
	"time"

	"github.com/astrogo/fitsio"
)

var (
	// ErrBusy is returned when a capture is requested while one is in progress
	ErrBusy = errors.New("capture already in progress")

	// ErrFrames is returned when fewer than one frame is requested
	ErrFrames = errors.New("frame count must be at least one")
)

// Written is the completion signal of a capture
type Written struct {
	// Seq is the sequence number CaptureAveraged returned for the capture
	Seq uint64

	// Index is the scan point index the capture was requested for
	Index int

	// Path is the file written
	Path string

	// OK is true if the file was written and is complete
	OK bool

	// Err holds the reason a capture failed
	Err error
}

// FrameSource describes a minimal camera that can be read out.
type FrameSource interface {
	// GetRes gets the (W, H) associated with the data returned by GetFrameU16
	GetRes() ([2]int, error)

	// GetFrameU16 triggers capture of a frame and returns the strided image
	// data as 16-bit integers, row major
	GetFrameU16() ([]uint16, error)
}

// ExposureSetter describes a camera with a configurable exposure time
type ExposureSetter interface {
	// SetExposureTime sets the exposure time
	SetExposureTime(time.Duration) error

	// GetExposureTime gets the exposure time
	GetExposureTime() (time.Duration, error)
}

// MetadataMaker can produce an array of FITS cards
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}

// Averager captures averaged frames to disk.
//
// CaptureAveraged returns once the capture is under way; completion, success
// or failure, is reported by at most one value on Written per accepted call,
// carrying the sequence number the call returned.  Sequence numbers are never
// reused by an Averager, so a completion can be told apart from one of an
// abandoned capture with the same index
type Averager interface {
	// CaptureAveraged captures frames frames, averages them and writes the
	// result for index into dir
	CaptureAveraged(dir string, index, frames int) (uint64, error)

	// Written returns the completion channel
	Written() <-chan Written
}

// Canceler is an Averager which can forget a capture nobody waits for any
// more.  After Cancel, the capture no longer counts against ErrBusy and its
// completion may never be sent
type Canceler interface {
	Cancel(seq uint64)
}

// Namer is an Averager whose file names can be changed between scans
type Namer interface {
	// SetNaming sets the prefix and extension of the files written
	SetNaming(prefix, ext string)
}
