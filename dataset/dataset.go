// Package dataset loads the artifacts of a finished scan, the position log
// and one averaged frame per visited point, for stitching and reconstruction
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ptycholab/ptycholab/frame"
	"github.com/ptycholab/ptycholab/imgrec"
	"github.com/ptycholab/ptycholab/trajectory"
)

// LogName is the file name of the position log inside a scan folder
const LogName = "positions.csv"

// InputError reports a data set which cannot be processed.  Raw data is
// never modified to work around one
type InputError struct {
	Reason string
	Err    error
}

func (e InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid input: %s: %v", e.Reason, e.Err)
	}
	return "invalid input: " + e.Reason
}

func (e InputError) Unwrap() error {
	return e.Err
}

// Capture is one frame of a scan and the position it was taken at, in µm
type Capture struct {
	Index int
	Point trajectory.Point
	Frame *frame.Frame
}

// Options control where Load looks for files
type Options struct {
	// Log is the position log, relative to the folder.  Defaults to LogName
	Log string `json:"log" yaml:"log" koanf:"log"`

	// Prefix is the frame file name prefix.  Defaults to imgrec.DefaultPrefix
	Prefix string `json:"prefix" yaml:"prefix" koanf:"prefix"`

	// Exts are the frame extensions tried, in order.  Defaults to .fits then .png
	Exts []string `json:"exts" yaml:"exts" koanf:"exts"`

	// Offset is added to the row number of the log to form the frame index
	Offset int `json:"offset" yaml:"offset" koanf:"offset"`
}

func (o Options) withDefaults() Options {
	if o.Log == "" {
		o.Log = LogName
	}
	if o.Prefix == "" {
		o.Prefix = imgrec.DefaultPrefix
	}
	if len(o.Exts) == 0 {
		o.Exts = []string{".fits", ".png"}
	}
	return o
}

// Load reads the position log of dir and the frame of every row.  Every
// frame must exist, decode, match its checksum and share one shape
func Load(dir string, opts Options) ([]Capture, error) {
	opts = opts.withDefaults()
	fid, err := os.Open(filepath.Join(dir, opts.Log))
	if err != nil {
		return nil, InputError{Reason: "position log", Err: err}
	}
	defer fid.Close()
	pts, err := trajectory.ReadLog(fid)
	if err != nil {
		return nil, InputError{Reason: "position log", Err: err}
	}
	if len(pts) == 0 {
		return nil, InputError{Reason: "position log is empty"}
	}
	caps := make([]Capture, 0, len(pts))
	for i, p := range pts {
		idx := i + opts.Offset
		f, err := loadFrame(dir, idx, opts)
		if err != nil {
			return nil, err
		}
		if len(caps) > 0 && !f.SameShape(caps[0].Frame) {
			return nil, InputError{Reason: fmt.Sprintf("frame %d is %dx%d, frame %d is %dx%d",
				idx, f.W, f.H, caps[0].Index, caps[0].Frame.W, caps[0].Frame.H)}
		}
		caps = append(caps, Capture{Index: idx, Point: p, Frame: f})
	}
	return caps, nil
}

func loadFrame(dir string, index int, opts Options) (*frame.Frame, error) {
	for _, ext := range opts.Exts {
		path := filepath.Join(dir, fmt.Sprintf("%s%d%s", opts.Prefix, index, ext))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		f, err := frame.Load(path)
		if err != nil {
			reason := "frame " + filepath.Base(path)
			if errors.Is(err, frame.ErrChecksum) {
				reason += " is corrupt"
			}
			return nil, InputError{Reason: reason, Err: err}
		}
		return f, nil
	}
	return nil, InputError{Reason: fmt.Sprintf("frame %d is missing", index)}
}

// Frames returns the frames of caps, in order
func Frames(caps []Capture) []*frame.Frame {
	out := make([]*frame.Frame, len(caps))
	for i, c := range caps {
		out[i] = c.Frame
	}
	return out
}

// Points returns the positions of caps, in order
func Points(caps []Capture) []trajectory.Point {
	out := make([]trajectory.Point, len(caps))
	for i, c := range caps {
		out[i] = c.Point
	}
	return out
}
