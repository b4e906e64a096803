package trajectory

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LogHeader is the header row of a position log
var LogHeader = []string{"x", "y"}

// LogWriter appends visited points to a CSV position log, one row per point,
// flushing after every row so the log on disk always matches what was visited.
type LogWriter struct {
	w *csv.Writer
}

// NewLogWriter writes the header to w and returns a LogWriter
func NewLogWriter(w io.Writer) (*LogWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(LogHeader); err != nil {
		return nil, err
	}
	cw.Flush()
	return &LogWriter{w: cw}, cw.Error()
}

// Append writes one row
func (l *LogWriter) Append(p Point) error {
	row := []string{
		strconv.FormatFloat(p.X, 'g', -1, 64),
		strconv.FormatFloat(p.Y, 'g', -1, 64),
	}
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

// WriteLog writes a complete position log
func WriteLog(w io.Writer, pts []Point) error {
	lw, err := NewLogWriter(w)
	if err != nil {
		return err
	}
	for _, p := range pts {
		if err := lw.Append(p); err != nil {
			return err
		}
	}
	return nil
}

// ReadLog reads a position log.  The x and y columns are located by header
// name; a log without a header is read as x,y positionally.
func ReadLog(r io.Reader) ([]Point, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading position log")
	}
	if len(rows) == 0 {
		return []Point{}, nil
	}
	xi, yi := 0, 1
	if _, err := strconv.ParseFloat(strings.TrimSpace(rows[0][0]), 64); err != nil {
		xi, yi = -1, -1
		for i, name := range rows[0] {
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "x":
				xi = i
			case "y":
				yi = i
			}
		}
		if xi < 0 || yi < 0 {
			return nil, fmt.Errorf("position log header %v lacks x and y columns", rows[0])
		}
		rows = rows[1:]
	}
	pts := make([]Point, len(rows))
	for i, row := range rows {
		if len(row) <= xi || len(row) <= yi {
			return nil, fmt.Errorf("position log row %d is short: %v", i, row)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(row[xi]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "position log row %d", i)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(row[yi]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "position log row %d", i)
		}
		pts[i] = Point{X: x, Y: y}
	}
	return pts, nil
}
