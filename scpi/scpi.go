// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ptycholab/ptycholab/comm"
)

const (
	timeout = 5 * time.Second

	tcpFrameSize = 1500

	errQuery = ":SYSTem:ERRor?"
)

// DeviceError is an entry from the device's error queue, e.g. `-113,"Undefined header"`
type DeviceError struct {
	Code int
	Msg  string
}

func (e DeviceError) Error() string {
	return fmt.Sprintf("%d - %s", e.Code, e.Msg)
}

// ParseError converts an error queue entry into an error.  Code zero is nil.
func ParseError(s string) error {
	s = strings.TrimSpace(s)
	pieces := strings.SplitN(s, ",", 2)
	code, err := strconv.Atoi(strings.TrimPrefix(pieces[0], "+"))
	if err != nil {
		return fmt.Errorf("unparseable error queue entry %q", s)
	}
	if code == 0 {
		return nil
	}
	msg := ""
	if len(pieces) == 2 {
		msg = strings.Trim(pieces[1], `"`)
	}
	return DeviceError{Code: code, Msg: msg}
}

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Timeout bounds each exchange; zero means five seconds
	Timeout time.Duration
}

func (s *SCPI) wrap(conn io.ReadWriter) (io.ReadWriter, error) {
	to := s.Timeout
	if to == 0 {
		to = timeout
	}
	return comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), to)
}

// Write sends a command to the device.  Multiple commands are joined with
// ';' and go out in a single transmission.  If Handshaking is true,
// it also requests an error response and checks that it is OK.
func (s *SCPI) Write(cmds ...string) error {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := s.wrap(conn)
	if err != nil {
		return err
	}
	if s.Handshaking {
		cmds = append(cmds, errQuery)
	}
	_, err = io.WriteString(wrap, strings.Join(cmds, ";"))
	if err != nil {
		return err
	}
	if s.Handshaking {
		buf := make([]byte, tcpFrameSize)
		var n int
		n, err = wrap.Read(buf)
		if err != nil {
			return err
		}
		return ParseError(string(buf[:n]))
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := s.wrap(conn)
	if err != nil {
		return nil, err
	}
	if s.Handshaking {
		cmds = append(cmds, errQuery)
	}
	_, err = io.WriteString(wrap, strings.Join(cmds, ";"))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, tcpFrameSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return nil, err
	}
	resp := strings.TrimRight(string(buf[:n]), "\r")
	if s.Handshaking {
		idx := strings.LastIndex(resp, ";")
		if idx < 0 {
			return nil, fmt.Errorf("device ignored the error query, response %q", resp)
		}
		if derr := ParseError(resp[idx+1:]); derr != nil {
			return nil, derr
		}
		resp = resp[:idx]
	}
	return []byte(resp), nil
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp)), nil
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(resp, 10, 64)
}
