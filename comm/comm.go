/*Package comm provides the connection plumbing for talking to lab hardware.

Most usages of this package will boil down to:
	1.  build a CreationFunc with BackingOffTCPConnMaker or SerialConnMaker
	2.  hand it to NewPool, which owns the connections
	3.  Get a connection, wrap it with NewTerminator (and NewTimeout),
	    write the command, read the reply, and ReturnWithError

A minimal example for a controller that answers "POS?" with its position:

	pool := comm.NewPool(1, time.Minute, comm.BackingOffTCPConnMaker(addr, time.Second))
	conn, err := pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(conn, '\n', '\n')
	_, err = io.WriteString(wrap, "POS?")
	...
*/
package comm

import (
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

var (
	// ErrTerminatorNotFound is generated when the buffer fills before the termination byte arrives
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

type deadliner interface {
	SetDeadline(time.Time) error
}

// Terminator wraps a ReadWriter, appending Tx to every write and reading
// until Rx on every read.  Rx is stripped from what is returned.
type Terminator struct {
	rw     io.ReadWriter
	rx, tx byte
}

// NewTerminator returns a new Terminator around rw
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, rx: rx, tx: tx}
}

// Write implements io.Writer.  The returned count excludes the terminator.
func (t *Terminator) Write(p []byte) (int, error) {
	buf := make([]byte, len(p)+1)
	copy(buf, p)
	buf[len(p)] = t.tx
	n, err := t.rw.Write(buf)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

// Read implements io.Reader.  It reads a byte at a time so nothing past
// the terminator is consumed from the underlying connection.
func (t *Terminator) Read(p []byte) (int, error) {
	one := make([]byte, 1)
	n := 0
	for n < len(p) {
		_, err := io.ReadFull(t.rw, one)
		if err != nil {
			return n, err
		}
		if one[0] == t.rx {
			return n, nil
		}
		p[n] = one[0]
		n++
	}
	return n, ErrTerminatorNotFound
}

// SetDeadline passes through to the wrapped connection, if it supports deadlines
func (t *Terminator) SetDeadline(tm time.Time) error {
	if d, ok := t.rw.(deadliner); ok {
		return d.SetDeadline(tm)
	}
	return nil
}

// NewTimeout applies a read/write deadline of now+d to rw if it supports one.
// Connections without deadlines (serial ports carry their own ReadTimeout)
// are returned untouched.
func NewTimeout(rw io.ReadWriter, d time.Duration) (io.ReadWriter, error) {
	if dl, ok := rw.(deadliner); ok {
		return rw, dl.SetDeadline(time.Now().Add(d))
	}
	return rw, nil
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Now().Add(timeout))
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr with an
// exponential backoff.  Controllers that refuse the connection outright are
// not retried; timeouts are.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			c, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					return backoff.Permanent(err)
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, errors.Wrapf(err, "connecting to %s", addr)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens the serial port described by conf
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.OpenPort(conf)
		if err != nil {
			return nil, errors.Wrapf(err, "opening serial port %s", conf.Name)
		}
		return port, nil
	}
}
