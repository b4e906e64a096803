package comm

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	timeout time.Duration           // time after all are returned to free them
	conns   chan io.ReadWriteCloser // idle connections
	tokens  chan struct{}           // one per connection that may exist
	maker   CreationFunc

	mu    sync.Mutex
	timer *time.Timer
}

// NewPool creates a pool of at most maxSize connections, freed after timeout of disuse
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		tokens:  make(chan struct{}, maxSize),
		maker:   maker,
	}
	for i := 0; i < maxSize; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good.  ReturnWithError does the right one.
//
// If the error from Get is not nil, you must not return the connection
// to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	select {
	case c := <-p.conns:
		return c, nil
	default:
	}
	select {
	case c := <-p.conns:
		return c, nil
	case <-p.tokens:
		c, err := p.maker()
		if err != nil {
			p.tokens <- struct{}{}
			return nil, err
		}
		return c, nil
	}
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	p.conns <- rw.(io.ReadWriteCloser)
	if p.Active() == 0 {
		p.startReclaim()
	}
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rw.(io.ReadWriteCloser).Close()
	p.tokens <- struct{}{}
}

// ReturnWithError returns the connection to the pool, or destroys it if err
// indicates the transport itself failed
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if isTransportError(err) {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	return p.maxSize - len(p.tokens)
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	return p.Size() - len(p.conns)
}

func (p *Pool) startReclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.timeout, p.reclaim)
}

func (p *Pool) reclaim() {
	for {
		select {
		case c := <-p.conns:
			c.Close()
			p.tokens <- struct{}{}
		default:
			return
		}
	}
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	if cause == io.EOF || cause == io.ErrUnexpectedEOF || cause == io.ErrClosedPipe {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
