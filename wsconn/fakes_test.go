package wsconn_test

import (
	"errors"
	"net"
	"sync"
	"time"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// eofMarker, queued in place of a byte chunk, makes Fill report EOF.
var eofMarker = struct{}{}

type fakeEndpoint struct {
	mu sync.Mutex

	chunks []any // []byte or eofMarker
	writes [][]byte

	flushErr error
	fillErr  error

	closed         bool
	outputShutdown bool

	fillInterestedFn func()

	idleTimeoutFn func()

	local, remote net.Addr
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{local: fakeAddr("127.0.0.1:9000"), remote: fakeAddr("127.0.0.1:9001")}
}

func (e *fakeEndpoint) queueChunk(b []byte) {
	e.mu.Lock()
	e.chunks = append(e.chunks, append([]byte(nil), b...))
	e.mu.Unlock()
}

func (e *fakeEndpoint) queueEOF() {
	e.mu.Lock()
	e.chunks = append(e.chunks, eofMarker)
	e.mu.Unlock()
}

func (e *fakeEndpoint) Fill(buf []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fillErr != nil {
		return 0, e.fillErr
	}
	if len(e.chunks) == 0 {
		return 0, nil
	}
	next := e.chunks[0]
	e.chunks = e.chunks[1:]
	if next == eofMarker {
		return -1, nil
	}
	b := next.([]byte)
	n := copy(buf, b)
	if n < len(b) {
		panic("fakeEndpoint: buffer too small for queued chunk")
	}
	return n, nil
}

func (e *fakeEndpoint) Flush(buffers ...[]byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.flushErr != nil {
		return false, e.flushErr
	}
	for _, b := range buffers {
		e.writes = append(e.writes, append([]byte(nil), b...))
	}
	return true, nil
}

func (e *fakeEndpoint) FillInterested(cb func()) {
	e.mu.Lock()
	e.fillInterestedFn = cb
	e.mu.Unlock()
}

func (e *fakeEndpoint) ShutdownOutput() error {
	e.mu.Lock()
	e.outputShutdown = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEndpoint) SetIdleTimeout(_ time.Duration, cb func()) {
	e.mu.Lock()
	e.idleTimeoutFn = cb
	e.mu.Unlock()
}

// fireIdleTimeout simulates the transport's timer firing, invoking
// whatever callback the driver last installed via SetIdleTimeout.
func (e *fakeEndpoint) fireIdleTimeout() {
	e.mu.Lock()
	cb := e.idleTimeoutFn
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (e *fakeEndpoint) LocalAddr() net.Addr  { return e.local }
func (e *fakeEndpoint) RemoteAddr() net.Addr { return e.remote }

func (e *fakeEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEndpoint) isOutputShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outputShutdown
}

func (e *fakeEndpoint) writeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.writes)
}

func (e *fakeEndpoint) lastWrites() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.writes))
	copy(out, e.writes)
	return out
}

var errFakeFlush = errors.New("fake flush failure")

type fakeBytePool struct{}

func (fakeBytePool) Acquire(n int) []byte { return make([]byte, n) }
func (fakeBytePool) Release([]byte)       {}
