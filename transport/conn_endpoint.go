// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package transport provides concrete api.Endpoint implementations: a
// portable net.Conn-backed endpoint usable on any platform, and a
// Linux epoll-backed endpoint for the reactor-driven path.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ConnEndpoint adapts a net.Conn to api.Endpoint. Since net.Conn.Read
// blocks, readiness is simulated with a background reader goroutine
// that feeds a small channel-backed relay; Fill never blocks once
// that goroutine has started. Grounded on the teacher's
// TransportWrapper facade shape (wrap + mutex-guard an inner
// implementation), translated from a send/recv-batch contract to the
// fill/flush-by-byte-count contract the driver expects.
type ConnEndpoint struct {
	conn net.Conn

	mu        sync.Mutex
	pending   []byte
	eof       bool
	fillErr   error
	interest  func()
	readStart sync.Once

	idleMu      sync.Mutex
	idleTimer   *time.Timer
	idleTimeout time.Duration

	closed atomic.Bool
}

// NewConnEndpoint wraps conn. The background reader starts lazily, on
// the first Fill call, so a caller may install a prefill buffer via
// the driver before any reads occur.
func NewConnEndpoint(conn net.Conn) *ConnEndpoint {
	return &ConnEndpoint{conn: conn}
}

func (e *ConnEndpoint) startReader() {
	e.readStart.Do(func() {
		go e.readLoop()
	})
}

func (e *ConnEndpoint) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := e.conn.Read(buf)
		e.mu.Lock()
		if n > 0 {
			e.pending = append(e.pending, buf[:n]...)
		}
		if err != nil {
			e.eof = true
			if !errors.Is(err, io.EOF) {
				e.fillErr = err
			}
		}
		cb := e.interest
		e.interest = nil
		e.mu.Unlock()
		e.touchIdle()
		if cb != nil {
			cb()
		}
		if err != nil {
			return
		}
	}
}

// Fill implements api.Endpoint.
func (e *ConnEndpoint) Fill(buf []byte) (int, error) {
	e.startReader()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fillErr != nil {
		return 0, e.fillErr
	}
	if len(e.pending) == 0 {
		if e.eof {
			return -1, nil
		}
		return 0, nil
	}
	n := copy(buf, e.pending)
	e.pending = e.pending[n:]
	return n, nil
}

// Flush implements api.Endpoint.
func (e *ConnEndpoint) Flush(buffers ...[]byte) (bool, error) {
	total := 0
	for _, b := range buffers {
		total += len(b)
	}
	written := 0
	for _, b := range buffers {
		if len(b) == 0 {
			continue
		}
		n, err := e.conn.Write(b)
		written += n
		if err != nil {
			e.touchIdle()
			return written == total, err
		}
	}
	e.touchIdle()
	return written == total, nil
}

// FillInterested implements api.Endpoint.
func (e *ConnEndpoint) FillInterested(cb func()) {
	e.mu.Lock()
	if len(e.pending) > 0 || e.eof || e.fillErr != nil {
		e.mu.Unlock()
		cb()
		return
	}
	e.interest = cb
	e.mu.Unlock()
}

// ShutdownOutput implements api.Endpoint.
func (e *ConnEndpoint) ShutdownOutput() error {
	type halfCloser interface {
		CloseWrite() error
	}
	if hc, ok := e.conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return nil
}

// Close implements api.Endpoint.
func (e *ConnEndpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.idleMu.Lock()
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleMu.Unlock()
	return e.conn.Close()
}

// SetIdleTimeout implements api.Endpoint.
func (e *ConnEndpoint) SetIdleTimeout(d time.Duration, onTimeout func()) {
	e.idleMu.Lock()
	defer e.idleMu.Unlock()
	e.idleTimeout = d
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	if d <= 0 || onTimeout == nil {
		return
	}
	e.idleTimer = time.AfterFunc(d, onTimeout)
}

func (e *ConnEndpoint) touchIdle() {
	e.idleMu.Lock()
	defer e.idleMu.Unlock()
	if e.idleTimer != nil && e.idleTimeout > 0 {
		e.idleTimer.Reset(e.idleTimeout)
	}
}

// LocalAddr implements api.Endpoint.
func (e *ConnEndpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// RemoteAddr implements api.Endpoint.
func (e *ConnEndpoint) RemoteAddr() net.Addr { return e.conn.RemoteAddr() }
