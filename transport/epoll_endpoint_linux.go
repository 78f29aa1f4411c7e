//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// EpollEndpoint is a Linux epoll-backed api.Endpoint operating directly
// on a raw file descriptor in non-blocking mode. Grounded on the
// teacher's reactor/epoll_reactor.go register/wait/callback shape,
// adapted from syscall to golang.org/x/sys/unix (a real teacher
// go.mod dependency used elsewhere for cpu/windows, kept alive here
// for the Linux transport half).
type EpollEndpoint struct {
	fd   int
	epfd int

	local, remote net.Addr

	mu       sync.Mutex
	interest func()
	armed    bool

	idleMu      sync.Mutex
	idleTimer   *time.Timer
	idleTimeout time.Duration

	closed atomic.Bool
}

// NewEpollEndpoint registers fd with a fresh epoll instance in
// level-triggered read mode and returns the endpoint. The caller owns
// fd and must not close it directly; use Close.
func NewEpollEndpoint(fd int, local, remote net.Addr) (*EpollEndpoint, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("transport: set nonblock: %w", err)
	}
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("transport: epoll create: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("transport: epoll ctl add: %w", err)
	}
	e := &EpollEndpoint{fd: fd, epfd: epfd, local: local, remote: remote}
	go e.waitLoop()
	return e, nil
}

func (e *EpollEndpoint) waitLoop() {
	var events [16]unix.EpollEvent
	for {
		n, err := unix.EpollWait(e.epfd, events[:], -1)
		if e.closed.Load() {
			return
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			if events[i].Fd != int32(e.fd) {
				continue
			}
			e.mu.Lock()
			cb := e.interest
			e.interest = nil
			e.armed = false
			e.mu.Unlock()
			e.touchIdle()
			if cb != nil {
				cb()
			}
		}
	}
}

// Fill implements api.Endpoint.
func (e *EpollEndpoint) Fill(buf []byte) (int, error) {
	n, err := unix.Read(e.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return -1, nil
	}
	e.touchIdle()
	return n, nil
}

// Flush implements api.Endpoint.
func (e *EpollEndpoint) Flush(buffers ...[]byte) (bool, error) {
	total := 0
	written := 0
	for _, b := range buffers {
		total += len(b)
		if len(b) == 0 {
			continue
		}
		off := 0
		for off < len(b) {
			n, err := unix.Write(e.fd, b[off:])
			if err != nil {
				if errors.Is(err, unix.EAGAIN) {
					// Socket send buffer is full; give up this Flush
					// call short, same as a partial write. The
					// wsconn flusher does not retry: it fails the batch
					// as a write failure.
					written += off
					return false, nil
				}
				written += off
				return false, err
			}
			off += n
		}
		written += off
	}
	e.touchIdle()
	return written == total, nil
}

// FillInterested implements api.Endpoint.
func (e *EpollEndpoint) FillInterested(cb func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interest = cb
	e.armed = true
}

// ShutdownOutput implements api.Endpoint.
func (e *EpollEndpoint) ShutdownOutput() error {
	return unix.Shutdown(e.fd, unix.SHUT_WR)
}

// Close implements api.Endpoint.
func (e *EpollEndpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.idleMu.Lock()
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleMu.Unlock()
	unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, e.fd, nil)
	unix.Close(e.epfd)
	return unix.Close(e.fd)
}

// SetIdleTimeout implements api.Endpoint.
func (e *EpollEndpoint) SetIdleTimeout(d time.Duration, onTimeout func()) {
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

func (e *EpollEndpoint) touchIdle() {
	e.idleMu.Lock()
	defer e.idleMu.Unlock()
	if e.idleTimer != nil && e.idleTimeout > 0 {
		e.idleTimer.Reset(e.idleTimeout)
	}
}

// LocalAddr implements api.Endpoint.
func (e *EpollEndpoint) LocalAddr() net.Addr { return e.local }

// RemoteAddr implements api.Endpoint.
func (e *EpollEndpoint) RemoteAddr() net.Addr { return e.remote }

var _ io.Closer = (*EpollEndpoint)(nil)
