// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package api

import (
	"net"
	"time"
)

// Endpoint abstracts a non-blocking, duplex byte transport sitting below
// the connection driver — typically a TCP or TLS socket just past the
// HTTP upgrade. All methods must be safe to call from the single I/O
// goroutine that owns the endpoint; Close/ShutdownOutput/SetIdleTimeout
// may additionally be called from any goroutine to force teardown.
type Endpoint interface {
	// Fill reads into buf without blocking. It returns the number of
	// bytes read (>= 0), 0 meaning "no data available right now", or a
	// negative count meaning the peer has reached EOF.
	Fill(buf []byte) (int, error)

	// Flush writes buffers to the wire, in order. It returns true if
	// every byte of every buffer was written.
	Flush(buffers ...[]byte) (bool, error)

	// FillInterested registers cb to run exactly once, the next time
	// the endpoint becomes readable. Must only be called after a Fill
	// has returned 0.
	FillInterested(cb func())

	// ShutdownOutput half-closes the write side, allowing a TLS
	// close_notify or TCP FIN to be observed by the peer.
	ShutdownOutput() error

	// Close fully tears down the endpoint.
	Close() error

	// SetIdleTimeout arms a timer that invokes onTimeout if neither a
	// Fill nor a Flush occurs within d. A zero duration disables the
	// timer.
	SetIdleTimeout(d time.Duration, onTimeout func())

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}
