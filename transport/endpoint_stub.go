//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package transport

import (
	"errors"
	"net"
)

// EpollEndpoint is unavailable on non-Linux platforms; use
// ConnEndpoint instead. Grounded on the teacher's reactor_stub.go
// platform-gated stub.
type EpollEndpoint struct{}

// NewEpollEndpoint always fails on non-Linux platforms.
func NewEpollEndpoint(fd int, local, remote net.Addr) (*EpollEndpoint, error) {
	return nil, errors.New("transport: epoll endpoint is only available on linux")
}
