// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package api

import "time"

// Behavior distinguishes which side of the handshake a connection plays.
type Behavior int

const (
	BehaviorServer Behavior = iota
	BehaviorClient
)

func (b Behavior) String() string {
	if b == BehaviorClient {
		return "CLIENT"
	}
	return "SERVER"
}

// Policy is the read-only configuration a connection is opened with.
// The driver never changes it after construction: the validated setters
// SetInputBufferSize and SetMaxIdleTimeout apply their values to the
// read pump and the endpoint without updating the Policy value.
type Policy struct {
	Behavior         Behavior
	InputBufferSize  int
	OutputBufferSize int
	IdleTimeout      time.Duration
	MaxMessageSize   int64
	MaxFrameSize     int64
}

// DefaultPolicy returns sane defaults for the given behavior.
func DefaultPolicy(b Behavior) Policy {
	return Policy{
		Behavior:         b,
		InputBufferSize:  8 * 1024,
		OutputBufferSize: 8 * 1024,
		IdleTimeout:      60 * time.Second,
		MaxMessageSize:   64 * 1024 * 1024,
		MaxFrameSize:     16 * 1024 * 1024,
	}
}
