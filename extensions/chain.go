// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bidirectional extension pipeline. Grounded on the teacher's
// MiddlewareHandler (adapters/handler_adapter.go): a base terminal
// handler wrapped by an ordered list of wrapper functions, applied
// outer-to-inner on the way in. Here the "data" being handled is a
// wire frame flowing in either direction, and each extension may
// transform, split, merge, or drop what it forwards downstream.
package extensions

import "github.com/momentics/hioload-wsdriver/api"

// NextIncoming is what an Extension calls to forward a (possibly
// transformed) frame to the next stage of the incoming pipeline.
type NextIncoming func(f api.Frame, cb api.FrameCallback)

// NextOutgoing is what an Extension calls to forward a (possibly
// transformed) frame to the next stage of the outgoing pipeline.
type NextOutgoing func(f api.Frame, cb api.FrameCallback, mode api.BatchMode)

// Extension is one stage of the bidirectional frame pipeline.
// Incoming frames travel register-order (first registered sees the
// wire first); outgoing frames travel reverse order (first
// registered is closest to the wire, seeing the frame last).
type Extension interface {
	Name() string
	SetPolicy(p api.Policy)
	IncomingFrame(f api.Frame, cb api.FrameCallback, next NextIncoming)
	OutgoingFrame(f api.Frame, cb api.FrameCallback, mode api.BatchMode, next NextOutgoing)
}

// Chain composes a fixed ordered list of Extensions with a terminal
// sink at each end: termIn is invoked once the last extension forwards
// an incoming frame; termOut is invoked once the first extension (in
// registration order) forwards an outgoing frame to the wire.
type Chain struct {
	extensions []Extension
	policy     api.Policy
	termIn     NextIncoming
	termOut    NextOutgoing
}

var _ api.ExtensionChain = (*Chain)(nil)

// NewChain builds a Chain terminating incoming frames at termIn
// (typically the driver's delivery to the session sink) and outgoing frames
// at termOut (typically the flusher's enqueue).
func NewChain(termIn NextIncoming, termOut NextOutgoing, exts ...Extension) *Chain {
	return &Chain{extensions: exts, termIn: termIn, termOut: termOut}
}

// SetPolicy implements api.ExtensionChain, propagating to every stage.
func (c *Chain) SetPolicy(p api.Policy) {
	c.policy = p
	for _, e := range c.extensions {
		e.SetPolicy(p)
	}
}

// ConfigureParser implements api.ExtensionChain. The base chain does
// not itself wrap the parser; extensions needing to alter parsing
// (e.g. permessage-deflate marking RSV1) do so via SetPolicy and their
// own IncomingFrame transform instead, keeping Parser a single
// concrete implementation.
func (c *Chain) ConfigureParser(p api.Parser) {}

// ConfigureGenerator implements api.ExtensionChain, symmetric with
// ConfigureParser.
func (c *Chain) ConfigureGenerator(g api.Generator) {}

// IncomingFrame implements api.ExtensionChain, driving f through every
// extension in registration order before the terminal sink.
func (c *Chain) IncomingFrame(f api.Frame, cb api.FrameCallback) {
	c.incomingAt(0, f, cb)
}

func (c *Chain) incomingAt(i int, f api.Frame, cb api.FrameCallback) {
	if i >= len(c.extensions) {
		c.termIn(f, cb)
		return
	}
	c.extensions[i].IncomingFrame(f, cb, func(f2 api.Frame, cb2 api.FrameCallback) {
		c.incomingAt(i+1, f2, cb2)
	})
}

// OutgoingFrame implements api.ExtensionChain, driving f through every
// extension in reverse registration order before the terminal sink.
func (c *Chain) OutgoingFrame(f api.Frame, cb api.FrameCallback, mode api.BatchMode) {
	c.outgoingAt(len(c.extensions)-1, f, cb, mode)
}

func (c *Chain) outgoingAt(i int, f api.Frame, cb api.FrameCallback, mode api.BatchMode) {
	if i < 0 {
		c.termOut(f, cb, mode)
		return
	}
	c.extensions[i].OutgoingFrame(f, cb, mode, func(f2 api.Frame, cb2 api.FrameCallback, m2 api.BatchMode) {
		c.outgoingAt(i-1, f2, cb2, m2)
	})
}
