// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package api

// BatchMode hints to the frame flusher whether a frame may be coalesced
// with its neighbours into a single transport write.
type BatchMode int

const (
	// BatchAuto defers the flush decision to the flusher's heuristics.
	BatchAuto BatchMode = iota
	// BatchOn permits coalescing with adjacent ON/AUTO frames.
	BatchOn
	// BatchOff forces a flush after this frame.
	BatchOff
)

// FrameCallback reports the outcome of a single outgoing or incoming
// frame. Exactly one of Succeed/Fail is invoked, exactly once.
type FrameCallback interface {
	Succeed()
	Fail(err error)
}

// FrameCallbackFunc adapts two functions to FrameCallback.
type FrameCallbackFunc struct {
	OnSucceed func()
	OnFail    func(error)
}

func (f FrameCallbackFunc) Succeed() {
	if f.OnSucceed != nil {
		f.OnSucceed()
	}
}

func (f FrameCallbackFunc) Fail(err error) {
	if f.OnFail != nil {
		f.OnFail(err)
	}
}

// ExtensionChain is the bidirectional middleware pipeline sitting
// between the connection driver and the codec. Extensions may
// transform, split, merge, or drop frames, and must notify per-frame
// completion via FrameCallback.
type ExtensionChain interface {
	SetPolicy(p Policy)
	ConfigureParser(p Parser)
	ConfigureGenerator(g Generator)

	// IncomingFrame runs f through the chain's incoming direction
	// (codec -> session). cb fires once, synchronously or later.
	IncomingFrame(f Frame, cb FrameCallback)

	// OutgoingFrame runs f through the chain's outgoing direction
	// (session -> codec). cb fires once, synchronously or later.
	OutgoingFrame(f Frame, cb FrameCallback, mode BatchMode)
}
