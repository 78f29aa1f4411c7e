// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package api

// Frame is the codec's value type: a single parsed or to-be-generated
// WebSocket frame. Payload's backing array is owned by the parser/pool
// and its lifetime is bounded by the Parser.Release contract.
type Frame interface {
	Opcode() byte
	Fin() bool
	Payload() []byte

	// CloseInfo reports the status code and reason carried by a CLOSE
	// frame. ok is false for any other opcode.
	CloseInfo() (code uint16, reason string, ok bool)
}

// FrameHandler receives frames as the parser completes them.
type FrameHandler interface {
	// OnFrame is invoked synchronously by Parser.Parse for each
	// complete frame. Return true if handling finished before OnFrame
	// returns (the parser may continue immediately); false if handling
	// is deferred (the parser must stop until explicitly resumed).
	OnFrame(f Frame) bool
}

// Parser incrementally decodes frames out of a byte stream.
type Parser interface {
	// Parse consumes as many complete frames as are present in data,
	// invoking handler.OnFrame for each. It returns the number of
	// bytes consumed (a trailing partial frame is left unconsumed) and
	// whether the parser wants more bytes ("continue", true) or was
	// told to stop by a deferred OnFrame (false).
	Parse(data []byte, handler FrameHandler) (consumed int, cont bool, err error)

	// Release signals that a frame's payload lifetime has ended and
	// its backing buffer may be reused.
	Release(f Frame)
}

// Generator encodes frames to bytes.
type Generator interface {
	// HeaderBytes returns the wire header for f; payload bytes are
	// taken directly from f.Payload().
	HeaderBytes(f Frame) ([]byte, error)

	// MaxHeaderLength is the largest header this generator can emit;
	// it defines the minimum viable I/O buffer size.
	MaxHeaderLength() int
}
