// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package protocol

import "github.com/momentics/hioload-wsdriver/api"

// WSFrame is the concrete api.Frame implementation produced by Parser
// and consumed by Generator.
type WSFrame struct {
	fin     bool
	opcode  byte
	payload []byte

	// release, when non-nil, returns payload's backing buffer to the
	// pool it came from. Set by the parser; cleared by Release.
	release func()
}

var _ api.Frame = (*WSFrame)(nil)

func (f *WSFrame) Fin() bool       { return f.fin }
func (f *WSFrame) Opcode() byte    { return f.opcode }
func (f *WSFrame) Payload() []byte { return f.payload }

// CloseInfo decodes a CLOSE frame's two-byte status code and UTF-8
// reason. ok is false for any other opcode. A CLOSE frame carrying
// exactly one byte is malformed per RFC 6455 §5.5.1 (the status code
// is two bytes or absent entirely) and is reported as such rather than
// silently treated as a codeless close — though Parser already rejects
// such a frame during decode, so callers normally never see one.
func (f *WSFrame) CloseInfo() (code uint16, reason string, ok bool) {
	if f.opcode != OpcodeClose {
		return 0, "", false
	}
	switch len(f.payload) {
	case 0:
		return CloseNoCode, "", true
	case 1:
		return 0, "", false
	}
	code = uint16(f.payload[0])<<8 | uint16(f.payload[1])
	if len(f.payload) > 2 {
		reason = string(f.payload[2:])
	}
	return code, reason, true
}

// NewDataFrame builds a single-fragment TEXT or BINARY frame.
func NewDataFrame(opcode byte, payload []byte) *WSFrame {
	return &WSFrame{fin: true, opcode: opcode, payload: payload}
}

// NewControlFrame builds a control frame (PING/PONG/CLOSE); payload
// must be <= MaxControlPayloadLen bytes.
func NewControlFrame(opcode byte, payload []byte) *WSFrame {
	return &WSFrame{fin: true, opcode: opcode, payload: payload}
}
