// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental, restartable RFC 6455 frame codec. Parse consumes as
// many complete frames as a caller-supplied byte window holds and
// leaves a trailing partial frame untouched for the next call — this
// is the divergence from a whole-buffer decode that the read pump's
// fill/parse loop requires (see core/protocol/frame_codec.go in the
// teacher for the whole-buffer predecessor this was restructured
// from).
package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/momentics/hioload-wsdriver/api"
)

// ProtocolError marks malformed framing: reserved bits, bad UTF-8 where
// mandated, an invalid CLOSE payload, or any other wire-format
// violation. The read pump converts this into a local close with
// status PROTOCOL.
type ProtocolError struct{ Msg string }

func (e *ProtocolError) Error() string { return e.Msg }

// CloseError is raised by the codec to request a specific close
// status (e.g. a frame exceeding the configured size limit). The
// read pump converts this into a local close with the carried status.
type CloseError struct {
	StatusCode uint16
	Msg        string
}

func (e *CloseError) Error() string { return e.Msg }

// Parser incrementally decodes RFC 6455 frames.
type Parser struct {
	policy  api.Policy
	bufPool api.BytePool

	// textFragmentActive and utf8Carry track UTF-8 validity across a
	// fragmented TEXT message's CONTINUATION frames, since a valid
	// multi-byte rune may legitimately straddle a frame boundary.
	textFragmentActive bool
	utf8Carry          []byte
}

var _ api.Parser = (*Parser)(nil)

// NewParser constructs a Parser for the given policy. bufPool, if
// non-nil, is used to allocate each frame's unmasked payload so the
// frame's lifetime is independent of the caller's network buffer;
// if nil, payloads are plain heap-allocated copies.
func NewParser(policy api.Policy, bufPool api.BytePool) *Parser {
	return &Parser{policy: policy, bufPool: bufPool}
}

// Parse implements api.Parser.
func (p *Parser) Parse(data []byte, handler api.FrameHandler) (consumed int, cont bool, err error) {
	off := 0
	for {
		n, frame, perr := p.parseOne(data[off:])
		if perr != nil {
			return off, false, perr
		}
		if frame == nil {
			// Not enough bytes for a complete frame yet.
			return off, true, nil
		}
		off += n

		if !handler.OnFrame(frame) {
			// Deferred completion: parser must pause here.
			return off, false, nil
		}
	}
}

// Release implements api.Parser.
func (p *Parser) Release(f api.Frame) {
	wf, ok := f.(*WSFrame)
	if !ok || wf.release == nil {
		return
	}
	wf.release()
	wf.release = nil
}

// parseOne decodes a single frame from the head of data, returning the
// number of bytes consumed and the decoded frame, or (0, nil, nil) if
// data does not yet hold a complete frame.
func (p *Parser) parseOne(data []byte) (int, *WSFrame, error) {
	if len(data) < 2 {
		return 0, nil, nil
	}

	b0, b1 := data[0], data[1]
	fin := b0&FinBit != 0
	rsv := b0 & 0x70
	opcode := b0 & 0x0F
	masked := b1&MaskBit != 0
	lenField := int64(b1 & 0x7F)
	off := 2

	if rsv != 0 {
		return 0, nil, &ProtocolError{Msg: "reserved bits set without a negotiated extension"}
	}
	if opcode >= 0x8 && !fin {
		return 0, nil, &ProtocolError{Msg: "fragmented control frame"}
	}
	if opcode >= 0x8 && lenField > MaxControlPayloadLen {
		return 0, nil, &ProtocolError{Msg: "control frame payload too large"}
	}
	if opcode == OpcodeClose && lenField == 1 {
		return 0, nil, &ProtocolError{Msg: "close frame payload carries a truncated status code"}
	}

	switch lenField {
	case 126:
		if len(data) < off+2 {
			return 0, nil, nil
		}
		lenField = int64(binary.BigEndian.Uint16(data[off:]))
		off += 2
	case 127:
		if len(data) < off+8 {
			return 0, nil, nil
		}
		lenField = int64(binary.BigEndian.Uint64(data[off:]))
		off += 8
	}

	if p.policy.MaxFrameSize > 0 && lenField > p.policy.MaxFrameSize {
		return 0, nil, &CloseError{StatusCode: CloseMessageTooBig, Msg: fmt.Sprintf("frame payload %d exceeds limit %d", lenField, p.policy.MaxFrameSize)}
	}

	var maskKey [4]byte
	expectMasked := p.policy.Behavior == api.BehaviorServer
	if masked != expectMasked {
		return 0, nil, &ProtocolError{Msg: "frame masking does not match connection role"}
	}
	if masked {
		if len(data) < off+4 {
			return 0, nil, nil
		}
		copy(maskKey[:], data[off:off+4])
		off += 4
	}

	if int64(len(data)-off) < lenField {
		return 0, nil, nil
	}

	payload := p.acquire(int(lenField))
	src := data[off : off+int(lenField)]
	if masked {
		for i := range src {
			payload[i] = src[i] ^ maskKey[i%4]
		}
	} else {
		copy(payload, src)
	}
	off += int(lenField)

	if err := p.validateUTF8(opcode, fin, payload); err != nil {
		if p.bufPool != nil {
			p.bufPool.Release(payload)
		}
		return 0, nil, err
	}

	frame := &WSFrame{fin: fin, opcode: opcode, payload: payload}
	if p.bufPool != nil {
		buf := payload
		frame.release = func() { p.bufPool.Release(buf) }
	}
	return off, frame, nil
}

func (p *Parser) acquire(n int) []byte {
	if p.bufPool != nil {
		return p.bufPool.Acquire(n)
	}
	return make([]byte, n)
}

// validateUTF8 enforces RFC 6455 §5.6's requirement that TEXT message
// payloads and CLOSE reasons carry valid UTF-8. BINARY and
// CONTINUATION-of-BINARY frames are exempt. A fragmented TEXT message
// is validated incrementally across its CONTINUATION frames via
// textFragmentActive/utf8Carry, since requiring each individual frame
// to end on a rune boundary would reject legal fragmentations.
func (p *Parser) validateUTF8(opcode byte, fin bool, payload []byte) error {
	switch opcode {
	case OpcodeClose:
		if len(payload) > 2 && !utf8.Valid(payload[2:]) {
			return &ProtocolError{Msg: "invalid UTF-8 in close reason"}
		}
		return nil
	case OpcodeText:
		if fin {
			if !utf8.Valid(payload) {
				return &ProtocolError{Msg: "invalid UTF-8 in text frame payload"}
			}
			return nil
		}
		carry, ok := validateUTF8Stream(nil, payload, false)
		if !ok {
			return &ProtocolError{Msg: "invalid UTF-8 in text frame payload"}
		}
		p.textFragmentActive = true
		p.utf8Carry = carry
		return nil
	case OpcodeContinuation:
		if !p.textFragmentActive {
			return nil
		}
		carry, ok := validateUTF8Stream(p.utf8Carry, payload, fin)
		if !ok {
			p.textFragmentActive = false
			p.utf8Carry = nil
			return &ProtocolError{Msg: "invalid UTF-8 in text frame payload"}
		}
		if fin {
			p.textFragmentActive = false
			p.utf8Carry = nil
		} else {
			p.utf8Carry = carry
		}
		return nil
	default:
		return nil
	}
}

// validateUTF8Stream validates carry+chunk as a prefix of a UTF-8
// byte stream. If the stream ends mid-rune and final is false, the
// incomplete trailing bytes are returned as the new carry for the next
// chunk; if final is true, a non-empty carry means truncated input and
// is rejected.
func validateUTF8Stream(carry, chunk []byte, final bool) ([]byte, bool) {
	buf := append(append([]byte(nil), carry...), chunk...)
	i := 0
	for i < len(buf) {
		if !utf8.FullRune(buf[i:]) {
			if final {
				return nil, false
			}
			return append([]byte(nil), buf[i:]...), true
		}
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size == 1 {
			return nil, false
		}
		i += size
	}
	return nil, true
}

// Generator encodes frames to their wire header bytes.
type Generator struct {
	policy api.Policy
}

var _ api.Generator = (*Generator)(nil)

func NewGenerator(policy api.Policy) *Generator {
	return &Generator{policy: policy}
}

// HeaderBytes implements api.Generator.
func (g *Generator) HeaderBytes(f api.Frame) ([]byte, error) {
	payload := f.Payload()
	plen := len(payload)

	b0 := f.Opcode() & 0x0F
	if f.Fin() {
		b0 |= FinBit
	}

	masked := g.policy.Behavior == api.BehaviorClient
	var maskKey [4]byte
	if masked {
		maskKey = newMaskKey()
		// HeaderBytes does not mask the payload; the flusher masks it
		// with MaskPayload using the key appended to this header.
	}

	var hdr []byte
	switch {
	case plen <= 125:
		hdr = []byte{b0, maskBitFor(masked, byte(plen))}
	case plen <= 0xFFFF:
		hdr = make([]byte, 4)
		hdr[0] = b0
		hdr[1] = maskBitFor(masked, 126)
		binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
	default:
		hdr = make([]byte, 10)
		hdr[0] = b0
		hdr[1] = maskBitFor(masked, 127)
		binary.BigEndian.PutUint64(hdr[2:], uint64(plen))
	}
	if masked {
		hdr = append(hdr, maskKey[:]...)
	}
	return hdr, nil
}

// MaskPayload masks payload in place with key, per RFC 6455 §5.3. The
// flusher calls this for client-role connections before writing the
// header+payload to the transport.
func MaskPayload(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}

// MaxHeaderLength implements api.Generator.
func (g *Generator) MaxHeaderLength() int { return MaxFrameHeaderLen }

func maskBitFor(masked bool, b byte) byte {
	if masked {
		return b | MaskBit
	}
	return b
}
