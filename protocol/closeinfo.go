// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package protocol

import "unicode/utf8"

// CloseInfo carries the status code and optional reason exchanged
// during the WebSocket closing handshake.
type CloseInfo struct {
	StatusCode uint16
	Reason     string
}

// NewCloseInfo constructs a CloseInfo, truncating reason to fit the
// 123-byte control-frame payload budget alongside the 2-byte code.
// Truncation backs off to the last full rune rather than cutting at a
// raw byte offset, since a UTF-8 rune split across the boundary would
// otherwise hand AsFrame an invalid-UTF-8 tail — exactly what a peer's
// own parser rejects on the receive side.
func NewCloseInfo(statusCode uint16, reason string) CloseInfo {
	if len(reason) > MaxControlPayloadLen-2 {
		reason = truncateUTF8(reason, MaxControlPayloadLen-2)
	}
	return CloseInfo{StatusCode: statusCode, Reason: reason}
}

// truncateUTF8 cuts s to at most n bytes, trimming back past any
// trailing rune left incomplete by the cut.
func truncateUTF8(s string, n int) string {
	b := s[:n]
	for len(b) > 0 {
		if r, size := utf8.DecodeLastRuneInString(b); !(r == utf8.RuneError && size == 1) {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}

// IsAbnormal reports whether this CloseInfo's status code is one of
// the driver's internal abnormal-termination markers. See
// IsAbnormalStatus for the exact set and the idle-timeout caveat.
func (c CloseInfo) IsAbnormal() bool {
	return IsAbnormalStatus(c.StatusCode)
}

// AsFrame materializes the standard CLOSE-frame payload: a two-byte
// big-endian status code followed by the UTF-8 reason.
func (c CloseInfo) AsFrame() *WSFrame {
	payload := make([]byte, 2+len(c.Reason))
	payload[0] = byte(c.StatusCode >> 8)
	payload[1] = byte(c.StatusCode)
	copy(payload[2:], c.Reason)
	return NewControlFrame(OpcodeClose, payload)
}
