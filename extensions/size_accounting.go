// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package extensions

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-wsdriver/api"
	"github.com/momentics/hioload-wsdriver/protocol"
)

// SizeAccounting enforces Policy.MaxMessageSize across a fragmented
// message's continuation frames, a check the frame-level parser
// cannot make on its own since it sees one wire frame at a time. It
// also tracks cumulative bytes seen in each direction for diagnostics.
type SizeAccounting struct {
	mu          sync.Mutex
	policy      api.Policy
	messageSize int64

	bytesIn  int64
	bytesOut int64
}

var _ Extension = (*SizeAccounting)(nil)

func NewSizeAccounting() *SizeAccounting {
	return &SizeAccounting{}
}

func (s *SizeAccounting) Name() string { return "size-accounting" }

func (s *SizeAccounting) SetPolicy(p api.Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

func (s *SizeAccounting) IncomingFrame(f api.Frame, cb api.FrameCallback, next NextIncoming) {
	atomic.AddInt64(&s.bytesIn, int64(len(f.Payload())))

	if f.Opcode() == protocol.OpcodePing || f.Opcode() == protocol.OpcodePong || f.Opcode() == protocol.OpcodeClose {
		next(f, cb)
		return
	}

	s.mu.Lock()
	s.messageSize += int64(len(f.Payload()))
	size := s.messageSize
	limit := s.policy.MaxMessageSize
	if f.Fin() {
		s.messageSize = 0
	}
	s.mu.Unlock()

	if limit > 0 && size > limit {
		cb.Fail(&protocol.CloseError{StatusCode: protocol.CloseMessageTooBig, Msg: "message exceeds configured size limit"})
		return
	}
	next(f, cb)
}

func (s *SizeAccounting) OutgoingFrame(f api.Frame, cb api.FrameCallback, mode api.BatchMode, next NextOutgoing) {
	atomic.AddInt64(&s.bytesOut, int64(len(f.Payload())))
	next(f, cb, mode)
}

// BytesTransferred returns cumulative inbound and outbound payload
// bytes observed by this extension instance.
func (s *SizeAccounting) BytesTransferred() (in, out int64) {
	return atomic.LoadInt64(&s.bytesIn), atomic.LoadInt64(&s.bytesOut)
}
