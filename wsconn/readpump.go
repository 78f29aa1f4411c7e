// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wsconn

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-wsdriver/api"
)

// ErrTransportEOF is reported to OnReadFailure when the endpoint's
// Fill signals EOF (a negative return).
var ErrTransportEOF = errors.New("wsconn: transport EOF")

// ReadPump is the C6 read loop: it owns a single network buffer,
// drains the endpoint through the parser, and re-arms read-readiness
// when the endpoint yields no data. At most one pump loop runs at a
// time, serialized by runMu.
type ReadPump struct {
	endpoint api.Endpoint
	parser   api.Parser
	bufPool  api.BytePool
	handler  api.FrameHandler

	onReadFailure func(error)
	onParseError  func(error)

	inputSize int

	runMu sync.Mutex

	netBuf   []byte
	validLen int

	prefill         []byte
	prefillConsumed bool

	suspended atomic.Bool

	// stopFn, when set, is checked alongside suspended at the top of
	// each loop iteration; it lets the driver halt the pump once the
	// connection has reached CLOSED without an extra Fill call, e.g.
	// when a prefill buffer's final frame drives the state machine
	// straight to CLOSED.
	stopFn func() bool
}

// NewReadPump constructs a ReadPump. handler is invoked synchronously
// for each parsed frame and must return the parser's continue/stop
// convention (true = continue, false = pause).
func NewReadPump(endpoint api.Endpoint, parser api.Parser, bufPool api.BytePool, inputSize int, handler api.FrameHandler, onReadFailure, onParseError func(error)) *ReadPump {
	return &ReadPump{
		endpoint:      endpoint,
		parser:        parser,
		bufPool:       bufPool,
		handler:       handler,
		onReadFailure: onReadFailure,
		onParseError:  onParseError,
		inputSize:     inputSize,
	}
}

// SetPrefill installs bytes the upgrade layer already consumed from
// the transport. Consumed at most once, on the first pump iteration.
func (p *ReadPump) SetPrefill(buf []byte) {
	p.prefill = buf
}

// SetInputBufferSize changes the buffer size used for future
// acquisitions. It does not affect a buffer already held.
func (p *ReadPump) SetInputBufferSize(n int) {
	p.inputSize = n
}

// OnReadable is the transport's readability callback.
func (p *ReadPump) OnReadable() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	p.run()
}

// Suspension is the idempotent handle returned by Suspend.
type Suspension struct {
	once sync.Once
	pump *ReadPump
}

// Resume clears the suspend token and re-enters the pump loop.
// Idempotent and safe to call from any goroutine.
func (s *Suspension) Resume() {
	s.once.Do(func() {
		s.pump.suspended.Store(false)
		s.pump.runMu.Lock()
		defer s.pump.runMu.Unlock()
		s.pump.run()
	})
}

// Suspend halts the pump loop until the returned handle's Resume is
// called.
func (p *ReadPump) Suspend() *Suspension {
	p.suspended.Store(true)
	return &Suspension{pump: p}
}

// ResumeAfterDeferral re-enters the pump loop after a frame
// completion callback fires, continuing to parse whatever remainder
// bytes are still held in the network buffer. Distinct from
// Suspension.Resume, which clears the suspend token; this is called by
// the driver when on_frame's deferred completion finishes.
func (p *ReadPump) ResumeAfterDeferral() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	p.run()
}

// run executes the pump loop until one of the documented exit
// conditions. Caller must hold runMu.
func (p *ReadPump) run() {
	for {
		if p.suspended.Load() {
			return
		}
		if p.stopFn != nil && p.stopFn() {
			p.release()
			return
		}

		if p.netBuf == nil {
			p.netBuf = p.bufPool.Acquire(p.inputSize)
			p.validLen = 0
		}

		skipFill := false
		if !p.prefillConsumed {
			p.prefillConsumed = true
			if len(p.prefill) > 0 {
				if len(p.prefill) > len(p.netBuf) {
					// The upgrade layer buffered more than one
					// input-buffer's worth of bytes ahead of the
					// handshake boundary; grow to fit instead of
					// silently dropping the excess.
					p.bufPool.Release(p.netBuf)
					p.netBuf = p.bufPool.Acquire(len(p.prefill))
				}
				n := copy(p.netBuf, p.prefill)
				p.validLen = n
				p.prefill = nil
				skipFill = true
			}
		}

		if !skipFill {
			n, err := p.endpoint.Fill(p.netBuf[p.validLen:])
			if err != nil {
				p.release()
				p.onReadFailure(err)
				return
			}
			switch {
			case n < 0:
				p.release()
				p.onReadFailure(ErrTransportEOF)
				return
			case n == 0:
				// A non-blocking endpoint legitimately returns (0, nil)
				// on EAGAIN mid-frame (see transport's epoll-based
				// Endpoint). Only release the buffer back to the pool
				// when nothing parsed so far is still pending in it —
				// otherwise the next OnReadable would reacquire a fresh
				// buffer and fill at offset 0, losing the already-read
				// prefix of a frame still in flight.
				if p.validLen == 0 {
					p.release()
				}
				p.endpoint.FillInterested(p.OnReadable)
				return
			}
			p.validLen += n
		}

		consumed, cont, perr := p.parser.Parse(p.netBuf[:p.validLen], p.handler)
		if perr != nil {
			p.release()
			p.onParseError(perr)
			return
		}

		remainder := p.validLen - consumed
		if remainder > 0 && consumed > 0 {
			copy(p.netBuf[:remainder], p.netBuf[consumed:p.validLen])
		}
		p.validLen = remainder

		if !cont {
			return
		}
	}
}

func (p *ReadPump) release() {
	if p.netBuf != nil {
		p.bufPool.Release(p.netBuf)
		p.netBuf = nil
		p.validLen = 0
	}
}
