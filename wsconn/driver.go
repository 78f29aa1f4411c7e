// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wsconn

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-wsdriver/api"
	"github.com/momentics/hioload-wsdriver/extensions"
	"github.com/momentics/hioload-wsdriver/internal/concurrency"
	"github.com/momentics/hioload-wsdriver/iostate"
	"github.com/momentics/hioload-wsdriver/protocol"
	"github.com/momentics/hioload-wsdriver/session"
)

// FrameSink is the upward-facing delivery point for fully-decoded
// data frames (TEXT/BINARY/CONTINUATION). The session-level consumer
// must eventually call cb.Succeed() or cb.Fail(err), synchronously or
// from another goroutine — the driver's on_frame CAS handles both.
type FrameSink func(f api.Frame, cb api.FrameCallback)

// Driver is the C8 connection driver: it owns the IO state machine,
// read pump, and flusher, and wires parser/generator/extension-chain
// callbacks into their transitions. Grounded structurally on Jetty's
// AbstractWebSocketConnection, translated from class inheritance
// (AbstractConnection/LogicalConnection) to an owning struct per the
// composition design note.
type Driver struct {
	id     string
	policy api.Policy

	endpoint  api.Endpoint
	parser    api.Parser
	generator api.Generator
	chain     api.ExtensionChain

	flusher     *Flusher
	pump        *ReadPump
	machine     *iostate.Machine
	executor    api.Executor
	ownExecutor *concurrency.Executor

	sink   FrameSink
	logger *log.Logger
	ctx    *session.Context

	openOnce       sync.Once
	closeEnqueued  atomic.Bool
	outputShutdown atomic.Bool
	fullyClosed    atomic.Bool

	prefill []byte
}

var _ iostate.Listener = (*Driver)(nil)
var _ api.FrameHandler = (*Driver)(nil)

// NewDriver constructs a Driver. exts are applied in registration
// order for incoming frames and reverse order for outgoing frames; pass
// none for an identity pipeline. sink receives each data frame
// (TEXT/BINARY/CONTINUATION) after the full incoming chain; fragments
// are not reassembled into messages.
func NewDriver(policy api.Policy, endpoint api.Endpoint, bufPool api.BytePool, sink FrameSink, logger *log.Logger, exts ...extensions.Extension) *Driver {
	d := &Driver{
		policy:   policy,
		endpoint: endpoint,
		sink:     sink,
		logger:   logger,
		ctx:      session.NewContext(),
	}
	d.parser = protocol.NewParser(policy, bufPool)
	d.generator = protocol.NewGenerator(policy)
	d.machine = iostate.New()
	d.machine.AddListener(d)
	d.flusher = NewFlusher(endpoint, d.generator, policy, d.onFlusherFailure)
	d.chain = extensions.NewChain(d.deliverIncoming, d.flusher.Enqueue, exts...)
	d.pump = NewReadPump(endpoint, d.parser, bufPool, policy.InputBufferSize, d, d.onReadFailure, d.onParseError)
	d.pump.stopFn = func() bool { return d.machine.State() == iostate.Closed }
	d.id = ConnID(endpoint.LocalAddr(), endpoint.RemoteAddr())
	own := concurrency.NewExecutor(1)
	d.executor = own
	d.ownExecutor = own
	return d
}

// SetExecutor replaces the executor used to dispatch idle-timeout close
// initiation off the transport's timer goroutine. Must be called
// before SetMaxIdleTimeout; primarily useful for sharing one pool
// across many connections instead of the one-worker default. The
// driver never closes an injected executor — only the default one it
// created for itself.
func (d *Driver) SetExecutor(e api.Executor) {
	if d.ownExecutor != nil {
		d.ownExecutor.Close()
		d.ownExecutor = nil
	}
	d.executor = e
}

// ID returns this connection's immutable human-readable identity.
func (d *Driver) ID() string { return d.id }

// Policy returns the connection's configuration record.
func (d *Driver) Policy() api.Policy { return d.policy }

// IsOpen reports whether the connection is currently in the OPEN state.
func (d *Driver) IsOpen() bool { return d.machine.State() == iostate.Open }

// Context returns this connection's per-connection key/value store,
// which carries the final close code/reason once the connection
// reaches CLOSED.
func (d *Driver) Context() *session.Context { return d.ctx }

// OnUpgradeTo installs bytes the upgrade layer already drained from the
// transport. Must be called before Open.
func (d *Driver) OnUpgradeTo(prefilled []byte) {
	d.prefill = prefilled
}

// Open transitions CONNECTING -> OPEN. Must be called exactly once;
// subsequent calls are no-ops.
func (d *Driver) Open() {
	d.openOnce.Do(func() {
		d.chain.SetPolicy(d.policy)
		d.machine.OnOpened()
		// The pump starts once the OPEN notification has returned: frames
		// it parses (a prefilled CLOSE, a protocol error, EOF) raise
		// further state-machine events, which must not happen while the
		// machine is still notifying listeners.
		d.pump.SetPrefill(d.prefill)
		d.pump.OnReadable()
	})
}

// Close initiates a local close with status NORMAL_CLOSURE.
func (d *Driver) Close() {
	d.CloseWithStatus(protocol.CloseNormalClosure, "")
}

// CloseWithStatus initiates a local close carrying the given status
// and reason. Idempotent: only the first call across the connection's
// lifetime (including internally-triggered replies) enqueues a CLOSE
// frame.
func (d *Driver) CloseWithStatus(code uint16, reason string) {
	if !d.closeEnqueued.CompareAndSwap(false, true) {
		return
	}
	ci := protocol.NewCloseInfo(code, reason)
	d.OutgoingFrame(ci.AsFrame(), &localCloseCallback{driver: d, info: ci}, api.BatchOff)
}

// Disconnect forces transport teardown without a close handshake.
// Idempotent.
func (d *Driver) Disconnect() error {
	return d.fullDisconnect()
}

// OutgoingFrame routes f through the extension chain's outgoing
// direction into the flusher.
func (d *Driver) OutgoingFrame(f api.Frame, cb api.FrameCallback, mode api.BatchMode) {
	d.chain.OutgoingFrame(f, cb, mode)
}

// Suspend halts the read pump; the returned handle's Resume
// re-arms it.
func (d *Driver) Suspend() *Suspension { return d.pump.Suspend() }

// SetInputBufferSize validates n and, if valid, applies it to future
// buffer acquisitions.
func (d *Driver) SetInputBufferSize(n int) error {
	if n < protocol.MinBufferSize {
		return api.NewError(api.ErrCodeInvalidArgument, "input buffer size below minimum").
			WithContext("min", protocol.MinBufferSize).
			WithContext("requested", n)
	}
	d.pump.SetInputBufferSize(n)
	return nil
}

// SetMaxIdleTimeout forwards a non-negative duration to the transport.
// The fired callback is dispatched through the driver's executor
// rather than run directly on the transport's timer goroutine, so the
// close-initiation path always executes off the endpoint's own
// callback stack.
func (d *Driver) SetMaxIdleTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "idle timeout must be non-negative")
	}
	d.endpoint.SetIdleTimeout(timeout, func() {
		if err := d.executor.Submit(d.onReadTimeout); err != nil {
			d.onReadTimeout()
		}
	})
	return nil
}

// OnFrame implements api.FrameHandler; it is called synchronously by
// the parser for each complete wire frame.
func (d *Driver) OnFrame(f api.Frame) bool {
	switch f.Opcode() {
	case protocol.OpcodeClose:
		code, reason, _ := f.CloseInfo()
		d.machine.OnCloseRemote(protocol.NewCloseInfo(code, reason))
		d.parser.Release(f)
		return true
	case protocol.OpcodePing:
		payload := append([]byte(nil), f.Payload()...)
		d.parser.Release(f)
		d.OutgoingFrame(protocol.NewControlFrame(protocol.OpcodePong, payload), discardCallback{d}, api.BatchOff)
		return true
	case protocol.OpcodePong:
		d.parser.Release(f)
		return true
	default:
		return d.dispatchToChain(f)
	}
}

// dispatchToChain implements the synchronous/asynchronous completion
// race: whichever of "the chain call returns" and "the completion
// callback fires" happens second is responsible for resuming the
// parser, via a single-shot atomic flag.
func (d *Driver) dispatchToChain(f api.Frame) bool {
	cb := &frameCompletionCallback{driver: d, frame: f}
	d.chain.IncomingFrame(f, cb)
	if cb.done.CompareAndSwap(false, true) {
		return false
	}
	return true
}

func (d *Driver) deliverIncoming(f api.Frame, cb api.FrameCallback) {
	d.sink(f, cb)
}

// OnStateChange implements iostate.Listener.
func (d *Driver) OnStateChange(new iostate.ConnectionState) {
	switch new {
	case iostate.Open:
		// The read pump is started by Open after this notification.
	case iostate.Closing:
		if d.machine.WasRemoteCloseInitiated() && !d.machine.WasLocalCloseInitiated() {
			if d.closeEnqueued.CompareAndSwap(false, true) {
				ci, _ := d.machine.CloseInfo()
				cb := &localCloseCallback{driver: d, info: ci, skipLocalSignal: true, next: func(error) { d.shutdownOutputOnly() }}
				d.OutgoingFrame(ci.AsFrame(), cb, api.BatchOff)
			}
		}
	case iostate.Closed:
		if d.machine.WasAbnormalClose() {
			if d.closeEnqueued.CompareAndSwap(false, true) {
				ci := protocol.NewCloseInfo(protocol.CloseShutdown, "")
				cb := &localCloseCallback{driver: d, info: ci, next: func(error) { d.fullDisconnect() }}
				d.OutgoingFrame(ci.AsFrame(), cb, api.BatchOff)
			} else {
				d.fullDisconnect()
			}
		} else {
			d.fullDisconnect()
		}
	}
}

func (d *Driver) onReadFailure(err error) {
	// An EOF arriving after we've already recorded the peer's CLOSE and
	// shut down our output is the expected completion of the closing
	// handshake, not a failure — route it through OnDisconnected so the
	// terminal transition is not misclassified as abnormal.
	if err == ErrTransportEOF && d.machine.WasRemoteCloseInitiated() {
		d.machine.OnDisconnected()
		return
	}
	d.machine.OnReadFailure(err)
}

func (d *Driver) onParseError(err error) {
	switch e := err.(type) {
	case *protocol.ProtocolError:
		d.CloseWithStatus(protocol.CloseProtocolError, e.Msg)
	case *protocol.CloseError:
		d.CloseWithStatus(e.StatusCode, e.Msg)
	default:
		d.CloseWithStatus(protocol.CloseAbnormal, err.Error())
	}
}

func (d *Driver) onReadTimeout() {
	if d.machine.State() == iostate.Closed {
		return
	}
	d.CloseWithStatus(protocol.CloseShutdown, "Idle Timeout")
}

// onFlusherFailure is the flusher's error handler: forwarded to the
// state machine's write-failure path unless the connection already
// observed an abnormal close, in which case it is logged and
// suppressed to avoid a notification cycle.
func (d *Driver) onFlusherFailure(err error) {
	if d.machine.WasAbnormalClose() {
		if d.logger != nil {
			d.logger.Printf("wsconn: %s: flush failure after abnormal close: %v", d.id, err)
		}
		return
	}
	d.machine.OnWriteFailure(err)
}

func (d *Driver) shutdownOutputOnly() error {
	if !d.outputShutdown.CompareAndSwap(false, true) {
		return nil
	}
	return d.endpoint.ShutdownOutput()
}

func (d *Driver) fullDisconnect() error {
	if !d.fullyClosed.CompareAndSwap(false, true) {
		return nil
	}
	if ci, ok := d.machine.CloseInfo(); ok {
		d.ctx.Set(session.KeyCloseCode, ci.StatusCode)
		d.ctx.Set(session.KeyCloseReason, ci.Reason)
	}
	if err := d.machine.IOFailure(); err != nil {
		d.ctx.Set(session.KeyReadError, err)
	}
	d.flusher.Close()
	_ = d.shutdownOutputOnly()
	err := d.endpoint.Close()
	if d.ownExecutor != nil {
		_ = d.ownExecutor.Close()
	}
	return err
}

// localCloseCallback realizes the source's OnCloseLocalCallback: it
// signals the state machine on completion (OnCloseLocal on success,
// OnWriteFailure on failure — a write failure during the close-frame
// send is the genuine abnormal-path trigger, not the close's own
// status code) and then runs an optional continuation.
//
// skipLocalSignal is set only for the CLOSING-remote-initiated reply:
// the peer's CLOSE already drove the state machine via OnCloseRemote,
// so the reply completing must not additionally invoke OnCloseLocal —
// doing so would force an immediate CLOSED transition and skip the
// output-only shutdown the reaction calls for. The eventual CLOSED
// transition instead arrives later, when the pump observes the
// peer's half-close (see Driver.onReadFailure).
type localCloseCallback struct {
	driver          *Driver
	info            protocol.CloseInfo
	skipLocalSignal bool
	next            func(error)
}

func (c *localCloseCallback) Succeed() {
	if !c.skipLocalSignal {
		c.driver.machine.OnCloseLocal(c.info)
	}
	if c.next != nil {
		c.next(nil)
	}
}

func (c *localCloseCallback) Fail(err error) {
	c.driver.machine.OnWriteFailure(err)
	if c.next != nil {
		c.next(err)
	}
}

// frameCompletionCallback is the per-on_frame completion handle
// implementing the single-shot CAS race described on
// Driver.dispatchToChain.
type frameCompletionCallback struct {
	driver *Driver
	frame  api.Frame
	done   atomic.Bool
}

func (c *frameCompletionCallback) Succeed() {
	c.driver.parser.Release(c.frame)
	if !c.done.CompareAndSwap(false, true) {
		c.driver.pump.ResumeAfterDeferral()
	}
}

func (c *frameCompletionCallback) Fail(err error) {
	c.driver.parser.Release(c.frame)
	first := c.done.CompareAndSwap(false, true)
	c.driver.onParseError(err)
	if !first {
		c.driver.pump.ResumeAfterDeferral()
	}
}

// discardCallback silently logs failures of driver-originated control
// frames (PONG replies) that the application never observes.
type discardCallback struct{ driver *Driver }

func (discardCallback) Succeed() {}

func (c discardCallback) Fail(err error) {
	if c.driver.logger != nil {
		c.driver.logger.Printf("wsconn: %s: control frame send failed: %v", c.driver.id, err)
	}
}
