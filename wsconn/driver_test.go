package wsconn_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/momentics/hioload-wsdriver/api"
	"github.com/momentics/hioload-wsdriver/extensions"
	"github.com/momentics/hioload-wsdriver/protocol"
	"github.com/momentics/hioload-wsdriver/wsconn"
)

func newTestDriver(ep *fakeEndpoint, sink wsconn.FrameSink) *wsconn.Driver {
	policy := api.DefaultPolicy(api.BehaviorServer)
	if sink == nil {
		sink = func(f api.Frame, cb api.FrameCallback) { cb.Succeed() }
	}
	return wsconn.NewDriver(policy, ep, fakeBytePool{}, sink, nil, extensions.Passthrough{})
}

// encodeServerWireFrame builds the bytes a client peer would send to the
// server-role driver under test — masked, per RFC 6455 §5.3, since only
// the server-role Parser's mask-mismatch check (see protocol/codec.go)
// would otherwise reject these frames outright.
func encodeServerWireFrame(t *testing.T, opcode byte, payload []byte) []byte {
	t.Helper()
	gen := protocol.NewGenerator(api.DefaultPolicy(api.BehaviorClient))
	f := protocol.NewDataFrame(opcode, append([]byte(nil), payload...))
	hdr, err := gen.HeaderBytes(f)
	if err != nil {
		t.Fatalf("HeaderBytes: %v", err)
	}
	masked := append([]byte(nil), f.Payload()...)
	if len(hdr) >= 4 {
		var key [4]byte
		copy(key[:], hdr[len(hdr)-4:])
		protocol.MaskPayload(masked, key)
	}
	return append(append([]byte(nil), hdr...), masked...)
}

func lastCloseStatus(t *testing.T, writes [][]byte) uint16 {
	t.Helper()
	if len(writes) < 2 {
		t.Fatalf("expected at least a header+payload write pair, got %d writes", len(writes))
	}
	payload := writes[len(writes)-1]
	if len(payload) < 2 {
		t.Fatalf("close payload too short: %v", payload)
	}
	return binary.BigEndian.Uint16(payload[:2])
}

func TestS1CleanLocalClose(t *testing.T) {
	ep := newFakeEndpoint()
	d := newTestDriver(ep, nil)
	d.Open()

	d.CloseWithStatus(protocol.CloseNormalClosure, "bye")
	if ep.writeCount() == 0 {
		t.Fatal("expected the CLOSE frame to be written")
	}
	if lastCloseStatus(t, ep.lastWrites()) != protocol.CloseNormalClosure {
		t.Fatalf("status = %d, want %d", lastCloseStatus(t, ep.lastWrites()), protocol.CloseNormalClosure)
	}

	// Peer replies with its own CLOSE; driver should reach CLOSED and
	// fully disconnect the transport.
	ep.queueChunk(encodeServerWireFrame(t, protocol.OpcodeClose, append([]byte{0x03, 0xE8}, []byte("bye")...)))
	ep.queueEOF()
	d.Suspend().Resume() // re-enter the pump to drain the queued peer reply

	if d.IsOpen() {
		t.Fatal("IsOpen() = true after the close handshake completed")
	}
	if !ep.isClosed() {
		t.Fatal("transport was not fully closed")
	}
}

func TestS2RemoteInitiatedClose(t *testing.T) {
	ep := newFakeEndpoint()
	ep.queueChunk(encodeServerWireFrame(t, protocol.OpcodeClose, append([]byte{0x03, 0xE9}, []byte("going away")...)))

	d := newTestDriver(ep, nil)
	d.Open()

	if ep.writeCount() == 0 {
		t.Fatal("expected a CLOSE reply to be written")
	}
	if !ep.isOutputShutdown() {
		t.Fatal("expected output to be shut down after the reply flush")
	}
	if ep.isClosed() {
		t.Fatal("transport should not be fully closed yet — only output shutdown, per the inbound-close reaction")
	}
}

func TestS3ProtocolErrorClosesWith1002(t *testing.T) {
	ep := newFakeEndpoint()
	// FIN + RSV1 set, opcode TEXT, zero-length unmasked payload: reserved bits set.
	ep.queueChunk([]byte{0xC1, 0x00})
	ep.queueEOF()

	d := newTestDriver(ep, nil)
	d.Open()

	if ep.writeCount() == 0 {
		t.Fatal("expected a CLOSE frame after the protocol violation")
	}
	if got := lastCloseStatus(t, ep.lastWrites()); got != protocol.CloseProtocolError {
		t.Fatalf("status = %d, want %d", got, protocol.CloseProtocolError)
	}
}

func TestS5WriteFailureDuringClose(t *testing.T) {
	ep := newFakeEndpoint()
	d := newTestDriver(ep, nil)
	d.Open()

	ep.flushErr = errFakeFlush
	d.CloseWithStatus(protocol.CloseNormalClosure, "bye")

	if d.IsOpen() {
		t.Fatal("IsOpen() = true after a write failure during close")
	}
	if !ep.isClosed() {
		t.Fatal("expected disconnect() to run after the write failure")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ep := newFakeEndpoint()
	d := newTestDriver(ep, nil)
	d.Open()

	d.Close()
	before := ep.writeCount()
	d.Close()
	d.CloseWithStatus(protocol.CloseProtocolError, "ignored")
	after := ep.writeCount()

	if before != after {
		t.Fatalf("writeCount changed from %d to %d across repeat close() calls", before, after)
	}
}

func TestSuspendBlocksFurtherParsing(t *testing.T) {
	ep := newFakeEndpoint()
	ep.queueChunk(encodeServerWireFrame(t, protocol.OpcodeText, []byte("a")))
	ep.queueEOF()

	var delivered int
	d := newTestDriver(ep, func(f api.Frame, cb api.FrameCallback) {
		delivered++
		cb.Succeed()
	})

	s := d.Suspend()
	d.Open()

	if delivered != 0 {
		t.Fatalf("delivered = %d while suspended, want 0", delivered)
	}

	s.Resume()
	if delivered != 1 {
		t.Fatalf("delivered = %d after resume, want 1", delivered)
	}
}

func TestSetInputBufferSizeRejectsBelowMinimum(t *testing.T) {
	ep := newFakeEndpoint()
	d := newTestDriver(ep, nil)

	if err := d.SetInputBufferSize(protocol.MinBufferSize - 1); err == nil {
		t.Fatal("expected an error for a too-small input buffer size")
	}
	if err := d.SetInputBufferSize(protocol.MinBufferSize); err != nil {
		t.Fatalf("SetInputBufferSize(MIN) failed: %v", err)
	}
}

func TestPrefillDeliversBufferedCloseFrame(t *testing.T) {
	ep := newFakeEndpoint()
	d := newTestDriver(ep, nil)

	// Simulate an upgrade layer that already drained a complete CLOSE
	// frame off the wire ahead of handing the connection to the driver.
	d.OnUpgradeTo(encodeServerWireFrame(t, protocol.OpcodeClose, append([]byte{0x03, 0xE9}, []byte("bye")...)))
	d.Open()

	if ep.writeCount() == 0 {
		t.Fatal("expected a CLOSE reply to be written from the prefilled frame")
	}
	if !ep.isOutputShutdown() {
		t.Fatal("expected output to be shut down after replying to the prefilled CLOSE")
	}
}

func TestPrefillLargerThanInputBufferIsNotTruncated(t *testing.T) {
	ep := newFakeEndpoint()
	ep.queueEOF()

	var got []byte
	d := newTestDriver(ep, func(f api.Frame, cb api.FrameCallback) {
		got = append([]byte(nil), f.Payload()...)
		cb.Succeed()
	})

	if err := d.SetInputBufferSize(protocol.MinBufferSize); err != nil {
		t.Fatalf("SetInputBufferSize: %v", err)
	}

	payload := make([]byte, protocol.MinBufferSize*4)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	d.OnUpgradeTo(encodeServerWireFrame(t, protocol.OpcodeBinary, payload))
	d.Open()

	if len(got) != len(payload) {
		t.Fatalf("delivered payload len = %d, want %d (a prefill larger than the input buffer must not be truncated)", len(got), len(payload))
	}
	if string(got) != string(payload) {
		t.Fatal("delivered payload bytes do not match the prefilled frame")
	}
}

// syncExecutor runs submitted tasks inline, so a test can observe the
// effects of the driver's idle-timeout callback without racing a real
// worker goroutine.
type syncExecutor struct{}

func (syncExecutor) Submit(task func()) error {
	task()
	return nil
}

func TestIdleTimeoutInitiatesShutdownClose(t *testing.T) {
	ep := newFakeEndpoint()
	d := newTestDriver(ep, nil)
	d.SetExecutor(syncExecutor{})
	d.Open()
	_ = d.SetMaxIdleTimeout(50 * time.Millisecond)

	// Drive the real callback chain the transport would invoke on
	// expiry, through Driver.onReadTimeout, rather than calling
	// CloseWithStatus directly.
	ep.fireIdleTimeout()

	if got := lastCloseStatus(t, ep.lastWrites()); got != protocol.CloseShutdown {
		t.Fatalf("status = %d, want %d", got, protocol.CloseShutdown)
	}

	// Drive the connection the rest of the way to CLOSED: the peer
	// replies to our idle-timeout CLOSE and hangs up.
	ep.queueChunk(encodeServerWireFrame(t, protocol.OpcodeClose, append([]byte{0x03, 0xE8}, []byte("bye")...)))
	ep.queueEOF()
	d.Suspend().Resume()

	if d.IsOpen() || !ep.isClosed() {
		t.Fatal("expected the connection to reach CLOSED before the second idle timeout fires")
	}

	writesBeforeSecondFire := ep.writeCount()
	// A second timeout firing after the connection has already closed
	// must be absorbed: state is CLOSED, so onReadTimeout is a no-op.
	ep.fireIdleTimeout()
	if ep.writeCount() != writesBeforeSecondFire {
		t.Fatalf("writeCount changed from %d to %d on a post-CLOSED idle timeout; want absorbed", writesBeforeSecondFire, ep.writeCount())
	}
}
