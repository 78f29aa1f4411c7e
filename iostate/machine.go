// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package iostate holds the authoritative WebSocket connection state
// machine: CONNECTING -> OPEN -> CLOSING -> CLOSED, monotone except for
// the abnormal-close shortcut that may skip CLOSING entirely. Grounded
// on Jetty's IOState/ConnectionStateListener pair as used throughout
// AbstractWebSocketConnection.java (onOpened, onCloseLocal,
// onCloseRemote, onAbnormalClose, onReadFailure/onWriteFailure,
// onDisconnected, wasAbnormalClose, wasRemoteCloseInitiated) — that
// source file does not itself define the IOState class body, so the
// guard/effect table here is the one this driver actually implements.
package iostate

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-wsdriver/protocol"
)

// ConnectionState is the connection's coarse lifecycle phase.
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Open
	Closing
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Listener observes state transitions. OnStateChange is called exactly
// once per transition, in registration order, with the new state.
// Implementations must not call back into any of Machine's mutating
// methods synchronously from within OnStateChange: a change of state
// raised while notification is in progress makes the Machine panic.
type Listener interface {
	OnStateChange(new ConnectionState)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(ConnectionState)

func (f ListenerFunc) OnStateChange(s ConnectionState) { f(s) }

// Machine is the connection's IO state machine. The zero value is not
// usable; construct with New.
//
// local close and remote close do not, by themselves, route through
// IsAbnormal: OnCloseLocal/OnCloseRemote never consult CloseInfo's
// abnormal predicate, so a deliberately-initiated close carrying
// status SHUTDOWN (idle timeout) transitions through CLOSING exactly
// like any other locally-initiated close. Only OnAbnormalClose and the
// read/write-failure paths that call it bypass CLOSING.
type Machine struct {
	mu sync.Mutex

	state                  ConnectionState
	closeInfo              *protocol.CloseInfo
	localCloseInitiated    bool
	remoteCloseInitiated   bool
	abnormal               bool
	ioFailure              error

	listeners []Listener
	notifying atomic.Bool
}

// New constructs a Machine in the CONNECTING state.
func New() *Machine {
	return &Machine{state: Connecting}
}

// AddListener registers l to observe future transitions. Not safe to
// call concurrently with transitions; listeners are normally
// registered once at construction time.
func (m *Machine) AddListener(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// OnOpened implements the CONNECTING -> OPEN transition.
func (m *Machine) OnOpened() {
	m.transition(func() (ConnectionState, bool) {
		if m.state != Connecting {
			return m.state, false
		}
		m.state = Open
		return m.state, true
	})
}

// OnCloseLocal records a locally-initiated close.
func (m *Machine) OnCloseLocal(ci protocol.CloseInfo) {
	m.onClose(ci, &m.localCloseInitiated, &m.remoteCloseInitiated)
}

// OnCloseRemote records a remote-initiated close.
func (m *Machine) OnCloseRemote(ci protocol.CloseInfo) {
	m.onClose(ci, &m.remoteCloseInitiated, &m.localCloseInitiated)
}

func (m *Machine) onClose(ci protocol.CloseInfo, mine, other *bool) {
	m.transition(func() (ConnectionState, bool) {
		if m.state != Open && m.state != Closing {
			return m.state, false
		}
		*mine = true
		if m.closeInfo == nil {
			m.closeInfo = &ci
		}
		switch {
		case m.state == Open:
			m.state = Closing
			return m.state, true
		case m.state == Closing && *other:
			m.state = Closed
			return m.state, true
		default:
			return m.state, false
		}
	})
}

// OnAbnormalClose jumps directly to CLOSED, bypassing CLOSING.
func (m *Machine) OnAbnormalClose(ci protocol.CloseInfo) {
	m.transition(func() (ConnectionState, bool) {
		if m.state == Closed {
			return m.state, false
		}
		m.closeInfo = &ci
		m.abnormal = true
		m.state = Closed
		return m.state, true
	})
}

// OnReadFailure synthesizes an abnormal close from a transport read
// error and applies it as OnAbnormalClose.
func (m *Machine) OnReadFailure(err error) {
	m.onIOFailure(err)
}

// OnWriteFailure synthesizes an abnormal close from a transport write
// error and applies it as OnAbnormalClose.
func (m *Machine) OnWriteFailure(err error) {
	m.onIOFailure(err)
}

func (m *Machine) onIOFailure(err error) {
	m.mu.Lock()
	m.ioFailure = err
	m.mu.Unlock()
	m.OnAbnormalClose(protocol.NewCloseInfo(protocol.CloseAbnormal, err.Error()))
}

// OnDisconnected forces CLOSED; it is always accepted, but notifies
// only if the state actually changes.
func (m *Machine) OnDisconnected() {
	m.transition(func() (ConnectionState, bool) {
		if m.state == Closed {
			return m.state, false
		}
		m.state = Closed
		return m.state, true
	})
}

// transition runs fn with the state lock held, then — if fn reports a
// change — notifies listeners with the lock released.
func (m *Machine) transition(fn func() (ConnectionState, bool)) {
	m.mu.Lock()
	newState, changed := fn()
	m.mu.Unlock()
	if changed {
		m.notify(newState)
	}
}

func (m *Machine) notify(s ConnectionState) {
	if !m.notifying.CompareAndSwap(false, true) {
		panic("iostate: reentrant notification — a listener called back into a state-mutating event")
	}
	defer m.notifying.Store(false)

	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(s)
	}
}

// State returns the current connection state.
func (m *Machine) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CloseInfo returns the recorded close info, if any.
func (m *Machine) CloseInfo() (protocol.CloseInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeInfo == nil {
		return protocol.CloseInfo{}, false
	}
	return *m.closeInfo, true
}

// WasAbnormalClose reports whether the terminal transition was abnormal.
func (m *Machine) WasAbnormalClose() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abnormal
}

// WasRemoteCloseInitiated reports whether the peer sent the first
// CLOSE frame.
func (m *Machine) WasRemoteCloseInitiated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteCloseInitiated
}

// WasLocalCloseInitiated reports whether this side sent the first
// CLOSE frame.
func (m *Machine) WasLocalCloseInitiated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localCloseInitiated
}

// IOFailure returns the error, if any, that triggered a read/write
// failure transition.
func (m *Machine) IOFailure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ioFailure
}
