package iostate_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-wsdriver/iostate"
	"github.com/momentics/hioload-wsdriver/protocol"
)

func recorder() (*[]iostate.ConnectionState, iostate.Listener) {
	var got []iostate.ConnectionState
	return &got, iostate.ListenerFunc(func(s iostate.ConnectionState) {
		got = append(got, s)
	})
}

func TestOpenTransitionsConnectingToOpen(t *testing.T) {
	m := iostate.New()
	seen, l := recorder()
	m.AddListener(l)

	m.OnOpened()
	if m.State() != iostate.Open {
		t.Fatalf("state = %v, want OPEN", m.State())
	}
	if len(*seen) != 1 || (*seen)[0] != iostate.Open {
		t.Fatalf("listener saw %v, want [OPEN]", *seen)
	}
}

func TestOnOpenedIsIdempotent(t *testing.T) {
	m := iostate.New()
	seen, l := recorder()
	m.AddListener(l)

	m.OnOpened()
	m.OnOpened()
	m.OnOpened()
	if len(*seen) != 1 {
		t.Fatalf("listener fired %d times, want 1", len(*seen))
	}
}

func TestLocalCloseThenRemoteCloseReachesClosed(t *testing.T) {
	m := iostate.New()
	m.OnOpened()
	seen, l := recorder()
	m.AddListener(l)

	m.OnCloseLocal(protocol.NewCloseInfo(protocol.CloseNormalClosure, "bye"))
	if m.State() != iostate.Closing {
		t.Fatalf("state = %v, want CLOSING", m.State())
	}
	if !m.WasLocalCloseInitiated() {
		t.Fatal("WasLocalCloseInitiated = false")
	}

	m.OnCloseRemote(protocol.NewCloseInfo(protocol.CloseNormalClosure, "bye"))
	if m.State() != iostate.Closed {
		t.Fatalf("state = %v, want CLOSED", m.State())
	}
	want := []iostate.ConnectionState{iostate.Closing, iostate.Closed}
	if len(*seen) != 2 || (*seen)[0] != want[0] || (*seen)[1] != want[1] {
		t.Fatalf("listener saw %v, want %v", *seen, want)
	}
}

func TestRemoteCloseInitiatedRecorded(t *testing.T) {
	m := iostate.New()
	m.OnOpened()

	m.OnCloseRemote(protocol.NewCloseInfo(protocol.CloseShutdown, "going away"))
	if m.State() != iostate.Closing {
		t.Fatalf("state = %v, want CLOSING", m.State())
	}
	if !m.WasRemoteCloseInitiated() {
		t.Fatal("WasRemoteCloseInitiated = false")
	}

	ci, ok := m.CloseInfo()
	if !ok || ci.StatusCode != protocol.CloseShutdown {
		t.Fatalf("CloseInfo = %+v, %v", ci, ok)
	}
}

func TestCloseInfoFirstWins(t *testing.T) {
	m := iostate.New()
	m.OnOpened()

	m.OnCloseLocal(protocol.NewCloseInfo(protocol.CloseNormalClosure, "first"))
	m.OnCloseRemote(protocol.NewCloseInfo(protocol.CloseProtocolError, "second"))

	ci, ok := m.CloseInfo()
	if !ok || ci.StatusCode != protocol.CloseNormalClosure || ci.Reason != "first" {
		t.Fatalf("CloseInfo = %+v, want the first-recorded value", ci)
	}
}

func TestAbnormalCloseSkipsClosing(t *testing.T) {
	m := iostate.New()
	m.OnOpened()
	seen, l := recorder()
	m.AddListener(l)

	m.OnAbnormalClose(protocol.NewCloseInfo(protocol.CloseAbnormal, "boom"))
	if m.State() != iostate.Closed {
		t.Fatalf("state = %v, want CLOSED", m.State())
	}
	if !m.WasAbnormalClose() {
		t.Fatal("WasAbnormalClose = false")
	}
	if len(*seen) != 1 || (*seen)[0] != iostate.Closed {
		t.Fatalf("listener saw %v, want a single CLOSED transition (CLOSING skipped)", *seen)
	}
}

func TestReadFailureProducesAbnormalClose(t *testing.T) {
	m := iostate.New()
	m.OnOpened()

	m.OnReadFailure(errors.New("connection reset"))
	if m.State() != iostate.Closed {
		t.Fatalf("state = %v, want CLOSED", m.State())
	}
	if !m.WasAbnormalClose() {
		t.Fatal("WasAbnormalClose = false")
	}
	if m.IOFailure() == nil {
		t.Fatal("IOFailure() = nil")
	}
}

func TestOnDisconnectedNotifiesOnlyOnChange(t *testing.T) {
	m := iostate.New()
	m.OnOpened()
	m.OnAbnormalClose(protocol.NewCloseInfo(protocol.CloseAbnormal, "boom"))

	seen, l := recorder()
	m.AddListener(l)
	m.OnDisconnected()

	if len(*seen) != 0 {
		t.Fatalf("listener fired %d times on a no-op disconnect, want 0", len(*seen))
	}
}

func TestReentrantNotificationPanics(t *testing.T) {
	m := iostate.New()
	m.AddListener(iostate.ListenerFunc(func(s iostate.ConnectionState) {
		// Reentering notify() synchronously from within a listener.
		m.OnCloseLocal(protocol.NewCloseInfo(protocol.CloseNormalClosure, ""))
	}))

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic for reentrant notification")
		}
	}()
	m.OnOpened()
	m.OnCloseLocal(protocol.NewCloseInfo(protocol.CloseNormalClosure, ""))
}

func TestStateOrderingIsMonotone(t *testing.T) {
	order := map[iostate.ConnectionState]int{
		iostate.Connecting: 0,
		iostate.Open:       1,
		iostate.Closing:    2,
		iostate.Closed:     3,
	}
	m := iostate.New()
	var last int
	m.AddListener(iostate.ListenerFunc(func(s iostate.ConnectionState) {
		if order[s] < last {
			t.Fatalf("state regressed to %v after rank %d", s, last)
		}
		last = order[s]
	}))
	m.OnOpened()
	m.OnCloseLocal(protocol.NewCloseInfo(protocol.CloseNormalClosure, ""))
	m.OnCloseRemote(protocol.NewCloseInfo(protocol.CloseNormalClosure, ""))
}
