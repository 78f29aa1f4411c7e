package transport_test

import (
	"net"
	"testing"
	"time"

	"github.com/momentics/hioload-wsdriver/transport"
)

func TestConnEndpointFillReadsWrittenBytes(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ep := transport.NewConnEndpoint(server)

	go func() {
		client.Write([]byte("hello"))
	}()

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	var n int
	for time.Now().Before(deadline) {
		got, err := ep.Fill(buf)
		if err != nil {
			t.Fatalf("Fill: %v", err)
		}
		if got > 0 {
			n = got
			break
		}
		time.Sleep(time.Millisecond)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want %q", buf[:n], "hello")
	}
}

func TestConnEndpointFlushWritesAllBytes(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	ep := transport.NewConnEndpoint(server)

	done := make(chan []byte, 1)
	go func() {
		var got []byte
		buf := make([]byte, 16)
		for len(got) < len("abc") {
			n, err := client.Read(buf)
			if n > 0 {
				got = append(got, buf[:n]...)
			}
			if err != nil {
				break
			}
		}
		done <- got
	}()

	ok, err := ep.Flush([]byte("a"), []byte("bc"))
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !ok {
		t.Fatal("Flush reported a short write")
	}

	select {
	case got := <-done:
		if string(got) != "abc" {
			t.Fatalf("got %q, want %q", got, "abc")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the written bytes")
	}
}

func TestConnEndpointFillReportsEOF(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	ep := transport.NewConnEndpoint(server)
	client.Close()

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, _ := ep.Fill(buf)
		if n < 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Fill never reported EOF")
}
