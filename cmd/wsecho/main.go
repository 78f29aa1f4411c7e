// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Command wsecho is a minimal WebSocket echo server exercising the
// connection driver end to end: raw TCP accept, RFC 6455 handshake,
// a driver per connection, and a sink that reflects every TEXT/BINARY
// frame back to its sender. Grounded on the teacher's
// examples/lowlevel/echo, trimmed of the facade/server/adapters
// layers this repo does not carry (those are out of spec.md's scope;
// here the driver is wired directly).
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/momentics/hioload-wsdriver/api"
	"github.com/momentics/hioload-wsdriver/extensions"
	"github.com/momentics/hioload-wsdriver/pool"
	"github.com/momentics/hioload-wsdriver/protocol"
	"github.com/momentics/hioload-wsdriver/transport"
	"github.com/momentics/hioload-wsdriver/wsconn"
)

func main() {
	addr := flag.String("addr", ":9001", "WebSocket listen address")
	flag.Parse()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen %s: %v", *addr, err)
	}

	var activeConns int64
	bufPool := pool.NewBytePool()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				log.Printf("accept: %v", err)
				return
			}
			go serve(conn, bufPool, &activeConns)
		}
	}()

	log.Printf("wsecho listening on %s", *addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutting down, active connections: %d", atomic.LoadInt64(&activeConns))
	ln.Close()
}

func serve(conn net.Conn, bufPool api.BytePool, activeConns *int64) {
	hdr, prefill, err := protocol.DoHandshakeCoreBuffered(conn)
	if err != nil {
		log.Printf("handshake from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	if err := protocol.WriteHandshakeResponse(conn, hdr); err != nil {
		log.Printf("handshake response to %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	atomic.AddInt64(activeConns, 1)
	defer atomic.AddInt64(activeConns, -1)

	ep := transport.NewConnEndpoint(conn)
	policy := api.DefaultPolicy(api.BehaviorServer)
	logger := log.New(os.Stderr, "", log.LstdFlags)

	var d *wsconn.Driver
	d = wsconn.NewDriver(policy, ep, bufPool, func(f api.Frame, cb api.FrameCallback) {
		echo := protocol.NewDataFrame(f.Opcode(), append([]byte(nil), f.Payload()...))
		d.OutgoingFrame(echo, cb, api.BatchOff)
	}, logger, extensions.Passthrough{})

	if len(prefill) > 0 {
		d.OnUpgradeTo(prefill)
	}
	if err := d.SetMaxIdleTimeout(policy.IdleTimeout); err != nil {
		logger.Printf("wsecho: %s: %v", d.ID(), err)
	}
	d.Open()
}
