// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server-side and client-side RFC 6455 HTTP Upgrade handshake: header
// validation, Sec-WebSocket-Key/Accept negotiation, and response
// serialization.
package protocol

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	RequiredWebSocketVersion = "13"
	MaxHandshakeHeadersSize  = 8192
)

var (
	ErrInvalidUpgradeHeaders = fmt.Errorf("invalid WebSocket upgrade headers")
	ErrMissingWebSocketKey   = fmt.Errorf("missing Sec-WebSocket-Key header")
	ErrBadWebSocketVersion   = fmt.Errorf("unsupported WebSocket version; only '13' is supported")
)

// DoHandshakeCore reads and validates the HTTP/1.1 Upgrade request from r.
// It returns the headers to include in the HTTP 101 Switching Protocols
// response, and does not itself write anything. Any bytes the peer sent
// immediately following the request are discarded along with the
// throwaway bufio.Reader this allocates; callers that hand the
// connection to a non-buffering Endpoint afterward should use
// DoHandshakeCoreBuffered instead so that data is not lost.
func DoHandshakeCore(r io.Reader) (http.Header, error) {
	hdr, _, err := doHandshakeCore(bufio.NewReader(r))
	return hdr, err
}

// DoHandshakeCoreBuffered behaves like DoHandshakeCore but also returns
// any bytes already buffered past the header block by its internal
// bufio.Reader — e.g. a pipelined first frame the peer sent right after
// the Upgrade request. Pass the returned bytes to an Endpoint's prefill
// (wsconn.Driver.OnUpgradeTo) so they are parsed instead of lost when
// the connection moves to a non-buffering transport.
func DoHandshakeCoreBuffered(r io.Reader) (http.Header, []byte, error) {
	br := bufio.NewReader(r)
	hdr, _, err := doHandshakeCore(br)
	if err != nil {
		return nil, nil, err
	}
	var leftover []byte
	if n := br.Buffered(); n > 0 {
		peeked, _ := br.Peek(n)
		leftover = append([]byte(nil), peeked...)
	}
	return hdr, leftover, nil
}

func doHandshakeCore(br *bufio.Reader) (http.Header, *http.Request, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, nil, fmt.Errorf("handshake read request: %w", err)
	}

	total := 0
	for k, vs := range req.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
			if total > MaxHandshakeHeadersSize {
				return nil, nil, fmt.Errorf("handshake headers too large")
			}
		}
	}

	if !headerContainsToken(req.Header, HeaderConnection, "Upgrade") ||
		!headerContainsToken(req.Header, HeaderUpgrade, "websocket") {
		return nil, nil, ErrInvalidUpgradeHeaders
	}
	if req.Header.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		return nil, nil, ErrBadWebSocketVersion
	}

	key := req.Header.Get(HeaderSecWebSocketKey)
	if key == "" {
		return nil, nil, ErrMissingWebSocketKey
	}

	hdr := make(http.Header)
	hdr.Set("Upgrade", "websocket")
	hdr.Set("Connection", "Upgrade")
	hdr.Set("Sec-WebSocket-Accept", AcceptKey(key))
	return hdr, req, nil
}

// AcceptKey computes Sec-WebSocket-Accept from a client's Sec-WebSocket-Key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// WriteHandshakeResponse writes the HTTP/1.1 101 Switching Protocols
// response with the given headers to w.
func WriteHandshakeResponse(w io.Writer, hdr http.Header) error {
	if _, err := fmt.Fprint(w, "HTTP/1.1 101 Switching Protocols\r\n"); err != nil {
		return err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}

// WriteHandshakeRequest serializes an HTTP GET Upgrade request to w.
func WriteHandshakeRequest(w io.Writer, req *http.Request) error {
	req.RequestURI = ""
	if err := req.Write(w); err != nil {
		return fmt.Errorf("handshake write request: %w", err)
	}
	return nil
}

// DoClientHandshake reads and validates the HTTP/1.1 101 response from r,
// using req for response-parsing context. Any bytes buffered past the
// header block are discarded; callers that need the bytes that arrived
// ahead of the upgrade must pre-read before calling this, per
// Endpoint.FillInterested semantics.
func DoClientHandshake(r io.Reader, req *http.Request) error {
	br := bufio.NewReader(r)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return fmt.Errorf("handshake read response: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("handshake failed: status %d", resp.StatusCode)
	}
	br.Discard(br.Buffered())
	return nil
}

func headerContainsToken(h http.Header, headerName, token string) bool {
	vals := h[http.CanonicalHeaderKey(headerName)]
	token = strings.ToLower(token)
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if strings.ToLower(strings.TrimSpace(part)) == token {
				return true
			}
		}
	}
	return false
}
