// Package client sends protocol requests to a storage service over UDP, TCP
// or HTTP.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/commandus/lorawan-storage-sub000/internal/listener"
	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
)

// DefaultTimeout bounds one request/response exchange
const DefaultTimeout = 5 * time.Second

// ErrNoResponse is returned when the service stays silent, which it does for
// requests it cannot parse.
var ErrNoResponse = errors.New("no response")

// Client talks to one service endpoint
type Client struct {
	network string
	entity  protocol.Entity
	timeout time.Duration
	conn    net.Conn
	buf     []byte

	url   string
	http  *http.Client
	token string
}

// Dial connects to addr over network ("udp", "tcp" or "http"). For http,
// addr is host:port or a base URL; requests go to /api/v1/<service>.
func Dial(ctx context.Context, network, addr string, e protocol.Entity, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{network: network, entity: e, timeout: timeout}
	switch network {
	case "udp", "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		c.conn = conn
	case "http":
		base := strings.TrimSuffix(addr, "/")
		if !strings.Contains(base, "://") {
			base = "http://" + base
		}
		c.url = base + "/api/v1/" + e.String()
		c.http = &http.Client{Timeout: timeout}
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
	return c, nil
}

// SetToken sets the bearer token sent with http requests
func (c *Client) SetToken(token string) { c.token = token }

// Close closes the connection
func (c *Client) Close() error {
	if c.conn == nil {
		c.http.CloseIdleConnections()
		return nil
	}
	return c.conn.Close()
}

// ReplySize returns the receive buffer needed for the answer to req. Requests
// that do not decode get the largest datagram; the service drops them anyway.
func (c *Client) ReplySize(req []byte) int {
	m, err := protocol.Binary.DecodeRequest(c.entity, req)
	if err != nil {
		return listener.MaxUDPPayload
	}
	var count uint8
	if op, ok := m.(*protocol.OperationRequest); ok {
		count = op.Count
	}
	n := protocol.MaxResponseSize(c.entity, m.Header().Tag, count)
	if n <= 0 || n > listener.MaxUDPPayload {
		return listener.MaxUDPPayload
	}
	return n
}

// Exchange sends raw request bytes and returns the raw response
func (c *Client) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	size := c.ReplySize(req)
	if c.network == "http" {
		return c.post(ctx, req, size)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if c.network == "tcp" {
		if err := listener.WriteFrame(c.conn, req); err != nil {
			return nil, err
		}
		resp, err := listener.ReadFrame(c.conn)
		if err != nil {
			return nil, timeoutAsNoResponse(err)
		}
		if len(resp) > size {
			return nil, fmt.Errorf("response of %d bytes exceeds %d", len(resp), size)
		}
		return resp, nil
	}

	if _, err := c.conn.Write(req); err != nil {
		return nil, err
	}
	if cap(c.buf) < size {
		c.buf = make([]byte, size)
	}
	n, err := c.conn.Read(c.buf[:size])
	if err != nil {
		return nil, timeoutAsNoResponse(err)
	}
	return append([]byte(nil), c.buf[:n]...), nil
}

// post sends req to the HTTP transport with ?max= set to the reply size
func (c *Client) post(ctx context.Context, req []byte, size int) ([]byte, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"?max="+strconv.Itoa(size), bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/octet-stream")
	if c.token != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, timeoutAsNoResponse(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, ErrNoResponse
	default:
		return nil, fmt.Errorf("http status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(size)+1))
	if err != nil {
		return nil, err
	}
	if len(body) > size {
		return nil, fmt.Errorf("response exceeds %d bytes", size)
	}
	return body, nil
}

// Do encodes req with the binary codec and decodes the response
func (c *Client) Do(ctx context.Context, req protocol.Message) (protocol.Message, error) {
	out, err := c.Exchange(ctx, protocol.Marshal(req))
	if err != nil {
		return nil, err
	}
	return protocol.Binary.DecodeResponse(c.entity, req.Header().Tag, out)
}

func timeoutAsNoResponse(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	return err
}
