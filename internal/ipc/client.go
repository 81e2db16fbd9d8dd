package ipc

import (
	"fmt"
	"net"
	"time"
)

// Client connects to a running daemon's unix socket and performs a
// single request/response round trip per call, matching the
// connect-send-read-close rhythm the CLI uses for every invocation.
type Client struct {
	socketPath     string
	timeout        time.Duration // bounds the whole request/response round trip
	connectTimeout time.Duration // bounds the initial dial only
}

// NewClient returns a client bound to socketPath with the protocol's
// default request and connect timeouts.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 5 * time.Second, connectTimeout: 2 * time.Second}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// SetConnectTimeout overrides the dial timeout.
func (c *Client) SetConnectTimeout(d time.Duration) { c.connectTimeout = d }

// Call sends req and returns the daemon's response.
func (c *Client) Call(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	if err := WriteMessage(conn, req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	var resp Response
	if err := ReadMessage(conn, &resp); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.Kind == RespError {
		return &resp, fmt.Errorf("daemon error [%s]: %s", resp.Error.Code, resp.Error.Message)
	}
	return &resp, nil
}

// Ping checks that the daemon is reachable.
func (c *Client) Ping() error {
	_, err := c.Call(&Request{Kind: ReqPing})
	return err
}

// Query issues a query request and returns the raw response for the
// caller to destructure per query kind.
func (c *Client) Query(q *Query) (*Response, error) {
	return c.Call(&Request{Kind: ReqQuery, Query: q})
}
