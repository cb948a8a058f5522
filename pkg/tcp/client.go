package tcp

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrNilClient is returned when a nil client receiver is used.
var ErrNilClient = errors.New("tcp: nil client")

// Client dials framed TCP endpoints.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient creates a client for the provided address.
func NewClient(addr string, timeout time.Duration) (*Client, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	return &Client{addr: addr, timeout: timeout}, nil
}

// Addr returns the configured address.
func (c *Client) Addr() string {
	if c == nil {
		return ""
	}
	return c.addr
}

// Dial opens a TCP connection, honoring the context and dial timeout.
func (c *Client) Dial(ctx context.Context) (net.Conn, error) {
	if c == nil {
		return nil, ErrNilClient
	}
	if c.addr == "" {
		return nil, ErrEmptyAddress
	}
	dialer := net.Dialer{Timeout: c.timeout}
	return dialer.DialContext(ctx, "tcp", c.addr)
}
