// Package client dials a tickerplant (or a realtime database's downstream
// port) and exposes the framed protocol as typed calls: synchronous
// publishes and a delivery stream for snapshots and pushes.
package client

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"github.com/portfoliomap/tick/internal/schema"
	"github.com/portfoliomap/tick/internal/wire"
	"github.com/portfoliomap/tick/pkg/tcp"
)

var (
	// ErrClosed is returned once the connection is gone.
	ErrClosed = errors.New("client: connection closed")
	// ErrRejected wraps an error reply from the server.
	ErrRejected = errors.New("client: request rejected")
)

const deliveryBufferSize = 1024

// Delivery is one snapshot or push received from the server.
type Delivery struct {
	Kind     schema.Kind
	Rows     []schema.Row
	Snapshot bool
}

// Client is one framed connection. Update and Subscribe are serialized;
// deliveries arrive on their own channel.
type Client struct {
	conn       net.Conn
	writeMu    sync.Mutex
	reqMu      sync.Mutex
	replies    chan wire.Message
	snapshots  chan Delivery
	deliveries chan Delivery
	done       chan struct{}
	closeOnce  sync.Once
	closed     atomic.Bool
	readErr    error
}

// Dial connects and starts the read loop.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	tc, err := tcp.NewClient(addr, timeout)
	if err != nil {
		return nil, err
	}
	conn, err := tc.Dial(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	c := &Client{
		conn:       conn,
		replies:    make(chan wire.Message, 1),
		snapshots:  make(chan Delivery, len(schema.Kinds())),
		deliveries: make(chan Delivery, deliveryBufferSize),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the read loop's terminal error, nil on clean EOF.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Deliveries is the stream of live pushes. Subscribe snapshots are returned
// by Subscribe itself, never here. Closed when the connection ends.
func (c *Client) Deliveries() <-chan Delivery {
	return c.deliveries
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.deliveries)
	defer close(c.snapshots)
	defer c.Close()

	for {
		frame, err := tcp.ReadFrame(c.conn)
		if err != nil {
			if err != io.EOF && !c.closed.Load() {
				c.readErr = err
			}
			return
		}
		msg, err := wire.Decode(frame)
		if err != nil {
			c.readErr = err
			return
		}

		switch msg.Type {
		case wire.TypeAck:
			c.replies <- msg
		case wire.TypeError:
			c.replies <- msg
		case wire.TypeSnapshot, wire.TypePush:
			kind, err := schema.ParseKind(msg.Table)
			if err != nil {
				c.readErr = err
				return
			}
			rows, err := schema.DecodeRows(kind, msg.Rows)
			if err != nil {
				c.readErr = err
				return
			}
			d := Delivery{Kind: kind, Rows: rows, Snapshot: msg.Type == wire.TypeSnapshot}
			// Snapshots answer a pending Subscribe; pushes go to the
			// delivery stream. Keeping them apart lets Subscribe work
			// even while pushes from an earlier subscription are in
			// flight.
			out := c.deliveries
			if d.Snapshot {
				out = c.snapshots
			}
			select {
			case out <- d:
			case <-sys.Shutdown():
				return
			}
		default:
			logs.Warnf("client: ignoring message type %s", msg.Type)
		}
	}
}

func (c *Client) writeFrame(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return tcp.WriteFrame(c.conn, data)
}

// Update publishes one batch of rows and waits for the server's verdict.
// A nil error means the tickerplant logged and applied the batch.
func (c *Client) Update(ctx context.Context, kind schema.Kind, rows []schema.Row) error {
	if len(rows) == 0 {
		return nil
	}
	data, err := schema.EncodeRows(rows)
	if err != nil {
		return err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.writeFrame(wire.Message{Type: wire.TypeUpdate, Table: kind.String(), Rows: data}); err != nil {
		return errors.Wrap(err, "send update")
	}
	select {
	case reply := <-c.replies:
		if reply.Type == wire.TypeError {
			return errors.Wrap(ErrRejected, reply.Error)
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers interest and returns the initial snapshots, one per
// requested table (every table when tables is empty). Live pushes follow on
// Deliveries. May be called again on the same connection to widen the
// subscription; the new snapshots arrive regardless of pushes already in
// flight.
func (c *Client) Subscribe(ctx context.Context, tables, syms []string) ([]Delivery, error) {
	expected := len(tables)
	if expected == 0 {
		expected = len(schema.Kinds())
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.writeFrame(wire.Message{Type: wire.TypeSubscribe, Tables: tables, Syms: syms}); err != nil {
		return nil, errors.Wrap(err, "send subscribe")
	}

	snapshots := make([]Delivery, 0, expected)
	for len(snapshots) < expected {
		select {
		case d, ok := <-c.snapshots:
			if !ok {
				return nil, ErrClosed
			}
			snapshots = append(snapshots, d)
		case reply := <-c.replies:
			if reply.Type == wire.TypeError {
				return nil, errors.Wrap(ErrRejected, reply.Error)
			}
		case <-c.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return snapshots, nil
}
