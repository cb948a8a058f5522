// Package server speaks the framed wire protocol on behalf of an engine:
// it turns inbound frames into engine requests and drains each subscriber's
// outbound queue back onto its connection.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/yanun0323/logs"

	"github.com/portfoliomap/tick/internal/hub"
	"github.com/portfoliomap/tick/internal/plant"
	"github.com/portfoliomap/tick/internal/schema"
	"github.com/portfoliomap/tick/internal/wire"
	"github.com/portfoliomap/tick/pkg/tcp"
)

const defaultSubscriberQueueSize = 1024

// Handler serves one engine over framed connections.
type Handler struct {
	Engine *plant.Engine
	// AllowUpdates gates the update message. The tickerplant accepts
	// updates from feed publishers; the realtime database's downstream
	// port is subscribe-only.
	AllowUpdates bool
	// SubscriberQueueSize bounds each connection's outbound queue.
	SubscriberQueueSize int
}

// Serve accepts connections until the listener is closed or the context is
// canceled, handling each on its own goroutine.
func (h *Handler) Serve(ctx context.Context, srv *tcp.Server) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	for {
		conn, err := srv.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.HandleConn(ctx, conn)
		}()
	}
}

// HandleConn runs the read loop for one connection. It returns when the
// peer disconnects, the connection errors, or the engine tears the
// subscriber down.
func (h *Handler) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	peer := conn.RemoteAddr().String()
	var (
		writeMu sync.Mutex
		sub     *hub.Subscriber
		subWG   sync.WaitGroup
	)
	defer func() {
		if sub != nil {
			_ = h.Engine.Unsubscribe(context.WithoutCancel(ctx), sub.ID)
			subWG.Wait()
		}
	}()

	for {
		frame, err := tcp.ReadFrame(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				logs.Warnf("server: read %s: %v", peer, err)
			}
			return
		}
		msg, err := wire.Decode(frame)
		if err != nil {
			h.writeError(&writeMu, conn, peer, err)
			return
		}

		switch msg.Type {
		case wire.TypeUpdate:
			if !h.AllowUpdates {
				h.writeError(&writeMu, conn, peer, errors.New("updates not accepted here"))
				return
			}
			if err := h.handleUpdate(ctx, msg); err != nil {
				h.writeError(&writeMu, conn, peer, err)
				continue
			}
			h.write(&writeMu, conn, peer, wire.Message{Type: wire.TypeAck})

		case wire.TypeSubscribe:
			if sub == nil {
				sub = hub.NewSubscriber(h.queueSize())
				subWG.Add(1)
				go func() {
					defer subWG.Done()
					h.drainSubscriber(sub, &writeMu, conn, peer)
				}()
			}
			kinds, err := parseKinds(msg.Tables)
			if err != nil {
				h.writeError(&writeMu, conn, peer, err)
				continue
			}
			if err := h.Engine.Subscribe(ctx, sub, kinds, msg.Syms); err != nil {
				h.writeError(&writeMu, conn, peer, err)
				return
			}

		case wire.TypeUnsubscribe:
			if sub != nil {
				_ = h.Engine.Unsubscribe(ctx, sub.ID)
			}
			return

		default:
			h.writeError(&writeMu, conn, peer, errors.New("unexpected message type "+msg.Type))
			return
		}
	}
}

func (h *Handler) handleUpdate(ctx context.Context, msg wire.Message) error {
	kind, err := schema.ParseKind(msg.Table)
	if err != nil {
		return err
	}
	rows, err := schema.DecodeRows(kind, msg.Rows)
	if err != nil {
		return err
	}
	return h.Engine.Update(ctx, kind, rows, msg.Rows)
}

// drainSubscriber moves deliveries from the subscriber's queue onto the
// connection. It exits when the queue is closed, which happens on
// unsubscribe, on overflow teardown, and at engine shutdown; it then closes
// the connection to release the read loop.
func (h *Handler) drainSubscriber(sub *hub.Subscriber, writeMu *sync.Mutex, conn net.Conn, peer string) {
	defer conn.Close()
	for {
		d, ok := sub.Out.Pop()
		if !ok {
			return
		}
		rows, err := schema.EncodeRows(d.Rows)
		if err != nil {
			logs.Errorf("server: encode rows for %s: %v", peer, err)
			return
		}
		msg := wire.Message{Type: wire.TypePush, Table: d.Kind.String(), Rows: rows}
		if d.Snapshot {
			msg.Type = wire.TypeSnapshot
		}
		if !h.write(writeMu, conn, peer, msg) {
			return
		}
	}
}

func (h *Handler) write(writeMu *sync.Mutex, conn net.Conn, peer string, msg wire.Message) bool {
	data, err := wire.Encode(msg)
	if err != nil {
		logs.Errorf("server: encode %s for %s: %v", msg.Type, peer, err)
		return false
	}
	writeMu.Lock()
	err = tcp.WriteFrame(conn, data)
	writeMu.Unlock()
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			logs.Warnf("server: write %s to %s: %v", msg.Type, peer, err)
		}
		return false
	}
	return true
}

func (h *Handler) writeError(writeMu *sync.Mutex, conn net.Conn, peer string, cause error) {
	h.write(writeMu, conn, peer, wire.Message{Type: wire.TypeError, Error: cause.Error()})
}

func (h *Handler) queueSize() int {
	if h.SubscriberQueueSize > 0 {
		return h.SubscriberQueueSize
	}
	return defaultSubscriberQueueSize
}

func parseKinds(tables []string) ([]schema.Kind, error) {
	if len(tables) == 0 {
		return nil, nil
	}
	kinds := make([]schema.Kind, 0, len(tables))
	for _, name := range tables {
		kind, err := schema.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
