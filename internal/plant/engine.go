// Package plant implements the event-processing core shared by the
// tickerplant and the realtime database: a single loop that owns the
// in-memory tables and the subscription hub, so every update is logged,
// applied, and fanned out as one atomic step. Snapshots are taken between
// steps, never during one.
package plant

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/portfoliomap/tick/internal/hub"
	"github.com/portfoliomap/tick/internal/schema"
	"github.com/portfoliomap/tick/internal/table"
	"github.com/portfoliomap/tick/internal/ticklog"
)

var (
	// ErrEngineClosed is returned for requests made after Run has exited.
	ErrEngineClosed = errors.New("plant: engine closed")
	// ErrLogAppend is returned when an update cannot be made durable. The
	// update is not applied and not fanned out.
	ErrLogAppend = errors.New("plant: tick log append failed")
)

const defaultQueueSize = 8192

// Options configures an engine.
type Options struct {
	// QueueSize bounds the command queue feeding the loop.
	QueueSize int
	// Log, when set, makes every update durable before it is applied.
	Log *ticklog.Writer
	// Now is the clock used for log record timestamps and the trading date.
	Now func() time.Time
	// ResetOnDateChange clears the mirror when the UTC trading date
	// advances, keeping it scoped to "today". The tickerplant enables
	// this, aligned with the tick log's per-date segment rotation. The
	// realtime database must not: it publishes the old day to the
	// historical store before clearing, on its own rollover path.
	ResetOnDateChange bool
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Stats are the engine's running counters. Safe to read concurrently.
type Stats struct {
	UpdatesApplied uint64
	RowsAppended   uint64
	Pushes         uint64
	Dropped        uint64
	Subscribers    int
}

// Engine serializes every state transition through one goroutine.
type Engine struct {
	opts   Options
	tables *table.Set
	hub    *hub.Hub
	cmdq   chan command
	done   chan struct{}
	seq    uint64
	day    string

	updatesApplied atomic.Uint64
	rowsAppended   atomic.Uint64
	pushes         atomic.Uint64
	droppedSubs    atomic.Uint64
	subscribers    atomic.Int64
}

// New creates an engine. Seed may be called before Run to replay state.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:   opts,
		tables: table.NewSet(),
		hub:    hub.New(),
		cmdq:   make(chan command, opts.QueueSize),
		done:   make(chan struct{}),
		day:    opts.Now().UTC().Format(ticklog.DateLayout),
	}
}

// Seed applies rows directly, bypassing the loop and the log. Only valid
// before Run starts; used for tick log replay and snapshot bootstrap.
func (e *Engine) Seed(kind schema.Kind, rows []schema.Row) {
	e.tables.Append(kind, rows)
	e.rowsAppended.Add(uint64(len(rows)))
}

// SetSeq restores the update sequence counter after replay.
func (e *Engine) SetSeq(seq uint64) {
	e.seq = seq
}

// Run processes commands until the context is canceled. It owns all engine
// state; nothing else touches tables or the hub while it runs.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	defer e.hub.CloseAll()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmdq:
			if e.opts.ResetOnDateChange {
				e.rollDay()
			}
			cmd.apply(e)
		}
	}
}

// rollDay clears the mirror when the UTC trading date has advanced. It runs
// inside the loop, before the command that observed the new date, so a
// snapshot taken after midnight never contains the previous day's rows.
func (e *Engine) rollDay() {
	today := e.opts.Now().UTC().Format(ticklog.DateLayout)
	if today == e.day {
		return
	}
	logs.Infof("plant: trading date %s -> %s, clearing %d rows", e.day, today, e.tables.RowCount())
	e.tables.Reset()
	e.day = today
}

// Done is closed when the engine loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Stats returns a snapshot of the running counters.
func (e *Engine) Stats() Stats {
	return Stats{
		UpdatesApplied: e.updatesApplied.Load(),
		RowsAppended:   e.rowsAppended.Load(),
		Pushes:         e.pushes.Load(),
		Dropped:        e.droppedSubs.Load(),
		Subscribers:    int(e.subscribers.Load()),
	}
}

type command interface {
	apply(e *Engine)
}

func (e *Engine) send(ctx context.Context, cmd command) error {
	select {
	case e.cmdq <- cmd:
		return nil
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Update logs, applies, and fans out one batch of rows for a table. raw is
// the rows' wire encoding; when nil and logging is enabled the rows are
// encoded once here. The call returns after the loop has processed the
// update: a nil error means the rows are applied and accepted by the tick
// log's write queue. Actual durability lags by the log's flush and sync
// intervals.
func (e *Engine) Update(ctx context.Context, kind schema.Kind, rows []schema.Row, raw []byte) error {
	if !kind.Valid() {
		return errors.Wrapf(schema.ErrUnknownTable, "kind %d", kind)
	}
	if len(rows) == 0 {
		return nil
	}
	if raw == nil && e.opts.Log != nil {
		encoded, err := schema.EncodeRows(rows)
		if err != nil {
			return err
		}
		raw = encoded
	}
	cmd := &cmdUpdate{kind: kind, rows: rows, raw: raw, reply: make(chan error, 1)}
	if err := e.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cmdUpdate struct {
	kind  schema.Kind
	rows  []schema.Row
	raw   []byte
	reply chan error
}

func (c *cmdUpdate) apply(e *Engine) {
	if e.opts.Log != nil {
		rec := ticklog.Record{
			Kind:     c.kind,
			Version:  schema.SchemaVersion,
			RowCount: uint32(len(c.rows)),
			Seq:      e.seq + 1,
			TsRecv:   e.opts.Now().UnixNano(),
		}
		if err := e.opts.Log.TryAppend(rec, c.raw); err != nil {
			c.reply <- errors.Wrapf(ErrLogAppend, "%v", err)
			return
		}
	}
	e.seq++
	e.tables.Append(c.kind, c.rows)
	pushed, dropped := e.hub.Publish(c.kind, c.rows)

	e.updatesApplied.Add(1)
	e.rowsAppended.Add(uint64(len(c.rows)))
	e.pushes.Add(uint64(pushed))
	if len(dropped) > 0 {
		e.droppedSubs.Add(uint64(len(dropped)))
		e.subscribers.Store(int64(e.hub.SubscriberCount()))
		for _, id := range dropped {
			logs.Warnf("plant: subscriber %s dropped, outbound queue overflow on %s", id, c.kind)
		}
	}
	c.reply <- nil
}

// Subscribe registers the subscriber for the named tables with a symbol
// filter and enqueues one snapshot delivery per table. Snapshots enter the
// same outbound queue as live pushes, so the subscriber sees the snapshot
// boundary exactly once: rows up to it in the snapshot, rows after it as
// pushes.
func (e *Engine) Subscribe(ctx context.Context, sub *hub.Subscriber, kinds []schema.Kind, syms []string) error {
	if len(kinds) == 0 {
		kinds = schema.Kinds()
	}
	for _, kind := range kinds {
		if !kind.Valid() {
			return errors.Wrapf(schema.ErrUnknownTable, "kind %d", kind)
		}
	}
	cmd := &cmdSubscribe{sub: sub, kinds: kinds, syms: syms, reply: make(chan error, 1)}
	if err := e.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cmdSubscribe struct {
	sub   *hub.Subscriber
	kinds []schema.Kind
	syms  []string
	reply chan error
}

func (c *cmdSubscribe) apply(e *Engine) {
	for _, kind := range c.kinds {
		filter := e.hub.Subscribe(c.sub, kind, c.syms)
		rows := e.tables.Get(kind).Select(filter.Match)
		if !c.sub.Out.Push(hub.Delivery{Kind: kind, Rows: rows, Snapshot: true}) {
			e.hub.UnsubscribeAll(c.sub.ID)
			e.subscribers.Store(int64(e.hub.SubscriberCount()))
			c.reply <- errors.Errorf("plant: subscriber %s queue full during snapshot", c.sub.ID)
			return
		}
	}
	e.subscribers.Store(int64(e.hub.SubscriberCount()))
	logs.Infof("plant: subscriber %s subscribed tables=%d syms=%d", c.sub.ID, len(c.kinds), len(c.syms))
	c.reply <- nil
}

// Unsubscribe tears down the subscriber and closes its queue.
func (e *Engine) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	cmd := &cmdUnsubscribe{id: id, reply: make(chan struct{})}
	if err := e.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case <-cmd.reply:
		return nil
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cmdUnsubscribe struct {
	id    uuid.UUID
	reply chan struct{}
}

func (c *cmdUnsubscribe) apply(e *Engine) {
	e.hub.UnsubscribeAll(c.id)
	e.subscribers.Store(int64(e.hub.SubscriberCount()))
	close(c.reply)
}

// View is the engine state exposed to Exec callbacks. Valid only for the
// duration of the callback.
type View interface {
	// Rows returns a copy of the kind's buffered rows.
	Rows(kind schema.Kind) []schema.Row
	// Symbols returns the day's symbol universe, sorted.
	Symbols() []string
	// RowCount returns the total buffered rows across tables.
	RowCount() int
	// Seq returns the last applied update sequence.
	Seq() uint64
	// ResetDay clears every table and the symbol universe.
	ResetDay()
	// Load appends rows without logging or fanout. Used to rebuild the
	// mirror from an upstream snapshot after a reconnect.
	Load(kind schema.Kind, rows []schema.Row)
}

// Exec runs fn inside the loop with exclusive access to the engine state.
// This is how the realtime database performs its end-of-day rollover: read
// everything, persist, then reset, with no update interleaved.
func (e *Engine) Exec(ctx context.Context, fn func(View) error) error {
	cmd := &cmdExec{fn: fn, reply: make(chan error, 1)}
	if err := e.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cmdExec struct {
	fn    func(View) error
	reply chan error
}

func (c *cmdExec) apply(e *Engine) {
	c.reply <- c.fn(engineView{e})
}

type engineView struct {
	e *Engine
}

func (v engineView) Rows(kind schema.Kind) []schema.Row { return v.e.tables.Get(kind).Rows() }
func (v engineView) Symbols() []string                  { return v.e.tables.Symbols() }
func (v engineView) RowCount() int                      { return v.e.tables.RowCount() }
func (v engineView) Seq() uint64                        { return v.e.seq }
func (v engineView) ResetDay()                          { v.e.tables.Reset() }

func (v engineView) Load(kind schema.Kind, rows []schema.Row) {
	v.e.tables.Append(kind, rows)
	v.e.rowsAppended.Add(uint64(len(rows)))
}
