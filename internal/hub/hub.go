// Package hub keeps per-table subscriber registrations and performs
// symbol-filtered fanout. It has no locking: the owning engine loop is the
// only caller.
package hub

import (
	"github.com/google/uuid"

	"github.com/portfoliomap/tick/internal/schema"
	"github.com/portfoliomap/tick/pkg/outq"
)

// Delivery is one unit queued for a subscriber: a snapshot at the
// subscription point or a live push.
type Delivery struct {
	Kind     schema.Kind
	Rows     []schema.Row
	Snapshot bool
}

// Subscriber is one downstream connection. Out is its bounded outbound
// queue; the connection's writer goroutine drains it.
type Subscriber struct {
	ID  uuid.UUID
	Out *outq.Queue[Delivery]
}

// NewSubscriber allocates a subscriber with a bounded outbound queue.
// The queue rejects on overflow so a stalled subscriber is disconnected
// instead of back-pressuring ingestion.
func NewSubscriber(queueCap int) *Subscriber {
	return &Subscriber{
		ID:  uuid.New(),
		Out: outq.New[Delivery](queueCap, outq.OverflowReject),
	}
}

type registration struct {
	sub    *Subscriber
	filter *Filter
}

// Hub is the subscription registry.
type Hub struct {
	byKind map[schema.Kind]map[uuid.UUID]*registration
	byID   map[uuid.UUID]*Subscriber
}

// New creates an empty hub.
func New() *Hub {
	byKind := make(map[schema.Kind]map[uuid.UUID]*registration, len(schema.Kinds()))
	for _, kind := range schema.Kinds() {
		byKind[kind] = make(map[uuid.UUID]*registration)
	}
	return &Hub{
		byKind: byKind,
		byID:   make(map[uuid.UUID]*Subscriber),
	}
}

// Subscribe registers the subscriber for one table kind. Re-subscribing is
// idempotent: the requested symbols are unioned into the existing filter.
// It returns the effective filter.
func (h *Hub) Subscribe(sub *Subscriber, kind schema.Kind, syms []string) *Filter {
	h.byID[sub.ID] = sub
	if reg, ok := h.byKind[kind][sub.ID]; ok {
		reg.filter.Union(syms)
		return reg.filter
	}
	reg := &registration{sub: sub, filter: NewFilter(syms)}
	h.byKind[kind][sub.ID] = reg
	return reg.filter
}

// Filter returns the subscriber's current filter for the kind.
func (h *Hub) Filter(id uuid.UUID, kind schema.Kind) (*Filter, bool) {
	reg, ok := h.byKind[kind][id]
	if !ok {
		return nil, false
	}
	return reg.filter, true
}

// UnsubscribeAll removes every registration for the handle across all
// tables and closes its outbound queue. Safe to call more than once.
func (h *Hub) UnsubscribeAll(id uuid.UUID) {
	sub, ok := h.byID[id]
	if !ok {
		return
	}
	for _, regs := range h.byKind {
		delete(regs, id)
	}
	delete(h.byID, id)
	sub.Out.Close()
}

// CloseAll tears down every subscriber. Used at engine shutdown so
// connection writer goroutines drain and exit.
func (h *Hub) CloseAll() {
	for id := range h.byID {
		h.UnsubscribeAll(id)
	}
}

// SubscriberCount returns the number of registered handles.
func (h *Hub) SubscriberCount() int {
	return len(h.byID)
}

// Publish fans rows out to every matching subscriber of the kind. Each
// subscriber receives only the subset passing its filter; empty subsets are
// not delivered. A failed push means the subscriber is unreachable or
// stalled: it is torn down on the spot and reported, never retried.
func (h *Hub) Publish(kind schema.Kind, rows []schema.Row) (pushed int, dropped []uuid.UUID) {
	for id, reg := range h.byKind[kind] {
		subset := filterRows(rows, reg.filter)
		if len(subset) == 0 {
			continue
		}
		if !reg.sub.Out.Push(Delivery{Kind: kind, Rows: subset}) {
			dropped = append(dropped, id)
			continue
		}
		pushed++
	}
	for _, id := range dropped {
		h.UnsubscribeAll(id)
	}
	return pushed, dropped
}

func filterRows(rows []schema.Row, f *Filter) []schema.Row {
	if f.Wildcard() {
		out := make([]schema.Row, len(rows))
		copy(out, rows)
		return out
	}
	var out []schema.Row
	for _, row := range rows {
		if f.Match(row.Symbol()) {
			out = append(out, row)
		}
	}
	return out
}
