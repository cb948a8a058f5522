package table

import (
	"sort"

	"github.com/portfoliomap/tick/internal/schema"
)

// Table is an append-only row store for one record kind, scoped to the
// current trading day. It is exclusively owned by one engine loop and
// carries no locking of its own.
type Table struct {
	kind schema.Kind
	rows []schema.Row
}

// New creates an empty table for the kind.
func New(kind schema.Kind) *Table {
	return &Table{kind: kind}
}

// Kind returns the record kind stored by the table.
func (t *Table) Kind() schema.Kind {
	return t.kind
}

// Append adds rows in arrival order.
func (t *Table) Append(rows []schema.Row) {
	t.rows = append(t.rows, rows...)
}

// Len returns the number of buffered rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Rows returns a copy of all buffered rows in arrival order.
func (t *Table) Rows() []schema.Row {
	out := make([]schema.Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// Select returns a copy of the buffered rows whose symbol matches.
func (t *Table) Select(match func(sym string) bool) []schema.Row {
	var out []schema.Row
	for _, row := range t.rows {
		if match(row.Symbol()) {
			out = append(out, row)
		}
	}
	return out
}

// Clear drops every buffered row.
func (t *Table) Clear() {
	t.rows = t.rows[:0]
}

// Set owns one table per record kind plus the running symbol universe:
// the distinct symbols observed since the last rollover.
type Set struct {
	tables map[schema.Kind]*Table
	syms   map[string]struct{}
}

// NewSet creates a table per registered kind.
func NewSet() *Set {
	tables := make(map[schema.Kind]*Table, len(schema.Kinds()))
	for _, kind := range schema.Kinds() {
		tables[kind] = New(kind)
	}
	return &Set{
		tables: tables,
		syms:   make(map[string]struct{}),
	}
}

// Get returns the table for the kind.
func (s *Set) Get(kind schema.Kind) *Table {
	return s.tables[kind]
}

// Append adds rows to the kind's table and tracks their symbols.
func (s *Set) Append(kind schema.Kind, rows []schema.Row) {
	s.tables[kind].Append(rows)
	for _, row := range rows {
		if sym := row.Symbol(); sym != "" {
			s.syms[sym] = struct{}{}
		}
	}
}

// Symbols returns the symbol universe in sorted order.
func (s *Set) Symbols() []string {
	out := make([]string, 0, len(s.syms))
	for sym := range s.syms {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// RowCount returns the total buffered rows across all tables.
func (s *Set) RowCount() int {
	total := 0
	for _, t := range s.tables {
		total += t.Len()
	}
	return total
}

// Reset clears every table and the symbol universe.
func (s *Set) Reset() {
	for _, t := range s.tables {
		t.Clear()
	}
	s.syms = make(map[string]struct{})
}
