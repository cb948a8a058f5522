package schema

import (
	"github.com/yanun0323/errors"
)

// SchemaVersion is the current table schema version carried in log records.
const SchemaVersion uint16 = 1

// ErrUnknownTable is returned when a table name is not in the registry.
var ErrUnknownTable = errors.New("unknown table")

// Kind identifies one of the fixed record kinds. The set is closed:
// wire messages naming anything else are rejected at the boundary.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTrade
	KindQuote
	KindOrder
	KindPosition
)

var kindNames = map[Kind]string{
	KindTrade:    "trades",
	KindQuote:    "quotes",
	KindOrder:    "orders",
	KindPosition: "positions",
}

var kindsByName = map[string]Kind{
	"trades":    KindTrade,
	"quotes":    KindQuote,
	"orders":    KindOrder,
	"positions": KindPosition,
}

// String returns the wire table name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether the kind is a registered record kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind resolves a wire table name to its kind.
func ParseKind(name string) (Kind, error) {
	if kind, ok := kindsByName[name]; ok {
		return kind, nil
	}
	return KindUnknown, errors.Wrap(ErrUnknownTable, name)
}

// Kinds returns every registered kind in stable order.
func Kinds() []Kind {
	return []Kind{KindTrade, KindQuote, KindOrder, KindPosition}
}

// ColType is the storage type of a table column.
type ColType uint8

const (
	ColTime ColType = iota + 1 // int64 UTC nanoseconds
	ColSym                     // string
	ColFloat                   // float64
	ColInt                     // int64
)

// Column describes one column of a table kind.
type Column struct {
	Name string
	Type ColType
}

var tradeColumns = []Column{
	{"time", ColTime},
	{"sym", ColSym},
	{"exchange", ColSym},
	{"price", ColFloat},
	{"size", ColInt},
	{"condition", ColSym},
}

var quoteColumns = []Column{
	{"time", ColTime},
	{"sym", ColSym},
	{"bid", ColFloat},
	{"bidSize", ColInt},
	{"ask", ColFloat},
	{"askSize", ColInt},
	{"source", ColSym},
}

var orderColumns = []Column{
	{"time", ColTime},
	{"sym", ColSym},
	{"id", ColSym},
	{"side", ColSym},
	{"status", ColSym},
	{"filledQty", ColInt},
	{"remainingQty", ColInt},
	{"limitPrice", ColFloat},
}

var positionColumns = []Column{
	{"date", ColTime},
	{"sym", ColSym},
	{"qty", ColInt},
	{"avgPrice", ColFloat},
	{"marketValue", ColFloat},
	{"unrealizedPL", ColFloat},
}

// Columns returns the ordered column list for the kind.
func (k Kind) Columns() []Column {
	switch k {
	case KindTrade:
		return tradeColumns
	case KindQuote:
		return quoteColumns
	case KindOrder:
		return orderColumns
	case KindPosition:
		return positionColumns
	default:
		return nil
	}
}
