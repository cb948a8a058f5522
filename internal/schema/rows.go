package schema

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// Row is a single typed record of one table kind.
type Row interface {
	Kind() Kind
	Symbol() string
}

// Trade is one executed trade print.
type Trade struct {
	Time      time.Time `json:"time"`
	Sym       string    `json:"sym"`
	Exchange  string    `json:"exchange"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Condition string    `json:"condition"`
}

func (Trade) Kind() Kind       { return KindTrade }
func (t Trade) Symbol() string { return t.Sym }

// Quote is one top-of-book quote update.
type Quote struct {
	Time    time.Time `json:"time"`
	Sym     string    `json:"sym"`
	Bid     float64   `json:"bid"`
	BidSize int64     `json:"bidSize"`
	Ask     float64   `json:"ask"`
	AskSize int64     `json:"askSize"`
	Source  string    `json:"source"`
}

func (Quote) Kind() Kind       { return KindQuote }
func (q Quote) Symbol() string { return q.Sym }

// Order is one order state observation.
type Order struct {
	Time         time.Time `json:"time"`
	Sym          string    `json:"sym"`
	ID           string    `json:"id"`
	Side         string    `json:"side"`
	Status       string    `json:"status"`
	FilledQty    int64     `json:"filledQty"`
	RemainingQty int64     `json:"remainingQty"`
	LimitPrice   float64   `json:"limitPrice"`
}

func (Order) Kind() Kind       { return KindOrder }
func (o Order) Symbol() string { return o.Sym }

// Position is one account position observation.
type Position struct {
	Date         time.Time `json:"date"`
	Sym          string    `json:"sym"`
	Qty          int64     `json:"qty"`
	AvgPrice     float64   `json:"avgPrice"`
	MarketValue  float64   `json:"marketValue"`
	UnrealizedPL float64   `json:"unrealizedPL"`
}

func (Position) Kind() Kind       { return KindPosition }
func (p Position) Symbol() string { return p.Sym }

// EncodeRows serializes rows as a JSON array for the wire and the tick log.
func EncodeRows(rows []Row) ([]byte, error) {
	data, err := sonic.ConfigFastest.Marshal(rows)
	if err != nil {
		return nil, errors.Wrap(err, "encode rows")
	}
	return data, nil
}

// DecodeRows deserializes a JSON array into typed rows of the given kind.
func DecodeRows(kind Kind, data []byte) ([]Row, error) {
	switch kind {
	case KindTrade:
		var rows []Trade
		if err := sonic.ConfigFastest.Unmarshal(data, &rows); err != nil {
			return nil, errors.Wrap(err, "decode trade rows")
		}
		out := make([]Row, len(rows))
		for i := range rows {
			out[i] = rows[i]
		}
		return out, nil
	case KindQuote:
		var rows []Quote
		if err := sonic.ConfigFastest.Unmarshal(data, &rows); err != nil {
			return nil, errors.Wrap(err, "decode quote rows")
		}
		out := make([]Row, len(rows))
		for i := range rows {
			out[i] = rows[i]
		}
		return out, nil
	case KindOrder:
		var rows []Order
		if err := sonic.ConfigFastest.Unmarshal(data, &rows); err != nil {
			return nil, errors.Wrap(err, "decode order rows")
		}
		out := make([]Row, len(rows))
		for i := range rows {
			out[i] = rows[i]
		}
		return out, nil
	case KindPosition:
		var rows []Position
		if err := sonic.ConfigFastest.Unmarshal(data, &rows); err != nil {
			return nil, errors.Wrap(err, "decode position rows")
		}
		out := make([]Row, len(rows))
		for i := range rows {
			out[i] = rows[i]
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrUnknownTable, "kind %d", kind)
	}
}
