package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliomap/tick/internal/schema"
)

func trade(sym string, price float64) schema.Trade {
	return schema.Trade{Time: time.Now().UTC(), Sym: sym, Exchange: "X", Price: price, Size: 1, Condition: "@"}
}

func TestTableAppendKeepsArrivalOrder(t *testing.T) {
	tbl := New(schema.KindTrade)
	tbl.Append([]schema.Row{trade("AAPL", 1), trade("MSFT", 2)})
	tbl.Append([]schema.Row{trade("AAPL", 3)})

	rows := tbl.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, 1.0, rows[0].(schema.Trade).Price)
	assert.Equal(t, 2.0, rows[1].(schema.Trade).Price)
	assert.Equal(t, 3.0, rows[2].(schema.Trade).Price)
}

func TestTableRowsReturnsCopy(t *testing.T) {
	tbl := New(schema.KindTrade)
	tbl.Append([]schema.Row{trade("AAPL", 1)})

	rows := tbl.Rows()
	rows[0] = trade("EVIL", 9)

	assert.Equal(t, "AAPL", tbl.Rows()[0].Symbol())
}

func TestTableSelect(t *testing.T) {
	tbl := New(schema.KindTrade)
	tbl.Append([]schema.Row{trade("AAPL", 1), trade("MSFT", 2), trade("AAPL", 3)})

	got := tbl.Select(func(sym string) bool { return sym == "AAPL" })
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].(schema.Trade).Price)
	assert.Equal(t, 3.0, got[1].(schema.Trade).Price)
}

func TestSetSymbolsSortedAndReset(t *testing.T) {
	set := NewSet()
	set.Append(schema.KindTrade, []schema.Row{trade("MSFT", 1), trade("AAPL", 2)})
	set.Append(schema.KindQuote, []schema.Row{schema.Quote{Sym: "GOOG"}})

	assert.Equal(t, []string{"AAPL", "GOOG", "MSFT"}, set.Symbols())
	assert.Equal(t, 3, set.RowCount())

	set.Reset()
	assert.Empty(t, set.Symbols())
	assert.Zero(t, set.RowCount())
	for _, kind := range schema.Kinds() {
		assert.Zero(t, set.Get(kind).Len())
	}
}
