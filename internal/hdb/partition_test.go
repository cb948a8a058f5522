package hdb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliomap/tick/internal/schema"
)

func sampleDay() (map[schema.Kind][]schema.Row, []string) {
	ts := time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC)
	tables := map[schema.Kind][]schema.Row{
		schema.KindTrade: {
			schema.Trade{Time: ts, Sym: "AAPL", Exchange: "V", Price: 231.5, Size: 100, Condition: "@"},
			schema.Trade{Time: ts.Add(time.Second), Sym: "MSFT", Exchange: "Q", Price: 512.25, Size: 40, Condition: ""},
		},
		schema.KindQuote: {
			schema.Quote{Time: ts, Sym: "AAPL", Bid: 231.4, BidSize: 300, Ask: 231.6, AskSize: 200, Source: "sip"},
		},
		schema.KindOrder: {
			schema.Order{Time: ts, Sym: "MSFT", ID: "ord-1", Side: "buy", Status: "filled", FilledQty: 40, RemainingQty: 0, LimitPrice: 512.5},
		},
		schema.KindPosition: {
			schema.Position{Date: ts.Truncate(24 * time.Hour), Sym: "AAPL", Qty: 100, AvgPrice: 230.1, MarketValue: 23150, UnrealizedPL: 140},
		},
	}
	return tables, []string{"AAPL", "MSFT"}
}

func TestWriteReadPartitionRoundTrip(t *testing.T) {
	root := t.TempDir()
	tables, syms := sampleDay()

	require.NoError(t, WritePartition(root, "2026.08.28", tables, syms))
	assert.True(t, PartitionExists(root, "2026.08.28"))

	for _, kind := range schema.Kinds() {
		rows, err := ReadTable(root, "2026.08.28", kind)
		require.NoError(t, err, kind.String())
		assert.Equal(t, tables[kind], rows, kind.String())
	}

	gotSyms, err := ReadSymbols(root, "2026.08.28")
	require.NoError(t, err)
	assert.Equal(t, syms, gotSyms)
}

func TestWritePartitionEmptyTables(t *testing.T) {
	root := t.TempDir()
	tables := map[schema.Kind][]schema.Row{}

	require.NoError(t, WritePartition(root, "2026.08.28", tables, nil))

	rows, err := ReadTable(root, "2026.08.28", schema.KindTrade)
	require.NoError(t, err)
	assert.Empty(t, rows)

	syms, err := ReadSymbols(root, "2026.08.28")
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestWritePartitionRefusesExisting(t *testing.T) {
	root := t.TempDir()
	tables, syms := sampleDay()
	require.NoError(t, WritePartition(root, "2026.08.28", tables, syms))

	// Second attempt with different content must not disturb the published day.
	other := map[schema.Kind][]schema.Row{
		schema.KindTrade: {schema.Trade{Sym: "TSLA", Price: 1}},
	}
	err := WritePartition(root, "2026.08.28", other, []string{"TSLA"})
	require.ErrorIs(t, err, ErrPartitionExists)

	rows, err := ReadTable(root, "2026.08.28", schema.KindTrade)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAPL", rows[0].Symbol())
}

func TestWritePartitionLeavesNoStagingDirs(t *testing.T) {
	root := t.TempDir()
	tables, syms := sampleDay()
	require.NoError(t, WritePartition(root, "2026.08.28", tables, syms))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".stage-"), entry.Name())
	}
}

func TestReadTableDetectsCorruptColumn(t *testing.T) {
	root := t.TempDir()
	tables, syms := sampleDay()
	require.NoError(t, WritePartition(root, "2026.08.28", tables, syms))

	path := filepath.Join(root, "2026.08.28", "trades", "price")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[columnHeaderSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = ReadTable(root, "2026.08.28", schema.KindTrade)
	require.ErrorIs(t, err, ErrColumnChecksum)
}

func TestColumnTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	col := newColumn(schema.ColFloat)
	col.floats = []float64{1.5}
	path := filepath.Join(dir, "price")
	require.NoError(t, writeColumnFile(path, col))

	_, err := readColumnFile(path, schema.ColInt)
	require.ErrorIs(t, err, ErrColumnType)
}
