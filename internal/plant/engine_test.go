package plant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliomap/tick/internal/hub"
	"github.com/portfoliomap/tick/internal/schema"
)

func startEngine(t *testing.T, opts Options) (*Engine, context.Context) {
	t.Helper()
	e := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e, ctx
}

func trade(sym string, price float64) schema.Trade {
	return schema.Trade{Time: time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC), Sym: sym, Price: price, Size: 10}
}

func drain(t *testing.T, sub *hub.Subscriber) hub.Delivery {
	t.Helper()
	d, ok := sub.Out.Pop()
	require.True(t, ok, "queue closed")
	return d
}

func TestSnapshotThenPushBoundary(t *testing.T) {
	e, ctx := startEngine(t, Options{})

	require.NoError(t, e.Update(ctx, schema.KindTrade, []schema.Row{trade("AAPL", 1)}, nil))
	require.NoError(t, e.Update(ctx, schema.KindTrade, []schema.Row{trade("AAPL", 2)}, nil))

	sub := hub.NewSubscriber(16)
	require.NoError(t, e.Subscribe(ctx, sub, []schema.Kind{schema.KindTrade}, nil))

	require.NoError(t, e.Update(ctx, schema.KindTrade, []schema.Row{trade("AAPL", 3)}, nil))

	snap := drain(t, sub)
	assert.True(t, snap.Snapshot)
	assert.Len(t, snap.Rows, 2)

	push := drain(t, sub)
	assert.False(t, push.Snapshot)
	require.Len(t, push.Rows, 1)
	assert.Equal(t, 3.0, push.Rows[0].(schema.Trade).Price)
}

func TestSymbolFilteredFanout(t *testing.T) {
	e, ctx := startEngine(t, Options{})

	aapl := hub.NewSubscriber(16)
	all := hub.NewSubscriber(16)
	require.NoError(t, e.Subscribe(ctx, aapl, []schema.Kind{schema.KindTrade}, []string{"AAPL"}))
	require.NoError(t, e.Subscribe(ctx, all, []schema.Kind{schema.KindTrade}, nil))

	drain(t, aapl) // empty snapshots
	drain(t, all)

	rows := []schema.Row{trade("AAPL", 1), trade("MSFT", 2), trade("AAPL", 3)}
	require.NoError(t, e.Update(ctx, schema.KindTrade, rows, nil))

	got := drain(t, aapl)
	require.Len(t, got.Rows, 2)
	for _, row := range got.Rows {
		assert.Equal(t, "AAPL", row.Symbol())
	}

	got = drain(t, all)
	assert.Len(t, got.Rows, 3)
}

func TestNoDeliveryWhenNothingMatches(t *testing.T) {
	e, ctx := startEngine(t, Options{})

	sub := hub.NewSubscriber(16)
	require.NoError(t, e.Subscribe(ctx, sub, []schema.Kind{schema.KindTrade}, []string{"TSLA"}))
	drain(t, sub)

	require.NoError(t, e.Update(ctx, schema.KindTrade, []schema.Row{trade("AAPL", 1)}, nil))
	assert.Zero(t, sub.Out.Len())
}

func TestUnknownTableRejectedWithoutStateChange(t *testing.T) {
	e, ctx := startEngine(t, Options{})

	err := e.Update(ctx, schema.KindUnknown, []schema.Row{trade("AAPL", 1)}, nil)
	require.ErrorIs(t, err, schema.ErrUnknownTable)
	assert.Zero(t, e.Stats().UpdatesApplied)
}

func TestStalledSubscriberIsDropped(t *testing.T) {
	e, ctx := startEngine(t, Options{})

	stalled := hub.NewSubscriber(1)
	require.NoError(t, e.Subscribe(ctx, stalled, []schema.Kind{schema.KindTrade}, nil))

	// Snapshot occupies the single slot; the next push overflows.
	require.NoError(t, e.Update(ctx, schema.KindTrade, []schema.Row{trade("AAPL", 1)}, nil))

	assert.Equal(t, uint64(1), e.Stats().Dropped)
	assert.Zero(t, e.Stats().Subscribers)

	// Queue is closed after the buffered snapshot is drained.
	_, ok := stalled.Out.Pop()
	assert.True(t, ok)
	_, ok = stalled.Out.Pop()
	assert.False(t, ok)
}

func TestWildcardSubscribeCoversAllTables(t *testing.T) {
	e, ctx := startEngine(t, Options{})

	sub := hub.NewSubscriber(16)
	require.NoError(t, e.Subscribe(ctx, sub, nil, nil))

	for range schema.Kinds() {
		d := drain(t, sub)
		assert.True(t, d.Snapshot)
	}
	assert.Zero(t, sub.Out.Len())
}

func TestExecRolloverSeesQuiescentState(t *testing.T) {
	e, ctx := startEngine(t, Options{})

	require.NoError(t, e.Update(ctx, schema.KindTrade, []schema.Row{trade("AAPL", 1), trade("MSFT", 2)}, nil))
	require.NoError(t, e.Update(ctx, schema.KindQuote, []schema.Row{schema.Quote{Sym: "AAPL", Bid: 1, Ask: 2}}, nil))

	var syms []string
	var total int
	require.NoError(t, e.Exec(ctx, func(v View) error {
		syms = v.Symbols()
		total = v.RowCount()
		v.ResetDay()
		return nil
	}))
	assert.Equal(t, []string{"AAPL", "MSFT"}, syms)
	assert.Equal(t, 3, total)

	require.NoError(t, e.Exec(ctx, func(v View) error {
		assert.Zero(t, v.RowCount())
		assert.Empty(t, v.Symbols())
		return nil
	}))
}

func TestSeedBypassesLogAndFanout(t *testing.T) {
	e := New(Options{})
	e.Seed(schema.KindTrade, []schema.Row{trade("AAPL", 1)})
	e.SetSeq(7)

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	defer func() {
		cancel()
		<-e.Done()
	}()

	sub := hub.NewSubscriber(16)
	require.NoError(t, e.Subscribe(ctx, sub, []schema.Kind{schema.KindTrade}, nil))
	snap := drain(t, sub)
	assert.Len(t, snap.Rows, 1)

	require.NoError(t, e.Exec(ctx, func(v View) error {
		assert.Equal(t, uint64(7), v.Seq())
		return nil
	}))
}

func TestDateChangeClearsMirror(t *testing.T) {
	now := time.Date(2026, 8, 28, 23, 59, 0, 0, time.UTC)
	e, ctx := startEngine(t, Options{
		ResetOnDateChange: true,
		Now:               func() time.Time { return now },
	})

	require.NoError(t, e.Update(ctx, schema.KindTrade, []schema.Row{trade("AAPL", 1)}, nil))

	now = now.Add(2 * time.Minute) // crosses into 2026.08.29

	// A snapshot taken after midnight must not contain yesterday's rows.
	sub := hub.NewSubscriber(16)
	require.NoError(t, e.Subscribe(ctx, sub, []schema.Kind{schema.KindTrade}, nil))
	snap := drain(t, sub)
	assert.True(t, snap.Snapshot)
	assert.Empty(t, snap.Rows)

	// The new day accumulates from zero.
	require.NoError(t, e.Update(ctx, schema.KindTrade, []schema.Row{trade("MSFT", 2)}, nil))
	push := drain(t, sub)
	require.Len(t, push.Rows, 1)
	assert.Equal(t, "MSFT", push.Rows[0].Symbol())

	require.NoError(t, e.Exec(ctx, func(v View) error {
		assert.Equal(t, 1, v.RowCount())
		return nil
	}))
}

func TestDateChangeKeepsMirrorWhenResetDisabled(t *testing.T) {
	now := time.Date(2026, 8, 28, 23, 59, 0, 0, time.UTC)
	e, ctx := startEngine(t, Options{Now: func() time.Time { return now }})

	require.NoError(t, e.Update(ctx, schema.KindTrade, []schema.Row{trade("AAPL", 1)}, nil))

	now = now.Add(2 * time.Minute)

	// Without the option the rows survive the date change; the realtime
	// database clears them itself after publishing the partition.
	sub := hub.NewSubscriber(16)
	require.NoError(t, e.Subscribe(ctx, sub, []schema.Kind{schema.KindTrade}, nil))
	snap := drain(t, sub)
	assert.Len(t, snap.Rows, 1)
}

func TestViewLoadSkipsLogAndFanout(t *testing.T) {
	e, ctx := startEngine(t, Options{})

	sub := hub.NewSubscriber(16)
	require.NoError(t, e.Subscribe(ctx, sub, []schema.Kind{schema.KindTrade}, nil))
	drain(t, sub) // empty snapshot

	require.NoError(t, e.Exec(ctx, func(v View) error {
		v.Load(schema.KindTrade, []schema.Row{trade("AAPL", 1)})
		return nil
	}))

	// Loaded rows are in the mirror but were not pushed.
	assert.Zero(t, sub.Out.Len())
	require.NoError(t, e.Exec(ctx, func(v View) error {
		assert.Equal(t, 1, v.RowCount())
		return nil
	}))
}

func TestRequestsAfterShutdownFail(t *testing.T) {
	e := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	cancel()
	<-e.Done()

	err := e.Update(context.Background(), schema.KindTrade, []schema.Row{trade("AAPL", 1)}, nil)
	require.ErrorIs(t, err, ErrEngineClosed)
}
