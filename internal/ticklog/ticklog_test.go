package ticklog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfoliomap/tick/internal/schema"
)

func testConfig(t *testing.T, dir string) Config {
	t.Helper()
	cfg := DefaultConfig(dir)
	cfg.FlushInterval = 0
	cfg.SyncInterval = 0
	cfg.CopyPayload = true
	cfg.Now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }
	return cfg
}

func TestWriteReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(testConfig(t, dir))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	payloads := [][]byte{
		[]byte(`[{"sym":"AAPL"}]`),
		[]byte(`[{"sym":"MSFT"},{"sym":"GOOG"}]`),
	}
	require.NoError(t, w.TryAppend(Record{Kind: schema.KindTrade, RowCount: 1, Seq: 1, TsRecv: 100}, payloads[0]))
	require.NoError(t, w.TryAppend(Record{Kind: schema.KindQuote, RowCount: 2, Seq: 2, TsRecv: 200}, payloads[1]))
	require.NoError(t, w.Close())

	var recs []Record
	var bodies [][]byte
	applied, err := Replay(dir, "", "2026.08.28", ReaderOptions{}, func(rec Record, payload []byte) error {
		recs = append(recs, rec)
		cp := make([]byte, len(payload))
		copy(cp, payload)
		bodies = append(bodies, cp)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, applied)

	assert.Equal(t, schema.KindTrade, recs[0].Kind)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, uint32(1), recs[0].RowCount)
	assert.Equal(t, schema.KindQuote, recs[1].Kind)
	assert.True(t, bytes.Equal(payloads[0], bodies[0]))
	assert.True(t, bytes.Equal(payloads[1], bodies[1]))
}

func TestReplayOtherDateIsEmpty(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(testConfig(t, dir))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.TryAppend(Record{Kind: schema.KindTrade, Seq: 1}, []byte(`[]`)))
	require.NoError(t, w.Close())

	applied, err := Replay(dir, "", "2026.08.29", ReaderOptions{}, func(Record, []byte) error {
		t.Fatal("unexpected record")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestReplayMissingDirIsEmpty(t *testing.T) {
	applied, err := Replay(filepath.Join(t.TempDir(), "absent"), "", "2026.08.28", ReaderOptions{}, nil)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestDateRotationSplitsSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	day := time.Date(2026, 8, 28, 23, 59, 59, 0, time.UTC)
	cfg.Now = func() time.Time { return day }

	w, err := NewWriter(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.TryAppend(Record{Kind: schema.KindTrade, Seq: 1}, []byte(`[1]`)))
	require.NoError(t, w.Close())

	// Reopen on the next day; records land in a fresh dated segment.
	day = day.Add(time.Minute)
	w, err = NewWriter(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.TryAppend(Record{Kind: schema.KindTrade, Seq: 2}, []byte(`[2]`)))
	require.NoError(t, w.Close())

	first, err := Replay(dir, "", "2026.08.28", ReaderOptions{}, func(Record, []byte) error { return nil })
	require.NoError(t, err)
	second, err := Replay(dir, "", "2026.08.29", ReaderOptions{}, func(Record, []byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestReaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(testConfig(t, dir))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.TryAppend(Record{Kind: schema.KindTrade, Seq: 1}, []byte(`[{"sym":"AAPL"}]`)))
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	path := filepath.Join(dir, entries[0].Name())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[recordHeaderSize+2] ^= 0xFF // flip a payload byte
	require.NoError(t, os.WriteFile(path, data, 0o644))

	reader := NewReader(bytes.NewReader(data), ReaderOptions{})
	_, _, err = reader.Next()
	require.ErrorIs(t, err, ErrChecksumMismatch)

	// Replay treats the corrupt tail as a torn record and stops cleanly.
	applied, err := Replay(dir, "", "2026.08.28", ReaderOptions{}, func(Record, []byte) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestTornTailStopsReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(testConfig(t, dir))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.TryAppend(Record{Kind: schema.KindTrade, Seq: 1}, []byte(`[1]`)))
	require.NoError(t, w.TryAppend(Record{Kind: schema.KindTrade, Seq: 2}, []byte(`[2]`)))
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	path := filepath.Join(dir, entries[0].Name())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Truncate inside the second record.
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0o644))

	applied, err := Replay(dir, "", "2026.08.28", ReaderOptions{}, func(Record, []byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}

func TestTryAppendLifecycleErrors(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(testConfig(t, dir))
	require.NoError(t, err)

	err = w.TryAppend(Record{Kind: schema.KindTrade}, nil)
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, w.Start(context.Background()))
	require.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, w.Close())

	err = w.TryAppend(Record{Kind: schema.KindTrade}, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestTryAppendFailsAfterContextCancel(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(testConfig(t, dir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.TryAppend(Record{Kind: schema.KindTrade, Seq: 1}, []byte(`[1]`)))

	cancel()

	// Once the loop has exited, appends fail instead of being silently
	// queued with nothing left to drain them.
	require.Eventually(t, func() bool {
		return w.TryAppend(Record{Kind: schema.KindTrade, Seq: 2}, []byte(`[2]`)) != nil
	}, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, w.TryAppend(Record{Kind: schema.KindTrade, Seq: 2}, []byte(`[2]`)), ErrClosed)
	require.NoError(t, w.Close())
}
