// Package rdb holds the realtime database's day accumulation and rollover
// logic. The row store itself is a plant engine; this package adds the
// date boundary: when the UTC trading date changes, the day's tables are
// published to the historical store and memory is reset.
package rdb

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/portfoliomap/tick/internal/hdb"
	"github.com/portfoliomap/tick/internal/plant"
	"github.com/portfoliomap/tick/internal/schema"
	"github.com/portfoliomap/tick/internal/ticklog"
)

// ErrRolloverFailed wraps a partition write failure. The in-memory day is
// kept untouched so the write can be retried on the next check.
var ErrRolloverFailed = errors.New("rdb: rollover failed")

// Config configures an RDB.
type Config struct {
	// HDBRoot is the historical store's root directory.
	HDBRoot string
	// Now is the clock deciding the current trading date. UTC.
	Now func() time.Time
}

// RDB accumulates one trading day of rows and publishes it at the date
// boundary. The mutex covers the day marker: rollover may be driven both
// by the ingest path and by a periodic check.
type RDB struct {
	engine *plant.Engine
	cfg    Config

	mu  sync.Mutex
	day string
}

// New creates an RDB over the engine, anchored to today's UTC date.
func New(engine *plant.Engine, cfg Config) *RDB {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RDB{
		engine: engine,
		cfg:    cfg,
		day:    cfg.Now().UTC().Format(ticklog.DateLayout),
	}
}

// Day returns the trading date currently being accumulated.
func (r *RDB) Day() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.day
}

// Apply checks the date boundary and then feeds rows into the engine, which
// stores them and fans them out to downstream subscribers.
func (r *RDB) Apply(ctx context.Context, kind schema.Kind, rows []schema.Row) error {
	if err := r.CheckRollover(ctx); err != nil {
		// Rollover failure keeps the old day; rows still belong to it.
		logs.Errorf("rdb: rollover deferred: %v", err)
	}
	return r.engine.Update(ctx, kind, rows, nil)
}

// Reseed replaces the accumulated day with a fresh upstream snapshot. The
// tickerplant's snapshot is its full day mirror, so after a reconnect this
// reconstructs the day exactly, including whatever was published while the
// connection was down. Replace, not merge: rows received before the
// disconnect are in the snapshot too, and appending would double them. The
// swap runs inside the engine loop, so downstream subscribers never observe
// a half-loaded mirror. Rollover is checked first in case the disconnect
// spanned a date boundary.
func (r *RDB) Reseed(ctx context.Context, snaps map[schema.Kind][]schema.Row) error {
	if err := r.CheckRollover(ctx); err != nil {
		return err
	}
	return r.engine.Exec(ctx, func(v plant.View) error {
		dropped := v.RowCount()
		v.ResetDay()
		loaded := 0
		for kind, rows := range snaps {
			v.Load(kind, rows)
			loaded += len(rows)
		}
		logs.Infof("rdb: reseeded from upstream snapshot, rows %d -> %d", dropped, loaded)
		return nil
	})
}

// CheckRollover publishes the accumulated day when the UTC date has moved
// on. The partition is written and made visible before memory is cleared,
// so a crash between the two only re-publishes, never loses. Same-date
// calls are no-ops.
func (r *RDB) CheckRollover(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := r.cfg.Now().UTC().Format(ticklog.DateLayout)
	if today == r.day {
		return nil
	}

	closing := r.day
	err := r.engine.Exec(ctx, func(v plant.View) error {
		tables := make(map[schema.Kind][]schema.Row, len(schema.Kinds()))
		for _, kind := range schema.Kinds() {
			tables[kind] = v.Rows(kind)
		}
		if err := hdb.WritePartition(r.cfg.HDBRoot, closing, tables, v.Symbols()); err != nil {
			if hdb.IsPartitionExists(err) {
				// A previous attempt already published this day.
				logs.Warnf("rdb: partition %s already published, dropping %d buffered rows", closing, v.RowCount())
				v.ResetDay()
				return nil
			}
			return errors.Wrapf(ErrRolloverFailed, "partition %s: %v", closing, err)
		}
		logs.Infof("rdb: published partition %s rows=%d syms=%d", closing, v.RowCount(), len(v.Symbols()))
		v.ResetDay()
		return nil
	})
	if err != nil {
		return err
	}
	r.day = today
	return nil
}
