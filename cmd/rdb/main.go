package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfoliomap/tick/internal/client"
	"github.com/portfoliomap/tick/internal/ops"
	"github.com/portfoliomap/tick/internal/plant"
	"github.com/portfoliomap/tick/internal/rdb"
	"github.com/portfoliomap/tick/internal/schema"
	"github.com/portfoliomap/tick/internal/server"
	"github.com/portfoliomap/tick/pkg/tcp"
)

const dialTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("rdb: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config")
	tpFlag := flag.String("tickerplant", "", "tickerplant address override")
	listenFlag := flag.String("listen", "", "downstream listen address override")
	hdbRootFlag := flag.String("hdb-root", "", "historical store root override")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}
	if *tpFlag != "" {
		cfg.RDB.TickerplantAddress = *tpFlag
	}
	if *listenFlag != "" {
		cfg.RDB.ListenAddress = *listenFlag
	}
	if *hdbRootFlag != "" {
		cfg.RDB.HDBRootPath = *hdbRootFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := plant.New(plant.Options{})
	go engine.Run(ctx)

	r := rdb.New(engine, rdb.Config{HDBRoot: cfg.RDB.HDBRootPath})
	go checkRollovers(ctx, r, cfg.RDB.RolloverInterval)

	// Downstream port: subscribers only, no updates.
	srv, err := tcp.NewServer(cfg.RDB.ListenAddress)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	log.Printf("rdb listening: %s hdb-root=%s day=%s", srv.Addr(), cfg.RDB.HDBRootPath, r.Day())

	handler := &server.Handler{
		Engine:              engine,
		AllowUpdates:        false,
		SubscriberQueueSize: cfg.RDB.SubscriberQueueSize,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- handler.Serve(ctx, srv)
	}()

	go consumeUpstream(ctx, r, cfg.RDB)

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		return err
	}
}

// consumeUpstream keeps one subscription to the tickerplant alive. Every
// successful connect reseeds the day from the subscribe snapshot: the
// snapshot is the tickerplant's full day mirror, so replacing the local day
// with it also recovers whatever was published while the connection was
// down. Pushes after the snapshot then keep the day current.
func consumeUpstream(ctx context.Context, r *rdb.RDB, cfg ops.RDBConfig) {
	delay := cfg.ReconnectBaseDelay

	for ctx.Err() == nil {
		c, err := client.Dial(ctx, cfg.TickerplantAddress, dialTimeout)
		if err != nil {
			log.Printf("dial tickerplant %s: %v (retry in %s)", cfg.TickerplantAddress, err, delay)
			if !sleep(ctx, delay) {
				return
			}
			delay = min(delay*2, cfg.ReconnectMaxDelay)
			continue
		}

		go func() {
			select {
			case <-ctx.Done():
				_ = c.Close()
			case <-c.Done():
			}
		}()

		snaps, err := c.Subscribe(ctx, nil, nil)
		if err != nil {
			log.Printf("subscribe: %v", err)
			_ = c.Close()
			continue
		}
		delay = cfg.ReconnectBaseDelay
		log.Printf("subscribed to %s, snapshots=%d", cfg.TickerplantAddress, len(snaps))

		day := make(map[schema.Kind][]schema.Row, len(snaps))
		for _, snap := range snaps {
			day[snap.Kind] = snap.Rows
		}
		if err := r.Reseed(ctx, day); err != nil {
			log.Printf("reseed: %v", err)
			_ = c.Close()
			continue
		}

		for d := range c.Deliveries() {
			if err := r.Apply(ctx, d.Kind, d.Rows); err != nil {
				log.Printf("apply %s: %v", d.Kind, err)
			}
		}
		if err := c.Err(); err != nil {
			log.Printf("upstream connection lost: %v", err)
		} else {
			log.Printf("upstream connection closed")
		}
		_ = c.Close()
	}
}

func checkRollovers(ctx context.Context, r *rdb.RDB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.CheckRollover(ctx); err != nil {
				log.Printf("rollover check: %v", err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
