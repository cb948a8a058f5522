package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"

	"github.com/portfoliomap/tick/internal/ops"
	"github.com/portfoliomap/tick/internal/plant"
	"github.com/portfoliomap/tick/internal/schema"
	"github.com/portfoliomap/tick/internal/server"
	"github.com/portfoliomap/tick/internal/ticklog"
	"github.com/portfoliomap/tick/pkg/tcp"
)

const statsInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("tickerplant: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config")
	listenFlag := flag.String("listen", "", "listen address override")
	logDirFlag := flag.String("log-dir", "", "tick log directory override")
	pyroscopeAddr := flag.String("pyroscope", "", "pyroscope server address (empty=disabled)")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}
	if *listenFlag != "" {
		cfg.Tickerplant.ListenAddress = *listenFlag
	}
	if *logDirFlag != "" {
		cfg.Tickerplant.LogDirectory = *logDirFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tick/tickerplant",
			ServerAddress:   *pyroscopeAddr,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	writer, err := ticklog.NewWriter(ticklog.Config{
		Dir:             cfg.Tickerplant.LogDirectory,
		SegmentMaxBytes: cfg.Tickerplant.SegmentMaxBytes,
		QueueSize:       cfg.Tickerplant.QueueSize,
		FlushInterval:   cfg.Tickerplant.FlushInterval,
		SyncInterval:    cfg.Tickerplant.SyncInterval,
	})
	if err != nil {
		return err
	}

	engine := plant.New(plant.Options{
		QueueSize:         cfg.Tickerplant.QueueSize,
		Log:               writer,
		ResetOnDateChange: true,
	})

	// Rebuild today's state from the durable log before accepting traffic.
	today := time.Now().UTC().Format(ticklog.DateLayout)
	var lastSeq uint64
	applied, err := ticklog.Replay(cfg.Tickerplant.LogDirectory, "", today, ticklog.ReaderOptions{},
		func(rec ticklog.Record, payload []byte) error {
			rows, err := schema.DecodeRows(rec.Kind, payload)
			if err != nil {
				return err
			}
			engine.Seed(rec.Kind, rows)
			lastSeq = rec.Seq
			return nil
		})
	if err != nil {
		return err
	}
	engine.SetSeq(lastSeq)
	log.Printf("tick log replay: date=%s updates=%d seq=%d", today, applied, lastSeq)

	if err := writer.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			log.Printf("tick log close: %v", err)
		}
	}()

	go engine.Run(ctx)
	go reportStats(ctx, engine)

	srv, err := tcp.NewServer(cfg.Tickerplant.ListenAddress)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	log.Printf("tickerplant listening: %s log-dir=%s", srv.Addr(), cfg.Tickerplant.LogDirectory)

	handler := &server.Handler{
		Engine:              engine,
		AllowUpdates:        true,
		SubscriberQueueSize: cfg.Tickerplant.SubscriberQueueSize,
	}
	return handler.Serve(ctx, srv)
}

func reportStats(ctx context.Context, engine *plant.Engine) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := engine.Stats()
			log.Printf("stats: updates=%d rows=%d pushes=%d dropped=%d subscribers=%d",
				s.UpdatesApplied, s.RowsAppended, s.Pushes, s.Dropped, s.Subscribers)
		}
	}
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
