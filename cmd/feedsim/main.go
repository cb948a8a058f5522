// feedsim publishes synthetic market data to a tickerplant: a random-walk
// trade and quote per symbol on every tick, with occasional order and
// position updates. Useful for exercising the pipeline end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/portfoliomap/tick/internal/client"
	"github.com/portfoliomap/tick/internal/schema"
)

func main() {
	if err := run(); err != nil {
		log.Printf("feedsim: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("tickerplant", "127.0.0.1:5010", "tickerplant address")
	symbolsFlag := flag.String("symbols", "AAPL,MSFT,GOOG,TSLA", "comma-separated symbols")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between ticks")
	orderEvery := flag.Int("order-every", 10, "emit an order update every N ticks")
	positionEvery := flag.Int("position-every", 50, "emit position updates every N ticks")
	seed := flag.Int64("seed", 0, "random seed (0=time-based)")
	flag.Parse()

	symbols := splitSymbols(*symbolsFlag)
	if len(symbols) == 0 {
		return errNoSymbols
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, *addr, 5*time.Second)
	if err != nil {
		return err
	}
	defer c.Close()
	log.Printf("feedsim publishing to %s symbols=%v interval=%s", *addr, symbols, *interval)

	gen := newGenerator(symbols, rand.New(rand.NewSource(*seed)))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		tick++
		now := time.Now().UTC()

		if err := c.Update(ctx, schema.KindTrade, gen.trades(now)); err != nil {
			return err
		}
		if err := c.Update(ctx, schema.KindQuote, gen.quotes(now)); err != nil {
			return err
		}
		if *orderEvery > 0 && tick%*orderEvery == 0 {
			if err := c.Update(ctx, schema.KindOrder, []schema.Row{gen.order(now)}); err != nil {
				return err
			}
		}
		if *positionEvery > 0 && tick%*positionEvery == 0 {
			if err := c.Update(ctx, schema.KindPosition, gen.positions(now)); err != nil {
				return err
			}
		}
	}
}

var errNoSymbols = errors.New("no symbols configured")

func splitSymbols(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

// generator random-walks one price per symbol and derives every row kind
// from it.
type generator struct {
	symbols []string
	prices  map[string]float64
	qty     map[string]int64
	rng     *rand.Rand
	index   int
}

func newGenerator(symbols []string, rng *rand.Rand) *generator {
	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		prices[sym] = 50 + rng.Float64()*450
	}
	return &generator{
		symbols: symbols,
		prices:  prices,
		qty:     make(map[string]int64, len(symbols)),
		rng:     rng,
	}
}

func (g *generator) step(sym string) float64 {
	p := g.prices[sym] * (1 + (g.rng.Float64()-0.5)*0.002)
	if p < 1 {
		p = 1
	}
	g.prices[sym] = p
	return p
}

func (g *generator) trades(now time.Time) []schema.Row {
	rows := make([]schema.Row, 0, len(g.symbols))
	for _, sym := range g.symbols {
		rows = append(rows, schema.Trade{
			Time:      now,
			Sym:       sym,
			Exchange:  "SIM",
			Price:     round2(g.step(sym)),
			Size:      int64(g.rng.Intn(900) + 100),
			Condition: "@",
		})
	}
	return rows
}

func (g *generator) quotes(now time.Time) []schema.Row {
	rows := make([]schema.Row, 0, len(g.symbols))
	for _, sym := range g.symbols {
		mid := g.prices[sym]
		spread := mid * 0.0005
		rows = append(rows, schema.Quote{
			Time:    now,
			Sym:     sym,
			Bid:     round2(mid - spread),
			BidSize: int64(g.rng.Intn(40)+1) * 100,
			Ask:     round2(mid + spread),
			AskSize: int64(g.rng.Intn(40)+1) * 100,
			Source:  "sim",
		})
	}
	return rows
}

func (g *generator) order(now time.Time) schema.Row {
	sym := g.symbols[g.index%len(g.symbols)]
	g.index++
	side := "buy"
	if g.rng.Intn(2) == 0 {
		side = "sell"
	}
	qty := int64(g.rng.Intn(9)+1) * 10
	filled := qty * int64(g.rng.Intn(101)) / 100
	status := "partially_filled"
	switch {
	case filled == 0:
		status = "new"
	case filled == qty:
		status = "filled"
	}
	if side == "buy" {
		g.qty[sym] += filled
	} else {
		g.qty[sym] -= filled
	}
	return schema.Order{
		Time:         now,
		Sym:          sym,
		ID:           uuid.NewString(),
		Side:         side,
		Status:       status,
		FilledQty:    filled,
		RemainingQty: qty - filled,
		LimitPrice:   round2(g.prices[sym]),
	}
}

func (g *generator) positions(now time.Time) []schema.Row {
	date := now.Truncate(24 * time.Hour)
	var rows []schema.Row
	for _, sym := range g.symbols {
		qty := g.qty[sym]
		if qty == 0 {
			continue
		}
		price := g.prices[sym]
		avg := price * (1 + (g.rng.Float64()-0.5)*0.01)
		rows = append(rows, schema.Position{
			Date:         date,
			Sym:          sym,
			Qty:          qty,
			AvgPrice:     round2(avg),
			MarketValue:  round2(price * float64(qty)),
			UnrealizedPL: round2((price - avg) * float64(qty)),
		})
	}
	return rows
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
