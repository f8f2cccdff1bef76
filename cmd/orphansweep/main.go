// Command orphansweep runs position.Sweeper.SweepOrphans on a fixed
// interval, standalone from the execution core's HTTP service, to cancel
// conditional orders left behind on symbols that are already flat.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/cfg"
	"github.com/archer-trading/execution-core/internal/position"
	"github.com/archer-trading/execution-core/internal/venue"
	"github.com/archer-trading/execution-core/internal/venue/binance"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	symbols := symbolsFromEnv()
	if len(symbols) == 0 {
		log.Fatal().Msg("ORPHAN_SWEEP_SYMBOLS must list at least one symbol")
	}

	interval := 5 * time.Minute
	if v := os.Getenv("ORPHAN_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	sweepers := make([]*position.Sweeper, 0, len(c.Fleet))
	for _, u := range c.Fleet {
		client := venue.NewRetrying(binance.New(u.APIKey, u.APISecret, c.Testnet))
		sweepers = append(sweepers, position.NewSweeper(client))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx, sweepers, symbols)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, sweepers, symbols)
		}
	}
}

func runOnce(ctx context.Context, sweepers []*position.Sweeper, symbols []string) {
	for _, s := range sweepers {
		swept := s.SweepOrphans(ctx, symbols)
		if swept > 0 {
			log.Info().Int("swept", swept).Msg("cancelled orphaned conditional orders")
		}
	}
}

func symbolsFromEnv() []string {
	raw := os.Getenv("ORPHAN_SWEEP_SYMBOLS")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
