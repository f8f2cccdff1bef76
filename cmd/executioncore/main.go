package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/api"
	"github.com/archer-trading/execution-core/internal/cfg"
	"github.com/archer-trading/execution-core/internal/common"
	"github.com/archer-trading/execution-core/internal/extcache"
	"github.com/archer-trading/execution-core/internal/guardian"
	"github.com/archer-trading/execution-core/internal/incident"
	"github.com/archer-trading/execution-core/internal/metrics"
	"github.com/archer-trading/execution-core/internal/position"
	"github.com/archer-trading/execution-core/internal/pricefeed"
	"github.com/archer-trading/execution-core/internal/repo"
	"github.com/archer-trading/execution-core/internal/rules"
	"github.com/archer-trading/execution-core/internal/stopadjust"
	"github.com/archer-trading/execution-core/internal/venue"
	"github.com/archer-trading/execution-core/internal/venue/binance"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.New()

	tradeRepo, err := repo.Open(c.TradeDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("trade repo open failed")
	}
	defer tradeRepo.Close()

	var rulesRepo *repo.SQLiteRepo
	if c.RulesDSN == c.TradeDSN {
		rulesRepo = tradeRepo
	} else {
		rulesRepo, err = repo.Open(c.RulesDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("rules repo open failed")
		}
		defer rulesRepo.Close()
	}

	incidents, err := incident.Open(c.IncidentDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("incident store open failed")
	}
	defer incidents.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	defer rdb.Close()
	liveTrades := extcache.NewLiveTradeCache(rdb)
	priceCache := extcache.NewPriceCache(rdb)

	// Build one retrying venue client per fleet user, sharing a single
	// symbol-spec/leverage-bracket cache and price view keyed off the
	// first user's client (spec §4.1: caches are shared, not per-user).
	fleetClients := make(map[string]venue.Client, len(c.Fleet))
	var primary venue.Client
	for _, u := range c.Fleet {
		adapter := binance.New(u.APIKey, u.APISecret, c.Testnet)
		retrying := venue.NewRetrying(adapter)
		fleetClients[u.UserID] = retrying
		if primary == nil {
			primary = retrying
		}
	}

	specs := venue.NewSymbolSpecCache(primary, common.DefaultSymbolSpecTTL)
	leverage := venue.NewLeverageBracketCache(primary, common.DefaultSymbolSpecTTL)

	stream := pricefeed.NewStream(wsURLFor(c), common.DefaultPriceCacheTTL)
	go stream.Run(ctx)
	priceView := pricefeed.New(primary, stream, priceCache)

	guard := position.New(specs, leverage, priceView, tradeRepo, liveTrades, incidents)
	adjuster := stopadjust.New(specs, priceView, liveTrades)
	ruleEngine := rules.New(rulesRepo)

	guardianUsers := make([]guardian.UserAccount, 0, len(c.Fleet))
	fleetUsers := make([]api.FleetUser, 0, len(c.Fleet))
	for _, u := range c.Fleet {
		client := fleetClients[u.UserID]
		guardianUsers = append(guardianUsers, guardian.UserAccount{UserID: u.UserID, Client: client})
		fleetUsers = append(fleetUsers, api.FleetUser{UserID: u.UserID, Client: client})
	}
	dispatcher := guardian.New(guardianUsers, rulesRepo, tradeRepo, liveTrades, priceView, adjuster, guard, tradeRepo)

	server := api.NewServer(fleetUsers, rulesRepo, ruleEngine, guard, dispatcher, []byte(c.JWTSecret))

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", c.MetricsPort), Handler: mux}
		go func() {
			<-ctx.Done()
			metricsServer.Shutdown(context.Background())
		}()
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	httpServer := &http.Server{Addr: c.HTTPAddr, Handler: server.Engine}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", c.HTTPAddr).Msg("execution core listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context cancelled")
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	httpServer.Shutdown(shutdownCtx)
	shutdownCancel()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}

func wsURLFor(c cfg.Settings) string {
	if c.Testnet {
		return "wss://stream.binancefuture.com/ws/!markPrice@arr"
	}
	return "wss://fstream.binance.com/ws/!markPrice@arr"
}
