// Package pricefeed supplies PriceView: a fresh mark-price/top-of-book
// lookup with an optional short-TTL shared cache in front of the venue
// (spec §4.1). Stream is a background gorilla/websocket mark-price feed
// adapted from the teacher's internal/exchange/bitunix/ws.go object-pool
// style, repurposed from Bitunix's trade/depth topics to Binance's
// all-symbols mark-price array stream.
package pricefeed

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/venue"
)

// messagePool reuses read buffers across frames, mirroring the teacher's
// sync.Pool usage in ws.go to keep the hot read loop allocation-free.
var messagePool = sync.Pool{
	New: func() any { return make([]markPriceFrame, 0, 256) },
}

type markPriceFrame struct {
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
	EventTime int64  `json:"E"`
}

// Stream maintains an in-memory, best-effort mark-price snapshot per symbol
// fed by a single websocket connection to the venue's combined mark-price
// stream. It is purely an optimization: PriceView falls back to PriceCache
// and then direct venue REST calls when a symbol has no fresh entry here.
type Stream struct {
	url string

	mu      sync.RWMutex
	latest  map[string]venue.MarkPrice
	maxStale time.Duration

	done chan struct{}
}

// NewStream builds a Stream that will dial wsURL once Run is called.
// maxStale bounds how old an in-memory entry may be before callers should
// treat it as absent.
func NewStream(wsURL string, maxStale time.Duration) *Stream {
	return &Stream{
		url:      wsURL,
		latest:   make(map[string]venue.MarkPrice),
		maxStale: maxStale,
		done:     make(chan struct{}),
	}
}

// Run connects and reconnects with backoff until ctx is canceled.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			close(s.done)
			return
		default:
		}
		if err := s.runOnce(ctx); err != nil {
			log.Warn().Err(err).Str("url", s.url).Msg("price stream disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			close(s.done)
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		frames := messagePool.Get().([]markPriceFrame)
		frames = frames[:0]
		if err := json.Unmarshal(raw, &frames); err != nil {
			messagePool.Put(frames)
			continue
		}
		now := time.Now()
		s.mu.Lock()
		for _, f := range frames {
			price, perr := parsePrice(f.MarkPrice)
			if perr != nil {
				continue
			}
			s.latest[f.Symbol] = venue.MarkPrice{Symbol: f.Symbol, Price: price, Ts: now}
		}
		s.mu.Unlock()
		messagePool.Put(frames)
	}
}

// Get returns the in-memory mark price for symbol if present and within
// maxStale of now.
func (s *Stream) Get(symbol string) (venue.MarkPrice, bool) {
	s.mu.RLock()
	mp, ok := s.latest[symbol]
	s.mu.RUnlock()
	if !ok || time.Since(mp.Ts) > s.maxStale {
		return venue.MarkPrice{}, false
	}
	return mp, true
}

func parsePrice(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
