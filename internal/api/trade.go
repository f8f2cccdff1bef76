package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/domain"
	"github.com/archer-trading/execution-core/internal/venue"
)

// tradeRequest is the POST /trade wire shape (spec §6).
type tradeRequest struct {
	Symbol      string  `json:"symbol" binding:"required"`
	Trade       string  `json:"trade" binding:"required"`
	Entry       float64 `json:"entry" binding:"required"`
	Stop        float64 `json:"stop" binding:"required"`
	Target      float64 `json:"target" binding:"required"`
	RR          float64 `json:"rr" binding:"required"`
	Probability float64 `json:"probability"`
	Strategy    string  `json:"strategy" binding:"required"`

	EV                   *float64 `json:"ev"`
	MarkPrice            *float64 `json:"mark_price"`
	Timestamp            *string  `json:"timestamp"`
	GrokModel            string   `json:"grok_model"`
	SimulatedProbability *float64 `json:"simulated_probability"`
	GrokProbability      *float64 `json:"grok_probability"`
	GrokAction           *string  `json:"grok_action"`
	GrokConfidence       *string  `json:"grok_confidence"`
	GrokRiskLevel        *string  `json:"grok_risk_level"`
	GrokTimingQuality    *string  `json:"grok_timing_quality"`
	GrokKeyFactor        string   `json:"grok_key_factor"`
}

func (r tradeRequest) toSignal() (domain.Signal, error) {
	direction := domain.Direction(strings.ToUpper(r.Trade))
	if direction != domain.DirectionBuy && direction != domain.DirectionSell {
		return domain.Signal{}, &domain.ValidationError{Code: "direction", Message: "trade must be BUY or SELL"}
	}

	ts := time.Now()
	if r.Timestamp != nil {
		parsed, err := time.Parse(time.RFC3339, *r.Timestamp)
		if err != nil {
			return domain.Signal{}, &domain.ValidationError{Code: "timestamp", Message: "timestamp must be ISO-8601"}
		}
		ts = parsed
	}

	s := domain.Signal{
		Symbol:      strings.ToUpper(r.Symbol),
		Direction:   direction,
		Entry:       r.Entry,
		Stop:        r.Stop,
		Target:      r.Target,
		RR:          r.RR,
		Probability: r.Probability,
		Strategy:    r.Strategy,
		Timestamp:   ts,
		MarkPrice:   r.MarkPrice,
		Quality: domain.SignalQuality{
			EV:                   r.EV,
			SimulatedProbability: r.SimulatedProbability,
			GrokProbability:      r.GrokProbability,
			GrokModel:            r.GrokModel,
			GrokKeyFactor:        r.GrokKeyFactor,
		},
	}
	if r.GrokAction != nil {
		v := domain.GrokAction(strings.ToUpper(*r.GrokAction))
		s.Quality.GrokAction = &v
	}
	if r.GrokConfidence != nil {
		v := domain.GrokConfidence(strings.ToUpper(*r.GrokConfidence))
		s.Quality.GrokConfidence = &v
	}
	if r.GrokRiskLevel != nil {
		v := domain.GrokRiskLevel(strings.ToUpper(*r.GrokRiskLevel))
		s.Quality.GrokRiskLevel = &v
	}
	if r.GrokTimingQuality != nil {
		v := domain.GrokTimingQuality(strings.ToUpper(*r.GrokTimingQuality))
		s.Quality.GrokTimingQuality = &v
	}

	if err := s.ValidatePriceOrdering(); err != nil {
		return domain.Signal{}, err
	}
	return s, nil
}

func (s *Server) handleTrade(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	signal, err := req.toSignal()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	now := time.Now()

	results := userFanOut(ctx, s.Fleet, func(ctx context.Context, user FleetUser) gin.H {
		return s.runOneUser(ctx, user, signal, now)
	})

	successful, failed := 0, 0
	for _, r := range results {
		if ok, _ := r["success"].(bool); ok {
			successful++
		} else {
			failed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "completed",
		"symbol":     signal.Symbol,
		"direction":  string(signal.Direction),
		"successful": successful,
		"failed":     failed,
		"total_users": len(results),
		"results":    results,
	})
}

func (s *Server) runOneUser(ctx context.Context, user FleetUser, signal domain.Signal, now time.Time) gin.H {
	userRules, err := s.Rules.GetRules(ctx, user.UserID, signal.Strategy)
	if err != nil {
		return gin.H{"user_id": user.UserID, "success": false, "reason": "rule:rules_lookup_failed"}
	}
	if userRules.IsSymbolBanned(strings.ToLower(signal.Symbol)) {
		return gin.H{"user_id": user.UserID, "success": false, "reason": "rule:symbol_banned"}
	}

	requestCtx := venue.WithRequestCache(ctx, user.Client)
	cachedClient, _ := venue.RequestCacheFrom(requestCtx)

	if err := s.RuleEngine.Validate(requestCtx, cachedClient, userRules, signal, now); err != nil {
		return gin.H{"user_id": user.UserID, "success": false, "reason": err.Error()}
	}

	result := s.Guard.OpenTrade(requestCtx, user.UserID, user.Client, signal, userRules, now)
	if !result.Success {
		log.Warn().Str("user", user.UserID).Str("symbol", signal.Symbol).Str("step", string(result.Step)).
			Msg("trade execution did not complete")
		out := gin.H{"user_id": user.UserID, "success": false, "reason": result.Reason, "step": string(result.Step)}
		if result.PositionClosed != nil {
			out["position_closed"] = *result.PositionClosed
		}
		return out
	}

	return gin.H{
		"user_id": user.UserID, "success": true,
		"order_id": result.OrderID, "sl_order_id": result.SLOrderID, "tp_order_id": result.TPOrderID,
		"entry": result.Entry, "stop_loss": result.StopLoss, "target": result.TakeProfit,
		"quantity": result.Quantity, "leverage": result.Leverage, "rr": result.RR,
	}
}
