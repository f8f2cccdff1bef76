package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archer-trading/execution-core/internal/domain"
	"github.com/archer-trading/execution-core/internal/guardian"
)

// guardianRequest is the POST /guardian wire shape (spec §4.5/§6).
type guardianRequest struct {
	Action string `json:"action" binding:"required"`
	Symbol string `json:"symbol" binding:"required"`

	MarketContext struct {
		TriggerPrice float64 `json:"trigger_price"`
		Timestamp    string  `json:"timestamp"`
	} `json:"market_context"`

	PriceScenarios *struct {
		OriginalStop     float64 `json:"original_stop"`
		IfPriceUp05Pct   float64 `json:"if_price_up_0_5_pct"`
		IfPriceDown05Pct float64 `json:"if_price_down_0_5_pct"`
		IfPriceUp1Pct    float64 `json:"if_price_up_1_pct"`
		IfPriceDown1Pct  float64 `json:"if_price_down_1_pct"`
	} `json:"price_scenarios"`

	Stop                  float64  `json:"stop"`
	MaxAcceptableDriftPct float64  `json:"max_acceptable_drift_pct"`
	Entry                 *float64 `json:"entry"`
	Side                  *string  `json:"side"`

	LevelMetadata *struct {
		LevelName        string  `json:"level_name"`
		LevelThresholdPct float64 `json:"level_threshold_pct"`
		PreviousLevel    string  `json:"previous_level"`
	} `json:"level_metadata"`
}

func (r guardianRequest) toEnvelope() (guardian.Envelope, error) {
	action := guardian.Action(strings.ToLower(r.Action))
	if action != guardian.ActionClose && action != guardian.ActionAdjust && action != guardian.ActionHalfClose {
		return guardian.Envelope{}, &domain.ValidationError{Code: "action", Message: "action must be close, adjust, or half_close"}
	}

	ts := time.Now()
	if r.MarketContext.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, r.MarketContext.Timestamp)
		if err != nil {
			return guardian.Envelope{}, &domain.ValidationError{Code: "timestamp", Message: "market_context.timestamp must be ISO-8601"}
		}
		ts = parsed
	}

	env := guardian.Envelope{
		Action: action,
		Symbol: strings.ToUpper(r.Symbol),
		MarketContext: guardian.MarketContext{
			TriggerPrice: r.MarketContext.TriggerPrice,
			Timestamp:    ts,
		},
		Stop:                  r.Stop,
		MaxAcceptableDriftPct: r.MaxAcceptableDriftPct,
		Entry:                 r.Entry,
	}
	if r.Side != nil {
		d := domain.Direction(strings.ToUpper(*r.Side))
		env.Side = &d
	}
	if r.PriceScenarios != nil {
		env.PriceScenarios = &guardian.PriceScenarios{
			OriginalStop:     r.PriceScenarios.OriginalStop,
			IfPriceUp05Pct:   r.PriceScenarios.IfPriceUp05Pct,
			IfPriceDown05Pct: r.PriceScenarios.IfPriceDown05Pct,
			IfPriceUp1Pct:    r.PriceScenarios.IfPriceUp1Pct,
			IfPriceDown1Pct:  r.PriceScenarios.IfPriceDown1Pct,
		}
	}
	if r.LevelMetadata != nil {
		env.LevelMetadata = &domain.TrailingStopMeta{
			LevelName:         r.LevelMetadata.LevelName,
			LevelThresholdPct: r.LevelMetadata.LevelThresholdPct,
			PreviousLevel:     r.LevelMetadata.PreviousLevel,
		}
	}
	return env, nil
}

func (s *Server) handleGuardian(c *gin.Context) {
	var req guardianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	env, err := req.toEnvelope()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary := s.Dispatcher.Dispatch(c.Request.Context(), env)

	results := make([]gin.H, 0, len(summary.Results))
	for _, r := range summary.Results {
		results = append(results, gin.H{"user_id": r.UserID, "success": r.Success, "reason": r.Reason})
	}

	c.JSON(http.StatusOK, gin.H{
		"action":                string(summary.Action),
		"symbol":                summary.Symbol,
		"total_users":           summary.TotalUsers,
		"successful_users":      summary.SuccessfulUsers,
		"failed_users":          summary.FailedUsers,
		"success_rate":          summary.SuccessRate,
		"total_execution_time_sec": summary.TotalExecutionTime.Seconds(),
		"results":               results,
	})
}
