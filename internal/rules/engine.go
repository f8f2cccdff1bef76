// Package rules implements the deterministic per-user pre-trade validator
// (spec §4.2): a fixed, first-failure-wins chain of gates evaluated against
// a candidate signal and the user's historical trade state.
package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/common"
	"github.com/archer-trading/execution-core/internal/domain"
	"github.com/archer-trading/execution-core/internal/repo"
	"github.com/archer-trading/execution-core/internal/venue"
)

// Rejection is a structured rule:* rejection rendered as "component:detail"
// (spec §7). It is never retried and never silently approved.
type Rejection struct {
	Code string
}

func (r *Rejection) Error() string { return "rule:" + r.Code }

func reject(format string, args ...any) error {
	return &Rejection{Code: fmt.Sprintf(format, args...)}
}

// PositionLister is the venue capability the trade-limits gate needs: an
// account-wide positions snapshot, plus open orders for symbols whose
// rules count slots by order rather than by live position
// (domain.CountMethodOrders).
type PositionLister interface {
	Positions(ctx context.Context, symbol string) ([]venue.Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]venue.Order, error)
}

// Engine is the stateless RuleEngine evaluator.
type Engine struct {
	History HistoryRepo
}

// HistoryRepo is the subset of repo.HistoryRepo the engine needs; kept
// narrow so tests can fake it without a sqlite backend.
type HistoryRepo interface {
	LastClosedTrade(ctx context.Context, userID, strategy, symbol string) (domain.TradeRecord, bool, error)
	ConsecutiveLosses(ctx context.Context, userID, strategy string, limit int) (count int, lastLossAt time.Time, err error)
}

var _ HistoryRepo = (repo.HistoryRepo)(nil)

// New builds an Engine over history.
func New(history HistoryRepo) *Engine {
	return &Engine{History: history}
}

// Validate runs the full ordered gate chain and returns nil on approval or
// the first Rejection encountered.
func (e *Engine) Validate(ctx context.Context, positions PositionLister, r domain.UserRules, s domain.Signal, now time.Time) error {
	if err := e.checkEnabled(r); err != nil {
		return err
	}
	if err := e.checkSchedule(r, now); err != nil {
		return err
	}
	if err := e.checkCircuitBreaker(ctx, r, now); err != nil {
		return err
	}
	if err := e.checkCooldown(ctx, r, s, now); err != nil {
		return err
	}
	if err := e.checkTradeLimits(ctx, positions, r, s); err != nil {
		return err
	}
	if err := e.checkSignalQuality(r, s); err != nil {
		return err
	}
	return nil
}

func (e *Engine) checkEnabled(r domain.UserRules) error {
	if !r.Enabled {
		return reject("user_disabled")
	}
	return nil
}

var weekdayNames = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func (e *Engine) checkSchedule(r domain.UserRules, now time.Time) error {
	if !r.Schedule.Enabled {
		return nil
	}
	now = now.UTC()
	day := weekdayNames[int(now.Weekday())]
	ranges, ok := r.Schedule.Days[day]
	if !ok || len(ranges) == 0 {
		return reject("schedule:outside_hours")
	}
	hhmm := now.Format("15:04")
	for _, rg := range ranges {
		if hhmm >= rg.Start && hhmm < rg.End {
			return nil
		}
	}
	return reject("schedule:outside_hours")
}

func (e *Engine) checkCircuitBreaker(ctx context.Context, r domain.UserRules, now time.Time) error {
	losses, lastLossAt, err := e.History.ConsecutiveLosses(ctx, r.UserID, r.Strategy, common.HistoryScanLimit)
	if err != nil {
		log.Warn().Err(err).Str("user", r.UserID).Str("strategy", r.Strategy).
			Msg("circuit breaker history read failed, defaulting to allow")
		return nil // store errors on this read default to allow
	}
	if losses == 0 {
		return nil
	}

	pauseHours, applies := resolvePause(r.CircuitBreaker, losses)
	if !applies {
		return nil
	}

	resumeAt := lastLossAt.Add(time.Duration(pauseHours * float64(time.Hour)))
	if now.Before(resumeAt) {
		remaining := resumeAt.Sub(now).Hours()
		return reject("circuit_breaker:paused:%d_losses:remaining_%.1fh", losses, remaining)
	}
	return nil
}

// resolvePause implements I7: tiered config sorted by threshold ascending,
// applied tier is the largest threshold <= current losses.
func resolvePause(cb domain.CircuitBreaker, losses int) (float64, bool) {
	if len(cb.Tiers) > 0 {
		best := -1
		var pause float64
		for _, t := range cb.Tiers {
			if t.ConsecutiveLosses <= losses && t.ConsecutiveLosses > best {
				best = t.ConsecutiveLosses
				pause = t.PauseHours
			}
		}
		if best < 0 {
			return 0, false
		}
		return pause, true
	}
	if cb.MaxConsecutiveLosses > 0 && losses >= cb.MaxConsecutiveLosses {
		return cb.PauseDurationHours, true
	}
	return 0, false
}

func (e *Engine) checkCooldown(ctx context.Context, r domain.UserRules, s domain.Signal, now time.Time) error {
	last, ok, err := e.History.LastClosedTrade(ctx, r.UserID, r.Strategy, s.Symbol)
	if err != nil || !ok {
		return nil
	}
	if !last.ExitReason.TriggersCooldown() || last.ExitTime == nil {
		return nil
	}
	elapsed := now.Sub(*last.ExitTime)
	cooldown := time.Duration(r.CooldownHours * float64(time.Hour))
	if elapsed < cooldown {
		remaining := (cooldown - elapsed).Hours()
		ago := elapsed.Hours()
		return reject("cooldown:%s:%s:%.1fh_ago:remaining_%.1fh",
			strings.ToLower(s.Symbol), last.ExitReason, ago, remaining)
	}
	return nil
}

func (e *Engine) checkTradeLimits(ctx context.Context, positions PositionLister, r domain.UserRules, s domain.Signal) error {
	// spec §4.2 step 5: "one venue call returns all positions" — an
	// account-wide fetch, not scoped to the candidate symbol, since
	// max_trades_open counts open slots across the whole fleet member.
	open, err := positions.Positions(ctx, "")
	if err != nil {
		log.Warn().Err(err).Str("user", r.UserID).Str("symbol", s.Symbol).
			Msg("trade limits position fetch failed, defaulting to allow")
		return nil // venue error on position fetch defaults to allow
	}
	for _, p := range open {
		if p.Symbol == s.Symbol && p.PositionAmt != 0 {
			return reject("trade_limits:position_exists")
		}
	}

	count := len(open)
	if r.CountMethod == domain.CountMethodOrders {
		orders, err := positions.OpenOrders(ctx, "")
		if err != nil {
			log.Warn().Err(err).Str("user", r.UserID).Str("symbol", s.Symbol).
				Msg("trade limits order fetch failed, defaulting to allow")
			return nil // venue error on order fetch defaults to allow
		}
		count = len(orders)
	}
	if r.MaxTradesOpen < 999 && count >= r.MaxTradesOpen {
		return reject("trade_limits:max_exceeded:%d/%d", count, r.MaxTradesOpen)
	}
	return nil
}

func (e *Engine) checkSignalQuality(r domain.UserRules, s domain.Signal) error {
	if s.Probability < r.MinProbability {
		return reject("signal_quality:probability_below_minimum")
	}
	if s.RR < r.MinRR {
		return reject("signal_quality:rr_below_minimum")
	}
	if s.Quality.GrokAction != nil && *s.Quality.GrokAction != domain.GrokActionEnter {
		return reject("signal_quality:grok_action_%s", strings.ToLower(string(*s.Quality.GrokAction)))
	}
	if r.MinGrokConfidence != nil && s.Quality.GrokConfidence != nil {
		minRank, minOK := r.MinGrokConfidence.Rank()
		actualRank, actualOK := s.Quality.GrokConfidence.Rank()
		if minOK && actualOK && actualRank > minRank {
			return reject("signal_quality:grok_confidence_below_minimum")
		}
	}
	if r.MinGrokTiming != nil && s.Quality.GrokTimingQuality != nil {
		minRank, minOK := r.MinGrokTiming.Rank()
		actualRank, actualOK := s.Quality.GrokTimingQuality.Rank()
		if minOK && actualOK && actualRank > minRank {
			return reject("signal_quality:grok_timing_below_minimum")
		}
	}
	if r.MaxGrokRiskLevel != nil && s.Quality.GrokRiskLevel != nil {
		maxRank, maxOK := r.MaxGrokRiskLevel.Rank()
		actualRank, actualOK := s.Quality.GrokRiskLevel.Rank()
		if maxOK && actualOK && actualRank > maxRank {
			return reject("signal_quality:grok_risk_above_maximum")
		}
	}
	return nil
}
