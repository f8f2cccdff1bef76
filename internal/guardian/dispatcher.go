// Package guardian implements the multi-user guardian action dispatcher
// (spec §4.5): close/adjust/half_close fan-out with action-specific
// concurrency policy and per-user staleness re-validation.
package guardian

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/archer-trading/execution-core/internal/common"
	"github.com/archer-trading/execution-core/internal/domain"
	"github.com/archer-trading/execution-core/internal/position"
	"github.com/archer-trading/execution-core/internal/repo"
	"github.com/archer-trading/execution-core/internal/stopadjust"
	"github.com/archer-trading/execution-core/internal/venue"
)

// Action is the guardian decision kind.
type Action string

const (
	ActionClose     Action = "close"
	ActionAdjust    Action = "adjust"
	ActionHalfClose Action = "half_close"
)

// PriceScenarios are pre-computed stop prices for common drift bands
// (spec §4.5).
type PriceScenarios struct {
	OriginalStop    float64
	IfPriceUp05Pct  float64
	IfPriceDown05Pct float64
	IfPriceUp1Pct   float64
	IfPriceDown1Pct float64
}

// MarketContext carries the trigger price/time the external monitor
// observed when it issued the decision.
type MarketContext struct {
	TriggerPrice float64
	Timestamp    time.Time
}

// Envelope is one inbound guardian decision (spec §6 POST /guardian).
type Envelope struct {
	Action Action
	Symbol string
	// Stop is the guardian's literal requested new stop-loss for an
	// "adjust" action; installed unchanged while price drift stays within
	// MaxAcceptableDriftPct (original_source's multi_user_execution.py
	// passes message["stop"] straight through in that case).
	Stop                  float64
	MarketContext         MarketContext
	PriceScenarios        *PriceScenarios
	MaxAcceptableDriftPct float64
	Entry                 *float64
	Side                  *domain.Direction
	LevelMetadata         *domain.TrailingStopMeta
}

// UserAccount is one fleet member's venue handle.
type UserAccount struct {
	UserID string
	Client venue.Client
}

// PriceSource is the minimal fresh mark-price capability.
type PriceSource interface {
	Mark(ctx context.Context, symbol string) (venue.MarkPrice, error)
}

// LiveTradeStore mirrors stopadjust.LiveTradeStore plus Delete for close.
type LiveTradeStore interface {
	stopadjust.LiveTradeStore
	Delete(ctx context.Context, userID, symbol string) error
}

// UserResult is one user's outcome within a guardian action.
type UserResult struct {
	UserID  string
	Success bool
	Reason  string
}

// Summary aggregates a guardian action across the user fleet.
type Summary struct {
	Action              Action
	Symbol              string
	TotalUsers          int
	SuccessfulUsers     int
	FailedUsers         int
	SuccessRate         float64
	TotalExecutionTime  time.Duration
	Results             []UserResult
}

// Dispatcher is GuardianDispatcher.
type Dispatcher struct {
	Users      []UserAccount
	Rules      repo.RulesRepo
	Trades     repo.TradeRepo
	LiveTrades LiveTradeStore
	Prices     PriceSource
	Adjuster   *stopadjust.Adjuster
	Guard      *position.Guard
	Audit      repo.AuditRepo
}

// New builds a Dispatcher from its collaborators.
func New(users []UserAccount, rules repo.RulesRepo, trades repo.TradeRepo, liveTrades LiveTradeStore, prices PriceSource, adjuster *stopadjust.Adjuster, guard *position.Guard, audit repo.AuditRepo) *Dispatcher {
	return &Dispatcher{Users: users, Rules: rules, Trades: trades, LiveTrades: liveTrades, Prices: prices, Adjuster: adjuster, Guard: guard, Audit: audit}
}

// Dispatch fans env out to the eligible user fleet per the action's
// concurrency policy (spec §4.5).
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) Summary {
	start := time.Now()
	var results []UserResult

	switch env.Action {
	case ActionClose:
		results = d.dispatchParallel(ctx, env)
	case ActionAdjust:
		results = d.dispatchSequential(ctx, env, common.GuardianAdjustSpacing)
	case ActionHalfClose:
		results = d.dispatchSequential(ctx, env, common.GuardianHalfCloseSpacing)
	}

	summary := Summary{Action: env.Action, Symbol: env.Symbol, TotalUsers: len(results), Results: results,
		TotalExecutionTime: time.Since(start)}
	for _, r := range results {
		if r.Success {
			summary.SuccessfulUsers++
		} else {
			summary.FailedUsers++
		}
	}
	if summary.TotalUsers > 0 {
		summary.SuccessRate = float64(summary.SuccessfulUsers) / float64(summary.TotalUsers)
	}
	return summary
}

func (d *Dispatcher) dispatchParallel(ctx context.Context, env Envelope) []UserResult {
	ctx, cancel := context.WithTimeout(ctx, common.GuardianCloseTotalTimeout)
	defer cancel()

	results := make([]UserResult, len(d.Users))
	var wg sync.WaitGroup
	for i, user := range d.Users {
		wg.Add(1)
		go func(i int, user UserAccount) {
			defer wg.Done()
			taskCtx, taskCancel := context.WithTimeout(ctx, common.GuardianCloseWorkerTimeout)
			defer taskCancel()
			results[i] = d.executeForUser(taskCtx, user, env)
		}(i, user)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) dispatchSequential(ctx context.Context, env Envelope, spacing time.Duration) []UserResult {
	results := make([]UserResult, 0, len(d.Users))
	for i, user := range d.Users {
		results = append(results, d.executeForUser(ctx, user, env))
		if i < len(d.Users)-1 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(spacing):
			}
		}
	}
	return results
}

func (d *Dispatcher) executeForUser(ctx context.Context, user UserAccount, env Envelope) UserResult {
	rules, err := d.Rules.GetRules(ctx, user.UserID, common.DefaultStrategyArcherModel)
	if err != nil {
		return UserResult{UserID: user.UserID, Success: false, Reason: "rule:rules_lookup_failed"}
	}
	if !rules.UseGuardian {
		return UserResult{UserID: user.UserID, Success: false, Reason: "guardian_disabled"}
	}
	if env.Action == ActionHalfClose && !rules.UseGuardianHalf {
		return UserResult{UserID: user.UserID, Success: false, Reason: "guardian_half_disabled"}
	}

	mark, err := d.Prices.Mark(ctx, env.Symbol)
	if err != nil {
		return UserResult{UserID: user.UserID, Success: false, Reason: "venue:transient:mark_price_unavailable"}
	}

	result := d.dispatchAction(ctx, user, env, mark.Price)
	if d.Audit != nil {
		if err := d.Audit.RecordGuardianAction(ctx, string(env.Action), user.UserID, env.Symbol, reasonOrOK(result), result.Reason, time.Now()); err != nil {
			log.Warn().Err(err).Str("user", user.UserID).Msg("failed to record guardian audit entry")
		}
	}
	return result
}

func reasonOrOK(r UserResult) string {
	if r.Success {
		return "success"
	}
	return "failed"
}

func (d *Dispatcher) dispatchAction(ctx context.Context, user UserAccount, env Envelope, mark float64) UserResult {
	priceDrift := driftPct(mark, env.MarketContext.TriggerPrice)
	timeDrift := time.Since(env.MarketContext.Timestamp).Seconds()

	switch env.Action {
	case ActionClose:
		if timeDrift > common.MaxCloseStaleSeconds {
			return UserResult{UserID: user.UserID, Success: false, Reason: "guardian:close_too_stale"}
		}
		closed, _, _, found := d.Guard.ClosePosition(ctx, user.UserID, user.Client, env.Symbol)
		if !found {
			return UserResult{UserID: user.UserID, Success: false, Reason: "invariant:no_open_position"}
		}
		if closed {
			d.finalizeClose(ctx, user.UserID, env.Symbol, mark)
			return UserResult{UserID: user.UserID, Success: true}
		}
		return UserResult{UserID: user.UserID, Success: false, Reason: "safety:flatten_failed"}

	case ActionAdjust:
		if timeDrift > common.MaxAdjustStaleSeconds {
			return UserResult{UserID: user.UserID, Success: false, Reason: "guardian:adjust_too_stale"}
		}
		newStop := resolveAdjustStop(env, priceDrift, mark)
		result := d.Adjuster.AdjustStop(ctx, user.UserID, user.Client, env.Symbol, newStop, env.LevelMetadata)
		return UserResult{UserID: user.UserID, Success: result.Success, Reason: result.Reason}

	case ActionHalfClose:
		if timeDrift > common.MaxHalfCloseStaleSeconds {
			return UserResult{UserID: user.UserID, Success: false, Reason: "guardian:half_close_too_stale"}
		}
		if env.Entry != nil && env.Side != nil && !inProfit(*env.Side, *env.Entry, mark) {
			return UserResult{UserID: user.UserID, Success: false, Reason: "guardian:no_profit"}
		}
		result := d.Adjuster.HalfCloseMoveBE(ctx, user.UserID, user.Client, env.Symbol)
		return UserResult{UserID: user.UserID, Success: result.Success, Reason: result.Note}
	}
	return UserResult{UserID: user.UserID, Success: false, Reason: "invariant:unknown_action"}
}

func (d *Dispatcher) finalizeClose(ctx context.Context, userID, symbol string, markPrice float64) {
	if err := d.Trades.UpdateExit(ctx, userID, symbol, domain.ExitReasonGuardianClose, markPrice, 0, time.Now()); err != nil {
		log.Warn().Err(err).Str("user", userID).Str("symbol", symbol).Msg("failed to record guardian close exit")
	}
	if err := d.LiveTrades.Delete(ctx, userID, symbol); err != nil {
		log.Warn().Err(err).Str("user", userID).Str("symbol", symbol).Msg("cache:out_of_sync deleting livetrade after guardian close")
	}
}

func driftPct(mark, trigger float64) float64 {
	if trigger == 0 {
		return 0
	}
	drift := (mark - trigger) / trigger * 100
	if drift < 0 {
		return -drift
	}
	return drift
}

// resolveAdjustStop implements spec §4.5's scenario-based re-computation:
// within the acceptable drift band, install the guardian's literal
// requested stop unchanged; outside the band, pick the closest
// pre-computed scenario, falling back to original_stop.
func resolveAdjustStop(env Envelope, driftPct, mark float64) float64 {
	if driftPct <= env.MaxAcceptableDriftPct || env.PriceScenarios == nil {
		return env.Stop
	}
	sc := env.PriceScenarios
	up := mark > env.MarketContext.TriggerPrice
	switch {
	case driftPct >= 0.4 && driftPct <= 0.6:
		if up {
			return sc.IfPriceUp05Pct
		}
		return sc.IfPriceDown05Pct
	case driftPct >= 0.8 && driftPct <= 1.2:
		if up {
			return sc.IfPriceUp1Pct
		}
		return sc.IfPriceDown1Pct
	default:
		return sc.OriginalStop
	}
}

func inProfit(side domain.Direction, entry, mark float64) bool {
	if side == domain.DirectionBuy {
		return mark > entry
	}
	return mark < entry
}
