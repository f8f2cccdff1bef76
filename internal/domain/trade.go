package domain

import "time"

// ExitReason is the closed-trade outcome vocabulary. This fixes the
// source's ambiguous win/lost-suffix split to a single consistent form
// (spec §9 design notes, open question 2): writes and cooldown reads both
// use manual_close_{win,lost,breakeven}.
type ExitReason string

const (
	ExitReasonActive            ExitReason = "active"
	ExitReasonTargetHit         ExitReason = "target_hit"
	ExitReasonStopHit           ExitReason = "stop_hit"
	ExitReasonTimeoutWin        ExitReason = "timeout_win"
	ExitReasonTimeoutLost       ExitReason = "timeout_lost"
	ExitReasonTimeoutBreakeven  ExitReason = "timeout_breakeven"
	ExitReasonManualCloseWin    ExitReason = "manual_close_win"
	ExitReasonManualCloseLost   ExitReason = "manual_close_lost"
	ExitReasonManualCloseBE     ExitReason = "manual_close_breakeven"
	ExitReasonGuardianClose     ExitReason = "guardian_close"
)

// IsLosing reports whether the exit counts toward the circuit breaker's
// consecutive-loss tally (spec §3).
func (r ExitReason) IsLosing() bool {
	switch r {
	case ExitReasonStopHit, ExitReasonManualCloseLost, ExitReasonTimeoutLost:
		return true
	default:
		return false
	}
}

// TriggersCooldown reports whether the exit starts a per-symbol cooldown.
// timeout_lost deliberately does not (spec §3, §4.2 step 4: "the timeout is
// its own waiting period").
func (r ExitReason) TriggersCooldown() bool {
	return r == ExitReasonStopHit || r == ExitReasonManualCloseLost
}

// OrderIDs records the three installed orders for a trade triplet.
type OrderIDs struct {
	Entry string
	SL    string
	TP    string
}

// TradeRecord is a fully opened trade (spec §3). Only the Exit* fields,
// PnL, and UpdatedAt may change after insert.
type TradeRecord struct {
	Symbol         string
	UserID         string
	Strategy       string
	Direction      Direction
	Orders         OrderIDs
	EntryPrice     float64
	StopLoss       float64
	TakeProfit     float64
	Quantity       float64
	RR             float64
	Leverage       int
	CapitalRisked  float64
	Probability    float64
	Quality        SignalQuality
	RulesSnapshot  UserRules
	SignalTime     time.Time
	CreatedAt      time.Time

	ExitReason ExitReason
	ExitTime   *time.Time
	ExitPrice  *float64
	PnL        *float64
	UpdatedAt  time.Time
}

// IsActive reports whether the trade has not yet been closed.
func (t TradeRecord) IsActive() bool {
	return t.ExitReason == "" || t.ExitReason == ExitReasonActive
}

// TrailingStopMeta is the optional level-progression metadata attached to a
// StopAdjuster call, mirrored into LiveTrade (spec §4.4/§6 level_metadata).
type TrailingStopMeta struct {
	LevelName      string
	LevelThresholdPct float64
	PreviousLevel  string
}

// LiveTrade is the external, guardian-shared mirror of a live position
// (spec §3). original_stop is write-once: absent -> present, never
// overwritten thereafter (I10).
type LiveTrade struct {
	UserID string
	Symbol string

	Entry  float64
	Stop   float64
	// StopLoss mirrors Stop; kept distinct because the source persists
	// both keys and downstream guardian readers expect either.
	StopLoss float64
	Target   float64

	OriginalStop *float64

	TSLevelApplied    string
	TSPreviousLevel   string
	TSPreviousStop    *float64
	TSLastAdjustmentTS   *time.Time
	TSLastAdjustmentStop *float64
}

// WithTightenedStop returns a copy of lt with the stop tightened to
// newStop, preserving original_stop per I10/I2. meta, if non-nil, supplies
// the trailing-stop level bookkeeping; otherwise the level name defaults to
// "manual_adjust" (spec §4.4).
func (lt LiveTrade) WithTightenedStop(newStop float64, meta *TrailingStopMeta) LiveTrade {
	out := lt
	if out.OriginalStop == nil {
		prev := lt.Stop
		out.OriginalStop = &prev
	}
	prevStop := lt.Stop
	out.TSPreviousStop = &prevStop
	out.TSPreviousLevel = lt.TSLevelApplied
	out.Stop = newStop
	out.StopLoss = newStop
	now := time.Now()
	out.TSLastAdjustmentTS = &now
	out.TSLastAdjustmentStop = &newStop
	if meta != nil {
		out.TSLevelApplied = meta.LevelName
		if meta.PreviousLevel != "" {
			out.TSPreviousLevel = meta.PreviousLevel
		}
	} else {
		out.TSLevelApplied = "manual_adjust"
	}
	return out
}
