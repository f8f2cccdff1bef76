package domain

// CountMethod selects how "open trades" are tallied against max_trades_open.
type CountMethod string

const (
	CountMethodPositions CountMethod = "positions"
	CountMethodOrders    CountMethod = "orders"
)

// ScheduleRange is one [start, end) HH:MM window in UTC.
type ScheduleRange struct {
	Start string // "HH:MM"
	End   string // "HH:MM"
}

// Schedule gates entries to specific UTC windows per weekday. A missing
// weekday key means no trading that day (spec §4.2 step 2).
type Schedule struct {
	Enabled bool
	Days    map[string][]ScheduleRange // "monday".."sunday" -> ranges
}

// CircuitBreakerTier is one step of a tiered pause ladder, evaluated
// highest-matching-threshold-first (spec §4.2 step 3, I7).
type CircuitBreakerTier struct {
	ConsecutiveLosses int
	PauseHours        float64
}

// CircuitBreaker is either a single threshold or a tiered ladder. Exactly
// one of the two shapes is populated; Tiers takes precedence when non-empty.
type CircuitBreaker struct {
	MaxConsecutiveLosses int
	PauseDurationHours   float64
	Tiers                []CircuitBreakerTier
}

// UserRules is the full per-(user, strategy) configuration (spec §3).
type UserRules struct {
	UserID   string
	Strategy string

	Enabled            bool
	MinProbability     float64
	MinRR              float64
	MinGrokConfidence  *GrokConfidence
	MinGrokTiming      *GrokTimingQuality
	MaxGrokRiskLevel   *GrokRiskLevel

	RiskPct     float64
	MaxLeverage int

	MaxTradesOpen int
	CountMethod   CountMethod

	CooldownHours float64

	Schedule Schedule

	CircuitBreaker CircuitBreaker

	BannedSymbols map[string]bool

	// UseGuardian and UseGuardianHalf gate participation in guardian
	// dispatch actions (spec §4.5); the guardian strategy bucket is
	// fixed to "archer_model".
	UseGuardian     bool
	UseGuardianHalf bool
}

// IsSymbolBanned reports whether symbol is excluded for this user/strategy.
func (r UserRules) IsSymbolBanned(symbol string) bool {
	return r.BannedSymbols[symbol]
}
