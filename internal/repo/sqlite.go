package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/archer-trading/execution-core/internal/domain"
)

// SQLiteRepo is the combined RulesRepo/TradeRepo/HistoryRepo/AuditRepo
// implementation over modernc.org/sqlite, following SynapseStrike's
// store/strategy.go shape: a thin struct around *sql.DB with configuration
// persisted as a JSON blob column rather than a fully normalized schema.
type SQLiteRepo struct {
	db *sql.DB
}

// Open opens (and migrates) a sqlite database at dsn.
func Open(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is a single-writer driver
	r := &SQLiteRepo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepo) Close() error { return r.db.Close() }

func (r *SQLiteRepo) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_rules (
			user_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			rules_config TEXT NOT NULL,
			banned_symbols TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (user_id, strategy)
		)`,
		`CREATE TABLE IF NOT EXISTS trade_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			order_entry TEXT,
			order_sl TEXT,
			order_tp TEXT,
			entry_price REAL NOT NULL,
			stop_loss REAL NOT NULL,
			take_profit REAL NOT NULL,
			quantity REAL NOT NULL,
			rr REAL NOT NULL,
			leverage INTEGER NOT NULL,
			capital_risked REAL NOT NULL,
			probability REAL NOT NULL,
			quality_json TEXT NOT NULL DEFAULT '{}',
			signal_time TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			exit_reason TEXT NOT NULL DEFAULT 'active',
			exit_time TIMESTAMP,
			exit_price REAL,
			pnl REAL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_lookup
			ON trade_records (user_id, strategy, symbol, exit_reason, exit_time DESC)`,
		`CREATE TABLE IF NOT EXISTS guardian_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			result TEXT NOT NULL,
			detail TEXT NOT NULL,
			at TIMESTAMP NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rulesConfigJSON is the JSON shape of the rules_config column, separate
// from domain.UserRules so storage representation can evolve independently
// of the in-process type (mirrors StrategyConfig in SynapseStrike).
type rulesConfigJSON struct {
	Enabled           bool                       `json:"enabled"`
	MinProbability    float64                    `json:"min_probability"`
	MinRR             float64                    `json:"min_rr"`
	MinGrokConfidence *domain.GrokConfidence     `json:"min_grok_confidence,omitempty"`
	MinGrokTiming     *domain.GrokTimingQuality  `json:"min_grok_timing,omitempty"`
	MaxGrokRiskLevel  *domain.GrokRiskLevel      `json:"max_grok_risk,omitempty"`
	RiskPct           float64                    `json:"risk_pct"`
	MaxLeverage       int                        `json:"max_leverage"`
	MaxTradesOpen     int                        `json:"max_trades_open"`
	CountMethod       domain.CountMethod         `json:"count_method"`
	CooldownHours     float64                    `json:"cooldown_hours"`
	Schedule          domain.Schedule            `json:"schedule"`
	CircuitBreaker    domain.CircuitBreaker      `json:"circuit_breaker"`
	UseGuardian       bool                       `json:"use_guardian"`
	UseGuardianHalf   bool                       `json:"use_guardian_half"`
}

func (r *SQLiteRepo) GetRules(ctx context.Context, userID, strategy string) (domain.UserRules, error) {
	var configText, bannedText string
	err := r.db.QueryRowContext(ctx,
		`SELECT rules_config, banned_symbols FROM user_rules WHERE user_id = ? AND strategy = ?`,
		userID, strategy,
	).Scan(&configText, &bannedText)
	if err != nil {
		return domain.UserRules{}, fmt.Errorf("get rules for %s/%s: %w", userID, strategy, err)
	}

	var cfg rulesConfigJSON
	if err := json.Unmarshal([]byte(configText), &cfg); err != nil {
		return domain.UserRules{}, fmt.Errorf("decode rules_config for %s/%s: %w", userID, strategy, err)
	}
	var bannedList []string
	if err := json.Unmarshal([]byte(bannedText), &bannedList); err != nil {
		return domain.UserRules{}, fmt.Errorf("decode banned_symbols for %s/%s: %w", userID, strategy, err)
	}
	banned := make(map[string]bool, len(bannedList))
	for _, s := range bannedList {
		banned[s] = true
	}

	return domain.UserRules{
		UserID:            userID,
		Strategy:          strategy,
		Enabled:           cfg.Enabled,
		MinProbability:    cfg.MinProbability,
		MinRR:             cfg.MinRR,
		MinGrokConfidence: cfg.MinGrokConfidence,
		MinGrokTiming:     cfg.MinGrokTiming,
		MaxGrokRiskLevel:  cfg.MaxGrokRiskLevel,
		RiskPct:           cfg.RiskPct,
		MaxLeverage:       cfg.MaxLeverage,
		MaxTradesOpen:     cfg.MaxTradesOpen,
		CountMethod:       cfg.CountMethod,
		CooldownHours:     cfg.CooldownHours,
		Schedule:          cfg.Schedule,
		CircuitBreaker:    cfg.CircuitBreaker,
		BannedSymbols:     banned,
		UseGuardian:       cfg.UseGuardian,
		UseGuardianHalf:   cfg.UseGuardianHalf,
	}, nil
}

func (r *SQLiteRepo) InsertTrade(ctx context.Context, t domain.TradeRecord) error {
	qualityJSON, err := json.Marshal(t.Quality)
	if err != nil {
		return fmt.Errorf("encode quality: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trade_records (
			user_id, strategy, symbol, direction, order_entry, order_sl, order_tp,
			entry_price, stop_loss, take_profit, quantity, rr, leverage, capital_risked,
			probability, quality_json, signal_time, created_at, exit_reason, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.UserID, t.Strategy, t.Symbol, string(t.Direction),
		t.Orders.Entry, t.Orders.SL, t.Orders.TP,
		t.EntryPrice, t.StopLoss, t.TakeProfit, t.Quantity, t.RR, t.Leverage, t.CapitalRisked,
		t.Probability, string(qualityJSON), t.SignalTime, t.CreatedAt, string(domain.ExitReasonActive), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s/%s: %w", t.UserID, t.Symbol, err)
	}
	return nil
}

func (r *SQLiteRepo) UpdateExit(ctx context.Context, userID, symbol string, reason domain.ExitReason, exitPrice, pnl float64, exitTime time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE trade_records SET exit_reason = ?, exit_price = ?, pnl = ?, exit_time = ?, updated_at = ?
		WHERE user_id = ? AND symbol = ? AND exit_reason = 'active'`,
		string(reason), exitPrice, pnl, exitTime, exitTime, userID, symbol,
	)
	if err != nil {
		return fmt.Errorf("update exit for %s/%s: %w", userID, symbol, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update exit for %s/%s: no active trade found", userID, symbol)
	}
	return nil
}

func (r *SQLiteRepo) ActiveTrade(ctx context.Context, userID, symbol string) (domain.TradeRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT strategy, direction, order_entry, order_sl, order_tp, entry_price, stop_loss,
			take_profit, quantity, rr, leverage, capital_risked, probability, signal_time, created_at
		FROM trade_records WHERE user_id = ? AND symbol = ? AND exit_reason = 'active'
		ORDER BY created_at DESC LIMIT 1`, userID, symbol)

	var t domain.TradeRecord
	var direction string
	err := row.Scan(&t.Strategy, &direction, &t.Orders.Entry, &t.Orders.SL, &t.Orders.TP,
		&t.EntryPrice, &t.StopLoss, &t.TakeProfit, &t.Quantity, &t.RR, &t.Leverage,
		&t.CapitalRisked, &t.Probability, &t.SignalTime, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.TradeRecord{}, false, nil
	}
	if err != nil {
		return domain.TradeRecord{}, false, fmt.Errorf("active trade for %s/%s: %w", userID, symbol, err)
	}
	t.UserID = userID
	t.Symbol = symbol
	t.Direction = domain.Direction(direction)
	t.ExitReason = domain.ExitReasonActive
	return t, true, nil
}

func (r *SQLiteRepo) LastClosedTrade(ctx context.Context, userID, strategy, symbol string) (domain.TradeRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT exit_reason, exit_time FROM trade_records
		WHERE user_id = ? AND strategy = ? AND symbol = ? AND exit_reason != 'active'
		ORDER BY exit_time DESC LIMIT 1`, userID, strategy, symbol)

	var reason string
	var exitTime time.Time
	err := row.Scan(&reason, &exitTime)
	if err == sql.ErrNoRows {
		return domain.TradeRecord{}, false, nil
	}
	if err != nil {
		return domain.TradeRecord{}, false, fmt.Errorf("last closed trade for %s/%s/%s: %w", userID, strategy, symbol, err)
	}
	return domain.TradeRecord{
		UserID:     userID,
		Strategy:   strategy,
		Symbol:     symbol,
		ExitReason: domain.ExitReason(reason),
		ExitTime:   &exitTime,
	}, true, nil
}

func (r *SQLiteRepo) ConsecutiveLosses(ctx context.Context, userID, strategy string, limit int) (int, time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT exit_reason, exit_time FROM trade_records
		WHERE user_id = ? AND strategy = ? AND exit_reason != 'active'
		ORDER BY exit_time DESC LIMIT ?`, userID, strategy, limit)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("consecutive losses for %s/%s: %w", userID, strategy, err)
	}
	defer rows.Close()

	count := 0
	var lastLossAt time.Time
	for rows.Next() {
		var reason string
		var exitTime time.Time
		if err := rows.Scan(&reason, &exitTime); err != nil {
			return 0, time.Time{}, fmt.Errorf("scan history row: %w", err)
		}
		if !domain.ExitReason(reason).IsLosing() {
			break
		}
		if count == 0 {
			lastLossAt = exitTime
		}
		count++
	}
	return count, lastLossAt, rows.Err()
}

func (r *SQLiteRepo) RecordGuardianAction(ctx context.Context, action, userID, symbol, result, detail string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO guardian_audit (action, user_id, symbol, result, detail, at) VALUES (?,?,?,?,?,?)`,
		action, userID, symbol, result, detail, at)
	if err != nil {
		return fmt.Errorf("record guardian action %s/%s/%s: %w", action, userID, symbol, err)
	}
	return nil
}

var (
	_ RulesRepo   = (*SQLiteRepo)(nil)
	_ TradeRepo   = (*SQLiteRepo)(nil)
	_ HistoryRepo = (*SQLiteRepo)(nil)
	_ AuditRepo   = (*SQLiteRepo)(nil)
)
