// Package common holds environment variable keys, defaults, and error
// message strings shared across the execution core.
package common

import "time"

// Environment variable keys.
const (
	EnvVenueAPIKeyPrefix    = "VENUE_API_KEY_"    // + user id, e.g. VENUE_API_KEY_U1
	EnvVenueSecretKeyPrefix = "VENUE_SECRET_KEY_" // + user id
	EnvUserIDs              = "FLEET_USER_IDS"    // comma-separated
	EnvVenueTestnet         = "VENUE_TESTNET"
	EnvBaseURL              = "VENUE_BASE_URL"
	EnvRESTTimeout          = "VENUE_REST_TIMEOUT"

	EnvRulesDSN   = "RULES_DSN"
	EnvTradeDSN   = "TRADE_DSN"
	EnvHistoryDSN = "HISTORY_DSN"

	EnvRedisAddr     = "EXTCACHE_REDIS_ADDR"
	EnvRedisPassword = "EXTCACHE_REDIS_PASSWORD"
	EnvRedisDB       = "EXTCACHE_REDIS_DB"

	EnvIncidentDBPath = "INCIDENT_DB_PATH"

	EnvHTTPAddr    = "HTTP_ADDR"
	EnvMetricsPort = "METRICS_PORT"
	EnvJWTSecret   = "API_JWT_SECRET"

	EnvMaxConsecutiveLossDefault = "DEFAULT_MAX_CONSECUTIVE_LOSSES"
	EnvForceLiveTrading          = "FORCE_LIVE_TRADING"
)

// Defaults.
const (
	DefaultBaseURL        = "https://fapi.binance.com"
	DefaultTestnetBaseURL = "https://testnet.binancefuture.com"

	DefaultRESTConnectTimeout = 3 * time.Second
	DefaultRESTReadTimeout    = 5 * time.Second

	DefaultHTTPAddr    = ":8090"
	DefaultMetricsPort = 9090

	DefaultSymbolSpecTTL = time.Hour
	DefaultPriceCacheTTL = 30 * time.Second

	DefaultLiveTradeTTL = 7 * 24 * time.Hour

	DefaultFillPollInterval = time.Second
	DefaultFillPollAttempts = 3

	DefaultFlattenBackoff1 = 2 * time.Second
	DefaultFlattenBackoff2 = 4 * time.Second
	DefaultFlattenBackoff3 = 8 * time.Second
	DefaultFlattenBackoff4 = 10 * time.Second
	DefaultFlattenBackoff5 = 10 * time.Second
	DefaultFlattenAttempts = 5
	DefaultReduceOnlyTries = 2

	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = time.Second
	DefaultRetryMaxDelay    = 10 * time.Second

	GuardianCloseWorkerTimeout = 10 * time.Second
	GuardianCloseTotalTimeout  = 15 * time.Second
	GuardianAdjustSpacing      = 300 * time.Millisecond
	GuardianHalfCloseSpacing   = 500 * time.Millisecond

	MaxAdjustStaleSeconds    = 45.0
	MaxHalfCloseStaleSeconds = 90.0
	MaxCloseStaleSeconds     = 60.0

	HistoryScanLimit = 50

	DefaultStrategyArcherModel = "archer_model"

	CacheWriteRetryDelay = 500 * time.Millisecond
)

// Error messages.
const (
	ErrMsgCredentialsRequired = "venue API key and secret are required for every fleet user"
	ErrMsgNoFleetUsers        = "at least one fleet user id is required"
	ErrMsgBaseURLRequired     = "venue base URL is required"
)
