// Package cfg provides configuration management for the execution core.
// It loads fleet credentials and system settings from environment
// variables (optionally seeded from a .env file), with validation of all
// configuration parameters before the service is allowed to start.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/archer-trading/execution-core/internal/common"
)

// FleetUser is one configured venue account the execution core trades on
// behalf of.
type FleetUser struct {
	UserID    string
	APIKey    string
	APISecret string
}

// Settings contains all configuration parameters for the execution core.
type Settings struct {
	// Fleet Configuration
	Fleet   []FleetUser
	Testnet bool

	// Venue Configuration
	BaseURL     string
	RESTTimeout time.Duration

	// Storage Configuration
	RulesDSN   string
	TradeDSN   string
	HistoryDSN string

	// External Cache Configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IncidentDBPath string

	// HTTP Configuration
	HTTPAddr    string
	MetricsPort int
	JWTSecret   string

	DefaultMaxConsecutiveLosses int
}

// Load loads configuration entirely from environment variables, seeding
// from a .env file when one is present.
func Load() (Settings, error) {
	_ = godotenv.Load()

	fleet, err := loadFleet()
	if err != nil {
		return Settings{}, err
	}

	jwtSecret := os.Getenv(common.EnvJWTSecret)
	if jwtSecret == "" {
		return Settings{}, fmt.Errorf("%s is required", common.EnvJWTSecret)
	}

	settings := Settings{
		Fleet:                       fleet,
		Testnet:                     getBoolOrDefault(common.EnvVenueTestnet, false),
		BaseURL:                     getEnvOrDefault(common.EnvBaseURL, common.DefaultBaseURL),
		RESTTimeout:                 getDurationOrDefault(common.EnvRESTTimeout, common.DefaultRESTReadTimeout),
		RulesDSN:                    getEnvOrDefault(common.EnvRulesDSN, "rules.db"),
		TradeDSN:                    getEnvOrDefault(common.EnvTradeDSN, "trades.db"),
		HistoryDSN:                  getEnvOrDefault(common.EnvHistoryDSN, "trades.db"),
		RedisAddr:                   getEnvOrDefault(common.EnvRedisAddr, "localhost:6379"),
		RedisPassword:               os.Getenv(common.EnvRedisPassword),
		RedisDB:                     getIntOrDefault(common.EnvRedisDB, 0),
		IncidentDBPath:              getEnvOrDefault(common.EnvIncidentDBPath, "incidents.db"),
		HTTPAddr:                    getEnvOrDefault(common.EnvHTTPAddr, common.DefaultHTTPAddr),
		MetricsPort:                 getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		JWTSecret:                   jwtSecret,
		DefaultMaxConsecutiveLosses: getIntOrDefault(common.EnvMaxConsecutiveLossDefault, 3),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// loadFleet builds the fleet user list from FLEET_USER_IDS plus
// per-user VENUE_API_KEY_<id>/VENUE_SECRET_KEY_<id> pairs.
func loadFleet() ([]FleetUser, error) {
	raw := os.Getenv(common.EnvUserIDs)
	if raw == "" {
		return nil, fmt.Errorf(common.ErrMsgNoFleetUsers)
	}

	ids := strings.Split(raw, ",")
	fleet := make([]FleetUser, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		key := os.Getenv(common.EnvVenueAPIKeyPrefix + id)
		secret := os.Getenv(common.EnvVenueSecretKeyPrefix + id)
		if key == "" || secret == "" {
			return nil, fmt.Errorf("%s: %s", id, common.ErrMsgCredentialsRequired)
		}
		fleet = append(fleet, FleetUser{UserID: id, APIKey: key, APISecret: secret})
	}

	if len(fleet) == 0 {
		return nil, fmt.Errorf(common.ErrMsgNoFleetUsers)
	}
	return fleet, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values.
func validateSettings(s *Settings) error {
	if err := validateFleet(s); err != nil {
		return err
	}
	if err := validateURLs(s); err != nil {
		return err
	}
	if err := validateSystemParameters(s); err != nil {
		return err
	}
	return nil
}

func validateFleet(s *Settings) error {
	if len(s.Fleet) == 0 {
		return fmt.Errorf(common.ErrMsgNoFleetUsers)
	}
	for _, u := range s.Fleet {
		if u.APIKey == "" || u.APISecret == "" {
			return fmt.Errorf("%s: %s", u.UserID, common.ErrMsgCredentialsRequired)
		}
	}
	return nil
}

func validateURLs(s *Settings) error {
	if s.BaseURL == "" {
		return fmt.Errorf(common.ErrMsgBaseURLRequired)
	}
	return nil
}

func validateSystemParameters(s *Settings) error {
	if s.RESTTimeout < time.Second || s.RESTTimeout > time.Minute {
		return fmt.Errorf("restTimeout must be between 1s and 1m")
	}
	if s.MetricsPort < 1 || s.MetricsPort > 65535 {
		return fmt.Errorf("metricsPort must be a valid TCP port")
	}
	if s.JWTSecret == "" {
		return fmt.Errorf("%s is required", common.EnvJWTSecret)
	}
	if s.DefaultMaxConsecutiveLosses < 1 {
		return fmt.Errorf("defaultMaxConsecutiveLosses must be positive")
	}
	return nil
}
