package infra

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5435"`
	PGUser      string `env:"PGUSER" envDefault:"grps"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"grps"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"grps"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	// Server
	APIPort int `env:"API_PORT" envDefault:"8080"`

	// Rank ladder
	ConfigDir      string `env:"CONFIG_DIR" envDefault:"config"`
	RankPolicyPath string `env:"RANK_POLICY_PATH"`

	// Roblox
	RobloxGroupID       int64         `env:"ROBLOX_GROUP_ID" envDefault:"0"`
	RobloxAPIKey        string        `env:"ROBLOX_OPEN_CLOUD_API_KEY"`
	RobloxUniverseID    int64         `env:"ROBLOX_UNIVERSE_ID" envDefault:"0"`
	DatastoreName       string        `env:"ROBLOX_DATASTORE_NAME" envDefault:"GRPS_Points"`
	DatastoreScope      string        `env:"ROBLOX_DATASTORE_SCOPE" envDefault:"global"`
	DatastorePrefix     string        `env:"ROBLOX_DATASTORE_PREFIX" envDefault:"player:"`
	RobloxAPIBaseURL    string        `env:"ROBLOX_API_BASE_URL" envDefault:"https://apis.roblox.com"`
	RobloxGroupsBaseURL string        `env:"ROBLOX_GROUPS_BASE_URL" envDefault:"https://groups.roblox.com"`
	ExternalTimeout     time.Duration `env:"EXTERNAL_TIMEOUT" envDefault:"30s"`
	MirrorEnabled       bool          `env:"MIRROR_ENABLED" envDefault:"true"`
	CircuitThreshold    int           `env:"ROBLOX_CIRCUIT_THRESHOLD" envDefault:"5"`
	CircuitReset        time.Duration `env:"ROBLOX_CIRCUIT_RESET" envDefault:"30s"`

	// Inbound auth
	AutomationSignatureSecret string        `env:"AUTOMATION_SIGNATURE_SECRET"`
	InboundAPIKeys            []string      `env:"INBOUND_API_KEYS" envSeparator:","`
	APIKeyHeader              string        `env:"API_KEY_HEADER" envDefault:"x-grps-api-key"`
	StaffJWTSecret            string        `env:"STAFF_JWT_SECRET"`
	StaffJWTExpiry            time.Duration `env:"STAFF_JWT_EXPIRY" envDefault:"8h"`

	// HTTP
	CORSAllowedOrigins string  `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	RateLimitRPS       float64 `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// Leaderboard cache
	LeaderboardCacheTTL  time.Duration `env:"LEADERBOARD_CACHE_TTL" envDefault:"0s"`
	LeaderboardCacheSize int           `env:"LEADERBOARD_CACHE_SIZE" envDefault:"64"`

	// Kafka
	KafkaBrokers       string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled       bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopicPrefix   string        `env:"KAFKA_TOPIC_PREFIX" envDefault:"grps"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	RelayMetricsPort   int           `env:"RELAY_METRICS_PORT" envDefault:"9091"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.InboundAPIKeys = cleanList(cfg.InboundAPIKeys)
	return cfg, nil
}

// Validate rejects configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass (local dev only).
func (c *Config) Validate() error {
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive, got %d", c.OutboxBatchSize)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.StaffJWTSecret != "" && len(c.StaffJWTSecret) < 32 {
		return fmt.Errorf("STAFF_JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.StaffJWTSecret))
	}
	if c.IsProduction() && c.AutomationSignatureSecret == "" {
		return fmt.Errorf("AUTOMATION_SIGNATURE_SECRET must be set in production; set ALLOW_INSECURE_DEFAULTS=true to bypass")
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// RankPolicyFile returns the ladder file path, defaulting to CONFIG_DIR/policy.ranks.json.
func (c *Config) RankPolicyFile() string {
	if c.RankPolicyPath != "" {
		return c.RankPolicyPath
	}
	return filepath.Join(c.ConfigDir, "policy.ranks.json")
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
