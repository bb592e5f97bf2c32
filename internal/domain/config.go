package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	EventBus  EventBusConfig  `yaml:"eventBus" json:"eventBus"`
	Detection DetectionConfig `yaml:"detection" json:"detection"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings for the read API.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `yaml:"writeTimeout" json:"writeTimeout"` // seconds
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort" json:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser" json:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword" json:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb" json:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`
}

// CacheConfig holds configuration for the entity cache.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type" json:"type"`

	LocalMaxSize int           `yaml:"localMaxSize" json:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTtl" json:"localTtl"`

	RedisAddr     string `yaml:"redisAddr" json:"redisAddr"`
	RedisPassword string `yaml:"redisPassword" json:"redisPassword"`
	RedisDB       int    `yaml:"redisDb" json:"redisDb"`
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type" json:"type"`

	ChannelBufferSize int `yaml:"channelBufferSize" json:"channelBufferSize"`

	NATSUrl           string `yaml:"natsUrl" json:"natsUrl"`
	NATSToken         string `yaml:"natsToken" json:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait" json:"natsReconnectWait"` // seconds
}

// DetectionConfig controls the matching engine and rule orchestrator.
type DetectionConfig struct {
	// MaxWorkers bounds concurrent detection rules (default 6).
	MaxWorkers int `yaml:"maxWorkers" json:"maxWorkers"`

	// MatchWorkers bounds concurrent matching batches. Zero means the
	// matching engine picks NumCPU-1.
	MatchWorkers int `yaml:"matchWorkers" json:"matchWorkers"`

	// MatchBatchSize is the matching partition size (default 1000).
	MatchBatchSize int `yaml:"matchBatchSize" json:"matchBatchSize"`

	// Thresholds is the named-numeric-threshold map consumed by rules.
	// Unknown keys are ignored; missing keys fall back to per-rule
	// defaults and never fail a rule.
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`

	// CustomRules are optional CEL-expression rules evaluated over
	// vendor-agency aggregates.
	CustomRules []CustomRuleConfig `yaml:"customRules" json:"customRules"`
}

// CustomRuleConfig defines a user-supplied CEL detection rule.
type CustomRuleConfig struct {
	Name       string        `yaml:"name" json:"name"`
	Title      string        `yaml:"title" json:"title"`
	Expression string        `yaml:"expression" json:"expression"`
	AlertType  string        `yaml:"alertType" json:"alertType"`
	Severity   AlertSeverity `yaml:"severity" json:"severity"`
	Enabled    bool          `yaml:"enabled" json:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// Thresholds is a read-only snapshot of named numeric thresholds.
type Thresholds map[string]float64

// Float returns the named threshold or def when absent.
func (t Thresholds) Float(key string, def float64) float64 {
	if v, ok := t[key]; ok {
		return v
	}
	return def
}

// Int returns the named threshold truncated to int, or def when absent.
func (t Thresholds) Int(key string, def int) int {
	if v, ok := t[key]; ok {
		return int(v)
	}
	return def
}

// DefaultConfig returns the default configuration: sqlite store,
// in-process cache and channel bus, documented rule thresholds.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detection: DetectionConfig{
			MaxWorkers:     6,
			MatchBatchSize: 1000,
			Thresholds: Thresholds{
				"vendor_name_similarity":          0.85,
				"employee_vendor_name_similarity": 0.90,
				"debarment_name_similarity":       0.90,
				"debarment_min_payment":           1000,
				"contract_splitting_count":        3,
				"contract_splitting_min":          45000,
				"contract_splitting_max":          50000,
				"contract_splitting_months":       12,
				"esbd_threshold":                  25000,
				"fy_end_spike_multiplier":         2.0,
				"fy_end_min_amount":               100000,
				"related_party_min_network_size":  3,
				"related_party_min_value":         500000,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
