package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "WARDEN_CONFIG"

// EnvPrefix prefixes every environment override. Nested keys use "__",
// e.g. WARDEN_ENGINE__CHECK_TIMEOUT=25ms sets engine.check_timeout.
const EnvPrefix = "WARDEN_"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{
	"warden.yaml",
	"config/warden.yaml",
	"/etc/warden/warden.yaml",
}

// Counter backends selectable under engine.counter_backend.
const (
	CounterBackendMemory = "memory"
	CounterBackendApprox = "approx"
	CounterBackendRedis  = "redis"
)

// Config is the full process configuration.
type Config struct {
	Environment string   `koanf:"environment" validate:"oneof=local development staging production"`
	Server      Server   `koanf:"server"`
	Log         Log      `koanf:"log"`
	Engine      Engine   `koanf:"engine"`
	Database    Database `koanf:"database"`
	Redis       Redis    `koanf:"redis"`
	Kafka       Kafka    `koanf:"kafka"`
	Policy      Policy   `koanf:"policy"`
	Tracing     Tracing  `koanf:"tracing"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// ReviewerSigningKey verifies HS256 bearer tokens on the review surface.
	ReviewerSigningKey string `koanf:"reviewer_signing_key" validate:"required,min=16"`
	ReviewerIssuer     string `koanf:"reviewer_issuer"`
}

// Log configures the process logger.
type Log struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// Engine tunes the counter and lockout stores and their maintenance.
type Engine struct {
	CounterBackend   string        `koanf:"counter_backend" validate:"oneof=memory approx redis"`
	MaxKeys          int           `koanf:"max_keys" validate:"gt=0"`
	ApproxBuckets    int           `koanf:"approx_buckets" validate:"gte=2"`
	CheckTimeout     time.Duration `koanf:"check_timeout" validate:"gt=0"`
	ScoreTimeout     time.Duration `koanf:"score_timeout" validate:"gt=0"`
	BreakerFailures  uint32        `koanf:"breaker_failures" validate:"gt=0"`
	BreakerOpenFor   time.Duration `koanf:"breaker_open_for" validate:"gt=0"`
	SweepInterval    time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	SweepBatch       int           `koanf:"sweep_batch" validate:"gt=0"`
	SnapshotPath     string        `koanf:"snapshot_path"`
	SnapshotInterval time.Duration `koanf:"snapshot_interval" validate:"gt=0"`
	PublishEvents    bool          `koanf:"publish_events"`
	AuditBuffer      int           `koanf:"audit_buffer" validate:"gt=0"`
}

// Database configures the Postgres detection store. An empty URL selects
// the in-memory store.
type Database struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gt=0"`
	Migrate         bool          `koanf:"migrate"`
}

// Redis configures the remote counter backend.
type Redis struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size" validate:"gt=0"`
	MinIdleConns int           `koanf:"min_idle_conns" validate:"gte=0"`
	DialTimeout  time.Duration `koanf:"dial_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
}

// Kafka configures event publishing. No brokers disables it.
type Kafka struct {
	Brokers        []string `koanf:"brokers"`
	Acks           string   `koanf:"acks" validate:"oneof=all leader none"`
	Retries        int      `koanf:"retries" validate:"gte=0"`
	DetectionTopic string   `koanf:"detection_topic" validate:"required"`
	AuditTopic     string   `koanf:"audit_topic" validate:"required"`
}

// Policy locates the policy document.
type Policy struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// Tracing configures OTLP span export. No endpoint disables it.
type Tracing struct {
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SampleRatio  float64 `koanf:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the development configuration every layer builds on.
func Default() *Config {
	return &Config{
		Environment: "local",
		Server: Server{
			Addr:               ":8080",
			ReadTimeout:        5 * time.Second,
			WriteTimeout:       10 * time.Second,
			ShutdownTimeout:    15 * time.Second,
			ReviewerSigningKey: "dev-reviewer-key-change-in-production",
			ReviewerIssuer:     "warden",
		},
		Log: Log{Level: "info"},
		Engine: Engine{
			CounterBackend:   CounterBackendMemory,
			MaxKeys:          1 << 20,
			ApproxBuckets:    20,
			CheckTimeout:     50 * time.Millisecond,
			ScoreTimeout:     250 * time.Millisecond,
			BreakerFailures:  5,
			BreakerOpenFor:   5 * time.Second,
			SweepInterval:    time.Minute,
			SweepBatch:       256,
			SnapshotInterval: 30 * time.Second,
			AuditBuffer:      1024,
		},
		Database: Database{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  100 * time.Millisecond,
			WriteTimeout: 100 * time.Millisecond,
		},
		Kafka: Kafka{
			Acks:           "all",
			Retries:        3,
			DetectionTopic: "warden.detections",
			AuditTopic:     "warden.audit",
		},
		Tracing: Tracing{SampleRatio: 1},
	}
}

// Load layers defaults, an optional YAML file and WARDEN_ environment
// variables, then validates the result.
func Load() (*Config, error) {
	return LoadFrom(findFile())
}

// LoadFrom is Load with an explicit file path. An empty path skips the file layer.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if raw, ok := k.Get("kafka.brokers").(string); ok {
		// Env values arrive as a single comma-separated string.
		if err := k.Set("kafka.brokers", splitList(raw)); err != nil {
			return nil, fmt.Errorf("failed to parse kafka brokers: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Engine.CounterBackend == CounterBackendRedis && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when engine.counter_backend is redis")
	}
	if c.Environment == "production" && c.Server.ReviewerSigningKey == Default().Server.ReviewerSigningKey {
		return fmt.Errorf("server.reviewer_signing_key must be set in production")
	}
	return nil
}

// KafkaEnabled reports whether event publishing has somewhere to go.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func findFile() string {
	if path := os.Getenv(PathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
