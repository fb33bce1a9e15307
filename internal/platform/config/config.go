package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config captures everything the server and CLI read from the environment.
type Config struct {
	Addr     string `env:"BORDERHIST_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"borderhist"`
	JWTAudience   string `env:"JWT_AUDIENCE" envDefault:"borderhist"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// PostgresDSN switches history persistence from memory to PostgreSQL
	// when set.
	PostgresDSN string `env:"POSTGRES_DSN"`

	Redis RedisConfig
	Kafka KafkaConfig

	InitialStatePath     string `env:"INITIAL_STATE_PATH"`
	ChangesPath          string `env:"CHANGES_PATH"`
	RegionRegistryPath   string `env:"REGION_REGISTRY_PATH"`
	DistrictRegistryPath string `env:"DISTRICT_REGISTRY_PATH"`

	ExportDir string `env:"EXPORT_DIR" envDefault:"exports"`
}

// RedisConfig configures the optional export pair-list cache.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	CacheTTL     time.Duration `env:"REDIS_CACHE_TTL" envDefault:"1h"`
}

// KafkaConfig configures the optional audit publisher.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"borderhist.audit"`
}

// Load reads a .env file when present, then parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
