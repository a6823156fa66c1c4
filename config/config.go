package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"fipe"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"fipe123"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"fipe_db"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	SQLitePath string `env:"SQLITE_PATH" envDefault:"./data/fipe.db"`

	FipeBaseURL     string `env:"FIPE_BASE_URL" envDefault:"https://veiculos.fipe.org.br/api/veiculos"`
	FipeVehicleType int    `env:"FIPE_VEHICLE_TYPE" envDefault:"1"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"5"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"10s"`
	HTTPTimeout       time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	MaxRetries       int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryDelay       time.Duration `env:"RETRY_DELAY" envDefault:"2s"`
	ThrottleAttempts int           `env:"THROTTLE_ATTEMPTS" envDefault:"5"`
	ThrottleDelay    time.Duration `env:"THROTTLE_DELAY" envDefault:"2s"`

	StoreRetries    int           `env:"STORE_RETRIES" envDefault:"3"`
	StoreRetryDelay time.Duration `env:"STORE_RETRY_DELAY" envDefault:"1s"`

	PriceWorkers         int  `env:"PRICE_WORKERS" envDefault:"1"`
	SkipHistoricalPrices bool `env:"SKIP_HISTORICAL_PRICES" envDefault:"true"`

	StatsEvery    int           `env:"STATS_EVERY" envDefault:"10"`
	StatsInterval time.Duration `env:"STATS_INTERVAL" envDefault:"1m"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`

	CSVOutputPath string `env:"CSV_OUTPUT_PATH" envDefault:"./output/prices.csv"`
}

// Load reads the .env file (if any) and returns a populated, validated Config.
func Load(path ...string) (*Config, error) {
	const op = "config.Load"

	if err := godotenv.Load(path...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: load .env: %w", op, err)
		}
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

// Validate rejects settings the crawler cannot run with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	if c.MaxRetries <= 0 || c.ThrottleAttempts <= 0 || c.StoreRetries <= 0 {
		return errors.New("MAX_RETRIES, THROTTLE_ATTEMPTS and STORE_RETRIES must be positive")
	}
	if c.PriceWorkers <= 0 {
		c.PriceWorkers = 1
	}
	if _, err := url.ParseRequestURI(c.FipeBaseURL); err != nil {
		return fmt.Errorf("FIPE_BASE_URL: %w", err)
	}
	return nil
}

// DSN returns the connection string for the configured store driver.
func (c *Config) DSN() string {
	if c.StoreDriver == DriverSQLite {
		return "file:" + c.SQLitePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}
