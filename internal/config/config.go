// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Addr      string `env:"ADDR"       envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath   string `env:"DB_PATH"   envDefault:"./civreg.sqlite"`
	// DatabaseURL is the postgres DSN, used when DBDriver is postgres.
	DatabaseURL string `env:"DATABASE_URL"`

	ConfigURL      string        `env:"CONFIG_URL"`
	ConfigFile     string        `env:"CONFIG_FILE"`
	ConfigTimeout  time.Duration `env:"CONFIG_TIMEOUT"   envDefault:"5s"`
	ConfigCacheTTL time.Duration `env:"CONFIG_CACHE_TTL" envDefault:"1m"`

	RedisAddrs    []string `env:"REDIS_ADDRS" envSeparator:","`
	StreamPrefix  string   `env:"STREAM_PREFIX"  envDefault:"civreg"`
	StreamMaxLen  int64    `env:"STREAM_MAX_LEN" envDefault:"100000"`
	WebhookURL    string   `env:"WEBHOOK_URL"`
	WebhookSecret string   `env:"WEBHOOK_SECRET"`

	JWTSigningKey string `env:"JWT_SIGNING_KEY"`
	JWTIssuer     string `env:"JWT_ISSUER"`
	JWTAudience   string `env:"JWT_AUDIENCE"`

	DispatchInterval  time.Duration `env:"DISPATCH_INTERVAL"   envDefault:"2s"`
	DispatchBatchSize int           `env:"DISPATCH_BATCH_SIZE" envDefault:"100"`
	DispatchMaxRetry  int           `env:"DISPATCH_MAX_RETRY"  envDefault:"10"`
	DispatchWorkers   int           `env:"DISPATCH_WORKERS"    envDefault:"4"`

	AppendAttempts int `env:"APPEND_ATTEMPTS" envDefault:"5"`
}

// Load reads an optional dotenv file, then parses CIVREG_ prefixed variables.
// Variables already set in the environment win over the file.
func Load(dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "CIVREG_"}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			errs = append(errs, errors.New("CIVREG_DB_PATH is required for sqlite"))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("CIVREG_DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CIVREG_DB_DRIVER %q", c.DBDriver))
	}
	if c.ConfigURL == "" && c.ConfigFile == "" {
		errs = append(errs, errors.New("one of CIVREG_CONFIG_URL or CIVREG_CONFIG_FILE is required"))
	}
	if c.JWTSigningKey == "" {
		errs = append(errs, errors.New("CIVREG_JWT_SIGNING_KEY is required"))
	}
	return errors.Join(errs...)
}
