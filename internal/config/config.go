package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"

	SweepModeTicker = "ticker"
	SweepModeAsynq  = "asynq"
)

type Config struct {
	Addr          string `mapstructure:"API_ADDR"`
	GinMode       string `mapstructure:"GIN_MODE"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	MongoURL      string `mapstructure:"MONGO_URL"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	// RedisURL enables the sweep lease and the asynq sweep mode; empty disables both.
	RedisURL          string        `mapstructure:"REDIS_URL"`
	CORSOrigin        string        `mapstructure:"CORS_ORIGIN"`
	SweepMode         string        `mapstructure:"SWEEP_MODE"`
	SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
	InactivityTimeout time.Duration `mapstructure:"INACTIVITY_TIMEOUT"`
}

var defaults = map[string]any{
	"API_ADDR":           ":5000",
	"GIN_MODE":           "release",
	"LOG_LEVEL":          "info",
	"STORE_DRIVER":       "",
	"DATABASE_URL":       "",
	"MIGRATIONS_DIR":     "./db/migrations",
	"MONGO_URL":          "",
	"MONGO_DATABASE":     "lobby",
	"REDIS_URL":          "",
	"CORS_ORIGIN":        "*",
	"SWEEP_MODE":         SweepModeTicker,
	"SWEEP_INTERVAL":     "15s",
	"INACTIVITY_TIMEOUT": "10s",
}

// Load reads .env (when present), an optional YAML file named by CONFIG_FILE
// and the process environment, in increasing order of precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := strings.TrimSpace(os.Getenv("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = defaultDriver(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultDriver(cfg Config) string {
	switch {
	case cfg.MongoURL != "":
		return DriverMongo
	case cfg.DatabaseURL != "":
		return DriverPostgres
	default:
		return DriverMemory
	}
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverMongo:
		if c.MongoURL == "" {
			errs = append(errs, errors.New("MONGO_URL is required for the mongo driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("unknown GIN_MODE %q", c.GinMode))
	}
	switch c.SweepMode {
	case SweepModeTicker:
	case SweepModeAsynq:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the asynq sweep mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SWEEP_MODE %q", c.SweepMode))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.InactivityTimeout <= 0 {
		errs = append(errs, errors.New("INACTIVITY_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}
