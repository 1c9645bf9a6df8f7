package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "BROSCORE_"

// Config holds runtime parameters for the service.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Inference InferenceConfig
	Receipts  ReceiptsConfig
	Log       LogConfig
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	// Addr left empty disables caching.
	Addr           string
	Password       string
	DB             int
	AnalysisTTL    time.Duration
	LeaderboardTTL time.Duration
}

type InferenceConfig struct {
	VisionAddr string
	SpeechAddr string
	Timeout    time.Duration
}

type ReceiptsConfig struct {
	Secret   string
	Required bool
	TTL      time.Duration
}

type LogConfig struct {
	Level       string
	Development bool
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":5000",
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "broski.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			AnalysisTTL:    10 * time.Minute,
			LeaderboardTTL: 30 * time.Second,
		},
		Inference: InferenceConfig{
			VisionAddr: "inference:50051",
			Timeout:    30 * time.Second,
		},
		Receipts: ReceiptsConfig{
			Secret: "dev-secret",
			TTL:    time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load layers defaults, the optional config file at path, a .env file in the
// working directory and BROSCORE_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if c.Inference.VisionAddr == "" {
		return errors.New("inference vision address is required")
	}
	if c.Receipts.Secret == "" {
		return errors.New("receipts secret is required")
	}
	if c.Inference.Timeout <= 0 {
		return errors.New("inference timeout must be positive")
	}
	return nil
}

// SpeechTarget falls back to the vision address when one sidecar serves both.
func (c InferenceConfig) SpeechTarget() string {
	if c.SpeechAddr != "" {
		return c.SpeechAddr
	}
	return c.VisionAddr
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	case ".json":
		err = json.Unmarshal(b, &fc)
	case ".toml":
		err = toml.Unmarshal(b, &fc)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc.apply(cfg)
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	dur("HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok && v != "" {
		cfg.HTTP.CORSOrigins = splitList(v)
	}

	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_DSN", &cfg.Database.DSN)
	num("DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	num("DATABASE_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	dur("DATABASE_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	num("REDIS_DB", &cfg.Redis.DB)
	dur("REDIS_ANALYSIS_TTL", &cfg.Redis.AnalysisTTL)
	dur("REDIS_LEADERBOARD_TTL", &cfg.Redis.LeaderboardTTL)

	str("INFERENCE_VISION_ADDR", &cfg.Inference.VisionAddr)
	str("INFERENCE_SPEECH_ADDR", &cfg.Inference.SpeechAddr)
	dur("INFERENCE_TIMEOUT", &cfg.Inference.Timeout)

	str("RECEIPTS_SECRET", &cfg.Receipts.Secret)
	flag("RECEIPTS_REQUIRED", &cfg.Receipts.Required)
	dur("RECEIPTS_TTL", &cfg.Receipts.TTL)

	str("LOG_LEVEL", &cfg.Log.Level)
	flag("LOG_DEVELOPMENT", &cfg.Log.Development)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
