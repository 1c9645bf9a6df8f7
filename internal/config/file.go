package config

import (
	"fmt"
	"time"
)

// fileConfig mirrors Config with optional fields so a file only overrides what
// it sets. Durations are strings ("30s") in every format.
type fileConfig struct {
	HTTP struct {
		Addr            *string  `json:"addr" yaml:"addr" toml:"addr"`
		ShutdownTimeout *string  `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
		CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	} `json:"http" yaml:"http" toml:"http"`
	Database struct {
		Driver          *string `json:"driver" yaml:"driver" toml:"driver"`
		DSN             *string `json:"dsn" yaml:"dsn" toml:"dsn"`
		MaxOpenConns    *int    `json:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns"`
		MaxIdleConns    *int    `json:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns"`
		ConnMaxLifetime *string `json:"conn_max_lifetime" yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
	} `json:"database" yaml:"database" toml:"database"`
	Redis struct {
		Addr           *string `json:"addr" yaml:"addr" toml:"addr"`
		Password       *string `json:"password" yaml:"password" toml:"password"`
		DB             *int    `json:"db" yaml:"db" toml:"db"`
		AnalysisTTL    *string `json:"analysis_ttl" yaml:"analysis_ttl" toml:"analysis_ttl"`
		LeaderboardTTL *string `json:"leaderboard_ttl" yaml:"leaderboard_ttl" toml:"leaderboard_ttl"`
	} `json:"redis" yaml:"redis" toml:"redis"`
	Inference struct {
		VisionAddr *string `json:"vision_addr" yaml:"vision_addr" toml:"vision_addr"`
		SpeechAddr *string `json:"speech_addr" yaml:"speech_addr" toml:"speech_addr"`
		Timeout    *string `json:"timeout" yaml:"timeout" toml:"timeout"`
	} `json:"inference" yaml:"inference" toml:"inference"`
	Receipts struct {
		Secret   *string `json:"secret" yaml:"secret" toml:"secret"`
		Required *bool   `json:"required" yaml:"required" toml:"required"`
		TTL      *string `json:"ttl" yaml:"ttl" toml:"ttl"`
	} `json:"receipts" yaml:"receipts" toml:"receipts"`
	Log struct {
		Level       *string `json:"level" yaml:"level" toml:"level"`
		Development *bool   `json:"development" yaml:"development" toml:"development"`
	} `json:"log" yaml:"log" toml:"log"`
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString(&cfg.HTTP.Addr, fc.HTTP.Addr)
	if fc.HTTP.CORSOrigins != nil {
		cfg.HTTP.CORSOrigins = fc.HTTP.CORSOrigins
	}

	setString(&cfg.Database.Driver, fc.Database.Driver)
	setString(&cfg.Database.DSN, fc.Database.DSN)
	setInt(&cfg.Database.MaxOpenConns, fc.Database.MaxOpenConns)
	setInt(&cfg.Database.MaxIdleConns, fc.Database.MaxIdleConns)

	setString(&cfg.Redis.Addr, fc.Redis.Addr)
	setString(&cfg.Redis.Password, fc.Redis.Password)
	setInt(&cfg.Redis.DB, fc.Redis.DB)

	setString(&cfg.Inference.VisionAddr, fc.Inference.VisionAddr)
	setString(&cfg.Inference.SpeechAddr, fc.Inference.SpeechAddr)

	setString(&cfg.Receipts.Secret, fc.Receipts.Secret)
	if fc.Receipts.Required != nil {
		cfg.Receipts.Required = *fc.Receipts.Required
	}

	setString(&cfg.Log.Level, fc.Log.Level)
	if fc.Log.Development != nil {
		cfg.Log.Development = *fc.Log.Development
	}

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"http.shutdown_timeout", fc.HTTP.ShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{"database.conn_max_lifetime", fc.Database.ConnMaxLifetime, &cfg.Database.ConnMaxLifetime},
		{"redis.analysis_ttl", fc.Redis.AnalysisTTL, &cfg.Redis.AnalysisTTL},
		{"redis.leaderboard_ttl", fc.Redis.LeaderboardTTL, &cfg.Redis.LeaderboardTTL},
		{"inference.timeout", fc.Inference.Timeout, &cfg.Inference.Timeout},
		{"receipts.ttl", fc.Receipts.TTL, &cfg.Receipts.TTL},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
