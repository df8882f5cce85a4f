// Package config loads the matcher's settings from MATCHER_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	AnalyticsNone     = "none"
	AnalyticsPostgres = "postgres"
)

// Config captures environment driven configuration for the matcher.
type Config struct {
	RedisAddr   string
	NATSURL     string
	MetricsAddr string
	LogMode     string

	AnalyticsSink   string // "none" or "postgres"
	DatabaseURL     string // required when AnalyticsSink is "postgres"
	AnalyticsBuffer int

	MatchTimeout       time.Duration
	MatchInterval      time.Duration
	SweepInterval      time.Duration
	EntryRetention     time.Duration
	ProfileConcurrency int
	ClaimRetries       int

	RateLimit  int
	RateWindow time.Duration

	OTelEnabled     bool
	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRatio float64
}

// Load parses configuration from the process environment. Optional values
// fall back to defaults; every missing or malformed variable is reported in
// a single error.
func Load() (Config, error) {
	cfg := Config{
		RedisAddr:          "localhost:6379",
		NATSURL:            "nats://localhost:4222",
		MetricsAddr:        ":9091",
		LogMode:            "dev",
		AnalyticsSink:      AnalyticsNone,
		AnalyticsBuffer:    1024,
		MatchTimeout:       2 * time.Second,
		MatchInterval:      2 * time.Second,
		SweepInterval:      5 * time.Second,
		EntryRetention:     10 * time.Minute,
		ProfileConcurrency: 16,
		ClaimRetries:       1,
		RateLimit:          10,
		RateWindow:         time.Minute,
		OTelSampleRatio:    0.1,
	}

	p := &parser{}

	p.str("MATCHER_REDIS_ADDR", &cfg.RedisAddr)
	p.str("MATCHER_NATS_URL", &cfg.NATSURL)
	p.str("MATCHER_METRICS_ADDR", &cfg.MetricsAddr)
	p.str("MATCHER_LOG_MODE", &cfg.LogMode)

	if sink := strings.ToLower(env("MATCHER_ANALYTICS_SINK")); sink != "" {
		switch sink {
		case AnalyticsNone, AnalyticsPostgres:
			cfg.AnalyticsSink = sink
		default:
			p.invalid = append(p.invalid, "MATCHER_ANALYTICS_SINK")
		}
	}
	p.str("MATCHER_DATABASE_URL", &cfg.DatabaseURL)
	if cfg.AnalyticsSink == AnalyticsPostgres && cfg.DatabaseURL == "" {
		p.missing = append(p.missing, "MATCHER_DATABASE_URL")
	}
	p.positiveInt("MATCHER_ANALYTICS_BUFFER", &cfg.AnalyticsBuffer)

	p.positiveDuration("MATCHER_MATCH_TIMEOUT", &cfg.MatchTimeout)
	p.positiveDuration("MATCHER_MATCH_INTERVAL", &cfg.MatchInterval)
	p.positiveDuration("MATCHER_SWEEP_INTERVAL", &cfg.SweepInterval)
	p.positiveDuration("MATCHER_ENTRY_RETENTION", &cfg.EntryRetention)
	p.positiveInt("MATCHER_PROFILE_CONCURRENCY", &cfg.ProfileConcurrency)
	p.nonNegativeInt("MATCHER_CLAIM_RETRIES", &cfg.ClaimRetries)

	p.positiveInt("MATCHER_RATE_LIMIT", &cfg.RateLimit)
	p.positiveDuration("MATCHER_RATE_WINDOW", &cfg.RateWindow)

	p.boolean("MATCHER_OTEL_ENABLED", &cfg.OTelEnabled)
	p.str("MATCHER_OTEL_ENDPOINT", &cfg.OTelEndpoint)
	p.boolean("MATCHER_OTEL_INSECURE", &cfg.OTelInsecure)
	if v := env("MATCHER_OTEL_SAMPLE_RATIO"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil || ratio < 0 || ratio > 1 {
			p.invalid = append(p.invalid, "MATCHER_OTEL_SAMPLE_RATIO")
		} else {
			cfg.OTelSampleRatio = ratio
		}
	}

	if len(p.missing) > 0 {
		return Config{}, fmt.Errorf("config: missing required environment variables: %s", strings.Join(p.missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("config: invalid environment variables: %s", strings.Join(p.invalid, ", "))
	}
	return cfg, nil
}

type parser struct {
	missing []string
	invalid []string
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (p *parser) str(key string, dst *string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func (p *parser) positiveInt(key string, dst *int) {
	p.intAtLeast(key, dst, 1)
}

func (p *parser) nonNegativeInt(key string, dst *int) {
	p.intAtLeast(key, dst, 0)
}

func (p *parser) intAtLeast(key string, dst *int, min int) {
	v := env(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		p.invalid = append(p.invalid, key)
		return
	}
	*dst = n
}

func (p *parser) positiveDuration(key string, dst *time.Duration) {
	v := env(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.invalid = append(p.invalid, key)
		return
	}
	*dst = d
}

func (p *parser) boolean(key string, dst *bool) {
	v := env(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return
	}
	*dst = b
}
