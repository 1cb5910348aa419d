package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" default:"curation.db"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	WorkerCount        int           `envconfig:"WORKER_COUNT" default:"5"`
	SimhashMaxDistance int           `envconfig:"SIMHASH_MAX_DISTANCE" default:"3"`
	ScoreEndpoint      string        `envconfig:"SCORE_ENDPOINT" default:"http://127.0.0.1:8855/score"`
	ScoreTimeout       time.Duration `envconfig:"SCORE_TIMEOUT" default:"30s"`
	ScoreMaxAttempts   int           `envconfig:"SCORE_MAX_ATTEMPTS" default:"3"`

	CategoryRulesPath string `envconfig:"CATEGORY_RULES_PATH" default:""`
	FilterKeywords    string `envconfig:"FILTER_KEYWORDS" default:""`
	DefaultReportType string `envconfig:"DEFAULT_REPORT_TYPE" default:"general"`

	HTTPHost string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8095"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be >= 1")
	}
	if c.SimhashMaxDistance < 0 || c.SimhashMaxDistance > 64 {
		return fmt.Errorf("SIMHASH_MAX_DISTANCE must be between 0 and 64")
	}
	if c.ScoreTimeout <= 0 {
		return fmt.Errorf("SCORE_TIMEOUT must be > 0")
	}
	if c.ScoreMaxAttempts < 1 {
		return fmt.Errorf("SCORE_MAX_ATTEMPTS must be >= 1")
	}
	if strings.TrimSpace(c.DefaultReportType) == "" {
		return fmt.Errorf("DEFAULT_REPORT_TYPE is required")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

// FilterKeywordList splits FILTER_KEYWORDS, dropping blanks and repeats.
func (c *Config) FilterKeywordList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.FilterKeywords, ",")
	keywords := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		keyword := strings.TrimSpace(part)
		if keyword == "" {
			continue
		}
		if _, exists := seen[keyword]; exists {
			continue
		}
		seen[keyword] = struct{}{}
		keywords = append(keywords, keyword)
	}
	return keywords
}

// IsPostgres reports whether DATABASE_URL points at Postgres rather than a
// SQLite file.
func (c *Config) IsPostgres() bool {
	if c == nil {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(c.DatabaseURL))
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}
