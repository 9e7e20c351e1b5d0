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

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"AP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"AP_DB_MAX_CONNS" default:"8"`

	ClassifierAPIKey  string        `envconfig:"CLASSIFIER_API_KEY" default:""`
	ClassifierModel   string        `envconfig:"CLASSIFIER_MODEL" default:"gemini-2.0-flash"`
	ClassifierTimeout time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"45s"`

	MatchBatchSize     int `envconfig:"AP_MATCH_BATCH_SIZE" default:"500"`
	ClassifyBatchSize  int `envconfig:"AP_CLASSIFY_BATCH_SIZE" default:"50"`
	AggregateBatchSize int `envconfig:"AP_AGGREGATE_BATCH_SIZE" default:"500"`
	ClassifyWorkers    int `envconfig:"AP_CLASSIFY_WORKERS" default:"4"`

	// MatchMaxAnchors bounds how many anchors a single headline may attach to.
	// Zero disables the cap.
	MatchMaxAnchors int `envconfig:"AP_MATCH_MAX_ANCHORS" default:"0"`

	MatchIntervalSeconds     int `envconfig:"AP_MATCH_INTERVAL_SECONDS" default:"60"`
	ClassifyIntervalSeconds  int `envconfig:"AP_CLASSIFY_INTERVAL_SECONDS" default:"120"`
	AggregateIntervalSeconds int `envconfig:"AP_AGGREGATE_INTERVAL_SECONDS" default:"120"`
	TaxonomyReloadSeconds    int `envconfig:"AP_TAXONOMY_RELOAD_SECONDS" default:"900"`

	RetryMaxAttempts int           `envconfig:"AP_RETRY_MAX_ATTEMPTS" default:"4"`
	RetryBaseDelay   time.Duration `envconfig:"AP_RETRY_BASE_DELAY" default:"2s"`
	RetryMaxDelay    time.Duration `envconfig:"AP_RETRY_MAX_DELAY" default:"2m"`
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
		return fmt.Errorf("AP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("AP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("AP_DB_MIN_CONNS (%d) cannot exceed AP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.MatchBatchSize < 1 || c.ClassifyBatchSize < 1 || c.AggregateBatchSize < 1 {
		return fmt.Errorf("batch sizes must be >= 1")
	}
	if c.ClassifyWorkers < 1 {
		return fmt.Errorf("AP_CLASSIFY_WORKERS must be >= 1")
	}
	if c.MatchMaxAnchors < 0 {
		return fmt.Errorf("AP_MATCH_MAX_ANCHORS must be >= 0")
	}
	if c.MatchIntervalSeconds < 1 || c.ClassifyIntervalSeconds < 1 || c.AggregateIntervalSeconds < 1 {
		return fmt.Errorf("phase intervals must be >= 1 second")
	}
	if c.TaxonomyReloadSeconds < 1 {
		return fmt.Errorf("AP_TAXONOMY_RELOAD_SECONDS must be >= 1")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("AP_RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < AP_RETRY_BASE_DELAY <= AP_RETRY_MAX_DELAY")
	}
	return nil
}

func (c *Config) MatchInterval() time.Duration {
	return time.Duration(c.MatchIntervalSeconds) * time.Second
}

func (c *Config) ClassifyInterval() time.Duration {
	return time.Duration(c.ClassifyIntervalSeconds) * time.Second
}

func (c *Config) AggregateInterval() time.Duration {
	return time.Duration(c.AggregateIntervalSeconds) * time.Second
}

func (c *Config) TaxonomyReloadInterval() time.Duration {
	return time.Duration(c.TaxonomyReloadSeconds) * time.Second
}
