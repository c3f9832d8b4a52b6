// Package config loads the engine configuration: the main YAML file with
// environment overrides, plus the per-pool definitions file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Provider  ProviderConfig  `yaml:"provider"`
	Briefs    BriefsConfig    `yaml:"briefs"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Rewards   RewardsConfig   `yaml:"rewards"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	DataDir   string          `yaml:"data_dir"`
}

// ServerConfig configures the read-only HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig configures the identity-mapping store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// RedisConfig configures the optional Redis cache backends.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ProviderConfig configures the content API client.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	RateBurst      int           `yaml:"rate_burst"`
	Workers        int           `yaml:"workers"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	InitialDays    int           `yaml:"initial_fetch_days"`
	MaxPerFetch    int           `yaml:"max_per_fetch"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// BriefsConfig configures the brief feed.
type BriefsConfig struct {
	FeedURL  string        `yaml:"feed_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DiscoveryConfig holds the graph-discovery parameters shared by all pools.
type DiscoveryConfig struct {
	MentionWeight float64 `yaml:"mention_weight"`
	RetweetWeight float64 `yaml:"retweet_weight"`
	QuoteWeight   float64 `yaml:"quote_weight"`
	Damping       float64 `yaml:"damping"`
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
}

// ScoringConfig holds the engagement-scoring parameters.
type ScoringConfig struct {
	BaselineFactor    float64 `yaml:"baseline_factor"`
	RetweetWeight     float64 `yaml:"retweet_weight"`
	QuoteWeight       float64 `yaml:"quote_weight"`
	ConsideredCount   int     `yaml:"considered_count"`
	SmoothingExponent float64 `yaml:"smoothing_exponent"`
}

// RewardsConfig holds the emission and distribution parameters.
type RewardsConfig struct {
	EmissionPeriodDays int     `yaml:"emission_period_days"`
	RewardDelayDays    int     `yaml:"reward_delay_days"`
	GlobalCap          float64 `yaml:"global_cap"`
	TreasuryFraction   float64 `yaml:"treasury_fraction"`
	TreasuryIdentity   int     `yaml:"treasury_identity"`
	ZeroIdentity       int     `yaml:"zero_identity"`
	NoCodeIdentity     int     `yaml:"nocode_identity"`
	SimulateMappings   bool    `yaml:"simulate_mappings"`
	PublishURL         string  `yaml:"publish_url"`
	RosterSize         int     `yaml:"roster_size"`
}

// PricingConfig configures the unit-price source for emission conversion.
type PricingConfig struct {
	BaseURL  string        `yaml:"base_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SchedulerConfig sets the cycle cadences.
type SchedulerConfig struct {
	CycleInterval     time.Duration `yaml:"cycle_interval"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
}

// Load reads the main config file, applies defaults and env overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8089"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = 30 * time.Second
	}
	if c.Redis.DefaultTTL == 0 {
		c.Redis.DefaultTTL = 6 * time.Hour
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = 3
	}
	if c.Provider.RetryDelay == 0 {
		c.Provider.RetryDelay = 2 * time.Second
	}
	if c.Provider.RatePerSecond == 0 {
		c.Provider.RatePerSecond = 1
	}
	if c.Provider.RateBurst == 0 {
		c.Provider.RateBurst = 5
	}
	if c.Provider.Workers == 0 {
		c.Provider.Workers = 10
	}
	if c.Provider.CacheTTL == 0 {
		c.Provider.CacheTTL = 6 * time.Hour
	}
	if c.Provider.InitialDays == 0 {
		c.Provider.InitialDays = 30
	}
	if c.Provider.MaxPerFetch == 0 {
		c.Provider.MaxPerFetch = 200
	}
	if c.Provider.BreakerTimeout == 0 {
		c.Provider.BreakerTimeout = time.Minute
	}
	if c.Briefs.CacheTTL == 0 {
		c.Briefs.CacheTTL = 24 * time.Hour
	}
	if c.Discovery.MentionWeight == 0 {
		c.Discovery.MentionWeight = 2.0
	}
	if c.Discovery.RetweetWeight == 0 {
		c.Discovery.RetweetWeight = 1.0
	}
	if c.Discovery.QuoteWeight == 0 {
		c.Discovery.QuoteWeight = 3.0
	}
	if c.Discovery.Damping == 0 {
		c.Discovery.Damping = 0.85
	}
	if c.Discovery.MaxIterations == 0 {
		c.Discovery.MaxIterations = 1000
	}
	if c.Discovery.Tolerance == 0 {
		c.Discovery.Tolerance = 1e-6
	}
	if c.Scoring.BaselineFactor == 0 {
		c.Scoring.BaselineFactor = 2.0
	}
	if c.Scoring.RetweetWeight == 0 {
		c.Scoring.RetweetWeight = 1.0
	}
	if c.Scoring.QuoteWeight == 0 {
		c.Scoring.QuoteWeight = 3.0
	}
	if c.Scoring.ConsideredCount == 0 {
		c.Scoring.ConsideredCount = 256
	}
	if c.Scoring.SmoothingExponent == 0 {
		c.Scoring.SmoothingExponent = 0.65
	}
	if c.Rewards.EmissionPeriodDays == 0 {
		c.Rewards.EmissionPeriodDays = 7
	}
	if c.Rewards.RewardDelayDays == 0 {
		c.Rewards.RewardDelayDays = 1
	}
	if c.Rewards.GlobalCap == 0 {
		c.Rewards.GlobalCap = 1.0
	}
	if c.Rewards.TreasuryFraction == 0 {
		c.Rewards.TreasuryFraction = 0.01
	}
	if c.Rewards.TreasuryIdentity == 0 {
		c.Rewards.TreasuryIdentity = 106
	}
	if c.Rewards.NoCodeIdentity == 0 {
		c.Rewards.NoCodeIdentity = 114
	}
	if c.Rewards.RosterSize == 0 {
		c.Rewards.RosterSize = 256
	}
	if c.Pricing.CacheTTL == 0 {
		c.Pricing.CacheTTL = 10 * time.Minute
	}
	if c.Pricing.Timeout == 0 {
		c.Pricing.Timeout = 10 * time.Second
	}
	if c.Scheduler.CycleInterval == 0 {
		c.Scheduler.CycleInterval = time.Hour
	}
	if c.Scheduler.DiscoveryInterval == 0 {
		c.Scheduler.DiscoveryInterval = 14 * 24 * time.Hour
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("PULSERANK_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if level := os.Getenv("PULSERANK_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if val, err := strconv.Atoi(db); err == nil {
			c.Redis.DB = val
		}
	}
	if key := os.Getenv("PULSERANK_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}
	if url := os.Getenv("PULSERANK_PROVIDER_URL"); url != "" {
		c.Provider.BaseURL = url
	}
	if url := os.Getenv("PULSERANK_BRIEF_FEED_URL"); url != "" {
		c.Briefs.FeedURL = url
	}
	if url := os.Getenv("PULSERANK_PUBLISH_URL"); url != "" {
		c.Rewards.PublishURL = url
	}
	if simulate := os.Getenv("PULSERANK_SIMULATE_MAPPINGS"); simulate != "" {
		if val, err := strconv.ParseBool(simulate); err == nil {
			c.Rewards.SimulateMappings = val
		}
	}
	if dir := os.Getenv("PULSERANK_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Discovery.Damping <= 0 || c.Discovery.Damping >= 1 {
		return fmt.Errorf("discovery damping %.4f outside (0,1)", c.Discovery.Damping)
	}
	if c.Discovery.MaxIterations < 1 {
		return fmt.Errorf("discovery max_iterations must be positive, got %d", c.Discovery.MaxIterations)
	}
	if c.Rewards.EmissionPeriodDays < 1 {
		return fmt.Errorf("emission_period_days must be positive, got %d", c.Rewards.EmissionPeriodDays)
	}
	if c.Rewards.RewardDelayDays < 0 {
		return fmt.Errorf("reward_delay_days must not be negative, got %d", c.Rewards.RewardDelayDays)
	}
	if c.Rewards.TreasuryFraction < 0 || c.Rewards.TreasuryFraction > 1 {
		return fmt.Errorf("treasury_fraction %.4f outside [0,1]", c.Rewards.TreasuryFraction)
	}
	if c.Rewards.GlobalCap <= 0 || c.Rewards.GlobalCap > 1 {
		return fmt.Errorf("global_cap %.4f outside (0,1]", c.Rewards.GlobalCap)
	}
	if c.Scoring.SmoothingExponent <= 0 || c.Scoring.SmoothingExponent > 1 {
		return fmt.Errorf("smoothing_exponent %.4f outside (0,1]", c.Scoring.SmoothingExponent)
	}
	if c.Scoring.ConsideredCount < 1 {
		return fmt.Errorf("considered_count must be positive, got %d", c.Scoring.ConsideredCount)
	}
	if c.Rewards.ZeroIdentity == c.Rewards.TreasuryIdentity {
		return fmt.Errorf("zero identity and treasury identity must differ, both %d", c.Rewards.ZeroIdentity)
	}
	return nil
}
