package outbound

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type RegionSpec struct {
	Name   string `mapstructure:"name"`
	Active bool   `mapstructure:"active"`
}

// ProviderSpec configures one service provider and the regions it is
// active in. Each (spid, active region) combination gets its own poller.
type ProviderSpec struct {
	SPID    string       `mapstructure:"spid"`
	Regions []RegionSpec `mapstructure:"regions"`
}

type Config struct {
	///////////////////////
	// POLLING SECTION   //
	///////////////////////

	// Interval rate for polling the outbound queue when idle or gated.
	PollInterval time.Duration

	// Limit for fetching queue records per poll cycle.
	FetchLimit int

	// Max concurrent workers pushing messages per poller.
	MaxWorkers int

	// Upper bound on waiting for a free worker when the pool is saturated.
	// A safety bound, not a steady-state expectation.
	WorkerAcquireWait time.Duration

	// Records older than this are left for cleanup instead of being
	// reprocessed by a partition that has been down a long time.
	MaxMessageAge time.Duration

	// Error count at which a record is promoted from Retry to Failed.
	MaxErrorCount int

	// How long a claim on a record lasts before another poller may
	// reclaim it.
	ClaimLease time.Duration

	// Optional free-form SQL predicate appended to every dequeue query.
	ExtraPredicate string

	// Optional per-push deadline. Zero disables it; expiry is classified
	// as a connectivity-down failure.
	PushTimeout time.Duration

	// Providers lists the partition keys the poller server builds
	// pollers for.
	Providers []ProviderSpec

	///////////////////////////
	// MAINTENANCE SECTION   //
	///////////////////////////

	// Sent records older than this are swept back to Retry.
	StaleSentCutoff time.Duration
	SweepSchedule   string

	// Sent records older than this are deleted.
	SentRetention   time.Duration
	CleanupSchedule string

	/////////////////////
	// GENERAL SECTION //
	/////////////////////

	DSN string

	TLSConfig *tls.Config
}

type ConfigFunc func(c *Config)

func NewConfig(opts ...ConfigFunc) *Config {
	c := &Config{
		PollInterval:      time.Duration(15) * time.Second,
		FetchLimit:        10,
		MaxWorkers:        1,
		WorkerAcquireWait: time.Hour,
		MaxMessageAge:     time.Duration(3) * 24 * time.Hour,
		MaxErrorCount:     5,
		ClaimLease:        time.Duration(5) * time.Minute,
		StaleSentCutoff:   time.Duration(6) * time.Hour,
		SweepSchedule:     "5 * * * *",
		SentRetention:     time.Duration(7) * 24 * time.Hour,
		CleanupSchedule:   "5 0 * * *",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func WithPollInterval(interval time.Duration) ConfigFunc {
	return func(c *Config) {
		c.PollInterval = interval
	}
}

func WithFetchLimit(limit int) ConfigFunc {
	return func(c *Config) {
		c.FetchLimit = limit
	}
}

func WithMaxWorkers(workers int) ConfigFunc {
	return func(c *Config) {
		c.MaxWorkers = workers
	}
}

func WithMaxMessageAge(age time.Duration) ConfigFunc {
	return func(c *Config) {
		c.MaxMessageAge = age
	}
}

func WithMaxErrorCount(count int) ConfigFunc {
	return func(c *Config) {
		c.MaxErrorCount = count
	}
}

func WithExtraPredicate(predicate string) ConfigFunc {
	return func(c *Config) {
		c.ExtraPredicate = predicate
	}
}

func WithPushTimeout(timeout time.Duration) ConfigFunc {
	return func(c *Config) {
		c.PushTimeout = timeout
	}
}

func WithProviders(providers ...ProviderSpec) ConfigFunc {
	return func(c *Config) {
		c.Providers = providers
	}
}

func WithDSN(dsn string) ConfigFunc {
	return func(c *Config) {
		c.DSN = dsn
	}
}

func WithTLSConfig(tlsConfig *tls.Config) ConfigFunc {
	return func(c *Config) {
		c.TLSConfig = tlsConfig
	}
}

// fileConfig mirrors the configuration surface of the surrounding server
// process: intervals in seconds, message age in days.
type fileConfig struct {
	DSN                string         `mapstructure:"dsn"`
	PollIntervalSecs   int            `mapstructure:"poll_interval_seconds"`
	FetchLimit         int            `mapstructure:"fetch_limit"`
	MaxWorkerThreads   int            `mapstructure:"max_worker_threads"`
	MaxMessageAgeDays  int            `mapstructure:"max_message_age_days"`
	MaxErrorCount      int            `mapstructure:"max_error_count"`
	ExtraPredicate     string         `mapstructure:"extra_predicate"`
	PushTimeoutSecs    int            `mapstructure:"push_timeout_seconds"`
	StaleSentCutoffHrs int            `mapstructure:"stale_sent_cutoff_hours"`
	Providers          []ProviderSpec `mapstructure:"providers"`
}

// LoadConfig reads the given config file (any format viper understands) and
// environment overrides prefixed with OUTBOUND_, and returns a Config with
// the same defaults NewConfig applies.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("OUTBOUND")
	v.AutomaticEnv()

	v.SetDefault("poll_interval_seconds", 15)
	v.SetDefault("fetch_limit", 10)
	v.SetDefault("max_worker_threads", 1)
	v.SetDefault("max_message_age_days", 3)
	v.SetDefault("max_error_count", 5)
	v.SetDefault("stale_sent_cutoff_hours", 6)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config %s: %w", path, err)
	}

	return NewConfig(
		WithDSN(fc.DSN),
		WithPollInterval(time.Duration(fc.PollIntervalSecs)*time.Second),
		WithFetchLimit(fc.FetchLimit),
		WithMaxWorkers(fc.MaxWorkerThreads),
		WithMaxMessageAge(time.Duration(fc.MaxMessageAgeDays)*24*time.Hour),
		WithMaxErrorCount(fc.MaxErrorCount),
		WithExtraPredicate(fc.ExtraPredicate),
		WithPushTimeout(time.Duration(fc.PushTimeoutSecs)*time.Second),
		func(c *Config) {
			c.StaleSentCutoff = time.Duration(fc.StaleSentCutoffHrs) * time.Hour
			c.Providers = fc.Providers
		},
	), nil
}
