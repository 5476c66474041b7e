package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/trigger-planner/internal/model"
)

// Config is the planner configuration
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Timezone  string          `mapstructure:"timezone"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Histogram HistogramConfig `mapstructure:"histogram"`
	Rebalance RebalanceConfig `mapstructure:"rebalance"`
	Auth      AuthConfig      `mapstructure:"auth"`

	// Location is Timezone resolved by Load.
	Location *time.Location `mapstructure:"-"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	Stream         string        `mapstructure:"stream"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type HistogramConfig struct {
	BucketMinutes int           `mapstructure:"bucket_minutes"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// RebalanceConfig drives redistribution from the CLI and the auto-balancer
type RebalanceConfig struct {
	// Schedule is empty when automatic rebalancing is off.
	Schedule        string        `mapstructure:"schedule"`
	DueCheck        string        `mapstructure:"due_check"`
	WindowStart     string        `mapstructure:"window_start"`
	WindowEnd       string        `mapstructure:"window_end"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	MinLaneInterval time.Duration `mapstructure:"min_lane_interval"`
	IntervalTable   []string      `mapstructure:"interval_table"`

	Window    model.Window    `mapstructure:"-"`
	Intervals []time.Duration `mapstructure:"-"`
}

type AuthConfig struct {
	Admins    []string `mapstructure:"admins"`
	Principal string   `mapstructure:"principal"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("store.path", "planner.db")
	v.SetDefault("timezone", "UTC")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.name", "trigger-planner")
	v.SetDefault("nats.stream", "AUDIT")
	v.SetDefault("nats.subject_prefix", "audit")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("histogram.bucket_minutes", 10)
	v.SetDefault("histogram.cache_ttl", 30*time.Second)

	v.SetDefault("rebalance.schedule", "")
	v.SetDefault("rebalance.due_check", "")
	v.SetDefault("rebalance.window_start", "00:00")
	v.SetDefault("rebalance.window_end", "06:00")
	v.SetDefault("rebalance.max_concurrency", 0) // logical CPU count
	v.SetDefault("rebalance.min_lane_interval", 10*time.Minute)
	v.SetDefault("rebalance.interval_table", []string{"60m", "30m", "15m", "10m", "5m"})

	v.SetDefault("auth.admins", []string{})
	v.SetDefault("auth.principal", "")
}

// New returns a viper instance with defaults and PLANNER_ environment
// overrides. A non-empty path is read as the config file; otherwise
// config.yaml is searched in . and ./config and may be absent.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("PLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// Load reads and validates the configuration
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc

	if c.Histogram.BucketMinutes <= 0 || 60%c.Histogram.BucketMinutes != 0 {
		return fmt.Errorf("histogram.bucket_minutes must divide 60, got %d", c.Histogram.BucketMinutes)
	}

	r := &c.Rebalance
	if r.Window.Start, err = model.ParseTimeOfDay(r.WindowStart); err != nil {
		return fmt.Errorf("invalid rebalance.window_start: %w", err)
	}
	if r.Window.End, err = model.ParseTimeOfDay(r.WindowEnd); err != nil {
		return fmt.Errorf("invalid rebalance.window_end: %w", err)
	}
	if r.MaxConcurrency < 0 {
		return fmt.Errorf("rebalance.max_concurrency must not be negative, got %d", r.MaxConcurrency)
	}
	if r.MinLaneInterval <= 0 {
		return fmt.Errorf("rebalance.min_lane_interval must be positive, got %s", r.MinLaneInterval)
	}

	r.Intervals = r.Intervals[:0]
	for _, s := range r.IntervalTable {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid rebalance.interval_table entry %q: %w", s, err)
		}
		if d <= 0 {
			return fmt.Errorf("rebalance.interval_table entry %q must be positive", s)
		}
		r.Intervals = append(r.Intervals, d)
	}
	if len(r.Intervals) == 0 {
		return errors.New("rebalance.interval_table must not be empty")
	}
	return nil
}
