package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"eventrelay/internal/models"
)

// Config is the full runtime configuration, loaded once at process
// start. Hot reload is out of scope; the pipeline treats everything
// here as read-only for its lifetime.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Intake     IntakeConfig     `mapstructure:"intake"`
	Redaction  RedactionConfig  `mapstructure:"redaction"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	DeadLetter DeadLetterConfig `mapstructure:"dead_letter"`

	Destinations []models.Destination `mapstructure:"destinations"`

	// Bound on the shutdown drain before undelivered batches are
	// logged for manual recovery.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type IntakeConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	DestQueue   int           `mapstructure:"destination_queue_size"`
	DedupWindow time.Duration `mapstructure:"dedup_window"`

	// Optional; when set, the dedup window is shared via redis.
	RedisURL string `mapstructure:"redis_url"`
}

type RedactionConfig struct {
	MaxFieldLen  int      `mapstructure:"max_field_len"`
	LongFieldLen int      `mapstructure:"long_field_len"`
	LongFields   []string `mapstructure:"long_fields"`
}

type RoutingConfig struct {
	General       string              `mapstructure:"general"`
	ErrorAlert    string              `mapstructure:"error_alert"`
	Subscriptions map[string][]string `mapstructure:"subscriptions"`
}

type DeadLetterConfig struct {
	MaxRecords   int      `mapstructure:"max_records"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

var (
	ErrNoDestinations       = errors.New("at least one destination must be configured")
	ErrUnknownRoutingTarget = errors.New("routing references an unknown destination")
)

// Load reads configuration from an optional YAML file with environment
// overrides (prefix RELAY).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("intake.queue_size", 1000)
	v.SetDefault("intake.destination_queue_size", 256)
	v.SetDefault("intake.dedup_window", "5m")
	v.SetDefault("redaction.max_field_len", 256)
	v.SetDefault("redaction.long_field_len", 512)
	v.SetDefault("redaction.long_fields", []string{"description", "message", "stack_trace"})
	v.SetDefault("dead_letter.max_records", 1000)
	v.SetDefault("drain_timeout", "30s")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/eventrelay")
	}

	// Environment variables override
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if len(c.Destinations) == 0 {
		return ErrNoDestinations
	}

	names := make(map[string]bool, len(c.Destinations))
	for i := range c.Destinations {
		d := &c.Destinations[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if names[d.Name] {
			return fmt.Errorf("duplicate destination name %q", d.Name)
		}
		names[d.Name] = true
	}

	refs := []string{c.Routing.General, c.Routing.ErrorAlert}
	for _, subs := range c.Routing.Subscriptions {
		refs = append(refs, subs...)
	}
	for _, ref := range refs {
		if ref != "" && !names[ref] {
			return fmt.Errorf("%w: %q", ErrUnknownRoutingTarget, ref)
		}
	}

	if c.Intake.QueueSize <= 0 {
		return errors.New("intake queue_size must be positive")
	}
	if c.Intake.DestQueue <= 0 {
		return errors.New("intake destination_queue_size must be positive")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain_timeout must be positive")
	}

	return nil
}

// DestinationNames returns destination names in configured order.
func (c *Config) DestinationNames() []string {
	names := make([]string, 0, len(c.Destinations))
	for i := range c.Destinations {
		names = append(names, c.Destinations[i].Name)
	}
	return names
}

// Subscriptions converts the routing subscription map onto typed event
// types.
func (c *Config) Subscriptions() map[models.EventType][]string {
	out := make(map[models.EventType][]string, len(c.Routing.Subscriptions))
	for t, subs := range c.Routing.Subscriptions {
		out[models.EventType(t)] = subs
	}
	return out
}
