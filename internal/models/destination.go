package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// RateLimit expresses a destination's throughput contract as a number
// of events per window. Arbitrary window lengths are supported so
// per-minute and per-hour contracts configure the same way.
type RateLimit struct {
	Events int           `mapstructure:"events"`
	Per    time.Duration `mapstructure:"per"`
}

// RetryPolicy bounds delivery retries for one destination.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// Destination is the read-only configuration for one external webhook
// endpoint. Loaded once at startup; the pipeline never mutates it.
type Destination struct {
	Name string `mapstructure:"name"`

	// Webhook URL. Treated as a secret: log RedactedURL, never this.
	TransportURL string `mapstructure:"url"`

	// Optional shared secret; when set, deliveries carry an HMAC
	// signature header computed over the raw body.
	SigningSecret string `mapstructure:"signing_secret"`

	RateLimit    RateLimit     `mapstructure:"rate_limit"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Retry        RetryPolicy   `mapstructure:"retry"`
}

var (
	ErrEmptyDestinationName = errors.New("destination name cannot be empty")
	ErrInvalidTransportURL  = errors.New("destination URL is invalid")
	ErrInvalidBatchBounds   = errors.New("max_batch_size and batch_timeout must be positive")
	ErrInvalidRetryPolicy   = errors.New("retry policy bounds must be positive")
	ErrInvalidRateLimit     = errors.New("rate limit must be positive")
)

// Validate checks the destination configuration is usable.
func (d *Destination) Validate() error {
	if d.Name == "" {
		return ErrEmptyDestinationName
	}

	u, err := url.Parse(d.TransportURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: destination %q", ErrInvalidTransportURL, d.Name)
	}

	if d.MaxBatchSize <= 0 || d.BatchTimeout <= 0 {
		return fmt.Errorf("%w: destination %q", ErrInvalidBatchBounds, d.Name)
	}

	if d.RateLimit.Events <= 0 || d.RateLimit.Per <= 0 {
		return fmt.Errorf("%w: destination %q", ErrInvalidRateLimit, d.Name)
	}

	if d.Retry.MaxAttempts <= 0 || d.Retry.BaseDelay <= 0 ||
		d.Retry.MaxDelay <= 0 || d.Retry.Multiplier < 1 {
		return fmt.Errorf("%w: destination %q", ErrInvalidRetryPolicy, d.Name)
	}

	return nil
}

// RedactedURL returns the scheme and host of the transport URL, safe
// for logs. Paths and query strings often embed tokens.
func (d *Destination) RedactedURL() string {
	u, err := url.Parse(d.TransportURL)
	if err != nil {
		return "<invalid>"
	}
	return u.Scheme + "://" + u.Host + "/…"
}
