package daichi

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/gohome-daichi/internal/config"
)

const (
	DefaultBaseURL        = config.DefaultDaichiBaseURL
	DefaultClientID       = config.DefaultDaichiClientID
	DefaultUpdateInterval = config.DefaultDaichiUpdateInterval
)

// Config defines runtime configuration for the Daichi client and poller.
type Config struct {
	BaseURL              string
	Username             string
	Password             string
	ClientID             string
	UpdateInterval       time.Duration
	RequestTimeout       time.Duration
	Retry                RetryPolicy
	DeepFetchConcurrency int
	RequestsPerMinute    int
}

func ConfigFromYAML(cfg *config.DaichiConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("daichi config is required")
	}

	out := Config{
		BaseURL:              strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		Username:             strings.TrimSpace(cfg.Username),
		Password:             cfg.Password,
		ClientID:             strings.TrimSpace(cfg.ClientID),
		UpdateInterval:       cfg.UpdateInterval,
		RequestTimeout:       cfg.RequestTimeout,
		Retry:                RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay, Multiplier: cfg.Retry.Multiplier},
		DeepFetchConcurrency: cfg.DeepFetchConcurrency,
		RequestsPerMinute:    cfg.RequestsPerMinute,
	}
	out.applyDefaults()

	if out.Username == "" || out.Password == "" {
		return Config{}, fmt.Errorf("daichi username and password are required")
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = config.DefaultDaichiRequestTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.DeepFetchConcurrency <= 0 {
		c.DeepFetchConcurrency = 1
	}
}
