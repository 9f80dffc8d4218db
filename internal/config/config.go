package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion   = 1
	DefaultPath     = "/etc/gohome/config.yaml"
	DefaultGRPCAddr = "0.0.0.0:9000"
	DefaultHTTPAddr = "0.0.0.0:8080"

	DefaultDaichiBaseURL        = "https://web.daichicloud.ru/api/v4"
	DefaultDaichiClientID       = "sOJO7B6SqgaKudTfCzqLAy540cCuDzpI"
	DefaultDaichiUpdateInterval = 60 * time.Second
	DefaultDaichiRequestTimeout = 15 * time.Second
	DefaultDaichiRequestsPerMin = 120

	DefaultMQTTTopicPrefix = "gohome/daichi"
	DefaultMQTTQoS         = 1
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of config.yaml.
type Config struct {
	SchemaVersion int           `yaml:"schema_version"`
	Core          CoreConfig    `yaml:"core"`
	Log           LogConfig     `yaml:"log"`
	MQTT          MQTTConfig    `yaml:"mqtt"`
	Daichi        *DaichiConfig `yaml:"daichi"`
}

type CoreConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
	// DashboardDir receives Grafana dashboards at startup. Empty skips the write.
	DashboardDir string `yaml:"dashboard_dir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig is optional. An empty broker disables publishing.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            *byte         `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func (m MQTTConfig) Enabled() bool {
	return strings.TrimSpace(m.Broker) != ""
}

// QoSLevel is the configured QoS, or DefaultMQTTQoS when qos is not set.
func (m MQTTConfig) QoSLevel() byte {
	if m.QoS == nil {
		return DefaultMQTTQoS
	}
	return *m.QoS
}

type DaichiConfig struct {
	Username             string        `yaml:"username"`
	Password             string        `yaml:"password"`
	BaseURL              string        `yaml:"base_url"`
	ClientID             string        `yaml:"client_id"`
	UpdateInterval       time.Duration `yaml:"update_interval"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	Retry                RetryConfig   `yaml:"retry"`
	DeepFetchConcurrency int           `yaml:"deep_fetch_concurrency"`
	RequestsPerMinute    int           `yaml:"requests_per_minute"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
}

// Load reads the YAML config file, expands ${ENV} references, applies
// defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = SchemaVersion
	}
	if c.Core.GRPCAddr == "" {
		c.Core.GRPCAddr = DefaultGRPCAddr
	}
	if c.Core.HTTPAddr == "" {
		c.Core.HTTPAddr = DefaultHTTPAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
	if c.MQTT.QoS == nil {
		qos := byte(DefaultMQTTQoS)
		c.MQTT.QoS = &qos
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}

	if c.Daichi == nil {
		return
	}
	d := c.Daichi
	if d.BaseURL == "" {
		d.BaseURL = DefaultDaichiBaseURL
	}
	d.BaseURL = strings.TrimRight(d.BaseURL, "/")
	if d.ClientID == "" {
		d.ClientID = DefaultDaichiClientID
	}
	if d.UpdateInterval == 0 {
		d.UpdateInterval = DefaultDaichiUpdateInterval
	}
	if d.RequestTimeout == 0 {
		d.RequestTimeout = DefaultDaichiRequestTimeout
	}
	if d.Retry.MaxAttempts == 0 {
		d.Retry.MaxAttempts = 3
	}
	if d.Retry.BaseDelay == 0 {
		d.Retry.BaseDelay = time.Second
	}
	if d.Retry.Multiplier == 0 {
		d.Retry.Multiplier = 2.0
	}
	if d.DeepFetchConcurrency == 0 {
		d.DeepFetchConcurrency = 1
	}
	if d.RequestsPerMinute == 0 {
		d.RequestsPerMinute = DefaultDaichiRequestsPerMin
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema_version must be %d", ErrInvalidConfig, SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("%w: core.grpc_addr is required", ErrInvalidConfig)
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("%w: core.http_addr is required", ErrInvalidConfig)
	}
	if cfg.MQTT.Enabled() && cfg.MQTT.QoSLevel() > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalidConfig)
	}

	if d := cfg.Daichi; d != nil {
		if strings.TrimSpace(d.Username) == "" {
			return fmt.Errorf("%w: daichi.username is required", ErrInvalidConfig)
		}
		if d.Password == "" {
			return fmt.Errorf("%w: daichi.password is required", ErrInvalidConfig)
		}
		if _, err := url.ParseRequestURI(d.BaseURL); err != nil {
			return fmt.Errorf("%w: daichi.base_url: %v", ErrInvalidConfig, err)
		}
		if d.UpdateInterval < time.Second {
			return fmt.Errorf("%w: daichi.update_interval must be at least 1s", ErrInvalidConfig)
		}
		if d.RequestTimeout <= 0 {
			return fmt.Errorf("%w: daichi.request_timeout must be positive", ErrInvalidConfig)
		}
		if d.Retry.MaxAttempts < 1 {
			return fmt.Errorf("%w: daichi.retry.max_attempts must be at least 1", ErrInvalidConfig)
		}
		if d.DeepFetchConcurrency < 1 {
			return fmt.Errorf("%w: daichi.deep_fetch_concurrency must be at least 1", ErrInvalidConfig)
		}
		if d.RequestsPerMinute < 0 {
			return fmt.Errorf("%w: daichi.requests_per_minute must not be negative", ErrInvalidConfig)
		}
	}
	return nil
}
