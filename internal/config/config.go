package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults the listener runs with when no configuration file is given
const (
	DefaultUDPPort         = 12000
	DefaultBindAddress     = "0.0.0.0"
	DefaultTimeout         = 10.0 // seconds
	DefaultMaxDatagramSize = 1024
	DefaultPulseInterval   = 5.0 // seconds
	DefaultSenderAddress   = "127.0.0.1:12000"

	// maxUDPPayload is the largest payload an IPv4 UDP datagram can carry
	maxUDPPayload = 65507

	// maxSeconds bounds every duration setting so it fits in a time.Duration
	maxSeconds = 86400.0
)

// Config represents the complete service configuration
type Config struct {
	Listener ListenerConfig `yaml:"listener"`
	HTTP     HTTPConfig     `yaml:"http"`
	Sender   SenderConfig   `yaml:"sender"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ListenerConfig contains heartbeat listener configuration
type ListenerConfig struct {
	UDPPort         int     `yaml:"udp_port"`
	BindAddress     string  `yaml:"bind_address"`
	Timeout         float64 `yaml:"timeout"`        // seconds of silence before the listener quits
	MaxDatagramSize int     `yaml:"max_datagram_size"`
	PulseInterval   float64 `yaml:"pulse_interval"` // seconds, as announced in the receipt line
}

// HTTPConfig contains monitoring HTTP API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// SenderConfig contains pulse sender configuration
type SenderConfig struct {
	Address  string  `yaml:"address"`
	Interval float64 `yaml:"interval"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration the listener uses without a config file
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			UDPPort:         DefaultUDPPort,
			BindAddress:     DefaultBindAddress,
			Timeout:         DefaultTimeout,
			MaxDatagramSize: DefaultMaxDatagramSize,
			PulseInterval:   DefaultPulseInterval,
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Sender: SenderConfig{
			Address:  DefaultSenderAddress,
			Interval: DefaultPulseInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of every configuration section
func (c *Config) Validate() error {
	if err := c.Listener.Validate(); err != nil {
		return fmt.Errorf("listener config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Sender.Validate(); err != nil {
		return fmt.Errorf("sender config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates listener configuration. Port 0 asks the OS for an ephemeral port.
func (l *ListenerConfig) Validate() error {
	if l.UDPPort < 0 || l.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 0 and 65535, got %d", l.UDPPort)
	}

	if l.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if l.Timeout <= 0 || l.Timeout > maxSeconds {
		return fmt.Errorf("timeout must be positive and at most %g seconds, got %f", maxSeconds, l.Timeout)
	}

	if l.MaxDatagramSize < 1 || l.MaxDatagramSize > maxUDPPayload {
		return fmt.Errorf("max_datagram_size must be between 1 and %d bytes, got %d", maxUDPPayload, l.MaxDatagramSize)
	}

	if l.PulseInterval <= 0 || l.PulseInterval > maxSeconds {
		return fmt.Errorf("pulse_interval must be positive and at most %g seconds, got %f", maxSeconds, l.PulseInterval)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates sender configuration
func (s *SenderConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.Interval <= 0 || s.Interval > maxSeconds {
		return fmt.Errorf("interval must be positive and at most %g seconds, got %f", maxSeconds, s.Interval)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	return nil
}

// GetTimeoutDuration returns the silence timeout as a time.Duration
func (l *ListenerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(l.Timeout * float64(time.Second))
}

// GetPulseIntervalDuration returns the announced pulse interval as a time.Duration
func (l *ListenerConfig) GetPulseIntervalDuration() time.Duration {
	return time.Duration(l.PulseInterval * float64(time.Second))
}

// TimeoutSeconds renders the timeout for console messages, e.g. "10"
func (l *ListenerConfig) TimeoutSeconds() string {
	return strconv.FormatFloat(l.Timeout, 'f', -1, 64)
}

// PulseIntervalSeconds renders the pulse interval for console messages, e.g. "5"
func (l *ListenerConfig) PulseIntervalSeconds() string {
	return strconv.FormatFloat(l.PulseInterval, 'f', -1, 64)
}

// Address returns the host:port the listener binds to
func (l *ListenerConfig) Address() string {
	return net.JoinHostPort(l.BindAddress, strconv.Itoa(l.UDPPort))
}

// ListenAddress returns the host:port the HTTP API listens on
func (h *HTTPConfig) ListenAddress() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// GetIntervalDuration returns the sender interval as a time.Duration
func (s *SenderConfig) GetIntervalDuration() time.Duration {
	return time.Duration(s.Interval * float64(time.Second))
}
