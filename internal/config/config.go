// Package config handles configuration loading, validation, and persistence
// for the lobby master.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultMasterPort = 8484
	DefaultAPIPort    = 8485
	DefaultBufferSize = 1024
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Master  MasterConfig  `json:"master"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Journal JournalConfig `json:"journal"`
	Console ConsoleConfig `json:"console"`
	Logging LoggingConfig `json:"logging"`
}

// MasterConfig holds the UDP coordinator settings.
type MasterConfig struct {
	ListenAddress       string `json:"listen_address"`
	Port                int    `json:"port"`
	RecvBufferBytes     int    `json:"recv_buffer_bytes"`
	SocketBufferBytes   int    `json:"socket_buffer_bytes"`
	RetransmitTimeoutMs int    `json:"retransmit_timeout_ms"`
	RetryBudget         int    `json:"retry_budget"`
	PollIntervalMs      int    `json:"poll_interval_ms"`
}

// RetransmitTimeout returns the ledger timeout as a duration.
func (m MasterConfig) RetransmitTimeout() time.Duration {
	return time.Duration(m.RetransmitTimeoutMs) * time.Millisecond
}

// PollInterval returns the socket read deadline used by each loop iteration.
func (m MasterConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMs) * time.Millisecond
}

// Addr returns the host:port the UDP socket binds to.
func (m MasterConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.ListenAddress, m.Port)
}

// APIConfig holds the admin HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	ListenAddress  string   `json:"listen_address"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`

	// Control endpoints only accept these IPs or CIDRs. Empty allows any.
	ControlAllowlist []string `json:"control_allowlist"`
}

// Addr returns the host:port the HTTP server binds to.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.ListenAddress, a.Port)
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// JournalConfig holds the sqlite audit journal settings.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ConsoleConfig controls the interactive operator console.
type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Master: MasterConfig{
			ListenAddress:       "0.0.0.0",
			Port:                DefaultMasterPort,
			RecvBufferBytes:     DefaultBufferSize,
			SocketBufferBytes:   256 * 1024,
			RetransmitTimeoutMs: 250,
			RetryBudget:         3,
			PollIntervalMs:      25,
		},
		API: APIConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1",
			Port:          DefaultAPIPort,
			RateLimitRPS:  100,
			TLSCertFile:   "config/api.crt",
			TLSKeyFile:    "config/api.key",
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "lobbymaster",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "data/journal.db",
		},
		Console: ConsoleConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file, writing the defaults when the
// file does not exist yet.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // defaults first, file values overlay them
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetMaster returns a copy of the coordinator settings.
func (c *Config) GetMaster() MasterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Master
}

// GetAPI returns a copy of the HTTP API settings.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetMQTT returns a copy of the MQTT settings.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetJournal returns a copy of the journal settings.
func (c *Config) GetJournal() JournalConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Journal
}

// GetConsole returns a copy of the console settings.
func (c *Config) GetConsole() ConsoleConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Console
}

// GetLogging returns a copy of the logging settings.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// SetMasterPort overrides the UDP port, typically from a command-line flag.
func (c *Config) SetMasterPort(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Master.Port = port
}

// SetLogLevel overrides the log level.
func (c *Config) SetLogLevel(level string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logging.Level = level
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
