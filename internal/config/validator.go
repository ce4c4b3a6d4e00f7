package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks every section of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validateMaster(&cfg.Master, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)

	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Path) == "" {
		result.AddError("journal.path", "journal path is required when enabled")
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		result.AddWarning("logging.level", fmt.Sprintf("unknown log level %q, falling back to info", cfg.Logging.Level))
	}

	if cfg.API.Enabled && cfg.MQTT.Enabled && cfg.API.Port == cfg.MQTT.Port {
		result.AddWarning("api.port", "API port equals MQTT broker port")
	}

	return result
}

func validateMaster(m *MasterConfig, result *ValidationResult) {
	if net.ParseIP(m.ListenAddress) == nil {
		result.AddError("master.listen_address", fmt.Sprintf("not an IP address: %q", m.ListenAddress))
	}
	validatePort(m.Port, "master.port", result)

	if m.RecvBufferBytes < 64 {
		result.AddError("master.recv_buffer_bytes", "receive buffer must be at least 64 bytes")
	} else if m.RecvBufferBytes != DefaultBufferSize {
		result.AddWarning("master.recv_buffer_bytes",
			fmt.Sprintf("clients assume %d-byte datagrams", DefaultBufferSize))
	}

	if m.RetransmitTimeoutMs < 1 {
		result.AddError("master.retransmit_timeout_ms", "retransmit timeout must be positive")
	}
	if m.RetryBudget < 0 {
		result.AddError("master.retry_budget", "retry budget cannot be negative")
	}
	if m.PollIntervalMs < 1 {
		result.AddError("master.poll_interval_ms", "poll interval must be positive")
	} else if m.RetransmitTimeoutMs > 0 && m.PollIntervalMs > m.RetransmitTimeoutMs {
		result.AddWarning("master.poll_interval_ms",
			"poll interval longer than the retransmit timeout delays retransmissions")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)

	if a.TLSEnabled {
		if strings.TrimSpace(a.TLSCertFile) == "" {
			result.AddError("api.tls_cert_file", "TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(a.TLSKeyFile) == "" {
			result.AddError("api.tls_key_file", "TLS key file is required when TLS is enabled")
		}
	}

	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if m.UseTLS && (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be set together")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsUDPPortAvailable checks if a UDP port can be bound on addr.
func IsUDPPortAvailable(addr string, port int) bool {
	pc, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return false
	}
	pc.Close()
	return true
}
