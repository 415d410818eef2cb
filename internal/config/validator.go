package config

import (
	"fmt"
	"net"
	"strings"
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

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateEngine(&cfg.Engine, result)
	validateApplication(&cfg.Application, result)

	return result
}

func validateEngine(data *EngineData, result *ValidationResult) {
	if data.MaxDecodeDepth < 1 {
		result.AddError("engine.codec_max_decode_depth", "decode depth must be at least 1")
	}
	if data.MaxDecodeDepth > 1024 {
		result.AddWarning("engine.codec_max_decode_depth",
			fmt.Sprintf("very deep limit (%d) weakens protection against hostile input", data.MaxDecodeDepth))
	}

	if data.QueueSize < 1 {
		result.AddError("engine.pipeline_queue_size", "queue size must be at least 1")
	}
	if data.Workers < 0 {
		result.AddError("engine.pipeline_workers", "worker count cannot be negative")
	}

	if data.MinSamples < 1 {
		result.AddError("engine.learner_min_samples", "minimum sample threshold must be at least 1")
	}
	if data.MaxExamples < 1 {
		result.AddError("engine.learner_max_examples", "example bound must be at least 1")
	}
	if data.BasePenalty <= 0 {
		result.AddError("engine.learner_base_penalty", "base penalty must be positive")
	}
	if data.ConflictBump < 0 {
		result.AddError("engine.learner_conflict_bump", "conflict bump cannot be negative")
	}

	if data.DefaultSpeed < 0 {
		result.AddError("engine.replay_default_speed", "replay speed cannot be negative")
	}
}

func validateApplication(data *ApplicationData, result *ValidationResult) {
	if strings.TrimSpace(data.Storage.DatabasePath) == "" {
		result.AddError("application.storage.database_path", "database path is required")
	}

	if data.API.Enabled {
		validatePort(data.API.Port, "application.api.port", result)
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application.mqtt.port", "invalid MQTT port")
		}
		if data.MQTT.UseTLS && data.MQTT.CertFile != "" && strings.TrimSpace(data.MQTT.KeyFile) == "" {
			result.AddError("application.mqtt.key_file", "key file is required when a cert file is set")
		}
	}

	if data.Timers.AutosaveInterval < 10 {
		result.AddWarning("application.timers.autosave_interval_sec",
			"autosave interval less than 10s may cause excessive disk writes")
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

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
