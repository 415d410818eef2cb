// Package config handles configuration loading, validation, and persistence
// for the protolens analysis engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5810
)

// Config is the root configuration structure for protolens.
type Config struct {
	mu   sync.RWMutex
	path string

	Engine      EngineData      `json:"engine"`
	Application ApplicationData `json:"application"`
}

// EngineData configures the analysis core: codec limits, pipeline sizing,
// learner tuning, classifier rules, and replay defaults.
type EngineData struct {
	// Codec
	MaxDecodeDepth int `json:"codec_max_decode_depth"`

	// Pipeline
	QueueSize int `json:"pipeline_queue_size"`
	Workers   int `json:"pipeline_workers"` // 0 = core count

	// Learner
	MinSamples   int     `json:"learner_min_samples"`
	MaxExamples  int     `json:"learner_max_examples"`
	BasePenalty  float64 `json:"learner_base_penalty"`
	ConflictBump float64 `json:"learner_conflict_bump"`

	// Classifier rule overrides, empty means the shipped defaults.
	RulesFile string `json:"classifier_rules_file"`

	// Replay
	DefaultSpeed float64 `json:"replay_default_speed"`

	// Synthesis
	StrictSynthesis bool `json:"synth_strict"`
}

// ApplicationData contains engine application configuration.
type ApplicationData struct {
	Storage StorageConfig  `json:"storage"`
	API     APIConfig      `json:"api"`
	MQTT    MQTTConfig     `json:"mqtt"`
	Logging LoggingConfig  `json:"logging"`
	Timers  TimerConfig    `json:"timers"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DatabasePath string `json:"database_path"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	Topic     string `json:"topic"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	AutosaveInterval int `json:"autosave_interval_sec"`
	StatsInterval    int `json:"stats_interval_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineData{
			MaxDecodeDepth: 64,
			QueueSize:      4096,
			Workers:        0,
			MinSamples:     5,
			MaxExamples:    8,
			BasePenalty:    4.0,
			ConflictBump:   2.0,
			DefaultSpeed:   1.0,
		},
		Application: ApplicationData{
			Storage: StorageConfig{
				DatabasePath: "protolens.db",
			},
			API: APIConfig{
				Enabled:      true,
				Port:         DefaultAPIPort,
				RateLimitRPS: 100,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
				Topic:   "protolens/events",
			},
			Logging: LoggingConfig{
				Level:     "info",
				Directory: "logs",
			},
			Timers: TimerConfig{
				AutosaveInterval: 300,
				StatsInterval:    60,
			},
		},
	}
}

// Load reads configuration from a JSON file, creating a default one when
// the file does not exist. Defaults are applied first and the file content
// is overlaid, so fields added in code updates keep their defaults.
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

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save to persist any new default fields added in code updates.
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

// GetEngine returns a copy of the engine configuration.
func (c *Config) GetEngine() EngineData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Engine
}

// SetEngine updates the engine configuration.
func (c *Config) SetEngine(data EngineData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Engine = data
}

// GetApplication returns a copy of the application configuration.
func (c *Config) GetApplication() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Application
}

// SetApplication updates the application configuration.
func (c *Config) SetApplication(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Application = data
}

// UpdateEngineField updates a single engine field by its JSON key.
func (c *Config) UpdateEngineField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Engine)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, &c.Engine); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
