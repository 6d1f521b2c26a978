// Package config provides configuration loading and management for cinacgt.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Annotation controls the editing commands and their history
	Annotation struct {
		// HistorySize is the maximum number of actions kept for undo
		HistorySize int `yaml:"historySize"`

		// AddWithPeak makes every added onset also place the peak that follows it
		AddWithPeak bool `yaml:"addWithPeak"`

		// DecayFrames is the typical decay length of a transient, in frames
		DecayFrames int `yaml:"decayFrames"`

		// DecayFactor scales DecayFrames into the peak search window
		DecayFactor float64 `yaml:"decayFactor"`
	} `yaml:"annotation"`

	// Detection parameters for automatic candidates
	Detection struct {
		// MinPeakDistance is the minimum number of frames between two peaks
		MinPeakDistance int `yaml:"minPeakDistance"`

		// ThresholdFactor removes peaks under factor*std+min; 0 disables the filter
		ThresholdFactor float64 `yaml:"thresholdFactor"`
	} `yaml:"detection"`

	// Profile parameters for source and transient profiles
	Profile struct {
		// PixelsAround is the margin added around the cell when building a source profile
		PixelsAround int `yaml:"pixelsAround"`

		// CorrelationBuffer is the margin used when correlating source and transient
		CorrelationBuffer int `yaml:"correlationBuffer"`

		// MinPeaks and MaxPeaks clamp the number of peaks averaged in a source profile
		MinPeaks int `yaml:"minPeaks"`
		MaxPeaks int `yaml:"maxPeaks"`

		// Percentile is the initial amplitude percentile used to select peaks
		Percentile float64 `yaml:"percentile"`

		// TruePeakMinimum is the number of annotated peaks a cell needs before they
		// are preferred over detected candidates
		TruePeakMinimum int `yaml:"truePeakMinimum"`

		// FullFrame averages the whole field of view instead of the cell window
		FullFrame bool `yaml:"fullFrame"`
	} `yaml:"profile"`

	// Overlay thresholds for the prediction-improvement heuristic
	Overlay struct {
		CrossTalkOwnMax   float64 `yaml:"crossTalkOwnMax"`
		CrossTalkOtherMin float64 `yaml:"crossTalkOtherMin"`
		NeuropilRatio     float64 `yaml:"neuropilRatio"`
	} `yaml:"overlay"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel"`

		// JSONLogs switches the log format to JSON
		JSONLogs bool `yaml:"jsonLogs"`
	} `yaml:"output"`

	// Storage parameters
	Storage struct {
		// DatabasePath is the SQLite file holding saved sessions
		DatabasePath string `yaml:"databasePath"`
	} `yaml:"storage"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Annotation.HistorySize = 5
	cfg.Annotation.AddWithPeak = true
	cfg.Annotation.DecayFrames = 10
	cfg.Annotation.DecayFactor = 1.5

	cfg.Detection.MinPeakDistance = 2
	cfg.Detection.ThresholdFactor = 0

	cfg.Profile.PixelsAround = 1
	cfg.Profile.CorrelationBuffer = 1
	cfg.Profile.MinPeaks = 5
	cfg.Profile.MaxPeaks = 10
	cfg.Profile.Percentile = 95
	cfg.Profile.TruePeakMinimum = 5
	cfg.Profile.FullFrame = false

	cfg.Overlay.CrossTalkOwnMax = 0.25
	cfg.Overlay.CrossTalkOtherMin = 0.7
	cfg.Overlay.NeuropilRatio = 0.7

	cfg.Output.Verbose = false
	cfg.Output.LogLevel = "info"
	cfg.Output.JSONLogs = false

	cfg.Storage.DatabasePath = "cinacgt.db"

	return cfg
}

// PeakSearchFrames returns the number of frames scanned after an onset to place its peak
func (c *Config) PeakSearchFrames() int {
	n := int(float64(c.Annotation.DecayFrames) * c.Annotation.DecayFactor)
	if n < 1 {
		n = 1
	}
	return n
}

// Validate checks the values that would make the engine misbehave
func (c *Config) Validate() error {
	if c.Annotation.HistorySize < 1 {
		return fmt.Errorf("annotation.historySize must be positive, got %d", c.Annotation.HistorySize)
	}
	if c.Detection.MinPeakDistance < 1 {
		return fmt.Errorf("detection.minPeakDistance must be positive, got %d", c.Detection.MinPeakDistance)
	}
	if c.Profile.MinPeaks < 1 || c.Profile.MaxPeaks < c.Profile.MinPeaks {
		return fmt.Errorf("profile peak bounds invalid: min %d, max %d", c.Profile.MinPeaks, c.Profile.MaxPeaks)
	}
	if c.Profile.Percentile <= 0 || c.Profile.Percentile >= 100 {
		return fmt.Errorf("profile.percentile must be in (0, 100), got %g", c.Profile.Percentile)
	}
	if c.Profile.PixelsAround < 0 || c.Profile.CorrelationBuffer < 0 {
		return fmt.Errorf("profile margins must be non-negative")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
