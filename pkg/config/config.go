package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/rigranger/rigrangerd/pkg/logging"
	"github.com/rigranger/rigrangerd/pkg/rigctl"
)

// Config represents the rigrangerd configuration.
type Config struct {
	Radio struct {
		Model         int    `yaml:"model"`
		Device        string `yaml:"device"`
		BaudRate      int    `yaml:"baud_rate"`
		Port          int    `yaml:"port"`
		RetryInterval int    `yaml:"retry_interval"` // seconds
	} `yaml:"radio"`

	Daemon struct {
		BinaryPath   string `yaml:"binary_path"` // explicit rigctld path
		Autostart    *bool  `yaml:"autostart"`
		StartTimeout int    `yaml:"start_timeout"` // seconds
		StopGrace    int    `yaml:"stop_grace"`    // seconds
	} `yaml:"daemon"`

	Journal struct {
		Path      string `yaml:"path"` // empty disables the journal
		MaxEvents int    `yaml:"max_events"`
	} `yaml:"journal"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // megabytes
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
		Compress   bool   `yaml:"compress"`
		Console    bool   `yaml:"console"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if config.Radio.Model == 0 {
		config.Radio.Model = 1 // Hamlib dummy rig
	}
	if config.Radio.BaudRate == 0 {
		config.Radio.BaudRate = 19200
	}
	if config.Radio.Port == 0 {
		config.Radio.Port = 4532
	}
	if config.Radio.RetryInterval == 0 {
		config.Radio.RetryInterval = 5
	}
	if config.Daemon.Autostart == nil {
		autostart := true
		config.Daemon.Autostart = &autostart
	}
	if config.Daemon.StartTimeout == 0 {
		config.Daemon.StartTimeout = 5
	}
	if config.Daemon.StopGrace == 0 {
		config.Daemon.StopGrace = 2
	}
	if config.Journal.MaxEvents == 0 {
		config.Journal.MaxEvents = 10000
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = 10
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = 3
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = 28
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Radio.Model < 1 {
		return fmt.Errorf("radio model must be a positive Hamlib model number")
	}
	if c.Radio.Port < 1 || c.Radio.Port > 65535 {
		return fmt.Errorf("radio port must be between 1 and 65535")
	}
	if c.Radio.RetryInterval < 1 {
		return fmt.Errorf("retry interval must be at least 1 second")
	}
	// Model 1 is the Hamlib dummy rig and needs no serial device.
	if c.Radio.Model != 1 && c.Radio.Device == "" {
		return fmt.Errorf("radio device is required for model %d", c.Radio.Model)
	}
	return nil
}

// RigctlConfig maps the file configuration onto the session manager's
// configuration.
func (c *Config) RigctlConfig() rigctl.Config {
	return rigctl.Config{
		Model:         c.Radio.Model,
		Device:        c.Radio.Device,
		BaudRate:      c.Radio.BaudRate,
		Port:          c.Radio.Port,
		BinaryPath:    c.Daemon.BinaryPath,
		Autostart:     c.Daemon.Autostart == nil || *c.Daemon.Autostart,
		RetryInterval: time.Duration(c.Radio.RetryInterval) * time.Second,
		StartTimeout:  time.Duration(c.Daemon.StartTimeout) * time.Second,
		StopGrace:     time.Duration(c.Daemon.StopGrace) * time.Second,
	}
}

// LoggingOptions maps the file configuration onto logger options.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
		Console:    c.Logging.Console,
	}
}
