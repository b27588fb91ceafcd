package config

import (
	"errors"
	"fmt"
	"strings"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/logger"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	History     HistoryConfig     `mapstructure:"history"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the defaults applied to every compression run
type CompressionConfig struct {
	TargetKB     int    `mapstructure:"target_kb"`
	MaxQuality   int    `mapstructure:"max_quality"`
	MinQuality   int    `mapstructure:"min_quality"`
	OutputSuffix string `mapstructure:"output_suffix"`
	KeepMetadata bool   `mapstructure:"keep_metadata"`
}

// HistoryConfig controls the run history database
type HistoryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DatabasePath string `mapstructure:"database_path"`
}

// ServerConfig contains web front end settings
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Compression: CompressionConfig{
			TargetKB:     compressor.DefaultTargetKB,
			MaxQuality:   compressor.DefaultMaxQuality,
			MinQuality:   compressor.DefaultMinQuality,
			OutputSuffix: "_compressed",
			KeepMetadata: false,
		},
		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: "image-compressor.db",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "image-compressor.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
			Console:    false,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-compressor")
		v.AddConfigPath("/etc/image-compressor")
	}

	// Environment variables only override keys viper already knows about
	setDefaults(v, config)
	v.SetEnvPrefix("IMAGE_COMPRESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("compression.target_kb", c.Compression.TargetKB)
	v.SetDefault("compression.max_quality", c.Compression.MaxQuality)
	v.SetDefault("compression.min_quality", c.Compression.MinQuality)
	v.SetDefault("compression.output_suffix", c.Compression.OutputSuffix)
	v.SetDefault("compression.keep_metadata", c.Compression.KeepMetadata)
	v.SetDefault("history.enabled", c.History.Enabled)
	v.SetDefault("history.database_path", c.History.DatabasePath)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
	v.SetDefault("logging.console", c.Logging.Console)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Request().Validate(); err != nil {
		return err
	}

	if c.Compression.OutputSuffix == "" {
		c.Compression.OutputSuffix = "_compressed"
	}

	if c.History.Enabled && c.History.DatabasePath == "" {
		return fmt.Errorf("history.database_path is required when history is enabled")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// Request builds a compression request from the configured defaults.
func (c *Config) Request() compressor.CompressionRequest {
	req := compressor.DefaultRequest()
	req.TargetKB = c.Compression.TargetKB
	req.MaxQuality = c.Compression.MaxQuality
	req.MinQuality = c.Compression.MinQuality
	return req
}

// LogOptions converts the logging section for logger.New.
func (c *Config) LogOptions() logger.Options {
	return logger.Options{
		Level: c.Logging.Level,
		File:  c.Logging.FilePath,
		Rotation: logger.Rotation{
			MaxSizeMB:  c.Logging.MaxSize,
			MaxBackups: c.Logging.MaxBackups,
			MaxAgeDays: c.Logging.MaxAge,
			Compress:   c.Logging.Compress,
		},
		Console: c.Logging.Console,
	}
}
