package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Ystanxx/HEIC2any/state"
)

type Config struct {
	Defaults JobDefaults   `yaml:"defaults"`
	Queue    QueueConfig   `yaml:"queue"`
	History  HistoryConfig `yaml:"history"`
	Logging  LoggingConfig `yaml:"logging"`
}

// JobDefaults seeds the configuration fields of newly created jobs.
type JobDefaults struct {
	Format     string     `yaml:"format"`
	Quality    int        `yaml:"quality"`
	DPI        state.Size `yaml:"dpi"`
	Size       state.Size `yaml:"size"`
	KeepAspect bool       `yaml:"keep_aspect"`
	Template   string     `yaml:"template"`
	OutputDir  string     `yaml:"output_dir"`
}

type QueueConfig struct {
	Workers       int           `yaml:"workers"`
	QueueCapacity int           `yaml:"queue_capacity"` // 0 means 2 x workers
	PollInterval  time.Duration `yaml:"poll_interval"`
	PushTimeout   time.Duration `yaml:"push_timeout"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Defaults() *Config {
	return &Config{
		Defaults: JobDefaults{
			Format:     string(state.FormatJPG),
			Quality:    90,
			DPI:        state.Size{W: 300, H: 300},
			KeepAspect: true,
			Template:   "{name}_{index}",
			OutputDir:  "output",
		},
		Queue: QueueConfig{
			Workers:      4,
			PollInterval: 200 * time.Millisecond,
			PushTimeout:  100 * time.Millisecond,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "", // empty means <user config dir>/heic2any/history.db
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ApplyEnv overlays HEIC2ANY_* environment variables onto the config.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HEIC2ANY_FORMAT"); v != "" {
		c.Defaults.Format = v
	}
	if v := os.Getenv("HEIC2ANY_QUALITY"); v != "" {
		c.Defaults.Quality = getInt(v, c.Defaults.Quality)
	}
	if v := os.Getenv("HEIC2ANY_OUTPUT_DIR"); v != "" {
		c.Defaults.OutputDir = v
	}
	if v := os.Getenv("HEIC2ANY_WORKERS"); v != "" {
		c.Queue.Workers = getInt(v, c.Queue.Workers)
	}
	if v := os.Getenv("HEIC2ANY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func getInt(value string, fallback int) int {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return fallback
}

func (c *Config) Validate() error {
	if _, err := state.ParseFormat(c.Defaults.Format); err != nil {
		return err
	}
	if c.Defaults.Quality < 1 || c.Defaults.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", c.Defaults.Quality)
	}
	if c.Defaults.OutputDir == "" {
		return fmt.Errorf("output dir is required")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.Queue.Workers)
	}
	if c.Queue.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity must be non-negative")
	}
	if c.Queue.PollInterval < 0 || c.Queue.PushTimeout < 0 {
		return fmt.Errorf("queue intervals must be non-negative")
	}
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}
	return nil
}
