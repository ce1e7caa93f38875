package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/andresmejia3/barpath/internal/kinematics"
)

// Tracker holds the template tracking settings.
type Tracker struct {
	PhysicalHeight float64 `toml:"physical_height"` // metres
	MatchThreshold float64 `toml:"match_threshold"`
	SampleInterval int     `toml:"sample_interval"`
	Matcher        string  `toml:"matcher"` // opencv or ncc
	Decoder        string  `toml:"decoder"` // ffmpeg or opencv
	Prefetch       int     `toml:"prefetch"`
}

// Database holds the run archive connection settings.
type Database struct {
	URL string `toml:"url"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values for barpath.
type Config struct {
	Tracker  Tracker           `toml:"tracker"`
	Analysis kinematics.Config `toml:"analysis"`
	Database Database          `toml:"database"`
	Logging  Logging           `toml:"logging"`
}

// Matcher and decoder names.
const (
	MatcherOpenCV = "opencv"
	MatcherNCC    = "ncc"
	DecoderFFmpeg = "ffmpeg"
	DecoderOpenCV = "opencv"
)

const defaultDatabaseURL = "postgres://localhost:5432/barpath"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Tracker: Tracker{
			PhysicalHeight: 0.45,
			MatchThreshold: 0.3,
			SampleInterval: 1,
			Matcher:        MatcherOpenCV,
			Decoder:        DecoderFFmpeg,
			Prefetch:       8,
		},
		Analysis: kinematics.DefaultConfig(),
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConfigPath returns the absolute path of the default configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/barpath/config.toml")
}

// Load reads path, or the default location when path is empty, over the
// defaults and validates the result. A missing file is not an error. It
// returns the config, the resolved path and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return nil, "", false, err
		}
	} else {
		var err error
		if path, err = expandPath(path); err != nil {
			return nil, "", false, err
		}
	}

	exists := true
	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return nil, "", false, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, path, exists, nil
}

// Encode renders cfg as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) normalize() {
	c.Tracker.Matcher = strings.ToLower(strings.TrimSpace(c.Tracker.Matcher))
	c.Tracker.Decoder = strings.ToLower(strings.TrimSpace(c.Tracker.Decoder))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Database.URL = strings.TrimSpace(c.Database.URL)
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	t := c.Tracker
	if !(t.PhysicalHeight > 0) {
		return fmt.Errorf("tracker.physical_height must be > 0, got %v", t.PhysicalHeight)
	}
	if t.SampleInterval < 1 {
		return fmt.Errorf("tracker.sample_interval must be >= 1, got %d", t.SampleInterval)
	}
	if t.Prefetch < 0 {
		return fmt.Errorf("tracker.prefetch must be >= 0, got %d", t.Prefetch)
	}
	switch t.Matcher {
	case MatcherOpenCV, MatcherNCC:
	default:
		return fmt.Errorf("tracker.matcher must be %q or %q, got %q", MatcherOpenCV, MatcherNCC, t.Matcher)
	}
	switch t.Decoder {
	case DecoderFFmpeg, DecoderOpenCV:
	default:
		return fmt.Errorf("tracker.decoder must be %q or %q, got %q", DecoderFFmpeg, DecoderOpenCV, t.Decoder)
	}
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// DatabaseURL returns the configured connection string, falling back to
// BARPATH_DB, then the POSTGRES_* variables, then a local default.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	if url := os.Getenv("BARPATH_DB"); url != "" {
		return url
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return defaultDatabaseURL
}

func expandPath(pathValue string) (string, error) {
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
