package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vk/patchflow/internal/telemetry"
)

// Audio is the render format.
type Audio struct {
	SampleRate int `yaml:"sample_rate"`
	BlockSize  int `yaml:"block_size"`
	Channels   int `yaml:"channels"`
	// Tempo is the initial tempo in beats per minute.
	Tempo float64 `yaml:"tempo"`
	// Deadline is the per-block render budget. Zero disables the check.
	Deadline time.Duration `yaml:"deadline"`
}

// Telemetry configures the shared metrics segment.
type Telemetry struct {
	// Path maps the segment from a file so other processes can read it. An
	// empty path keeps it on the heap.
	Path     string        `yaml:"path"`
	Size     int           `yaml:"size"`
	Interval time.Duration `yaml:"interval"`
}

// Uplink configures the optional Socket.IO mirror of worker events.
type Uplink struct {
	URL                string        `yaml:"url"`
	Namespace          string        `yaml:"namespace"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// Log configures the application logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full engine configuration.
type Config struct {
	Audio           Audio     `yaml:"audio"`
	Telemetry       Telemetry `yaml:"telemetry"`
	Uplink          Uplink    `yaml:"uplink"`
	Log             Log       `yaml:"log"`
	HealthcheckPort int       `yaml:"healthcheck_port"`
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"auto", "text", "json"}
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Audio: Audio{
			SampleRate: 48000,
			BlockSize:  128,
			Channels:   2,
			Tempo:      120,
		},
		Telemetry: Telemetry{
			Size:     telemetry.DefaultSize,
			Interval: time.Second,
		},
		Log: Log{Level: "info", Format: "auto"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size must be positive, got %d", c.Audio.BlockSize))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels))
	}
	if c.Audio.Tempo <= 0 {
		errs = append(errs, fmt.Errorf("audio.tempo must be positive, got %g", c.Audio.Tempo))
	}
	if c.Audio.Deadline < 0 {
		errs = append(errs, errors.New("audio.deadline must not be negative"))
	}
	if c.Telemetry.Size < telemetry.OffsetUserData {
		errs = append(errs, fmt.Errorf("telemetry.size must be at least %d bytes", telemetry.OffsetUserData))
	}
	if c.Telemetry.Interval <= 0 {
		errs = append(errs, errors.New("telemetry.interval must be positive"))
	}
	if c.Uplink.URL == "" && c.Uplink.Namespace != "" {
		errs = append(errs, errors.New("uplink.namespace requires uplink.url"))
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of %v, got %q", logLevels, c.Log.Level))
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of %v, got %q", logFormats, c.Log.Format))
	}
	if c.HealthcheckPort < 0 || c.HealthcheckPort > 65535 {
		errs = append(errs, fmt.Errorf("healthcheck_port out of range: %d", c.HealthcheckPort))
	}
	return errors.Join(errs...)
}
