// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in InstrumentConfig.Transport.
const (
	TransportEthernet = "ethernet"
	TransportSerial   = "serial"
)

// Config is the master configuration for benchlink.
type Config struct {
	// Root is the base directory for benchlink state. Other path
	// defaults live under it.
	Root string `yaml:"root" json:"root"`

	// Instruments are the instruments this process owns.
	Instruments []InstrumentConfig `yaml:"instruments" json:"instruments"`

	// Timing configures session intervals.
	Timing TimingConfig `yaml:"timing" json:"timing"`

	// Activity configures the activity record.
	Activity ActivityConfig `yaml:"activity" json:"activity"`

	// Relay configures the socket that serves sessions to other
	// processes.
	Relay RelayConfig `yaml:"relay" json:"relay"`

	// StateFile records which instruments were connected at shutdown.
	StateFile string `yaml:"state_file" json:"state_file"`

	// StateMaxAge is how old a state file may be and still trigger
	// auto-connect. Empty means no limit.
	StateMaxAge string `yaml:"state_max_age" json:"state_max_age"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// InstrumentConfig describes one instrument and how to reach it.
type InstrumentConfig struct {
	ID string `yaml:"id" json:"id"`

	// Transport is "ethernet" or "serial".
	Transport string `yaml:"transport" json:"transport"`

	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	Device   string `yaml:"device" json:"device"`
	BaudRate int    `yaml:"baud_rate" json:"baud_rate"`

	// AutoConnect reconnects at startup if the instrument was connected
	// when the previous process shut down.
	AutoConnect bool `yaml:"auto_connect" json:"auto_connect"`
}

// TimingConfig holds session intervals as duration strings.
type TimingConfig struct {
	Coalesce        string `yaml:"coalesce" json:"coalesce"`
	IdentifyTimeout string `yaml:"identify_timeout" json:"identify_timeout"`
	Housekeeping    string `yaml:"housekeeping" json:"housekeeping"`

	// DownloadChunk is the default number of bytes written per
	// housekeeping tick during a download.
	DownloadChunk int `yaml:"download_chunk" json:"download_chunk"`
}

// Timing is TimingConfig with its durations parsed.
type Timing struct {
	Coalesce        time.Duration
	IdentifyTimeout time.Duration
	Housekeeping    time.Duration
	DownloadChunk   int
}

// ActivityConfig configures the activity record.
type ActivityConfig struct {
	// Journal is the JSON-lines journal path. Empty disables the
	// journal.
	Journal string `yaml:"journal" json:"journal"`

	// MaxBytes rotates the journal once it grows past this size.
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`

	// Compression applies to rotated segments: none, lz4 or zstd.
	Compression string `yaml:"compression" json:"compression"`

	// RingSize is how many recent entries are kept in memory.
	RingSize int `yaml:"ring_size" json:"ring_size"`
}

// RelayConfig configures the relay socket.
type RelayConfig struct {
	Socket string `yaml:"socket" json:"socket"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the HTTP listen address. Empty disables the endpoint.
	Listen string `yaml:"listen" json:"listen"`
}

// Default returns the default configuration. Loading a file starts
// from these values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Root: filepath.Join(homeDir, ".cache", "benchlink"),
		Timing: TimingConfig{
			Coalesce:        "50ms",
			IdentifyTimeout: "1s",
			Housekeeping:    "100ms",
			DownloadChunk:   4096,
		},
		Activity: ActivityConfig{
			Journal:     "${BENCHLINK_ROOT}/activity.jsonl",
			MaxBytes:    16 << 20,
			Compression: "zstd",
			RingSize:    1024,
		},
		Relay: RelayConfig{
			Socket: "${BENCHLINK_ROOT}/relay.sock",
		},
		StateFile:   "${BENCHLINK_ROOT}/sessions.cbor",
		StateMaxAge: "168h",
	}
}

// Load loads the file named by BENCHLINK_CONFIG. It fails when the
// variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv("BENCHLINK_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("BENCHLINK_CONFIG environment variable not set; " +
			"set it to the path of your benchlink.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path on top of [Default] and
// expands variables in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"BENCHLINK_ROOT": c.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["BENCHLINK_ROOT"] = c.Root

	c.Activity.Journal = expandVars(c.Activity.Journal, vars)
	c.Relay.Socket = expandVars(c.Relay.Socket, vars)
	c.StateFile = expandVars(c.StateFile, vars)
	for i := range c.Instruments {
		c.Instruments[i].Device = expandVars(c.Instruments[i].Device, vars)
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Provided vars first, then the environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// ParseTiming parses the timing durations.
func (t TimingConfig) ParseTiming() (Timing, error) {
	var parsed Timing
	var errs []error
	for _, field := range []struct {
		name   string
		value  string
		target *time.Duration
	}{
		{"timing.coalesce", t.Coalesce, &parsed.Coalesce},
		{"timing.identify_timeout", t.IdentifyTimeout, &parsed.IdentifyTimeout},
		{"timing.housekeeping", t.Housekeeping, &parsed.Housekeeping},
	} {
		duration, err := time.ParseDuration(field.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
			continue
		}
		if duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field.name, field.value))
			continue
		}
		*field.target = duration
	}
	if t.DownloadChunk <= 0 {
		errs = append(errs, fmt.Errorf("timing.download_chunk must be positive, got %d", t.DownloadChunk))
	}
	parsed.DownloadChunk = t.DownloadChunk
	if len(errs) > 0 {
		return Timing{}, errors.Join(errs...)
	}
	return parsed, nil
}

// ParseStateMaxAge returns the state file age limit, zero for none.
func (c *Config) ParseStateMaxAge() (time.Duration, error) {
	if c.StateMaxAge == "" {
		return 0, nil
	}
	age, err := time.ParseDuration(c.StateMaxAge)
	if err != nil {
		return 0, fmt.Errorf("state_max_age: %w", err)
	}
	return age, nil
}

// Instrument returns the instrument configured under id.
func (c *Config) Instrument(id string) (InstrumentConfig, bool) {
	for _, instrument := range c.Instruments {
		if instrument.ID == id {
			return instrument, true
		}
	}
	return InstrumentConfig{}, false
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Root == "" {
		errs = append(errs, errors.New("root is required"))
	}

	seen := make(map[string]bool)
	for i, instrument := range c.Instruments {
		label := fmt.Sprintf("instruments[%d]", i)
		if instrument.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", label))
		} else {
			label = fmt.Sprintf("instrument %q", instrument.ID)
			if seen[instrument.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate id", label))
			}
			seen[instrument.ID] = true
		}
		switch instrument.Transport {
		case TransportEthernet:
			if instrument.Host == "" {
				errs = append(errs, fmt.Errorf("%s: host is required for ethernet", label))
			}
			if instrument.Port < 1 || instrument.Port > 65535 {
				errs = append(errs, fmt.Errorf("%s: port %d out of range", label, instrument.Port))
			}
		case TransportSerial:
			if instrument.Device == "" {
				errs = append(errs, fmt.Errorf("%s: device is required for serial", label))
			}
			if instrument.BaudRate < 0 {
				errs = append(errs, fmt.Errorf("%s: baud_rate must not be negative", label))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: transport must be one of: %v", label, []string{TransportEthernet, TransportSerial}))
		}
	}

	if _, err := c.Timing.ParseTiming(); err != nil {
		errs = append(errs, err)
	}

	compressions := []string{"none", "lz4", "zstd"}
	if !contains(compressions, c.Activity.Compression) {
		errs = append(errs, fmt.Errorf("activity.compression must be one of: %v", compressions))
	}
	if c.Activity.MaxBytes < 0 {
		errs = append(errs, errors.New("activity.max_bytes must not be negative"))
	}
	if c.Activity.RingSize < 0 {
		errs = append(errs, errors.New("activity.ring_size must not be negative"))
	}
	if _, err := c.ParseStateMaxAge(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the root directory and the parents of the
// configured files.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Root}
	for _, file := range []string{c.Activity.Journal, c.Relay.Socket, c.StateFile} {
		if file != "" {
			paths = append(paths, filepath.Dir(file))
		}
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
