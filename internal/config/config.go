package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PinConfig holds the BCM GPIO numbers for the panel wiring. The bus is
// bit-banged, so the clock and data lines are plain outputs rather than a
// hardware SPI peripheral.
type PinConfig struct {
	Clock int `yaml:"clock" json:"clock"`
	Data  int `yaml:"data" json:"data"`
	CS    int `yaml:"cs" json:"cs"`
	DC    int `yaml:"dc" json:"dc"`
	Reset int `yaml:"reset" json:"reset"`
	Busy  int `yaml:"busy" json:"busy"`
}

// Config is the top-level application configuration.
type Config struct {
	// ServerURL is the base URL of the calendar image server,
	// e.g. "http://192.168.1.10:8080".
	ServerURL string `yaml:"server_url" json:"server_url"`

	// Timezone is the IANA timezone used for the update slot table.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Slots is the daily update slot table as "HH:MM" strings in the
	// configured timezone.
	Slots []string `yaml:"slots" json:"slots"`

	// WindowMinutes is the slot match tolerance: a wake within this many
	// minutes of a slot triggers an update.
	WindowMinutes int `yaml:"window_minutes" json:"window_minutes"`

	// EmergencyRetryMinutes is how long to wait before retrying when the
	// server time could not be fetched.
	EmergencyRetryMinutes int `yaml:"emergency_retry_minutes" json:"emergency_retry_minutes"`

	// RefreshCron, if set, forces an update on a cron schedule in addition
	// to the slot table (e.g. "0 */6 * * *"). Mainly for bench testing.
	RefreshCron string `yaml:"refresh_cron,omitempty" json:"refresh_cron,omitempty"`

	// Pins is the GPIO wiring for the panel bus.
	Pins PinConfig `yaml:"pins" json:"pins"`
}

// DefaultConfig returns an in-memory default configuration. The default pin
// numbers match the common Waveshare e-paper HAT wiring on a Raspberry Pi.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:             "http://127.0.0.1:8080",
		Timezone:              "UTC",
		Slots:                 []string{"06:00", "12:00", "18:00"},
		WindowMinutes:         5,
		EmergencyRetryMinutes: 30,
		Pins: PinConfig{
			Clock: 11,
			Data:  10,
			CS:    8,
			DC:    25,
			Reset: 17,
			Busy:  24,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.ServerURL == "" {
		c.ServerURL = def.ServerURL
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if len(c.Slots) == 0 {
		c.Slots = def.Slots
	}
	if c.WindowMinutes <= 0 {
		c.WindowMinutes = def.WindowMinutes
	}
	if c.EmergencyRetryMinutes <= 0 {
		c.EmergencyRetryMinutes = def.EmergencyRetryMinutes
	}
	if c.Pins == (PinConfig{}) {
		c.Pins = def.Pins
	}
}

// Validate reports configuration errors that Normalize cannot repair.
func (c *Config) Validate() error {
	for _, s := range c.Slots {
		if len(s) != 5 || s[2] != ':' {
			return fmt.Errorf("config: invalid slot %q, want HH:MM", s)
		}
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed, write a
//     default config with 0600 perms, and return the default config.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// The write is atomic (temp file + rename) and the final file is 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".epdframe-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
