package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Transport   string       `yaml:"transport"` // "ble" or "serial"
	BLE         BLEConfig    `yaml:"ble"`
	Serial      SerialConfig `yaml:"serial"`
	OTA         OTAConfig    `yaml:"ota"`
	DownloadDir string       `yaml:"download_dir"`
	LogLevel    string       `yaml:"log_level"`
}

// BLEConfig holds Bluetooth LE transport settings.
type BLEConfig struct {
	Device            string        `yaml:"device"` // MAC address, or CoreBluetooth UUID on macOS
	ScanTimeout       time.Duration `yaml:"scan_timeout"`
	ConnectRetries    int           `yaml:"connect_retries"`
	ReconnectMax      int           `yaml:"reconnect_max"` // max backoff in seconds
	MaxPayload        int           `yaml:"max_payload"`   // ATT MTU minus 3, 0 if unknown
	WriteWithResponse bool          `yaml:"write_with_response"`
}

// SerialConfig holds serial transport settings.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// OTAConfig holds update protocol settings.
type OTAConfig struct {
	ChunkSize int           `yaml:"chunk_size"`
	MTU       int           `yaml:"mtu"`
	Timeout   time.Duration `yaml:"timeout"` // peer silence before the update fails, 0 disables
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "otaflash")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultDownloadDir returns where firmware fetched by URL is stored.
func DefaultDownloadDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "otaflash", "firmware")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Transport: "ble",
		BLE: BLEConfig{
			ScanTimeout:    5 * time.Second,
			ConnectRetries: 3,
			ReconnectMax:   30,
		},
		Serial: SerialConfig{
			Baud: 115200,
		},
		OTA: OTAConfig{
			ChunkSize: 16000,
			MTU:       500,
			Timeout:   30 * time.Second,
		},
		DownloadDir: DefaultDownloadDir(),
		LogLevel:    "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in download_dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.DownloadDir = expandTilde(cfg.DownloadDir)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Transport {
	case "ble", "serial":
	default:
		return fmt.Errorf("transport must be \"ble\" or \"serial\", got %q", c.Transport)
	}

	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}
	if c.BLE.ConnectRetries <= 0 {
		return fmt.Errorf("ble.connect_retries must be > 0")
	}
	if c.BLE.MaxPayload < 0 {
		return fmt.Errorf("ble.max_payload must be >= 0")
	}

	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be > 0")
	}

	if c.OTA.ChunkSize <= 0 {
		return fmt.Errorf("ota.chunk_size must be > 0")
	}
	if c.OTA.MTU <= 0 {
		return fmt.Errorf("ota.mtu must be > 0")
	}
	if c.OTA.MTU > c.OTA.ChunkSize {
		return fmt.Errorf("ota.mtu (%d) must not exceed ota.chunk_size (%d)", c.OTA.MTU, c.OTA.ChunkSize)
	}
	if c.OTA.Timeout < 0 {
		return fmt.Errorf("ota.timeout must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# otaflash configuration
# transport: "ble" (default) or "serial"
# ota.timeout: how long the peripheral may stay silent before the update fails
`

// WriteDefault writes the default config to DefaultConfigPath and returns
// the path written. It returns ("", nil) when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), body...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
