// Package config loads server configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Detector  DetectorConfig  `yaml:"detector"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
	Storage   StorageConfig   `yaml:"storage"`
	Journal   JournalConfig   `yaml:"journal"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	Host      string `yaml:"host"`
	ReadLimit int64  `yaml:"read_limit"`
	Debug     bool   `yaml:"debug"`
}

type DeviceConfig struct {
	ADBPath string `yaml:"adb_path"`
	Serial  string `yaml:"serial"`
}

type DetectorConfig struct {
	Interval      time.Duration `yaml:"interval"`
	ErrorInterval time.Duration `yaml:"error_interval"`
	HistorySize   int           `yaml:"history_size"`
}

type KeepaliveConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type StorageConfig struct {
	StagingDir string `yaml:"staging_dir"`
	StorageDir string `yaml:"storage_dir"`
	DBPath     string `yaml:"db_path"`
}

// JournalConfig controls the event journal. An empty Path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8000,
			Host:      "0.0.0.0",
			ReadLimit: 4 << 20,
		},
		Device: DeviceConfig{
			ADBPath: "adb",
		},
		Detector: DetectorConfig{
			Interval:      100 * time.Millisecond,
			ErrorInterval: time.Second,
			HistorySize:   100,
		},
		Keepalive: KeepaliveConfig{
			Interval: 30 * time.Second,
		},
		Storage: StorageConfig{
			StagingDir: "data/staging",
			StorageDir: "data/files",
			DBPath:     "data/observer.db",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	if port := getEnv("PORT", ""); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("invalid PORT %q", port)
		}
		c.Server.Port = n
	}
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Device.ADBPath = getEnv("ADB_PATH", c.Device.ADBPath)
	c.Device.Serial = getEnv("DEVICE_SERIAL", c.Device.Serial)
	c.Storage.DBPath = getEnv("DB_PATH", c.Storage.DBPath)
	c.Storage.StagingDir = getEnv("STAGING_DIR", c.Storage.StagingDir)
	c.Storage.StorageDir = getEnv("STORAGE_DIR", c.Storage.StorageDir)
	c.Journal.Path = getEnv("JOURNAL_PATH", c.Journal.Path)
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
