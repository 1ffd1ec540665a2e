package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/histscan/config.yaml"

// Environment variables consulted at startup.
const (
	EnvConfigPath = "HISTSCAN_CONFIG"
	EnvAPIKey     = "VT_API_KEY"
)

// Config holds all histscan configuration.
type Config struct {
	Scan       ScanConfig       `yaml:"scan"`
	VirusTotal VirusTotalConfig `yaml:"virustotal"`
	Storage    StorageConfig    `yaml:"storage"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Logging    LoggingConfig    `yaml:"logging"`
	Import     ImportConfig     `yaml:"import"`
}

// ScanConfig controls candidate filtering and the request throttle.
type ScanConfig struct {
	QuotaPerMinute int           `yaml:"quota_per_minute" default:"4"`
	MinDelay       time.Duration `yaml:"min_delay" default:"16s"`
	Window         time.Duration `yaml:"window" default:"60s"`
	WindowMargin   time.Duration `yaml:"window_margin" default:"1s"`
	QuotaCooldown  time.Duration `yaml:"quota_cooldown" default:"30s"`
	MaxURLs        int           `yaml:"max_urls" default:"4"`
	MaxURLLength   int           `yaml:"max_url_length" default:"500"`
	ExcludeMarkers []string      `yaml:"exclude_markers"`
}

type VirusTotalConfig struct {
	APIURL    string        `yaml:"api_url" default:"https://www.virustotal.com/vtapi/v2/url/report"`
	Timeout   time.Duration `yaml:"timeout" default:"10s"`
	UserAgent string        `yaml:"user_agent" default:"BrowserHistoryAnalyzer/1.0"`
	SignupURL string        `yaml:"signup_url" default:"https://www.virustotal.com/gui/join-us"`
}

type StorageConfig struct {
	Path          string `yaml:"path" default:"~/.config/histscan"`
	SQLiteFile    string `yaml:"sqlite_file" default:"history_analyzer.db"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms" default:"5000"`
}

type DaemonConfig struct {
	Host           string `yaml:"host" default:"127.0.0.1"`
	Port           int    `yaml:"port" default:"8765"`
	MaxRequestSize int    `yaml:"max_request_size" default:"10485760"`
}

type LoggingConfig struct {
	Level string `yaml:"level" default:"info"`
	File  string `yaml:"file"`
}

type ImportConfig struct {
	DefaultBrowser string `yaml:"default_browser" default:"Google Chrome"`
	SQLiteLimit    int    `yaml:"sqlite_limit" default:"100"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.Scan.ExcludeMarkers = DefaultExcludeMarkers()
	return cfg
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects settings the scanner cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Scan.QuotaPerMinute < 1:
		return fmt.Errorf("scan.quota_per_minute must be at least 1")
	case c.Scan.MaxURLs < 1:
		return fmt.Errorf("scan.max_urls must be at least 1")
	case c.Scan.MaxURLLength < 1:
		return fmt.Errorf("scan.max_url_length must be at least 1")
	case c.Scan.MinDelay < 0 || c.Scan.Window < 0 || c.Scan.WindowMargin < 0 || c.Scan.QuotaCooldown < 0:
		return fmt.Errorf("scan durations must not be negative")
	case c.Daemon.Port < 1 || c.Daemon.Port > 65535:
		return fmt.Errorf("daemon.port %d out of range", c.Daemon.Port)
	}
	return nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// ExpandPath is the exported form of expandPath for other packages.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// DBPath returns the absolute path of the SQLite database.
func (c *Config) DBPath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// LogFilePath returns where log output is appended, or "" for stderr only.
// Relative names are placed under the storage directory.
func (c *Config) LogFilePath() (string, error) {
	if c.Logging.File == "" {
		return "", nil
	}
	p, err := expandPath(c.Logging.File)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

// LoadEnv loads a .env file from the working directory when one exists.
func LoadEnv() {
	_ = godotenv.Load()
}

// EnvAPIKeyValue returns the API key from the environment, if any.
func EnvAPIKeyValue() string {
	return os.Getenv(EnvAPIKey)
}

// ResolvePath picks the config file: an explicit path wins, then
// $HISTSCAN_CONFIG, then DefaultConfigPath.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return expandPath(explicit)
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return expandPath(env)
	}
	return expandPath(DefaultConfigPath)
}

// LoadOrCreate loads the config from the resolved default path. If the
// file does not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := ResolvePath("")
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
