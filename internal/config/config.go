package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains data directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// FourDN contains configuration for the 4DN data portal (primary catalog).
type FourDN struct {
	BaseURL   string `toml:"base_url"`
	AccessID  string `toml:"access_id"`
	SecretKey string `toml:"secret_key"`
	PageSize  int    `toml:"page_size"`
}

// ENCODE contains configuration for the ENCODE portal (companion catalog).
type ENCODE struct {
	BaseURL  string `toml:"base_url"`
	Assembly string `toml:"assembly"`
}

// Downloads contains configuration for interactive transfers.
type Downloads struct {
	MaxParallel    int  `toml:"max_parallel"`
	ChunkMiB       int  `toml:"chunk_mib"`
	TimeoutSeconds int  `toml:"timeout_seconds"`
	Resume         bool `toml:"resume"`
}

// Cache contains configuration for catalog response caches.
type Cache struct {
	Enabled  bool `toml:"enabled"`
	TTLHours int  `toml:"ttl_hours"`
}

// Jobs contains configuration for background download jobs.
type Jobs struct {
	ChunkMiB       int `toml:"chunk_mib"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Notify configures ntfy delivery. An empty topic disables notifications.
type Notify struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for chromdm.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - FourDN: Hi-C catalog endpoint and credentials
//   - ENCODE: cCRE catalog endpoint
//   - Downloads: worker pool width, chunking, timeouts
//   - Cache: catalog cache TTL
//   - Jobs: background job transfer settings
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	FourDN    FourDN    `toml:"fourdn"`
	ENCODE    ENCODE    `toml:"encode"`
	Downloads Downloads `toml:"downloads"`
	Cache     Cache     `toml:"cache"`
	Jobs      Jobs      `toml:"jobs"`
	Logging   Logging   `toml:"logging"`
	Notify    Notify    `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("chromdm.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data layout used by the CLI and background jobs.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.LogDir,
		c.PrimaryDir(),
		c.CompanionDir(),
		c.CacheDir(),
		c.JobsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PrimaryDir is where Hi-C .mcool files land.
func (c *Config) PrimaryDir() string {
	return filepath.Join(c.Paths.DataDir, "downloads", "mcool")
}

// CompanionDir is where cCRE .bed.gz files land.
func (c *Config) CompanionDir() string {
	return filepath.Join(c.Paths.DataDir, "downloads", "ccre")
}

// CacheDir holds catalog response caches.
func (c *Config) CacheDir() string {
	return filepath.Join(c.Paths.DataDir, "cache")
}

// JobsDir holds background job state, task, pid, and log files.
func (c *Config) JobsDir() string {
	return filepath.Join(c.Paths.DataDir, "jobs")
}

// ReportsDir holds exported CSV reports.
func (c *Config) ReportsDir() string {
	return filepath.Join(c.Paths.DataDir, "reports")
}

// LedgerPath returns the SQLite metadata ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.DataDir, "chromdm.db")
}

// LedgerLockPath returns the advisory lock file guarding ledger writes.
func (c *Config) LedgerLockPath() string {
	return filepath.Join(c.Paths.DataDir, "ledger.lock")
}

// CacheTTL returns the catalog cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// DownloadTimeout returns the fixed connect/read timeout for interactive transfers.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Downloads.TimeoutSeconds) * time.Second
}

// JobTimeout returns the fixed connect/read timeout for background job transfers.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSeconds) * time.Second
}

// NotifyTimeout bounds one ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.RequestTimeoutSeconds) * time.Second
}

// HasFourDNCredentials reports whether authenticated 4DN downloads are possible.
func (c *Config) HasFourDNCredentials() bool {
	return c.FourDN.AccessID != "" && c.FourDN.SecretKey != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
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
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
