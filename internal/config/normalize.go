package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFourDN()
	c.normalizeENCODE()
	if err := c.normalizeDownloads(); err != nil {
		return err
	}
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeJobs()
	c.normalizeLogging()
	c.normalizeNotify()
	return nil
}

func (c *Config) normalizePaths() error {
	c.Paths.DataDir = strings.TrimSpace(c.Paths.DataDir)
	if c.Paths.DataDir == "" {
		if value, ok := os.LookupEnv("DATA_DIR"); ok && strings.TrimSpace(value) != "" {
			c.Paths.DataDir = strings.TrimSpace(value)
		} else {
			c.Paths.DataDir = defaultDataDir
		}
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeFourDN() {
	c.FourDN.AccessID = strings.TrimSpace(c.FourDN.AccessID)
	if c.FourDN.AccessID == "" {
		if value, ok := os.LookupEnv("FOURDN_ACCESS_ID"); ok {
			c.FourDN.AccessID = strings.TrimSpace(value)
		}
	}
	c.FourDN.SecretKey = strings.TrimSpace(c.FourDN.SecretKey)
	if c.FourDN.SecretKey == "" {
		if value, ok := os.LookupEnv("FOURDN_SECRET_KEY"); ok {
			c.FourDN.SecretKey = strings.TrimSpace(value)
		}
	}
	c.FourDN.BaseURL = strings.TrimRight(strings.TrimSpace(c.FourDN.BaseURL), "/")
	if c.FourDN.BaseURL == "" {
		c.FourDN.BaseURL = defaultFourDNBaseURL
	}
	if c.FourDN.PageSize <= 0 {
		c.FourDN.PageSize = defaultFourDNPageSize
	}
}

func (c *Config) normalizeENCODE() {
	c.ENCODE.BaseURL = strings.TrimRight(strings.TrimSpace(c.ENCODE.BaseURL), "/")
	if c.ENCODE.BaseURL == "" {
		c.ENCODE.BaseURL = defaultENCODEBaseURL
	}
	c.ENCODE.Assembly = strings.TrimSpace(c.ENCODE.Assembly)
	if c.ENCODE.Assembly == "" {
		c.ENCODE.Assembly = defaultENCODEAssembly
	}
}

func (c *Config) normalizeDownloads() error {
	if c.Downloads.MaxParallel == 0 {
		value, err := intFromEnv("MAX_PARALLEL_DOWNLOADS", defaultMaxParallel)
		if err != nil {
			return err
		}
		c.Downloads.MaxParallel = value
	}
	if c.Downloads.ChunkMiB <= 0 {
		c.Downloads.ChunkMiB = defaultDownloadChunkMiB
	}
	if c.Downloads.TimeoutSeconds <= 0 {
		c.Downloads.TimeoutSeconds = defaultDownloadTimeoutSecond
	}
	return nil
}

func (c *Config) normalizeCache() error {
	if c.Cache.TTLHours == 0 {
		value, err := intFromEnv("CACHE_TTL_HOURS", defaultCacheTTLHours)
		if err != nil {
			return err
		}
		c.Cache.TTLHours = value
	}
	return nil
}

func (c *Config) normalizeJobs() {
	if c.Jobs.ChunkMiB <= 0 {
		c.Jobs.ChunkMiB = defaultJobChunkMiB
	}
	if c.Jobs.TimeoutSeconds <= 0 {
		c.Jobs.TimeoutSeconds = defaultJobTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotify() {
	c.Notify.NtfyTopic = strings.TrimSpace(c.Notify.NtfyTopic)
	if c.Notify.RequestTimeoutSeconds <= 0 {
		c.Notify.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}

func intFromEnv(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return value, nil
}
