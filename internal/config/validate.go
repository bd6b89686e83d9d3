package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if err := c.validateDownloads(); err != nil {
		return err
	}
	if c.Cache.TTLHours < 0 {
		return errors.New("cache.ttl_hours must be zero or positive")
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	endpoints := map[string]string{
		"fourdn.base_url": c.FourDN.BaseURL,
		"encode.base_url": c.ENCODE.BaseURL,
	}
	if c.Notify.NtfyTopic != "" {
		endpoints["notifications.ntfy_topic"] = c.Notify.NtfyTopic
	}
	for name, raw := range endpoints {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, raw)
		}
	}
	if (c.FourDN.AccessID == "") != (c.FourDN.SecretKey == "") {
		return errors.New("fourdn.access_id and fourdn.secret_key must be set together (or FOURDN_ACCESS_ID/FOURDN_SECRET_KEY)")
	}
	return nil
}

func (c *Config) validateDownloads() error {
	if c.Downloads.MaxParallel < 1 {
		return errors.New("downloads.max_parallel must be at least 1")
	}
	if c.Downloads.ChunkMiB > 256 || c.Jobs.ChunkMiB > 256 {
		return errors.New("chunk_mib must not exceed 256")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
