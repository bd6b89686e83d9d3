package testsupport

import (
	"path/filepath"
	"testing"

	"chromdm/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a per-test temp directory with the
// environment-backed fields filled in, so tests never read the host env.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "data", "logs")
	cfgVal.Downloads.MaxParallel = 3
	cfgVal.Cache.TTLHours = 24

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithFourDNCredentials sets the 4DN access key pair on the test config.
func WithFourDNCredentials(id, secret string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.FourDN.AccessID = id
		b.cfg.FourDN.SecretKey = secret
	}
}

// WithEndpoints points both catalogs at test servers.
func WithEndpoints(fourdn, encode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.FourDN.BaseURL = fourdn
		b.cfg.ENCODE.BaseURL = encode
	}
}

// WithMaxParallel overrides the interactive worker pool width.
func WithMaxParallel(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Downloads.MaxParallel = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
