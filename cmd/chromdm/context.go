package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"chromdm/internal/catalog"
	"chromdm/internal/config"
	"chromdm/internal/download"
	"chromdm/internal/ledger"
	"chromdm/internal/logging"
	"chromdm/internal/pairing"
	"chromdm/internal/task"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if exists {
			c.configPath = resolved
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevelFlag)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// log returns the CLI logger. Logs go to stderr and chromdm.log so stdout
// stays clean for tables and JSON.
func (c *commandContext) log() *slog.Logger {
	c.loggerOnce.Do(func() {
		logger, err := logging.NewFromConfig(c.configValue())
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) openLedger() (*ledger.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		if errors.Is(err, ledger.ErrLocked) {
			return nil, fmt.Errorf("%w: another chromdm command is writing the ledger", err)
		}
		return nil, err
	}
	return store, nil
}

// primarySource returns the 4DN client, behind the disk cache when enabled.
func (c *commandContext) primarySource(refresh bool) pairing.PrimarySource {
	cfg := c.configValue()
	logger := c.log()
	client := catalog.NewFourDN(cfg.FourDN.BaseURL,
		catalog.WithPageSize(cfg.FourDN.PageSize),
		catalog.WithFourDNLogger(logging.NewComponentLogger(logger, "fourdn")),
	)
	if !cfg.Cache.Enabled {
		return client
	}
	cached := catalog.NewCachedPrimary(client, cfg.CacheDir(), cfg.CacheTTL(), logger)
	if refresh {
		cached.ForceRefresh()
	}
	return cached
}

// companionSource returns the ENCODE client, behind the disk cache when enabled.
func (c *commandContext) companionSource() pairing.CompanionSource {
	cfg := c.configValue()
	logger := c.log()
	client := catalog.NewENCODE(cfg.ENCODE.BaseURL,
		catalog.WithAssembly(cfg.ENCODE.Assembly),
		catalog.WithENCODELogger(logging.NewComponentLogger(logger, "encode")),
	)
	if !cfg.Cache.Enabled {
		return client
	}
	return catalog.NewCachedCompanion(client, cfg.CacheDir(), cfg.CacheTTL(), logger)
}

func (c *commandContext) pairer(store *ledger.Store, refresh bool) *pairing.Pairer {
	opts := []pairing.Option{pairing.WithLogger(logging.NewComponentLogger(c.log(), "pairing"))}
	if store != nil {
		opts = append(opts, pairing.WithLedger(store))
	}
	return pairing.New(c.primarySource(refresh), c.companionSource(), opts...)
}

func (c *commandContext) layout() task.Layout {
	cfg := c.configValue()
	return task.Layout{PrimaryDir: cfg.PrimaryDir(), CompanionDir: cfg.CompanionDir()}
}

func (c *commandContext) credentials() download.Credentials {
	cfg := c.configValue()
	return download.Credentials{AccessID: cfg.FourDN.AccessID, SecretKey: cfg.FourDN.SecretKey}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// exitError carries a process exit code without an extra message.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitCode(err error) int {
	var exit exitError
	if errors.As(err, &exit) && exit.code > 0 {
		return exit.code
	}
	return 1
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
