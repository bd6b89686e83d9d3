package config

const (
	defaultConfigPath            = "~/.config/chromdm/config.toml"
	defaultDataDir               = "~/.local/share/chromdm"
	defaultFourDNBaseURL         = "https://data.4dnucleome.org"
	defaultFourDNPageSize        = 100
	defaultENCODEBaseURL         = "https://www.encodeproject.org"
	defaultENCODEAssembly        = "GRCh38"
	defaultMaxParallel           = 3
	defaultDownloadChunkMiB      = 4
	defaultDownloadTimeoutSecond = 300
	defaultCacheTTLHours         = 24
	defaultJobChunkMiB           = 8
	defaultJobTimeoutSeconds     = 120
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultNotifyTimeoutSeconds  = 10
)

// Default returns a Config populated with repository defaults. Fields with
// environment fallbacks (data dir, parallelism, cache TTL, 4DN keys) are
// left zero so normalize can consult the environment first.
func Default() Config {
	return Config{
		FourDN: FourDN{
			BaseURL:  defaultFourDNBaseURL,
			PageSize: defaultFourDNPageSize,
		},
		ENCODE: ENCODE{
			BaseURL:  defaultENCODEBaseURL,
			Assembly: defaultENCODEAssembly,
		},
		Downloads: Downloads{
			ChunkMiB:       defaultDownloadChunkMiB,
			TimeoutSeconds: defaultDownloadTimeoutSecond,
			Resume:         true,
		},
		Cache: Cache{
			Enabled: true,
		},
		Jobs: Jobs{
			ChunkMiB:       defaultJobChunkMiB,
			TimeoutSeconds: defaultJobTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notify: Notify{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
	}
}
