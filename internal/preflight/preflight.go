package preflight

import (
	"context"

	"chromdm/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every applicable check. Network checks run only when
// online is true.
func RunAll(ctx context.Context, cfg *config.Config, online bool) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("mcool directory", cfg.PrimaryDir()),
		CheckDirectoryAccess("cCRE directory", cfg.CompanionDir()),
		CheckDirectoryAccess("Jobs directory", cfg.JobsDir()),
	}
	if !online {
		return results
	}

	results = append(results,
		CheckEndpoint(ctx, "4DN portal", cfg.FourDN.BaseURL),
		CheckEndpoint(ctx, "ENCODE portal", cfg.ENCODE.BaseURL),
		CheckFourDNCredentials(ctx, cfg.FourDN.BaseURL, cfg.FourDN.AccessID, cfg.FourDN.SecretKey),
	)
	return results
}

// Failed counts results that did not pass.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}
