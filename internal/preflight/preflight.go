package preflight

import (
	"cardsync/internal/config"
)

// MinFreeBytes is the free space required on the versions and cache volumes.
const MinFreeBytes = 64 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the filesystem checks for the given config. The cache
// directory is only checked when the sqlite backend is in use.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Config directory", cfg.Paths.ConfigDir),
		CheckDirectoryAccess("Versions directory", cfg.Paths.VersionsDir),
		CheckFreeSpace("Versions volume", cfg.Paths.VersionsDir, MinFreeBytes),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	if cfg.Cache.Enabled && cfg.Cache.Backend == "sqlite" {
		results = append(results, CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
