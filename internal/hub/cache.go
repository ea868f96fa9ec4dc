package hub

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Cache layout, compatible with the huggingface_hub cache.
const (
	DefaultCacheSubdir = "huggingface/hub"
	CacheSnapshotDir   = "snapshots"
	CacheModelPrefix   = "models--"
	archiveCacheSubdir = "archives"
)

// CacheDir returns the hub cache directory from HF_HUB_CACHE, HF_HOME or the
// platform cache directory.
func CacheDir() string {
	if cacheDir := os.Getenv("HF_HUB_CACHE"); cacheDir != "" {
		return cacheDir
	}
	if hfHome := os.Getenv(EnvHFHome); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	return defaultCacheDir()
}

func defaultCacheDir() string {
	var baseDir string
	switch runtime.GOOS {
	case "windows":
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			baseDir = filepath.Join(userProfile, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	default:
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			baseDir = xdgCache
		} else if home, err := os.UserHomeDir(); err == nil {
			baseDir = filepath.Join(home, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	}
	return filepath.Join(baseDir, DefaultCacheSubdir)
}

func modelIDToCacheDir(modelID string) string {
	return CacheModelPrefix + strings.ReplaceAll(modelID, "/", "--")
}
