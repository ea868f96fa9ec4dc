package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/raaihank/langmodel/internal/pooling"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(GetDefaults(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("defaults changed by load (-want +got):\n%s", diff)
	}
	if !cfg.Inference.Extraction.IgnoreFirstToken {
		t.Error("ignore_first_token should default to true")
	}

	t.Run("KeepFirstToken", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "inference:\n  extraction:\n    ignore_first_token: false\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Inference.Extraction.IgnoreFirstToken {
			t.Error("ignore_first_token: false was not applied")
		}
	})
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 5s
model:
  name_or_path: xlnet-base-cased
inference:
  batch_size: 8
  extraction:
    strategy: cls_token
    layer: -2
    ignore_first_token: true
`)
	t.Setenv("LANGMODEL_MODEL_LANGUAGE", "german")
	t.Setenv("LANGMODEL_CACHE_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("server section not loaded: %+v", cfg.Server)
	}
	if cfg.Server.WriteTimeout != GetDefaults().Server.WriteTimeout {
		t.Errorf("unset keys should keep defaults, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Model.NameOrPath != "xlnet-base-cased" || cfg.Model.Language != "german" {
		t.Errorf("model section not loaded: %+v", cfg.Model)
	}
	if !cfg.Cache.Enabled {
		t.Error("env override for cache.enabled not applied")
	}
	want := pooling.Extraction{Strategy: pooling.CLSToken, Layer: -2, IgnoreFirstToken: true}
	if diff := cmp.Diff(want, cfg.Inference.Extraction); diff != "" {
		t.Errorf("extraction mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"Port", "server:\n  port: 70000\n", "invalid server port"},
		{"LogLevel", "logging:\n  level: verbose\n", "invalid log level"},
		{"Family", "model:\n  family: gpt2\n", "invalid model family"},
		{"PooledNonFinal", "inference:\n  extraction:\n    strategy: pooled\n    layer: -2\n", "invalid extraction"},
		{"Strategy", "inference:\n  extraction:\n    strategy: sum\n", "invalid extraction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadOptions(t *testing.T) {
	cfg := GetDefaults()
	opts, err := cfg.LoadOptions()
	if err != nil {
		t.Fatalf("LoadOptions failed: %v", err)
	}
	if len(opts) != 1 {
		t.Errorf("expected only the seed option, got %d", len(opts))
	}

	cfg.Model.Family = "distilbert"
	cfg.Model.Language = "english"
	cfg.Model.AddedTokens = 2
	opts, err = cfg.LoadOptions()
	if err != nil {
		t.Fatalf("LoadOptions failed: %v", err)
	}
	if len(opts) != 4 {
		t.Errorf("expected 4 options, got %d", len(opts))
	}
}
