package lm

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func TestModelConfigOutputDims(t *testing.T) {
	tests := []struct {
		name string
		cfg  ModelConfig
		want int
	}{
		{"Dim", ModelConfig{Dim: 768}, 768},
		{"HiddenSize", ModelConfig{HiddenSize: 1024}, 1024},
		{"DModel", ModelConfig{DModel: 512}, 512},
		{"DimWins", ModelConfig{Dim: 256, HiddenSize: 1024}, 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.OutputDims()
			if err != nil || got != tt.want {
				t.Errorf("OutputDims() = %d, %v; want %d", got, err, tt.want)
			}
		})
	}

	t.Run("Missing", func(t *testing.T) {
		var cfg ModelConfig
		if _, err := cfg.OutputDims(); !errors.Is(err, ErrConfigError) {
			t.Errorf("expected ErrConfigError, got %v", err)
		}
	})
}

func TestModelConfigPreservesUnknownKeys(t *testing.T) {
	in := `{"name":"Bert","hidden_size":8,"attention_probs_dropout_prob":0.1,"id2label":{"0":"A"}}`
	var cfg ModelConfig
	if err := json.Unmarshal([]byte(in), &cfg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cfg.HiddenSize != 8 || cfg.Name != "Bert" {
		t.Errorf("known fields not decoded: %+v", cfg)
	}
	if _, ok := cfg.Extra["attention_probs_dropout_prob"]; !ok {
		t.Error("unknown key not kept")
	}

	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := LoadModelConfig(path)
	if err != nil {
		t.Fatalf("LoadModelConfig failed: %v", err)
	}
	if string(loaded.Extra["id2label"]) != `{"0":"A"}` {
		t.Errorf("id2label = %s", loaded.Extra["id2label"])
	}
}

func TestModelConfigNumLayers(t *testing.T) {
	if n := (&ModelConfig{NumHiddenLayers: 12}).NumLayers(); n != 12 {
		t.Errorf("NumLayers = %d", n)
	}
	if n := (&ModelConfig{NLayers: 6}).NumLayers(); n != 6 {
		t.Errorf("NumLayers = %d", n)
	}
	if n := (&ModelConfig{NLayer: 24}).NumLayers(); n != 24 {
		t.Errorf("NumLayers = %d", n)
	}
}
