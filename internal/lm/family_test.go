package lm

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDetectFamily(t *testing.T) {
	tests := []struct {
		name string
		want Family
	}{
		{"bert-base-cased", FamilyBert},
		{"bert-base-german-cased", FamilyBert},
		{"roberta-base", FamilyRoberta},
		{"xlm-roberta-large", FamilyXLMRoberta},
		{"deepset/XLM-RoBERTa-base", FamilyXLMRoberta},
		{"albert-base-v2", FamilyAlbert},
		{"distilbert-base-german-cased", FamilyDistilBert},
		{"xlnet-base-cased", FamilyXLNet},
		{"glove-german-uncased", FamilyWordEmbedding},
		{"my-word2vec", FamilyWordEmbedding},
		{"/models/DistilBERT-multilingual", FamilyDistilBert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFamily(tt.name)
			if err != nil {
				t.Fatalf("DetectFamily(%q) failed: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("DetectFamily(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		_, err := DetectFamily("gpt2")
		if !errors.Is(err, ErrUnknownFamily) {
			t.Fatalf("expected ErrUnknownFamily, got %v", err)
		}
		for _, f := range AllFamilies() {
			if !strings.Contains(err.Error(), string(f)) {
				t.Errorf("error should list %s: %v", f, err)
			}
		}
	})
}

func TestEveryFamilyHasALoader(t *testing.T) {
	for _, f := range AllFamilies() {
		if _, ok := loaders[f]; !ok {
			t.Errorf("family %s has no loader", f)
		}
		if !f.Valid() {
			t.Errorf("family %s not valid", f)
		}
	}
	if len(loaders) != len(AllFamilies()) {
		t.Errorf("loader table has %d entries for %d families", len(loaders), len(AllFamilies()))
	}
}

func TestParseFamily(t *testing.T) {
	for _, in := range []string{"Bert", "bert", "XLMRoberta", "xlm-roberta", "WordEmbedding_LM"} {
		if _, err := ParseFamily(in); err != nil {
			t.Errorf("ParseFamily(%q) failed: %v", in, err)
		}
	}
	if _, err := ParseFamily("T5"); !errors.Is(err, ErrUnknownFamily) {
		t.Errorf("expected ErrUnknownFamily, got %v", err)
	}
	if f, ok := FamilyFromModelType("distilbert"); !ok || f != FamilyDistilBert {
		t.Errorf("FamilyFromModelType(distilbert) = %s, %v", f, ok)
	}
}

func TestInferLanguage(t *testing.T) {
	t.Run("Single", func(t *testing.T) {
		lang, err := InferLanguage("bert-base-german-cased", zap.NewNop())
		if err != nil || lang != "german" {
			t.Errorf("got %q, %v", lang, err)
		}
	})

	t.Run("NoneWarnsAndDefaults", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		lang, err := InferLanguage("bert-base-cased", zap.New(core))
		if err != nil || lang != DefaultLanguage {
			t.Errorf("got %q, %v", lang, err)
		}
		if logs.Len() != 1 {
			t.Errorf("expected one warning, got %d", logs.Len())
		}
	})

	t.Run("Ambiguous", func(t *testing.T) {
		_, err := InferLanguage("german-english-bert", zap.NewNop())
		if !errors.Is(err, ErrLanguageAmbiguous) {
			t.Errorf("expected ErrLanguageAmbiguous, got %v", err)
		}
	})

	t.Run("Explicit", func(t *testing.T) {
		lang, err := ResolveLanguage("french", "german-english-bert", zap.NewNop())
		if err != nil || lang != "french" {
			t.Errorf("got %q, %v", lang, err)
		}
	})
}
