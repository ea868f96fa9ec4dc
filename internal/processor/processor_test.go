package processor

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/wordembed"
)

func TestPad(t *testing.T) {
	items := []encoded{
		{text: "a b c", tokens: []string{"a", "b", "c"}, ids: []int32{5, 6, 7}, segments: []int32{0, 0, 1}},
		{text: "d", tokens: []string{"d"}, ids: []int32{8}},
	}
	samples := pad(items, 1)

	want := []*Sample{
		{Text: "a b c", Tokens: []string{"a", "b", "c"}, InputIDs: []int32{5, 6, 7}, SegmentIDs: []int32{0, 0, 1}, PaddingMask: []int32{1, 1, 1}},
		{Text: "d", Tokens: []string{"d"}, InputIDs: []int32{8, 1, 1}, SegmentIDs: []int32{0, 0, 0}, PaddingMask: []int32{1, 0, 0}},
	}
	if diff := cmp.Diff(want, samples, cmpopts.IgnoreFields(Sample{}, "ID")); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if samples[0].ID == "" || samples[0].ID == samples[1].ID {
		t.Errorf("samples should get distinct ids, got %q and %q", samples[0].ID, samples[1].ID)
	}
}

func TestKeepIndexes(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		special []int
		limit   int
		want    []int
	}{
		{"FitsLimit", 3, []int{1, 0, 1}, 5, []int{0, 1, 2}},
		{"KeepsTrailingSep", 5, []int{1, 0, 0, 0, 1}, 3, []int{0, 1, 4}},
		{"NoTrailingSpecial", 5, []int{0, 0, 0, 0, 0}, 3, []int{0, 1, 2}},
		{"NoMask", 4, nil, 2, []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, keepIndexes(tt.n, tt.special, tt.limit)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVocabProcessor(t *testing.T) {
	vocab := wordembed.NewVocab([]string{"[PAD]", "[UNK]", "the", "cat", "sat"})

	t.Run("LooksUpWords", func(t *testing.T) {
		p, err := NewVocabProcessor(vocab, Config{Lowercase: true}, zap.NewNop())
		if err != nil {
			t.Fatalf("NewVocabProcessor failed: %v", err)
		}
		samples, err := p.Process([]string{"The cat sat", "dog"})
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if diff := cmp.Diff([]int32{2, 3, 4}, samples[0].InputIDs); diff != "" {
			t.Errorf("ids mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int32{1, 0, 0}, samples[1].InputIDs); diff != "" {
			t.Errorf("unknown word should map to [UNK] and pad with [PAD] (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int32{1, 0, 0}, samples[1].PaddingMask); diff != "" {
			t.Errorf("mask mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"the", "cat", "sat"}, samples[0].Tokens); diff != "" {
			t.Errorf("tokens mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("CaseSensitive", func(t *testing.T) {
		p, err := NewVocabProcessor(vocab, Config{}, zap.NewNop())
		if err != nil {
			t.Fatalf("NewVocabProcessor failed: %v", err)
		}
		samples, err := p.Process([]string{"The"})
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if samples[0].InputIDs[0] != 1 {
			t.Errorf("expected [UNK] for cased word, got %d", samples[0].InputIDs[0])
		}
	})

	t.Run("Truncates", func(t *testing.T) {
		p, err := NewVocabProcessor(vocab, Config{MaxSeqLen: 2}, zap.NewNop())
		if err != nil {
			t.Fatalf("NewVocabProcessor failed: %v", err)
		}
		samples, err := p.Process([]string{"the cat sat"})
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if len(samples[0].InputIDs) != 2 {
			t.Errorf("expected 2 ids, got %v", samples[0].InputIDs)
		}
	})

	t.Run("EmptyText", func(t *testing.T) {
		p, _ := NewVocabProcessor(vocab, Config{}, zap.NewNop())
		samples, err := p.Process([]string{"   "})
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if diff := cmp.Diff([]int32{1}, samples[0].InputIDs); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("NoTexts", func(t *testing.T) {
		p, _ := NewVocabProcessor(vocab, Config{}, zap.NewNop())
		if _, err := p.Process(nil); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("expected ErrEmptyInput, got %v", err)
		}
	})

	t.Run("RequiresUnknownToken", func(t *testing.T) {
		_, err := NewVocabProcessor(wordembed.NewVocab([]string{"a"}), Config{}, zap.NewNop())
		if !errors.Is(err, wordembed.ErrMissingUnknownToken) {
			t.Errorf("expected ErrMissingUnknownToken, got %v", err)
		}
	})
}
