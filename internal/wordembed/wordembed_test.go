package wordembed

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReadVectors(t *testing.T) {
	t.Run("HeaderAndTwoVectors", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		logger := zap.New(core)

		vocab := NewVocab([]string{"[UNK]", "cat", "dog"})
		input := "2 3\ncat 1 2 3\ndog 4 5 6\n"

		table, stats, err := ReadVectors(strings.NewReader(input), vocab, logger)
		if err != nil {
			t.Fatalf("ReadVectors failed: %v", err)
		}
		if !stats.HeaderSkipped {
			t.Error("header line not skipped")
		}
		if stats.Parsed != 2 {
			t.Errorf("expected 2 parsed vectors, got %d", stats.Parsed)
		}
		if diff := cmp.Diff([]float32{1, 2, 3}, table.Row(1)); diff != "" {
			t.Errorf("cat vector mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]float32{4, 5, 6}, table.Row(2)); diff != "" {
			t.Errorf("dog vector mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]float32{0, 0, 0}, table.Row(0)); diff != "" {
			t.Errorf("missing word should get a zero vector (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"[UNK]"}, stats.Missing); diff != "" {
			t.Errorf("missing list mismatch (-want +got):\n%s", diff)
		}
		warnings := logs.FilterMessage("Could not load pretrained embedding for word").All()
		if len(warnings) != 1 {
			t.Fatalf("expected 1 warning, got %d", len(warnings))
		}
		if w := warnings[0].ContextMap()["word"]; w != "[UNK]" {
			t.Errorf("warning names %v, want [UNK]", w)
		}
	})

	t.Run("DropsMismatchedAndRepeated", func(t *testing.T) {
		vocab := NewVocab([]string{"[UNK]", "a", "b"})
		input := strings.Join([]string{
			"a 1 1 1 1",
			"b 2 2",
			"a 9 9 9 9",
			"b 3 3 3 3",
			"c x y z w",
		}, "\n")

		table, stats, err := ReadVectors(strings.NewReader(input), vocab, zap.NewNop())
		if err != nil {
			t.Fatalf("ReadVectors failed: %v", err)
		}
		if stats.Mismatched != 1 {
			t.Errorf("expected 1 mismatched line, got %d", stats.Mismatched)
		}
		if stats.Repetitions != 1 {
			t.Errorf("expected 1 repetition, got %d", stats.Repetitions)
		}
		if stats.Unparsable != 1 {
			t.Errorf("expected 1 unparsable line, got %d", stats.Unparsable)
		}
		if diff := cmp.Diff([]float32{1, 1, 1, 1}, table.Row(1)); diff != "" {
			t.Errorf("first occurrence should win (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]float32{3, 3, 3, 3}, table.Row(2)); diff != "" {
			t.Errorf("b vector mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("NoVectors", func(t *testing.T) {
		vocab := NewVocab([]string{"[UNK]"})
		_, _, err := ReadVectors(strings.NewReader("1 2\n\n"), vocab, zap.NewNop())
		if !errors.Is(err, ErrNoVectors) {
			t.Fatalf("expected ErrNoVectors, got %v", err)
		}
	})
}

func TestNewRequiresUnknownToken(t *testing.T) {
	vocab := NewVocab([]string{"cat"})
	_, err := New(vocab, NewTable(1, 4), nil)
	if !errors.Is(err, ErrMissingUnknownToken) {
		t.Fatalf("expected ErrMissingUnknownToken, got %v", err)
	}
}

func TestBatchNormalize(t *testing.T) {
	t.Run("Batch", func(t *testing.T) {
		out := BatchNormalize([][]float32{{1, 10}, {3, 10}}, DefaultEpsilon)
		// Feature 0: mean 2, variance 1. Feature 1 is constant.
		want := 1 / math.Sqrt(1+DefaultEpsilon)
		if got := float64(out[0][0]); math.Abs(got+want) > 1e-6 {
			t.Errorf("out[0][0] = %f, want %f", got, -want)
		}
		if got := float64(out[1][0]); math.Abs(got-want) > 1e-6 {
			t.Errorf("out[1][0] = %f, want %f", got, want)
		}
		if out[0][1] != 0 || out[1][1] != 0 {
			t.Errorf("constant feature should normalize to 0, got %v %v", out[0][1], out[1][1])
		}
	})

	t.Run("SingleItem", func(t *testing.T) {
		out := BatchNormalize([][]float32{{2, -4}}, DefaultEpsilon)
		scale := 1 / math.Sqrt(1+DefaultEpsilon)
		if math.Abs(float64(out[0][0])-2*scale) > 1e-6 || math.Abs(float64(out[0][1])+4*scale) > 1e-6 {
			t.Errorf("unexpected single item output %v", out[0])
		}
	})
}

func TestModel(t *testing.T) {
	vocab := NewVocab([]string{"[PAD]", "[UNK]", "a", "b"})
	table := NewTable(4, 4)
	copy(table.Row(2), []float32{1, 2, 3, 4})
	copy(table.Row(3), []float32{3, 4, 5, 6})
	model, err := New(vocab, table, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Run("ForwardMasksPadding", func(t *testing.T) {
		ids := [][]int32{{2, 3, 0}, {3, 0, 0}}
		mask := [][]int32{{1, 1, 0}, {1, 0, 0}}
		sequence, pooled, err := model.Forward(ids, mask)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if len(sequence) != 2 || len(sequence[0]) != 3 {
			t.Fatalf("unexpected sequence shape")
		}
		// Means are {2,3,4,5} and {3,4,5,6}; normalized they are -1 and +1.
		for j := 0; j < 4; j++ {
			if pooled[0][j] >= 0 || pooled[1][j] <= 0 {
				t.Errorf("feature %d not normalized around the batch mean: %v %v", j, pooled[0][j], pooled[1][j])
			}
		}
	})

	t.Run("OutOfRangeIdsReadUnknown", func(t *testing.T) {
		vecs := model.Lookup([][]int32{{99}})
		if diff := cmp.Diff(table.Row(1), vecs[0][0]); diff != "" {
			t.Errorf("expected [UNK] vector (-want +got):\n%s", diff)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		dir := t.TempDir()
		vectors := filepath.Join(dir, "vectors.txt")
		vocabPath := filepath.Join(dir, "vocab.txt")
		if err := model.Save(vectors, vocabPath); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		data, err := os.ReadFile(vectors)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "a 1.000000 2.000000 3.000000 4.000000\n") {
			t.Errorf("unexpected vectors file:\n%s", data)
		}

		loaded, err := Load(vectors, vocabPath, zap.NewNop())
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.Size() != 4 || loaded.Dim() != 4 {
			t.Errorf("loaded shape %dx%d, want 4x4", loaded.Size(), loaded.Dim())
		}
		if diff := cmp.Diff(table.Row(3), loaded.Table.Row(3)); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Resize", func(t *testing.T) {
		m, _ := New(NewVocab(vocab.Tokens()), NewTable(4, 4), nil)
		if err := m.Resize(6); err != nil {
			t.Fatalf("Resize failed: %v", err)
		}
		if m.Size() != 6 || m.Vocab.Len() != 6 {
			t.Errorf("expected 6 rows and vocab entries, got %d and %d", m.Size(), m.Vocab.Len())
		}
		if err := m.Resize(2); !errors.Is(err, ErrInvalidResize) {
			t.Errorf("expected ErrInvalidResize, got %v", err)
		}
	})
}
