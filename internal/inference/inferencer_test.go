package inference

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/cache"
	"github.com/raaihank/langmodel/internal/lm"
	"github.com/raaihank/langmodel/internal/pooling"
	"github.com/raaihank/langmodel/internal/processor"
)

// fakeModel returns token vectors {id, position} scaled by layer+1 for
// hidden states; the final layer is the last hidden state.
type fakeModel struct {
	layers   int
	hidden   bool
	forwards int
	batches  []int
}

func (m *fakeModel) Family() lm.Family { return lm.FamilyBert }
func (m *fakeModel) Name() string { return "fake-bert" }
func (m *fakeModel) Language() string { return "english" }
func (m *fakeModel) Config() *lm.ModelConfig { return &lm.ModelConfig{HiddenSize: 2} }
func (m *fakeModel) OutputDims() (int, error) { return 2, nil }
func (m *fakeModel) NumLayers() int { return m.layers }
func (m *fakeModel) EnableHiddenStates() { m.hidden = true }
func (m *fakeModel) DisableHiddenStates() { m.hidden = false }
func (m *fakeModel) HiddenStatesEnabled() bool { return m.hidden }
func (m *fakeModel) Save(string) error { return nil }
func (m *fakeModel) Close() error { return nil }
func (m *fakeModel) ResizeTokenEmbeddings(int) (int, error) { return 100, nil }

func (m *fakeModel) Forward(_ context.Context, b *lm.Batch) (*lm.Output, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	m.forwards++
	m.batches = append(m.batches, b.Size())

	layer := func(scale float32) [][][]float32 {
		seq := make([][][]float32, b.Size())
		for i, row := range b.InputIDs {
			seq[i] = make([][]float32, len(row))
			for t, id := range row {
				seq[i][t] = []float32{float32(id) * scale, float32(t) * scale}
			}
		}
		return seq
	}

	out := &lm.Output{Sequence: layer(float32(m.layers + 1))}
	out.Pooled = make([][]float32, b.Size())
	for i := range out.Pooled {
		out.Pooled[i] = []float32{-1, -1}
	}
	if m.hidden {
		for l := 0; l <= m.layers; l++ {
			out.HiddenStates = append(out.HiddenStates, layer(float32(l+1)))
		}
	}
	return out, nil
}

// wordLenProcessor maps each word to its length.
type wordLenProcessor struct{}

func (wordLenProcessor) VocabSize() int { return 100 }
func (wordLenProcessor) MaxSeqLen() int { return 16 }

func (wordLenProcessor) Process(texts []string) ([]*processor.Sample, error) {
	longest := 0
	words := make([][]string, len(texts))
	for i, text := range texts {
		words[i] = strings.Fields(text)
		longest = max(longest, len(words[i]))
	}
	samples := make([]*processor.Sample, len(texts))
	for i, ws := range words {
		s := &processor.Sample{
			Text:        texts[i],
			Tokens:      ws,
			InputIDs:    make([]int32, longest),
			SegmentIDs:  make([]int32, longest),
			PaddingMask: make([]int32, longest),
		}
		for t, w := range ws {
			s.InputIDs[t] = int32(len(w))
			s.PaddingMask[t] = 1
		}
		samples[i] = s
	}
	return samples, nil
}

type mapCache struct {
	entries map[cache.Key]pooling.Prediction
	gets    int
}

func (c *mapCache) Get(_ context.Context, key cache.Key) (*pooling.Prediction, error) {
	c.gets++
	if p, ok := c.entries[key]; ok {
		return &p, nil
	}
	return nil, nil
}

func (c *mapCache) SetBatch(_ context.Context, keys []cache.Key, preds []pooling.Prediction) error {
	for i, k := range keys {
		c.entries[k] = preds[i]
	}
	return nil
}

func newInferencer(t *testing.T, m *fakeModel, e pooling.Extraction, batchSize int) *Inferencer {
	t.Helper()
	inf, err := New(m, wordLenProcessor{}, Config{BatchSize: batchSize, Extraction: e}, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return inf
}

func TestExtractVectors(t *testing.T) {
	texts := []string{"ab abcd", "abc"}

	t.Run("ReduceMeanFinalLayer", func(t *testing.T) {
		m := &fakeModel{layers: 2}
		inf := newInferencer(t, m, pooling.Extraction{Strategy: pooling.ReduceMean, Layer: -1}, 8)
		preds, err := inf.ExtractVectors(context.Background(), texts)
		if err != nil {
			t.Fatalf("ExtractVectors failed: %v", err)
		}
		want := []pooling.Prediction{
			{Context: []string{"ab", "abcd"}, Vec: []float32{9, 1.5}},
			{Context: []string{"abc"}, Vec: []float32{9, 0}},
		}
		if diff := cmp.Diff(want, preds); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
		if m.hidden {
			t.Error("hidden states should stay disabled for the final layer")
		}
	})

	t.Run("NonFinalLayerEnablesHiddenStates", func(t *testing.T) {
		m := &fakeModel{layers: 2}
		inf := newInferencer(t, m, pooling.Extraction{Strategy: pooling.CLSToken, Layer: 0}, 8)
		if !m.hidden {
			t.Fatal("hidden states should be enabled for layer 0")
		}
		preds, err := inf.ExtractVectors(context.Background(), texts)
		if err != nil {
			t.Fatalf("ExtractVectors failed: %v", err)
		}
		if diff := cmp.Diff([]float32{2, 0}, preds[0].Vec); diff != "" {
			t.Errorf("embedding layer mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("LastIndexIsFinalLayer", func(t *testing.T) {
		m := &fakeModel{layers: 2}
		inf := newInferencer(t, m, pooling.Extraction{Strategy: pooling.Pooled, Layer: 2}, 8)
		if got := inf.Extraction().Layer; got != pooling.FinalLayer {
			t.Errorf("expected layer normalized to -1, got %d", got)
		}
		preds, err := inf.ExtractVectors(context.Background(), texts)
		if err != nil {
			t.Fatalf("ExtractVectors failed: %v", err)
		}
		if diff := cmp.Diff([]float32{-1, -1}, preds[1].Vec); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("PerTokenDropsPadding", func(t *testing.T) {
		m := &fakeModel{layers: 1}
		inf := newInferencer(t, m, pooling.Extraction{Strategy: pooling.PerToken, Layer: -1}, 8)
		preds, err := inf.ExtractVectors(context.Background(), texts)
		if err != nil {
			t.Fatalf("ExtractVectors failed: %v", err)
		}
		if len(preds[0].TokenVecs) != 2 || len(preds[1].TokenVecs) != 1 {
			t.Errorf("unexpected token counts %d and %d", len(preds[0].TokenVecs), len(preds[1].TokenVecs))
		}
	})

	t.Run("Batches", func(t *testing.T) {
		m := &fakeModel{layers: 1}
		inf := newInferencer(t, m, pooling.Extraction{Strategy: pooling.CLSToken, Layer: -1}, 2)
		preds, err := inf.ExtractVectors(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
		if err != nil {
			t.Fatalf("ExtractVectors failed: %v", err)
		}
		if diff := cmp.Diff([]int{2, 2, 1}, m.batches); diff != "" {
			t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
		}
		for i, p := range preds {
			if want := float32(i+1) * 2; p.Vec[0] != want {
				t.Errorf("prediction %d out of order: got %v", i, p.Vec)
			}
		}
	})

	t.Run("Cache", func(t *testing.T) {
		m := &fakeModel{layers: 1}
		inf := newInferencer(t, m, pooling.Extraction{Strategy: pooling.CLSToken, Layer: -1}, 8)
		c := &mapCache{entries: map[cache.Key]pooling.Prediction{}}
		inf.SetCache(c)

		first, err := inf.ExtractVectors(context.Background(), texts)
		if err != nil {
			t.Fatalf("ExtractVectors failed: %v", err)
		}
		second, err := inf.ExtractVectors(context.Background(), texts)
		if err != nil {
			t.Fatalf("ExtractVectors failed: %v", err)
		}
		if m.forwards != 1 {
			t.Errorf("expected one forward pass, got %d", m.forwards)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("cached predictions differ (-first +second):\n%s", diff)
		}

		// Another extraction is a different cache entry.
		if err := inf.SetExtraction(pooling.Extraction{Strategy: pooling.ReduceMax, Layer: -1}); err != nil {
			t.Fatalf("SetExtraction failed: %v", err)
		}
		if _, err := inf.ExtractVectors(context.Background(), texts); err != nil {
			t.Fatalf("ExtractVectors failed: %v", err)
		}
		if m.forwards != 2 {
			t.Errorf("expected a second forward pass, got %d", m.forwards)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		m := &fakeModel{layers: 1}
		inf := newInferencer(t, m, pooling.Extraction{Strategy: pooling.CLSToken, Layer: -1}, 8)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := inf.ExtractVectors(ctx, texts); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("NoTexts", func(t *testing.T) {
		inf := newInferencer(t, &fakeModel{layers: 1}, pooling.Extraction{Strategy: pooling.CLSToken, Layer: -1}, 8)
		if _, err := inf.ExtractVectors(context.Background(), nil); !errors.Is(err, ErrNoTexts) {
			t.Errorf("expected ErrNoTexts, got %v", err)
		}
	})
}

func TestNewValidatesExtraction(t *testing.T) {
	tests := []struct {
		name    string
		e       pooling.Extraction
		wantErr error
	}{
		{"PooledNonFinal", pooling.Extraction{Strategy: pooling.Pooled, Layer: -2}, pooling.ErrInvalidLayer},
		{"LayerOutOfRange", pooling.Extraction{Strategy: pooling.ReduceMean, Layer: 5}, pooling.ErrInvalidLayer},
		{"UnknownStrategy", pooling.Extraction{Strategy: "sum", Layer: -1}, pooling.ErrInvalidStrategy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&fakeModel{layers: 2}, wordLenProcessor{}, Config{Extraction: tt.e}, zap.NewNop())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	inf := newInferencer(t, &fakeModel{layers: 3}, pooling.Extraction{Strategy: pooling.ReduceMean, Layer: -1}, 0)
	want := Info{
		Name:       "fake-bert",
		Family:     lm.FamilyBert,
		Language:   "english",
		OutputDims: 2,
		NumLayers:  3,
		VocabSize:  100,
		MaxSeqLen:  16,
		BatchSize:  DefaultBatchSize,
		Extraction: pooling.Extraction{Strategy: pooling.ReduceMean, Layer: -1},
	}
	if diff := cmp.Diff(want, inf.Info()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
