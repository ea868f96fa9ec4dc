package lm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

// fakeEncoder returns deterministic vectors: token s of sequence b gets
// id + 0.01*h in dimension h, scaled by (layer+1) for hidden states.
type fakeEncoder struct {
	hidden    int
	vocab     int
	layers    int
	pooled    bool
	lastBatch *Batch
	lastOpts  EncodeOptions
	closed    bool
}

func (f *fakeEncoder) Encode(ctx context.Context, batch *Batch, opts EncodeOptions) (*EncoderOutput, error) {
	f.lastBatch = batch
	f.lastOpts = opts
	layer := func(scale float32) [][][]float32 {
		out := make([][][]float32, batch.Size())
		for b, row := range batch.InputIDs {
			out[b] = make([][]float32, len(row))
			for s, id := range row {
				vec := make([]float32, f.hidden)
				for h := range vec {
					vec[h] = (float32(id) + 0.01*float32(h)) * scale
				}
				out[b][s] = vec
			}
		}
		return out
	}
	res := &EncoderOutput{LastHidden: layer(float32(f.layers + 1))}
	if f.pooled {
		res.Pooled = make([][]float32, batch.Size())
		for b := range res.Pooled {
			res.Pooled[b] = make([]float32, f.hidden)
			res.Pooled[b][0] = 42
		}
	}
	if opts.HiddenStates {
		for l := 0; l <= f.layers; l++ {
			res.HiddenStates = append(res.HiddenStates, layer(float32(l+1)))
		}
	}
	return res, nil
}

func (f *fakeEncoder) VocabSize() int        { return f.vocab }
func (f *fakeEncoder) HasPooledOutput() bool { return f.pooled }
func (f *fakeEncoder) Close() error          { f.closed = true; return nil }

func fakeFactory(enc *fakeEncoder) EncoderFactory {
	return func(weightsPath string, cfg *ModelConfig, logger *zap.Logger) (Encoder, error) {
		if enc.vocab == 0 {
			enc.vocab = cfg.nativeVocabSize()
		}
		return enc, nil
	}
}

// writeExport writes an HF style directory with config.json and model.onnx.
func writeExport(t *testing.T, dir string, config map[string]any) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(config)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, HFConfigFileName), data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("onnx-graph"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func simpleBatch(ids ...[]int32) *Batch {
	b := &Batch{}
	for _, row := range ids {
		mask := make([]int32, len(row))
		seg := make([]int32, len(row))
		for i := range mask {
			mask[i] = 1
		}
		b.InputIDs = append(b.InputIDs, row)
		b.PaddingMask = append(b.PaddingMask, mask)
		b.SegmentIDs = append(b.SegmentIDs, seg)
	}
	return b
}
