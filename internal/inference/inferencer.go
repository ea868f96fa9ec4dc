package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/cache"
	"github.com/raaihank/langmodel/internal/lm"
	"github.com/raaihank/langmodel/internal/metrics"
	"github.com/raaihank/langmodel/internal/pooling"
	"github.com/raaihank/langmodel/internal/processor"
)

// DefaultBatchSize is used when the config sets no batch size.
const DefaultBatchSize = 32

// ErrNoTexts is returned by ExtractVectors without input.
var ErrNoTexts = errors.New("no texts to extract vectors from")

// Config contains inference configuration
type Config struct {
	BatchSize  int                `yaml:"batch_size" mapstructure:"batch_size"`
	Extraction pooling.Extraction `yaml:"extraction" mapstructure:"extraction"`
}

// VectorCache stores predictions between calls. *cache.VectorCache
// implements it.
type VectorCache interface {
	Get(ctx context.Context, key cache.Key) (*pooling.Prediction, error)
	SetBatch(ctx context.Context, keys []cache.Key, preds []pooling.Prediction) error
}

// Info describes the loaded model and the active extraction.
type Info struct {
	Name       string             `json:"name"`
	Family     lm.Family          `json:"family"`
	Language   string             `json:"language"`
	OutputDims int                `json:"output_dims"`
	NumLayers  int                `json:"num_layers"`
	VocabSize  int                `json:"vocab_size"`
	MaxSeqLen  int                `json:"max_seq_len"`
	BatchSize  int                `json:"batch_size"`
	Extraction pooling.Extraction `json:"extraction"`
}

// Inferencer runs texts through a processor and a language model and pools
// the result into vectors.
type Inferencer struct {
	model     lm.LanguageModel
	processor processor.Processor
	batchSize int
	logger    *zap.Logger

	// mu guards extraction and the model's hidden-state switch, which
	// Forward reads.
	mu         sync.Mutex
	extraction pooling.Extraction
	cache      VectorCache
}

// New creates an inferencer and validates the extraction against the model.
func New(model lm.LanguageModel, proc processor.Processor, cfg Config, logger *zap.Logger) (*Inferencer, error) {
	inf := &Inferencer{
		model:     model,
		processor: proc,
		batchSize: cfg.BatchSize,
		logger:    logger,
	}
	if inf.batchSize <= 0 {
		inf.batchSize = DefaultBatchSize
	}
	if err := inf.SetExtraction(cfg.Extraction); err != nil {
		return nil, err
	}
	return inf, nil
}

// SetCache enables prediction caching. A nil cache disables it.
func (inf *Inferencer) SetCache(c VectorCache) {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	inf.cache = c
}

// SetExtraction validates and swaps the active extraction. Hidden states are
// enabled only when a non-final layer is requested.
func (inf *Inferencer) SetExtraction(e pooling.Extraction) error {
	if err := e.Validate(inf.model.NumLayers()); err != nil {
		return err
	}
	if pooling.IsFinalLayer(e.Layer, inf.model.NumLayers()) {
		e.Layer = pooling.FinalLayer
	}

	inf.mu.Lock()
	defer inf.mu.Unlock()

	if e.Layer == pooling.FinalLayer {
		inf.model.DisableHiddenStates()
	} else {
		inf.model.EnableHiddenStates()
	}
	inf.extraction = e

	inf.logger.Info("Extraction configured",
		zap.String("model", inf.model.Name()),
		zap.String("strategy", string(e.Strategy)),
		zap.Int("layer", e.Layer),
		zap.Bool("ignore_first_token", e.IgnoreFirstToken))
	return nil
}

// Extraction returns the active extraction.
func (inf *Inferencer) Extraction() pooling.Extraction {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	return inf.extraction
}

// Info returns a description of the model and extraction.
func (inf *Inferencer) Info() Info {
	dims, _ := inf.model.OutputDims()
	vocab, _ := inf.model.ResizeTokenEmbeddings(0)
	return Info{
		Name:       inf.model.Name(),
		Family:     inf.model.Family(),
		Language:   inf.model.Language(),
		OutputDims: dims,
		NumLayers:  inf.model.NumLayers(),
		VocabSize:  vocab,
		MaxSeqLen:  inf.processor.MaxSeqLen(),
		BatchSize:  inf.batchSize,
		Extraction: inf.Extraction(),
	}
}

// Model returns the underlying language model.
func (inf *Inferencer) Model() lm.LanguageModel {
	return inf.model
}

// ExtractVectors returns one prediction per text, in input order. Texts are
// processed in batches; cached predictions skip the model.
func (inf *Inferencer) ExtractVectors(ctx context.Context, texts []string) ([]pooling.Prediction, error) {
	if len(texts) == 0 {
		return nil, ErrNoTexts
	}

	inf.mu.Lock()
	defer inf.mu.Unlock()

	e := inf.extraction
	preds := make([]pooling.Prediction, len(texts))
	pending := make([]int, 0, len(texts))

	if inf.cache != nil {
		for i, text := range texts {
			hit, err := inf.cache.Get(ctx, inf.cacheKey(e, text))
			if err != nil {
				inf.logger.Warn("Cache lookup failed", zap.Error(err))
			}
			if hit != nil {
				preds[i] = *hit
				continue
			}
			pending = append(pending, i)
		}
	} else {
		for i := range texts {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += inf.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := pending[start:min(start+inf.batchSize, len(pending))]
		chunk := make([]string, len(idx))
		for j, i := range idx {
			chunk[j] = texts[i]
		}

		batchPreds, err := inf.extractBatch(ctx, chunk, e)
		if err != nil {
			return nil, err
		}
		for j, i := range idx {
			preds[i] = batchPreds[j]
		}

		if inf.cache != nil {
			keys := make([]cache.Key, len(chunk))
			for j, text := range chunk {
				keys[j] = inf.cacheKey(e, text)
			}
			if err := inf.cache.SetBatch(ctx, keys, batchPreds); err != nil {
				inf.logger.Warn("Failed to cache predictions", zap.Error(err))
			}
		}
	}

	metrics.VectorsExtracted.WithLabelValues(string(inf.model.Family()), string(e.Strategy)).Add(float64(len(texts)))
	inf.logger.Debug("Vectors extracted",
		zap.Int("texts", len(texts)),
		zap.Int("computed", len(pending)),
		zap.String("extraction", e.String()))

	return preds, nil
}

func (inf *Inferencer) extractBatch(ctx context.Context, texts []string, e pooling.Extraction) ([]pooling.Prediction, error) {
	samples, err := inf.processor.Process(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to process texts: %w", err)
	}
	batch, contexts := ToBatch(samples)

	family := string(inf.model.Family())
	start := time.Now()
	out, err := inf.model.Forward(ctx, batch)
	metrics.ForwardDuration.WithLabelValues(family).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ForwardPasses.WithLabelValues(family, "error").Inc()
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}
	metrics.ForwardPasses.WithLabelValues(family, "ok").Inc()

	layer, err := out.Layer(e.Layer)
	if err != nil {
		return nil, err
	}
	preds, err := pooling.FormatPredictions(&pooling.Input{
		Sequence:    layer,
		Pooled:      out.Pooled,
		PaddingMask: batch.PaddingMask,
		Contexts:    contexts,
	}, e)
	if err != nil {
		return nil, err
	}

	// Per-token output drops padding so results do not depend on batch mates.
	if e.Strategy == pooling.PerToken {
		for i := range preds {
			preds[i].TokenVecs = preds[i].TokenVecs[:validTokens(batch.PaddingMask[i])]
		}
	}
	return preds, nil
}

func (inf *Inferencer) cacheKey(e pooling.Extraction, text string) cache.Key {
	return cache.Key{
		Model:            inf.model.Name(),
		Strategy:         e.Strategy,
		Layer:            e.Layer,
		IgnoreFirstToken: e.IgnoreFirstToken,
		Text:             text,
	}
}

// ToBatch collates processed samples into a model batch and their token
// contexts.
func ToBatch(samples []*processor.Sample) (*lm.Batch, [][]string) {
	batch := &lm.Batch{
		InputIDs:    make([][]int32, len(samples)),
		SegmentIDs:  make([][]int32, len(samples)),
		PaddingMask: make([][]int32, len(samples)),
	}
	contexts := make([][]string, len(samples))
	for i, s := range samples {
		batch.InputIDs[i] = s.InputIDs
		batch.SegmentIDs[i] = s.SegmentIDs
		batch.PaddingMask[i] = s.PaddingMask
		contexts[i] = s.Tokens
	}
	return batch, contexts
}

func validTokens(mask []int32) int {
	n := 0
	for _, m := range mask {
		if m == 1 {
			n++
		}
	}
	return n
}
