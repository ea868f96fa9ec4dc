package lm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/wordembed"
)

// Default file names written when a config does not name them.
const (
	DefaultEmbeddingsFilename = "vectors.txt"
	DefaultVocabFilename      = "vocab.txt"
)

// WordEmbedding adapts a static word vector table. Sequence vectors are the
// table rows; the pooled vector is the masked mean over the sequence, batch
// normalized.
type WordEmbedding struct {
	name         string
	language     string
	config       *ModelConfig
	model        *wordembed.Model
	hiddenStates bool
	logger       *zap.Logger
}

// LoadWordEmbedding loads a saved word embedding directory or an entry of the
// archive map.
func LoadWordEmbedding(ctx context.Context, nameOrPath string, opts ...Option) (*WordEmbedding, error) {
	return loadWordEmbedding(ctx, nameOrPath, newLoadOptions(opts))
}

func loadWordEmbedding(ctx context.Context, nameOrPath string, o *loadOptions) (*WordEmbedding, error) {
	w := &WordEmbedding{
		name:   nameOrPath,
		logger: o.logger.With(zap.String("family", string(FamilyWordEmbedding))),
	}
	if o.name != "" {
		w.name = o.name
	}

	dir := nameOrPath
	if !fileExists(filepath.Join(dir, ConfigFileName)) {
		if !o.resolver.HasArchive(nameOrPath) {
			return nil, fmt.Errorf("%w: word embeddings can only be loaded from a saved model directory or the archive map, got %q",
				ErrNotImplemented, nameOrPath)
		}
		resolved, err := o.resolver.ResolveArchive(ctx, nameOrPath)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}

	cfg, err := LoadModelConfig(filepath.Join(dir, ConfigFileName))
	if err != nil {
		return nil, err
	}
	if cfg.EmbeddingsFilename == "" || cfg.VocabFilename == "" {
		return nil, fmt.Errorf("%w: word embedding config needs embeddings_filename and vocab_filename", ErrConfigError)
	}
	model, err := wordembed.Load(
		filepath.Join(dir, cfg.EmbeddingsFilename),
		filepath.Join(dir, cfg.VocabFilename),
		w.logger)
	if err != nil {
		return nil, err
	}
	cfg.VocabSize = model.Size()
	if cfg.HiddenSize == 0 {
		cfg.HiddenSize = model.Dim()
	}
	w.config = cfg
	w.model = model
	w.hiddenStates = cfg.OutputHiddenStates

	w.language = cfg.Language
	if w.language == "" {
		if w.language, err = ResolveLanguage(o.language, w.name, w.logger); err != nil {
			return nil, err
		}
	}

	w.logger.Info("Word embeddings loaded",
		zap.String("name", w.name),
		zap.String("language", w.language),
		zap.Int("vocab_size", model.Size()),
		zap.Int("dimensions", model.Dim()))
	return w, nil
}

func (w *WordEmbedding) Family() Family       { return FamilyWordEmbedding }
func (w *WordEmbedding) Name() string         { return w.name }
func (w *WordEmbedding) Language() string     { return w.language }
func (w *WordEmbedding) Config() *ModelConfig { return w.config }

// NumLayers is zero: the only hidden state is the lookup itself.
func (w *WordEmbedding) NumLayers() int { return 0 }

func (w *WordEmbedding) OutputDims() (int, error) {
	return w.model.Dim(), nil
}

// Model exposes the underlying table and vocabulary.
func (w *WordEmbedding) Model() *wordembed.Model {
	return w.model
}

func (w *WordEmbedding) EnableHiddenStates()       { w.hiddenStates = true }
func (w *WordEmbedding) DisableHiddenStates()      { w.hiddenStates = false }
func (w *WordEmbedding) HiddenStatesEnabled() bool { return w.hiddenStates }

func (w *WordEmbedding) ResizeTokenEmbeddings(n int) (int, error) {
	if n <= 0 {
		return w.model.Size(), nil
	}
	if err := w.model.Resize(n); err != nil {
		return 0, err
	}
	w.config.VocabSize = n
	return n, nil
}

func (w *WordEmbedding) Forward(ctx context.Context, batch *Batch) (*Output, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sequence, pooled, err := w.model.Forward(batch.InputIDs, batch.PaddingMask)
	if err != nil {
		return nil, err
	}
	out := &Output{Sequence: sequence, Pooled: pooled}
	if w.hiddenStates {
		out.HiddenStates = [][][][]float32{sequence}
	}
	return out, nil
}

// Save writes the vectors, the vocab and the sidecar config.
func (w *WordEmbedding) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create save directory: %w", err)
	}
	cfg := w.config.Clone()
	cfg.Name = string(FamilyWordEmbedding)
	cfg.Language = w.language
	if cfg.EmbeddingsFilename == "" {
		cfg.EmbeddingsFilename = DefaultEmbeddingsFilename
	}
	if cfg.VocabFilename == "" {
		cfg.VocabFilename = DefaultVocabFilename
	}
	if err := w.model.Save(filepath.Join(dir, cfg.EmbeddingsFilename), filepath.Join(dir, cfg.VocabFilename)); err != nil {
		return err
	}
	if err := cfg.Save(filepath.Join(dir, ConfigFileName)); err != nil {
		return err
	}
	w.logger.Info("Word embeddings saved", zap.String("dir", dir))
	return nil
}

func (w *WordEmbedding) Close() error {
	return nil
}
