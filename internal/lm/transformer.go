package lm

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// familySpec holds what differs between the transformer families.
type familySpec struct {
	family       Family
	segmentIDs   bool
	summary      bool
	summaryToken SummaryToken
	summaryTanh  bool
	defaultUnkID int
}

// transformer is the shared adapter behind every transformer family. It owns
// the encoder, the sidecar config and an optional summary layer that produces
// the pooled output.
type transformer struct {
	spec         familySpec
	name         string
	language     string
	config       *ModelConfig
	weightsPath  string
	encoder      Encoder
	summary      *SequenceSummary
	nativeVocab  int
	hiddenStates bool
	logger       *zap.Logger
}

func loadTransformer(ctx context.Context, spec familySpec, nameOrPath string, o *loadOptions) (*transformer, error) {
	t := &transformer{
		spec:   spec,
		name:   nameOrPath,
		logger: o.logger.With(zap.String("family", string(spec.family))),
	}
	if o.name != "" {
		t.name = o.name
	}

	var summaryPath string
	sidecar := filepath.Join(nameOrPath, ConfigFileName)
	if fileExists(sidecar) {
		cfg, err := LoadModelConfig(sidecar)
		if err != nil {
			return nil, err
		}
		t.config = cfg
		t.weightsPath = filepath.Join(nameOrPath, WeightsFileName)
		summaryPath = filepath.Join(nameOrPath, PoolerFileName)
		t.language = cfg.Language
	} else {
		files, err := o.resolver.Resolve(ctx, nameOrPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", nameOrPath, err)
		}
		cfg, err := LoadModelConfig(files.ConfigPath)
		if err != nil {
			return nil, err
		}
		t.config = cfg
		t.weightsPath = files.WeightsPath
	}
	if t.language == "" {
		lang, err := ResolveLanguage(o.language, t.name, t.logger)
		if err != nil {
			return nil, err
		}
		t.language = lang
	}
	if !fileExists(t.weightsPath) {
		return nil, fmt.Errorf("%w: weights not found at %s", ErrModelNotLoaded, t.weightsPath)
	}

	enc, err := o.encoderFactory(t.weightsPath, t.config, t.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s encoder: %w", spec.family, err)
	}
	t.encoder = enc
	t.nativeVocab = enc.VocabSize()
	if t.nativeVocab == 0 {
		t.nativeVocab = t.config.nativeVocabSize()
	}
	t.hiddenStates = t.config.OutputHiddenStates

	if spec.summary || !enc.HasPooledOutput() {
		if err := t.initSummary(summaryPath, o.seed); err != nil {
			enc.Close()
			return nil, err
		}
	}

	t.logger.Info("Language model loaded",
		zap.String("name", t.name),
		zap.String("language", t.language),
		zap.String("weights", t.weightsPath),
		zap.Int("vocab_size", t.config.VocabSize),
		zap.Bool("summary_layer", t.summary != nil))
	return t, nil
}

// initSummary loads a saved summary layer or creates a fresh one. Families
// with a native pooler only get here when the export lacks pooler_output and
// fall back to a first-token tanh projection.
func (t *transformer) initSummary(path string, seed uint64) error {
	dims, err := t.config.OutputDims()
	if err != nil {
		return err
	}
	if path != "" && fileExists(path) {
		s, err := LoadSequenceSummary(path)
		if err != nil {
			return err
		}
		if s.Hidden() != dims {
			return fmt.Errorf("%w: saved summary layer has %d dims, model has %d", ErrConfigError, s.Hidden(), dims)
		}
		t.summary = s
		return nil
	}
	token, tanh := t.spec.summaryToken, t.spec.summaryTanh
	if !t.spec.summary {
		token, tanh = SummaryFirst, true
		t.logger.Warn("Encoder export has no pooled output, using a first-token summary layer")
	}
	rng := rand.New(rand.NewPCG(seed, uint64(dims)))
	t.summary = NewSequenceSummary(dims, token, tanh, t.config.initializerRange(), rng)
	return nil
}

func (t *transformer) Family() Family       { return t.spec.family }
func (t *transformer) Name() string         { return t.name }
func (t *transformer) Language() string     { return t.language }
func (t *transformer) Config() *ModelConfig { return t.config }
func (t *transformer) NumLayers() int       { return t.config.NumLayers() }

func (t *transformer) OutputDims() (int, error) {
	return t.config.OutputDims()
}

func (t *transformer) EnableHiddenStates() {
	t.hiddenStates = true
}

func (t *transformer) DisableHiddenStates() {
	t.hiddenStates = false
}

func (t *transformer) HiddenStatesEnabled() bool {
	return t.hiddenStates
}

// ResizeTokenEmbeddings records the new vocabulary size. The encoder keeps its
// native embedding matrix; ids beyond it are read as the unknown token.
func (t *transformer) ResizeTokenEmbeddings(n int) (int, error) {
	if n <= 0 {
		return t.config.VocabSize, nil
	}
	if t.nativeVocab > 0 && n < t.nativeVocab {
		return 0, fmt.Errorf("%w: cannot shrink vocabulary below the encoder's %d entries", ErrInvalidInput, t.nativeVocab)
	}
	if n != t.config.VocabSize {
		t.logger.Info("Resized token embeddings",
			zap.Int("from", t.config.VocabSize),
			zap.Int("to", n))
	}
	t.config.VocabSize = n
	return n, nil
}

// Forward runs the encoder. Segment ids are dropped for families that do not
// take them and the pooled output comes from the summary layer when set.
func (t *transformer) Forward(ctx context.Context, batch *Batch) (*Output, error) {
	if t.encoder == nil {
		return nil, ErrModelNotLoaded
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in, err := t.remapIDs(batch)
	if err != nil {
		return nil, err
	}
	if !t.spec.segmentIDs {
		in.SegmentIDs = nil
	}

	enc, err := t.encoder.Encode(ctx, in, EncodeOptions{UseSegmentIDs: t.spec.segmentIDs, HiddenStates: t.hiddenStates})
	if err != nil {
		return nil, fmt.Errorf("%s forward failed: %w", t.spec.family, err)
	}
	if len(enc.LastHidden) != batch.Size() {
		return nil, fmt.Errorf("%w: encoder returned %d sequences for a batch of %d", ErrInferenceFailed, len(enc.LastHidden), batch.Size())
	}

	out := &Output{Sequence: enc.LastHidden, Pooled: enc.Pooled}
	if t.summary != nil {
		if out.Pooled, err = t.summary.Apply(enc.LastHidden, batch.PaddingMask); err != nil {
			return nil, err
		}
	}
	if t.hiddenStates {
		if len(enc.HiddenStates) == 0 {
			return nil, fmt.Errorf("%w: hidden states enabled but the encoder returned none", ErrInferenceFailed)
		}
		out.HiddenStates = enc.HiddenStates
	}
	return out, nil
}

// remapIDs maps ids added by a resize to the unknown token.
func (t *transformer) remapIDs(batch *Batch) (*Batch, error) {
	in := *batch
	vocab := t.config.VocabSize
	native := t.nativeVocab
	if native == 0 || vocab <= 0 {
		return &in, nil
	}
	unk := int32(t.unkTokenID())
	remapped := false
	for i, row := range batch.InputIDs {
		for j, id := range row {
			if int(id) >= vocab {
				return nil, fmt.Errorf("%w: token id %d outside vocabulary of %d", ErrInvalidInput, id, vocab)
			}
			if int(id) < native {
				continue
			}
			if !remapped {
				in.InputIDs = make([][]int32, len(batch.InputIDs))
				for k := range batch.InputIDs {
					in.InputIDs[k] = append([]int32(nil), batch.InputIDs[k]...)
				}
				remapped = true
			}
			in.InputIDs[i][j] = unk
		}
	}
	return &in, nil
}

func (t *transformer) unkTokenID() int {
	if t.config.UnkTokenID != nil {
		return *t.config.UnkTokenID
	}
	return t.spec.defaultUnkID
}

// Save writes language_model.bin, the sidecar config and the summary layer.
func (t *transformer) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create save directory: %w", err)
	}
	target := filepath.Join(dir, WeightsFileName)
	if !samePath(t.weightsPath, target) {
		if err := copyFile(t.weightsPath, target); err != nil {
			return fmt.Errorf("failed to save weights: %w", err)
		}
	}

	cfg := t.config.Clone()
	cfg.Name = string(t.spec.family)
	cfg.Language = t.language
	cfg.OutputHiddenStates = t.hiddenStates
	if t.nativeVocab != cfg.VocabSize {
		cfg.EncoderVocabSize = t.nativeVocab
	}
	if err := cfg.Save(filepath.Join(dir, ConfigFileName)); err != nil {
		return err
	}
	if t.summary != nil {
		if err := t.summary.Save(filepath.Join(dir, PoolerFileName)); err != nil {
			return err
		}
	}
	t.logger.Info("Language model saved", zap.String("dir", dir))
	return nil
}

func (t *transformer) Close() error {
	if t.encoder == nil {
		return nil
	}
	err := t.encoder.Close()
	t.encoder = nil
	return err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".save-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dst)
}
