// Package app wires configuration into the model, processor, inferencer and
// optional backing services shared by the commands.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/cache"
	"github.com/raaihank/langmodel/internal/config"
	"github.com/raaihank/langmodel/internal/hub"
	"github.com/raaihank/langmodel/internal/inference"
	"github.com/raaihank/langmodel/internal/lm"
	"github.com/raaihank/langmodel/internal/logger"
	"github.com/raaihank/langmodel/internal/processor"
	"github.com/raaihank/langmodel/internal/vector"
)

// Services holds all initialized services
type Services struct {
	Model      lm.LanguageModel
	Processor  processor.Processor
	Inferencer *inference.Inferencer
	Cache      *cache.VectorCache
	Store      *vector.Store
}

// Close releases every service that was started
func (s *Services) Close() {
	if s.Cache != nil {
		s.Cache.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
	if s.Model != nil {
		s.Model.Close()
	}
}

// NewLogger builds the logger described by the logging section
func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

// Initialize loads the model and builds the services enabled in cfg. A
// failure to reach Redis disables the cache; a store failure is fatal since
// callers only enable it when they need it.
func Initialize(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Services, error) {
	services := &Services{}

	opts, err := cfg.LoadOptions()
	if err != nil {
		return nil, err
	}
	resolver := hub.NewResolver(cfg.Hub, log.WithComponent("hub").Logger)
	opts = append(opts,
		lm.WithLogger(log.WithComponent("lm").Logger),
		lm.WithResolver(resolver),
	)

	log.Info("Loading language model", zap.String("model", cfg.Model.NameOrPath))
	model, err := lm.Load(ctx, cfg.Model.NameOrPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", cfg.Model.NameOrPath, err)
	}
	services.Model = model

	proc, err := newProcessor(ctx, cfg, model, resolver, log)
	if err != nil {
		services.Close()
		return nil, err
	}
	services.Processor = proc

	inf, err := inference.New(model, proc, cfg.Inference, log.WithComponent("inference").Logger)
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create inferencer: %w", err)
	}
	services.Inferencer = inf

	if cfg.Cache.Enabled {
		vc, err := cache.NewVectorCache(&cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Warn("Vector cache unavailable, continuing without it", zap.Error(err))
		} else {
			services.Cache = vc
			inf.SetCache(vc)
		}
	}

	if cfg.Store.Enabled {
		store, err := vector.NewStore(&cfg.Store, log.WithComponent("store").Logger)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		services.Store = store

		dims, err := model.OutputDims()
		if err != nil {
			services.Close()
			return nil, err
		}
		if err := store.EnsureSchema(ctx, dims); err != nil {
			services.Close()
			return nil, err
		}
	}

	info := inf.Info()
	log.Info("Language model ready",
		zap.String("model", info.Name),
		zap.String("family", string(info.Family)),
		zap.String("language", info.Language),
		zap.Int("dims", info.OutputDims),
		zap.Int("layers", info.NumLayers),
		zap.String("extraction", info.Extraction.String()))

	return services, nil
}

// newProcessor picks the tokenizer for the model. Word embedding models
// split on whitespace against their own vocabulary.
func newProcessor(ctx context.Context, cfg *config.Config, model lm.LanguageModel, resolver *hub.Resolver, log *logger.Logger) (processor.Processor, error) {
	plog := log.WithComponent("processor").Logger

	if we, ok := model.(*lm.WordEmbedding); ok {
		return processor.NewVocabProcessor(we.Model().Vocab, cfg.Processor, plog)
	}

	path, err := tokenizerPath(ctx, cfg, resolver)
	if err != nil {
		return nil, err
	}
	return processor.NewHFProcessor(path, cfg.Processor.MaxSeqLen, plog)
}

func tokenizerPath(ctx context.Context, cfg *config.Config, resolver *hub.Resolver) (string, error) {
	if cfg.Processor.TokenizerPath != "" {
		return cfg.Processor.TokenizerPath, nil
	}
	local := filepath.Join(cfg.Model.NameOrPath, "tokenizer.json")
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	files, err := resolver.Resolve(ctx, cfg.Model.NameOrPath)
	if err != nil {
		return "", fmt.Errorf("failed to locate tokenizer: %w", err)
	}
	if files.TokenizerPath == "" {
		return "", fmt.Errorf("no tokenizer.json for %s; set processor.tokenizer_path", cfg.Model.NameOrPath)
	}
	return files.TokenizerPath, nil
}
