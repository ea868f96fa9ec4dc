package lm

import (
	"context"

	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/hub"
)

// Resolver finds the local files of a model name or path.
type Resolver interface {
	Resolve(ctx context.Context, nameOrPath string) (*hub.Files, error)
	HasArchive(name string) bool
	ResolveArchive(ctx context.Context, name string) (string, error)
}

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	family         Family
	language       string
	name           string
	addedTokens    int
	seed           uint64
	logger         *zap.Logger
	resolver       Resolver
	encoderFactory EncoderFactory
}

func newLoadOptions(opts []Option) *loadOptions {
	o := &loadOptions{seed: 42}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.resolver == nil {
		o.resolver = hub.NewResolver(hub.Config{}, o.logger)
	}
	if o.encoderFactory == nil {
		o.encoderFactory = DefaultEncoderFactory
	}
	return o
}

// WithFamily forces the family of a model that has no saved config.
func WithFamily(family Family) Option {
	return func(o *loadOptions) { o.family = family }
}

// WithLanguage sets the language instead of inferring it from the name.
func WithLanguage(language string) Option {
	return func(o *loadOptions) { o.language = language }
}

// WithName overrides the model name reported by Name.
func WithName(name string) Option {
	return func(o *loadOptions) { o.name = name }
}

// WithAddedTokens grows the token embeddings by n after loading.
func WithAddedTokens(n int) Option {
	return func(o *loadOptions) { o.addedTokens = n }
}

// WithSeed seeds the initialization of summary layers.
func WithSeed(seed uint64) Option {
	return func(o *loadOptions) { o.seed = seed }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *loadOptions) { o.logger = logger }
}

// WithResolver replaces the hub resolver.
func WithResolver(resolver Resolver) Option {
	return func(o *loadOptions) { o.resolver = resolver }
}

// WithEncoderFactory replaces the ONNX encoder factory.
func WithEncoderFactory(factory EncoderFactory) Option {
	return func(o *loadOptions) { o.encoderFactory = factory }
}
