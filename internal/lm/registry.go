package lm

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

type loaderFunc func(ctx context.Context, nameOrPath string, o *loadOptions) (LanguageModel, error)

// loaders is the static family table used by Load.
var loaders = map[Family]loaderFunc{
	FamilyBert:          transformerLoader(bertSpec, func(t *transformer) LanguageModel { return &Bert{t} }),
	FamilyRoberta:       transformerLoader(robertaSpec, func(t *transformer) LanguageModel { return &Roberta{t} }),
	FamilyXLMRoberta:    transformerLoader(xlmRobertaSpec, func(t *transformer) LanguageModel { return &XLMRoberta{t} }),
	FamilyAlbert:        transformerLoader(albertSpec, func(t *transformer) LanguageModel { return &Albert{t} }),
	FamilyDistilBert:    transformerLoader(distilBertSpec, func(t *transformer) LanguageModel { return &DistilBert{t} }),
	FamilyXLNet:         transformerLoader(xlnetSpec, func(t *transformer) LanguageModel { return &XLNet{t} }),
	FamilyWordEmbedding: loadWordEmbeddingModel,
}

func transformerLoader(spec familySpec, wrap func(*transformer) LanguageModel) loaderFunc {
	return func(ctx context.Context, nameOrPath string, o *loadOptions) (LanguageModel, error) {
		t, err := loadTransformer(ctx, spec, nameOrPath, o)
		if err != nil {
			return nil, err
		}
		return wrap(t), nil
	}
}

func loadWordEmbeddingModel(ctx context.Context, nameOrPath string, o *loadOptions) (LanguageModel, error) {
	return loadWordEmbedding(ctx, nameOrPath, o)
}

// Load resolves the family of nameOrPath and loads it. The family comes from,
// in order: a saved language_model_config.json, WithFamily, the model_type of
// a local HF config.json, and finally the name itself.
func Load(ctx context.Context, nameOrPath string, opts ...Option) (LanguageModel, error) {
	o := newLoadOptions(opts)

	family, saved, err := resolveFamily(nameOrPath, o)
	if err != nil {
		return nil, err
	}
	loader, ok := loaders[family]
	if !ok {
		return nil, unknownFamilyError(string(family))
	}
	o.logger.Debug("Loading language model",
		zap.String("model", nameOrPath),
		zap.String("family", string(family)),
		zap.Bool("saved", saved))

	model, err := loader(ctx, nameOrPath, o)
	if err != nil {
		return nil, err
	}

	added := o.addedTokens
	if family == FamilyXLMRoberta && !saved {
		added = xlmrAddedTokens
	}
	if added != 0 {
		current, err := model.ResizeTokenEmbeddings(0)
		if err != nil {
			model.Close()
			return nil, err
		}
		if _, err := model.ResizeTokenEmbeddings(current + added); err != nil {
			model.Close()
			return nil, fmt.Errorf("failed to add %d tokens: %w", added, err)
		}
	}
	return model, nil
}

// resolveFamily returns the family and whether nameOrPath is a saved model.
func resolveFamily(nameOrPath string, o *loadOptions) (Family, bool, error) {
	sidecar := filepath.Join(nameOrPath, ConfigFileName)
	if fileExists(sidecar) {
		cfg, err := LoadModelConfig(sidecar)
		if err != nil {
			return "", false, err
		}
		family, err := ParseFamily(cfg.Name)
		if err != nil {
			return "", false, err
		}
		return family, true, nil
	}
	if o.family != "" {
		if !o.family.Valid() {
			return "", false, unknownFamilyError(string(o.family))
		}
		return o.family, false, nil
	}
	hfConfig := filepath.Join(nameOrPath, HFConfigFileName)
	if fileExists(hfConfig) {
		cfg, err := LoadModelConfig(hfConfig)
		if err != nil {
			return "", false, err
		}
		if family, ok := FamilyFromModelType(cfg.ModelType); ok {
			return family, false, nil
		}
	}
	family, err := DetectFamily(nameOrPath)
	if err != nil {
		return "", false, err
	}
	return family, false, nil
}
