package lm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultLanguage is assumed when a model name names no known language.
const DefaultLanguage = "english"

var knownLanguages = []string{
	"german",
	"english",
	"chinese",
	"indian",
	"french",
	"polish",
	"spanish",
	"multilingual",
}

// ResolveLanguage returns language when set, otherwise infers it from name.
func ResolveLanguage(language, name string, logger *zap.Logger) (string, error) {
	if language != "" {
		return language, nil
	}
	return InferLanguage(name, logger)
}

// InferLanguage detects the language from a model name. No match falls back to
// english with a warning; several matches are an error.
func InferLanguage(name string, logger *zap.Logger) (string, error) {
	lower := strings.ToLower(name)
	var matches []string
	for _, lang := range knownLanguages {
		if strings.Contains(lower, lang) {
			matches = append(matches, lang)
		}
	}

	switch len(matches) {
	case 0:
		logger.Warn("Could not detect language from model name, assuming english; supply the language explicitly if wrong",
			zap.String("model", name))
		return DefaultLanguage, nil
	case 1:
		logger.Info("Detected language from model name",
			zap.String("model", name),
			zap.String("language", matches[0]))
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: found multiple matches %v in %q, supply the language explicitly",
			ErrLanguageAmbiguous, matches, name)
	}
}
