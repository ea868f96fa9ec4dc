package lm

import (
	"fmt"
	"strings"
)

// Family identifies a supported pretrained architecture. The set is closed:
// every value has a loader in the registry table.
type Family string

const (
	FamilyBert          Family = "Bert"
	FamilyRoberta       Family = "Roberta"
	FamilyXLMRoberta    Family = "XLMRoberta"
	FamilyAlbert        Family = "Albert"
	FamilyDistilBert    Family = "DistilBert"
	FamilyXLNet         Family = "XLNet"
	FamilyWordEmbedding Family = "WordEmbedding_LM"
)

// familyRule maps name substrings to a family. A rule matches when every
// substring in all is present, or when any substring in any is present.
type familyRule struct {
	family Family
	all    []string
	any    []string
}

// detectionOrder is the first-match precedence used for names. XLM-RoBERTa
// must come before RoBERTa and DistilBERT before BERT since their names
// contain the shorter ones.
var detectionOrder = []familyRule{
	{family: FamilyXLMRoberta, all: []string{"xlm", "roberta"}},
	{family: FamilyRoberta, all: []string{"roberta"}},
	{family: FamilyAlbert, all: []string{"albert"}},
	{family: FamilyDistilBert, all: []string{"distilbert"}},
	{family: FamilyBert, all: []string{"bert"}},
	{family: FamilyXLNet, all: []string{"xlnet"}},
	{family: FamilyWordEmbedding, any: []string{"word2vec", "glove"}},
}

// modelTypes maps the HF config.json "model_type" value to a family.
var modelTypes = map[string]Family{
	"bert":        FamilyBert,
	"roberta":     FamilyRoberta,
	"xlm-roberta": FamilyXLMRoberta,
	"albert":      FamilyAlbert,
	"distilbert":  FamilyDistilBert,
	"xlnet":       FamilyXLNet,
}

// AllFamilies returns every supported family in detection order.
func AllFamilies() []Family {
	families := make([]Family, 0, len(detectionOrder))
	for _, rule := range detectionOrder {
		families = append(families, rule.family)
	}
	return families
}

// DetectFamily infers the family from a model name or path using substring
// matching with a fixed precedence.
func DetectFamily(name string) (Family, error) {
	lower := strings.ToLower(name)
	for _, rule := range detectionOrder {
		if rule.matches(lower) {
			return rule.family, nil
		}
	}
	return "", unknownFamilyError(name)
}

// ParseFamily parses a family wire name, case-insensitively.
func ParseFamily(name string) (Family, error) {
	for _, f := range AllFamilies() {
		if strings.EqualFold(string(f), name) {
			return f, nil
		}
	}
	if f, ok := modelTypes[strings.ToLower(name)]; ok {
		return f, nil
	}
	return "", unknownFamilyError(name)
}

// FamilyFromModelType maps an HF model_type value to a family.
func FamilyFromModelType(modelType string) (Family, bool) {
	f, ok := modelTypes[strings.ToLower(modelType)]
	return f, ok
}

// Valid reports whether f is one of the supported families.
func (f Family) Valid() bool {
	for _, rule := range detectionOrder {
		if rule.family == f {
			return true
		}
	}
	return false
}

func (f Family) String() string {
	return string(f)
}

// Description returns a short description of the family.
func (f Family) Description() string {
	switch f {
	case FamilyBert:
		return "BERT encoder with native pooled output"
	case FamilyRoberta:
		return "RoBERTa encoder with native pooled output"
	case FamilyXLMRoberta:
		return "Multilingual XLM-RoBERTa encoder with native pooled output"
	case FamilyAlbert:
		return "ALBERT encoder with factorized embeddings and native pooled output"
	case FamilyDistilBert:
		return "DistilBERT encoder; pooled output from a first-token summary layer, no segment ids"
	case FamilyXLNet:
		return "XLNet encoder; pooled output from a last-token summary layer with tanh"
	case FamilyWordEmbedding:
		return "Static word vectors (word2vec/GloVe) with mean pooling and batch normalization"
	default:
		return "Unknown family"
	}
}

func (r familyRule) matches(lower string) bool {
	if len(r.any) > 0 {
		for _, s := range r.any {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
	for _, s := range r.all {
		if !strings.Contains(lower, s) {
			return false
		}
	}
	return true
}

func unknownFamilyError(name string) error {
	names := make([]string, 0, len(detectionOrder))
	for _, f := range AllFamilies() {
		names = append(names, string(f))
	}
	return fmt.Errorf("%w: model not found for %q; supply the local path of a saved model "+
		"or a name containing one of bert/roberta/xlm-roberta/albert/distilbert/xlnet/word2vec/glove "+
		"(supported families: %s)", ErrUnknownFamily, name, strings.Join(names, ", "))
}
