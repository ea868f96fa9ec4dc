package lm

import (
	"encoding/json"
	"fmt"
	"os"
)

// File names of the saved model format.
const (
	ConfigFileName   = "language_model_config.json"
	WeightsFileName  = "language_model.bin"
	PoolerFileName   = "language_model_pooler.bin"
	HFConfigFileName = "config.json"
)

// outputDimNames lists the config keys that may carry the output vector size,
// in lookup order.
var outputDimNames = []string{"dim", "hidden_size", "d_model"}

// ModelConfig is the sidecar configuration of a language model. Family
// specific hyperparameters use the key names of the upstream configs (dim for
// DistilBERT, d_model for XLNet). Keys not modelled here are kept in Extra and
// written back on save.
type ModelConfig struct {
	Name          string   `json:"name,omitempty"`
	Language      string   `json:"language,omitempty"`
	ModelType     string   `json:"model_type,omitempty"`
	Architectures []string `json:"architectures,omitempty"`
	VocabSize     int      `json:"vocab_size,omitempty"`
	// EncoderVocabSize is the embedding size inside the weights when
	// VocabSize was grown after loading.
	EncoderVocabSize int `json:"encoder_vocab_size,omitempty"`

	HiddenSize int `json:"hidden_size,omitempty"`
	Dim        int `json:"dim,omitempty"`
	DModel     int `json:"d_model,omitempty"`

	NumHiddenLayers int `json:"num_hidden_layers,omitempty"`
	NLayers         int `json:"n_layers,omitempty"`
	NLayer          int `json:"n_layer,omitempty"`

	InitializerRange   float64 `json:"initializer_range,omitempty"`
	UnkTokenID         *int    `json:"unk_token_id,omitempty"`
	OutputHiddenStates bool    `json:"output_hidden_states,omitempty"`

	// Word embedding models only.
	EmbeddingsFilename string `json:"embeddings_filename,omitempty"`
	VocabFilename      string `json:"vocab_filename,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// modelConfigFields is ModelConfig without custom marshalling.
type modelConfigFields ModelConfig

var knownConfigKeys = map[string]bool{
	"name": true, "language": true, "model_type": true, "architectures": true,
	"vocab_size": true, "encoder_vocab_size": true, "hidden_size": true, "dim": true, "d_model": true,
	"num_hidden_layers": true, "n_layers": true, "n_layer": true,
	"initializer_range": true, "unk_token_id": true, "output_hidden_states": true,
	"embeddings_filename": true, "vocab_filename": true,
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (c *ModelConfig) UnmarshalJSON(data []byte) error {
	var fields modelConfigFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ModelConfig(fields)
	for key, value := range raw {
		if knownConfigKeys[key] {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[key] = value
	}
	return nil
}

// MarshalJSON encodes the known fields merged with Extra, keys sorted.
func (c ModelConfig) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(modelConfigFields(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range c.Extra {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// LoadModelConfig reads a JSON config file (sidecar or HF config.json).
func LoadModelConfig(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model config: %w", err)
	}
	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrConfigError, path, err)
	}
	return &cfg, nil
}

// Save writes the config as indented JSON.
func (c *ModelConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model config: %w", err)
	}
	return nil
}

// OutputDims returns the size of the output vectors.
func (c *ModelConfig) OutputDims() (int, error) {
	for _, key := range outputDimNames {
		var v int
		switch key {
		case "dim":
			v = c.Dim
		case "hidden_size":
			v = c.HiddenSize
		case "d_model":
			v = c.DModel
		}
		if v > 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: could not infer the output dimensions of the language model", ErrConfigError)
}

// NumLayers returns the number of transformer layers, 0 when unknown.
func (c *ModelConfig) NumLayers() int {
	switch {
	case c.NumHiddenLayers > 0:
		return c.NumHiddenLayers
	case c.NLayers > 0:
		return c.NLayers
	default:
		return c.NLayer
	}
}

// Clone returns a deep copy.
func (c *ModelConfig) Clone() *ModelConfig {
	out := *c
	if c.Architectures != nil {
		out.Architectures = append([]string(nil), c.Architectures...)
	}
	if c.UnkTokenID != nil {
		id := *c.UnkTokenID
		out.UnkTokenID = &id
	}
	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

func (c *ModelConfig) initializerRange() float64 {
	if c.InitializerRange > 0 {
		return c.InitializerRange
	}
	return 0.02
}

// nativeVocabSize is the vocabulary size the weights were exported with.
func (c *ModelConfig) nativeVocabSize() int {
	if c.EncoderVocabSize > 0 {
		return c.EncoderVocabSize
	}
	return c.VocabSize
}
