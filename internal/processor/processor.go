package processor

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DefaultMaxSeqLen caps sequences when the config sets no limit.
const DefaultMaxSeqLen = 128

// ErrEmptyInput is returned for a Process call without texts.
var ErrEmptyInput = errors.New("no texts to process")

// Sample is one tokenized input. All samples returned by a Process call are
// padded to the same length.
type Sample struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Tokens      []string `json:"tokens"`
	InputIDs    []int32  `json:"input_ids"`
	SegmentIDs  []int32  `json:"segment_ids"`
	PaddingMask []int32  `json:"padding_mask"`
}

// Processor turns raw texts into model inputs.
type Processor interface {
	Process(texts []string) ([]*Sample, error)
	VocabSize() int
	MaxSeqLen() int
}

// Config contains processor configuration
type Config struct {
	TokenizerPath string `yaml:"tokenizer_path" mapstructure:"tokenizer_path"`
	MaxSeqLen     int    `yaml:"max_seq_len" mapstructure:"max_seq_len"`
	Lowercase     bool   `yaml:"lowercase" mapstructure:"lowercase"`
}

// encoded is a sample before padding.
type encoded struct {
	text     string
	tokens   []string
	ids      []int32
	segments []int32
}

// pad right-pads every sample to the longest one.
func pad(items []encoded, padID int32) []*Sample {
	longest := 0
	for _, it := range items {
		longest = max(longest, len(it.ids))
	}
	samples := make([]*Sample, len(items))
	for i, it := range items {
		s := &Sample{
			ID:          uuid.NewString(),
			Text:        it.text,
			Tokens:      it.tokens,
			InputIDs:    make([]int32, longest),
			SegmentIDs:  make([]int32, longest),
			PaddingMask: make([]int32, longest),
		}
		for t := 0; t < longest; t++ {
			if t < len(it.ids) {
				s.InputIDs[t] = it.ids[t]
				if it.segments != nil {
					s.SegmentIDs[t] = it.segments[t]
				}
				s.PaddingMask[t] = 1
				continue
			}
			s.InputIDs[t] = padID
		}
		samples[i] = s
	}
	return samples
}

func checkTexts(texts []string) error {
	if len(texts) == 0 {
		return ErrEmptyInput
	}
	return nil
}

func maxSeqLenOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxSeqLen
	}
	return n
}

func wrapTokenizeError(text string, err error) error {
	const limit = 40
	if len(text) > limit {
		text = text[:limit] + "..."
	}
	return fmt.Errorf("failed to tokenize %q: %w", text, err)
}
