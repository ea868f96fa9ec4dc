package processor

import (
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/wordembed"
)

// VocabProcessor splits on whitespace and looks words up in a word embedding
// vocabulary. Unknown words map to [UNK]; no special tokens are added.
type VocabProcessor struct {
	vocab     *wordembed.Vocab
	unkID     int32
	padID     int32
	lowercase bool
	maxSeqLen int
	logger    *zap.Logger
}

// NewVocabProcessor creates a whitespace processor over vocab.
func NewVocabProcessor(vocab *wordembed.Vocab, cfg Config, logger *zap.Logger) (*VocabProcessor, error) {
	unk, ok := vocab.Index(wordembed.UnknownToken)
	if !ok {
		return nil, wordembed.ErrMissingUnknownToken
	}
	p := &VocabProcessor{
		vocab:     vocab,
		unkID:     int32(unk),
		lowercase: cfg.Lowercase,
		maxSeqLen: maxSeqLenOrDefault(cfg.MaxSeqLen),
		logger:    logger,
	}
	if pad, ok := vocab.Index("[PAD]"); ok {
		p.padID = int32(pad)
	}
	return p, nil
}

func (p *VocabProcessor) VocabSize() int {
	return p.vocab.Len()
}

func (p *VocabProcessor) MaxSeqLen() int {
	return p.maxSeqLen
}

func (p *VocabProcessor) Process(texts []string) ([]*Sample, error) {
	if err := checkTexts(texts); err != nil {
		return nil, err
	}
	items := make([]encoded, 0, len(texts))
	unknown := 0
	for _, text := range texts {
		if p.lowercase {
			text = strings.ToLower(text)
		}
		words := strings.Fields(text)
		if len(words) > p.maxSeqLen {
			words = words[:p.maxSeqLen]
		}
		if len(words) == 0 {
			words = []string{wordembed.UnknownToken}
		}
		it := encoded{text: text, tokens: words, ids: make([]int32, len(words))}
		for i, w := range words {
			id, ok := p.vocab.Index(w)
			if !ok {
				id = int(p.unkID)
				unknown++
			}
			it.ids[i] = int32(id)
		}
		items = append(items, it)
	}
	if unknown > 0 {
		p.logger.Debug("Words not in vocabulary mapped to [UNK]", zap.Int("count", unknown))
	}
	return pad(items, p.padID), nil
}
