package processor

import (
	"fmt"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"go.uber.org/zap"
)

// HFProcessor tokenizes with a HuggingFace tokenizer.json.
type HFProcessor struct {
	tok       *tk.Tokenizer
	padID     int32
	maxSeqLen int
	logger    *zap.Logger
}

// NewHFProcessor loads a tokenizer from a local tokenizer.json file.
func NewHFProcessor(path string, maxSeqLen int, logger *zap.Logger) (*HFProcessor, error) {
	tok, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	p := &HFProcessor{
		tok:       tok,
		padID:     padTokenID(tok),
		maxSeqLen: maxSeqLenOrDefault(maxSeqLen),
		logger:    logger,
	}
	logger.Info("Tokenizer loaded",
		zap.String("path", path),
		zap.Int("vocab_size", p.VocabSize()),
		zap.Int("max_seq_len", p.maxSeqLen))
	return p, nil
}

// padTokenID looks up the padding token of BERT and RoBERTa style vocabularies.
func padTokenID(t *tk.Tokenizer) int32 {
	for _, token := range []string{"[PAD]", "<pad>"} {
		if id, ok := t.TokenToId(token); ok {
			return int32(id)
		}
	}
	return 0
}

func (p *HFProcessor) VocabSize() int {
	return int(p.tok.GetVocabSize(true))
}

func (p *HFProcessor) MaxSeqLen() int {
	return p.maxSeqLen
}

// Process encodes each text with special tokens, truncates to MaxSeqLen
// keeping a trailing special token, and pads the batch to its longest item.
// Sample tokens exclude special tokens.
func (p *HFProcessor) Process(texts []string) ([]*Sample, error) {
	if err := checkTexts(texts); err != nil {
		return nil, err
	}
	items := make([]encoded, 0, len(texts))
	for _, text := range texts {
		enc, err := p.tok.EncodeSingle(text, true)
		if err != nil {
			return nil, wrapTokenizeError(text, err)
		}
		keep := keepIndexes(len(enc.Ids), enc.SpecialTokenMask, p.maxSeqLen)
		it := encoded{
			text:     text,
			ids:      make([]int32, 0, len(keep)),
			segments: make([]int32, 0, len(keep)),
		}
		for _, i := range keep {
			it.ids = append(it.ids, int32(enc.Ids[i]))
			if i < len(enc.TypeIds) {
				it.segments = append(it.segments, int32(enc.TypeIds[i]))
			} else {
				it.segments = append(it.segments, 0)
			}
			if i < len(enc.SpecialTokenMask) && enc.SpecialTokenMask[i] == 1 {
				continue
			}
			if i < len(enc.Tokens) {
				it.tokens = append(it.tokens, enc.Tokens[i])
			}
		}
		if len(keep) < len(enc.Ids) {
			p.logger.Debug("Truncated input", zap.Int("tokens", len(enc.Ids)), zap.Int("max_seq_len", p.maxSeqLen))
		}
		items = append(items, it)
	}
	return pad(items, p.padID), nil
}

// keepIndexes returns the positions that survive truncation to limit. A
// trailing special token (such as [SEP]) is kept in the last slot.
func keepIndexes(n int, special []int, limit int) []int {
	if n <= limit {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, 0, limit)
	lastSpecial := len(special) == n && special[n-1] == 1
	head := limit
	if lastSpecial {
		head = limit - 1
	}
	for i := 0; i < head; i++ {
		idx = append(idx, i)
	}
	if lastSpecial {
		idx = append(idx, n-1)
	}
	return idx
}
