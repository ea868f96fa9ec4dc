package etl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/raaihank/langmodel/internal/pooling"
	"github.com/raaihank/langmodel/internal/vector"
)

// OutputRecord is one line of JSONL output
type OutputRecord struct {
	ID        string      `json:"id,omitempty"`
	Text      string      `json:"text"`
	Context   []string    `json:"context"`
	Vec       []float32   `json:"vec,omitempty"`
	TokenVecs [][]float32 `json:"token_vecs,omitempty"`
}

// JSONLSink writes one JSON object per prediction
type JSONLSink struct {
	w      *bufio.Writer
	closer io.Closer
	enc    *json.Encoder
}

// NewJSONLSink writes to w. If w is an io.Closer it is closed by Close.
func NewJSONLSink(w io.Writer) *JSONLSink {
	bw := bufio.NewWriter(w)
	s := &JSONLSink{w: bw, enc: json.NewEncoder(bw)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// CreateJSONLSink creates path and writes JSONL to it
func CreateJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return NewJSONLSink(f), nil
}

func (s *JSONLSink) Write(_ context.Context, records []*DataRecord, preds []pooling.Prediction) (int64, error) {
	for i, p := range preds {
		out := OutputRecord{
			ID:        records[i].ID,
			Text:      records[i].Text,
			Context:   p.Context,
			Vec:       p.Vec,
			TokenVecs: p.TokenVecs,
		}
		if err := s.enc.Encode(out); err != nil {
			return int64(i), fmt.Errorf("failed to write output record: %w", err)
		}
	}
	return int64(len(preds)), nil
}

func (s *JSONLSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// VectorWriter is the part of *vector.Store used by StoreSink
type VectorWriter interface {
	BatchInsert(ctx context.Context, vectors []*vector.ExtractedVector) (*vector.BatchInsertResult, error)
}

// StoreSink writes pooled predictions to the vector store
type StoreSink struct {
	store      VectorWriter
	model      string
	family     string
	extraction pooling.Extraction
}

// NewStoreSink stores vectors tagged with the model name, family and
// extraction. Per-token extractions are rejected.
func NewStoreSink(store VectorWriter, model, family string, e pooling.Extraction) (*StoreSink, error) {
	if e.Strategy == pooling.PerToken {
		return nil, fmt.Errorf("%w: per_token output can only be written as JSONL", pooling.ErrInvalidStrategy)
	}
	return &StoreSink{store: store, model: model, family: family, extraction: e}, nil
}

func (s *StoreSink) Write(ctx context.Context, records []*DataRecord, preds []pooling.Prediction) (int64, error) {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vectors, err := vector.FromPredictions(s.model, s.family, s.extraction, texts, preds)
	if err != nil {
		return 0, err
	}
	res, err := s.store.BatchInsert(ctx, vectors)
	if err != nil {
		return 0, err
	}
	return res.Inserted, nil
}

func (s *StoreSink) Close() error {
	return nil
}
