package etl

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/pooling"
)

// Extractor turns texts into predictions. *inference.Inferencer implements it.
type Extractor interface {
	ExtractVectors(ctx context.Context, texts []string) ([]pooling.Prediction, error)
	Extraction() pooling.Extraction
}

// Sink receives extracted predictions in input order.
type Sink interface {
	Write(ctx context.Context, records []*DataRecord, preds []pooling.Prediction) (int64, error)
	Close() error
}

// Pipeline reads a dataset, extracts vectors in batches and writes them to
// its sinks
type Pipeline struct {
	extractor Extractor
	sinks     []Sink
	config    *Config
	logger    *zap.Logger
	stats     *ProcessingStats
	mu        sync.RWMutex
}

// NewPipeline creates a new ETL pipeline
func NewPipeline(extractor Extractor, sinks []Sink, config *Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 256
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = 1000
	}
	if config.TextColumn == "" {
		config.TextColumn = "text"
	}
	if config.IDColumn == "" {
		config.IDColumn = "id"
	}
	return &Pipeline{
		extractor: extractor,
		sinks:     sinks,
		config:    config,
		logger:    logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile processes a dataset file (CSV, Parquet, JSON lines or text)
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*ProcessingResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	format := DetectFileFormat(filePath)
	p.logger.Info("Starting ETL pipeline",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.String("extraction", p.extractor.Extraction().String()))

	return p.Process(ctx, file, format)
}

// Process reads records of the given format from r
func (p *Pipeline) Process(ctx context.Context, r io.Reader, format FileFormat) (*ProcessingResult, error) {
	start := time.Now()
	result := &ProcessingResult{}
	p.resetStats()

	var err error
	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, r, result)
	case FormatParquet:
		err = p.processParquet(ctx, r, result)
	case FormatJSON:
		err = p.processJSON(ctx, r, result)
	case FormatText:
		err = p.processText(ctx, r, result)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	p.logger.Info("ETL pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("written", result.Written),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("extraction_time", result.ExtractionTime),
		zap.Duration("write_time", result.WriteTime))

	return result, nil
}

// processCSV reads a CSV file with a header row naming the text column
func (p *Pipeline) processCSV(ctx context.Context, r io.Reader, result *ProcessingResult) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	textCol, idCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case p.config.TextColumn:
			textCol = i
		case p.config.IDColumn:
			idCol = i
		}
	}
	if textCol < 0 {
		return fmt.Errorf("CSV header %v has no %q column", header, p.config.TextColumn)
	}
	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	return p.processBatches(ctx, func() ([]*DataRecord, bool, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return batch, true, nil
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				result.Skipped++
				continue
			}
			if textCol >= len(record) {
				p.logger.Warn("Invalid CSV record length", zap.Int("length", len(record)))
				result.Skipped++
				continue
			}
			rec := &DataRecord{Text: strings.TrimSpace(record[textCol])}
			if idCol >= 0 && idCol < len(record) {
				rec.ID = strings.TrimSpace(record[idCol])
			}
			if p.validateRecord(rec) {
				batch = append(batch, rec)
			} else {
				result.Skipped++
			}
		}
		return batch, false, nil
	}, result)
}

// processParquet reads rows with a text column and an optional id column
func (p *Pipeline) processParquet(ctx context.Context, r io.Reader, result *ProcessingResult) error {
	ra, ok := r.(io.ReaderAt)
	if !ok {
		return fmt.Errorf("parquet input must support random access")
	}
	reader := parquet.NewReader(ra)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]*DataRecord, bool, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := reader.Read(&record)
			if errors.Is(err, io.EOF) {
				return batch, true, nil
			}
			if err != nil {
				return batch, true, fmt.Errorf("failed to read Parquet record: %w", err)
			}
			if p.validateRecord(&record) {
				batch = append(batch, &record)
			} else {
				result.Skipped++
			}
		}
		return batch, false, nil
	}, result)
}

// processJSON reads one JSON object per line
func (p *Pipeline) processJSON(ctx context.Context, r io.Reader, result *ProcessingResult) error {
	decoder := json.NewDecoder(r)

	return p.processBatches(ctx, func() ([]*DataRecord, bool, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := decoder.Decode(&record)
			if errors.Is(err, io.EOF) {
				return batch, true, nil
			}
			if err != nil {
				return batch, true, fmt.Errorf("failed to read JSON record: %w", err)
			}
			if p.validateRecord(&record) {
				batch = append(batch, &record)
			} else {
				result.Skipped++
			}
		}
		return batch, false, nil
	}, result)
}

// processText reads one text per line
func (p *Pipeline) processText(ctx context.Context, r io.Reader, result *ProcessingResult) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return p.processBatches(ctx, func() ([]*DataRecord, bool, error) {
		var batch []*DataRecord
		for len(batch) < p.config.BatchSize {
			if !scanner.Scan() {
				return batch, true, scanner.Err()
			}
			rec := &DataRecord{Text: strings.TrimSpace(scanner.Text())}
			if p.validateRecord(rec) {
				batch = append(batch, rec)
			} else {
				result.Skipped++
			}
		}
		return batch, false, nil
	}, result)
}

// processBatches reads batches until the reader reports the end of input
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*DataRecord, bool, error), result *ProcessingResult) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, done, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}

		if len(batch) > 0 {
			result.TotalRecords += int64(len(batch))
			p.updateStats(func(s *ProcessingStats) {
				s.RecordsRead += int64(len(batch))
				s.CurrentBatch++
			})

			if err := p.processBatch(ctx, batch, result); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("Batch processing failed", zap.Error(err))
				result.ProcessedFailed += int64(len(batch))
				result.Errors = append(result.Errors, err.Error())
			} else {
				result.ProcessedOK += int64(len(batch))
			}

			if result.TotalRecords/int64(p.config.ProgressReport) != (result.TotalRecords-int64(len(batch)))/int64(p.config.ProgressReport) {
				p.reportProgress(result)
			}
		}

		if done {
			return nil
		}
	}
}

// processBatch extracts vectors for a batch and hands them to every sink
func (p *Pipeline) processBatch(ctx context.Context, batch []*DataRecord, result *ProcessingResult) error {
	texts := make([]string, len(batch))
	for i, record := range batch {
		texts[i] = record.Text
	}

	extractStart := time.Now()
	preds, err := p.extractor.ExtractVectors(ctx, texts)
	if err != nil {
		return fmt.Errorf("vector extraction failed: %w", err)
	}
	result.ExtractionTime += time.Since(extractStart)

	if len(preds) != len(batch) {
		return fmt.Errorf("prediction count mismatch: got %d, expected %d", len(preds), len(batch))
	}

	writeStart := time.Now()
	for _, sink := range p.sinks {
		n, err := sink.Write(ctx, batch, preds)
		if err != nil {
			return fmt.Errorf("sink write failed: %w", err)
		}
		result.Written += n
		p.updateStats(func(s *ProcessingStats) { s.VectorsWritten += n })
	}
	result.WriteTime += time.Since(writeStart)

	p.logger.Debug("Batch processed successfully",
		zap.Int("batch_size", len(batch)),
		zap.Duration("extraction_time", time.Since(extractStart)))

	return nil
}

// validateRecord validates a data record
func (p *Pipeline) validateRecord(record *DataRecord) bool {
	if strings.TrimSpace(record.Text) == "" {
		p.logger.Debug("Invalid record: empty text")
		p.updateStats(func(s *ProcessingStats) { s.RecordsInvalid++ })
		return false
	}
	if !p.config.ValidateData {
		return true
	}

	if p.config.MaxTextLength > 0 && len(record.Text) > p.config.MaxTextLength {
		p.logger.Debug("Invalid record: text too long", zap.Int("length", len(record.Text)))
		p.updateStats(func(s *ProcessingStats) { s.RecordsInvalid++ })
		return false
	}

	return true
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	elapsed := time.Since(p.GetStats().StartTime)
	rate := float64(result.TotalRecords) / elapsed.Seconds()
	p.updateStats(func(s *ProcessingStats) { s.ProcessingRate = rate })

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

func (p *Pipeline) updateStats(fn func(*ProcessingStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.stats)
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
