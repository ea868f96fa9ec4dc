package etl

import (
	"path/filepath"
	"strings"
	"time"
)

// DataRecord represents a single record from the input dataset
type DataRecord struct {
	ID   string `parquet:"id,optional" json:"id,omitempty"`
	Text string `parquet:"text" json:"text"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64         `json:"total_records"`
	ProcessedOK     int64         `json:"processed_ok"`
	ProcessedFailed int64         `json:"processed_failed"`
	Skipped         int64         `json:"skipped"`
	Written         int64         `json:"written"`
	Duration        time.Duration `json:"duration"`
	ExtractionTime  time.Duration `json:"extraction_time"`
	WriteTime       time.Duration `json:"write_time"`
	Errors          []string      `json:"errors,omitempty"`
}

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`           // 256
	TextColumn     string `yaml:"text_column" mapstructure:"text_column"`         // text
	IDColumn       string `yaml:"id_column" mapstructure:"id_column"`             // id
	ValidateData   bool   `yaml:"validate_data" mapstructure:"validate_data"`     // true
	MaxTextLength  int    `yaml:"max_text_length" mapstructure:"max_text_length"` // 10000
	CreateIndex    bool   `yaml:"create_index" mapstructure:"create_index"`       // true
	ProgressReport int    `yaml:"progress_report" mapstructure:"progress_report"` // 1000
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsInvalid int64     `json:"records_invalid"`
	VectorsWritten int64     `json:"vectors_written"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
	FormatText    FileFormat = "text"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	case ".txt":
		return FormatText
	default:
		return FormatCSV
	}
}
