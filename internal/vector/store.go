package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/pooling"
)

// Store persists extracted vectors in PostgreSQL + pgvector
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Config contains database configuration
type Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// NewStore connects to the database and checks for pgvector
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Vector store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// initialize checks the connection and the pgvector extension
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var extensionExists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')"
	if err := s.db.GetContext(ctx, &extensionExists, query); err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}

	if !extensionExists {
		return fmt.Errorf("pgvector extension is not installed")
	}

	s.logger.Info("Database initialized with pgvector extension")
	return nil
}

// EnsureSchema creates the extracted_vectors table for vectors of dims
// dimensions. An existing table is left untouched.
func (s *Store) EnsureSchema(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("invalid vector dimensions: %d", dims)
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS extracted_vectors (
			id BIGSERIAL PRIMARY KEY,
			model TEXT NOT NULL,
			family TEXT NOT NULL,
			strategy TEXT NOT NULL,
			layer INTEGER NOT NULL,
			text TEXT NOT NULL,
			text_hash TEXT NOT NULL,
			tokens TEXT[] NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (model, strategy, layer, text_hash)
		)`, dims)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create extracted_vectors table: %w", err)
	}
	s.logger.Debug("Schema ensured", zap.Int("dims", dims))
	return nil
}

// BatchInsert adds vectors, skipping ones already stored for the same
// model, strategy, layer and text.
func (s *Store) BatchInsert(ctx context.Context, vectors []*ExtractedVector) (*BatchInsertResult, error) {
	if len(vectors) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	const columns = 8
	valueStrings := make([]string, 0, len(vectors))
	valueArgs := make([]interface{}, 0, len(vectors)*columns)

	for i, v := range vectors {
		if v.TextHash == "" {
			v.TextHash = TextHash(v.Text)
		}
		n := i * columns
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8))
		valueArgs = append(valueArgs,
			v.Model,
			v.Family,
			v.Strategy,
			v.Layer,
			v.Text,
			v.TextHash,
			pq.Array([]string(v.Tokens)),
			formatEmbedding(v.Embedding),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO extracted_vectors (model, family, strategy, layer, text, text_hash, tokens, embedding)
		VALUES %s
		ON CONFLICT (model, strategy, layer, text_hash) DO NOTHING`,
		strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		result.Failed = int64(len(vectors))
		result.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(vectors))
	}

	result.Inserted = inserted
	result.Duplicates = int64(len(vectors)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// FindSimilar finds stored vectors closest to embedding by cosine distance
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, options *SearchOptions) ([]*SimilarityResult, error) {
	if options == nil {
		options = &SearchOptions{
			Limit:         5,
			MinSimilarity: 0.7,
		}
	}

	whereClause := "WHERE (1 - (embedding <=> $1)) >= $2"
	args := []interface{}{formatEmbedding(embedding), options.MinSimilarity}
	argIndex := 3

	if options.Model != "" {
		whereClause += fmt.Sprintf(" AND model = $%d", argIndex)
		args = append(args, options.Model)
		argIndex++
	}

	if options.Strategy != "" {
		whereClause += fmt.Sprintf(" AND strategy = $%d", argIndex)
		args = append(args, options.Strategy)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT
			id, model, family, strategy, layer, text, text_hash, tokens, embedding::text,
			created_at,
			(1 - (embedding <=> $1)) as similarity,
			(embedding <=> $1) as distance
		FROM extracted_vectors
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, whereClause, argIndex)

	args = append(args, options.Limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Similarity search failed", zap.Error(err))
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []*SimilarityResult
	for rows.Next() {
		var result SimilarityResult
		var v ExtractedVector
		var embeddingStr string

		err := rows.Scan(
			&v.ID,
			&v.Model,
			&v.Family,
			&v.Strategy,
			&v.Layer,
			&v.Text,
			&v.TextHash,
			&v.Tokens,
			&embeddingStr,
			&v.CreatedAt,
			&result.Similarity,
			&result.Distance,
		)
		if err != nil {
			s.logger.Error("Failed to scan similarity result", zap.Error(err))
			continue
		}

		v.Embedding, err = parseEmbedding(embeddingStr)
		if err != nil {
			s.logger.Error("Failed to parse embedding", zap.Error(err))
			continue
		}

		result.Vector = &v
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	s.logger.Debug("Similarity search completed",
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
		zap.Float32("min_similarity", options.MinSimilarity))

	return results, nil
}

// GetStats returns vector counts per model and extraction
func (s *Store) GetStats(ctx context.Context) (*VectorStats, error) {
	stats := &VectorStats{}

	query := `
		SELECT model, strategy, layer, COUNT(*) AS count
		FROM extracted_vectors
		GROUP BY model, strategy, layer
		ORDER BY model, strategy, layer`

	if err := s.db.SelectContext(ctx, &stats.ByModel, query); err != nil {
		return nil, fmt.Errorf("failed to get vector stats: %w", err)
	}
	for _, c := range stats.ByModel {
		stats.TotalVectors += c.Count
	}

	return stats, nil
}

// CreateIndex creates the cosine similarity index once enough vectors exist
func (s *Store) CreateIndex(ctx context.Context) error {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM extracted_vectors"); err != nil {
		return fmt.Errorf("failed to count vectors: %w", err)
	}

	if count < 1000 {
		s.logger.Info("Skipping index creation, not enough vectors", zap.Int64("count", count))
		return nil
	}

	s.logger.Info("Creating vector similarity index...", zap.Int64("vector_count", count))

	query := `
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_extracted_vectors_embedding
		ON extracted_vectors USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	s.logger.Info("Vector similarity index created successfully")
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// FromPredictions converts pooled predictions into storable vectors.
// Per-token predictions carry no single vector and are rejected.
func FromPredictions(model, family string, e pooling.Extraction, texts []string, preds []pooling.Prediction) ([]*ExtractedVector, error) {
	if len(texts) != len(preds) {
		return nil, fmt.Errorf("texts and predictions length mismatch: %d != %d", len(texts), len(preds))
	}
	if e.Strategy == pooling.PerToken {
		return nil, fmt.Errorf("%w: per_token predictions cannot be stored as single vectors", pooling.ErrInvalidStrategy)
	}
	out := make([]*ExtractedVector, len(preds))
	for i, p := range preds {
		out[i] = &ExtractedVector{
			Model:     model,
			Family:    family,
			Strategy:  string(e.Strategy),
			Layer:     e.Layer,
			Text:      texts[i],
			TextHash:  TextHash(texts[i]),
			Tokens:    pq.StringArray(p.Context),
			Embedding: p.Vec,
		}
	}
	return out, nil
}

// TextHash returns the hex SHA-256 of text
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// formatEmbedding converts a float32 slice to the pgvector text format
func formatEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return "[]"
	}

	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseEmbedding converts the pgvector text format back to a float32 slice
func parseEmbedding(embeddingStr string) ([]float32, error) {
	embeddingStr = strings.Trim(embeddingStr, "[]")
	if embeddingStr == "" {
		return []float32{}, nil
	}

	parts := strings.Split(embeddingStr, ",")
	embedding := make([]float32, len(parts))

	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedding value: %w", err)
		}
		embedding[i] = float32(val)
	}

	return embedding, nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	start := strings.Index(url, "//") + 2
	if start < 2 || start > at {
		start = 0
	}
	colon := strings.Index(url[start:at], ":")
	if colon < 0 {
		return url
	}
	return url[:start+colon+1] + "***" + url[at:]
}
