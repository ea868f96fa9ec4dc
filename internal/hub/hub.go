package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultEndpoint = "https://huggingface.co"
	DefaultRevision = "main"
	EnvHFToken      = "HF_TOKEN"
	EnvHFHome       = "HF_HOME"
	EnvHFEndpoint   = "HF_ENDPOINT"
	userAgent       = "langmodel/1.0"
)

// Hub errors
var (
	ErrNotFound       = errors.New("model not found locally or on the hub")
	ErrUnauthorized   = errors.New("hub authentication failed")
	ErrRateLimited    = errors.New("hub rate limit exceeded")
	ErrDownloadFailed = errors.New("download failed")
	ErrInvalidModelID = errors.New("invalid model id")
)

// weightCandidates lists ONNX export locations in lookup order.
var weightCandidates = []string{"onnx/model.onnx", "model.onnx"}

// Config contains hub configuration
type Config struct {
	CacheDir     string        `yaml:"cache_dir" mapstructure:"cache_dir"`
	Endpoint     string        `yaml:"endpoint" mapstructure:"endpoint"`
	Revision     string        `yaml:"revision" mapstructure:"revision"`
	Token        string        `yaml:"token" mapstructure:"token"`
	AutoDownload bool          `yaml:"auto_download" mapstructure:"auto_download"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Files are the local files of a resolved model.
type Files struct {
	Dir           string
	ConfigPath    string
	WeightsPath   string
	TokenizerPath string
}

// Resolver maps model names to local directories, downloading missing
// snapshots from the hub into the cache.
type Resolver struct {
	config   Config
	client   *http.Client
	archives map[string]Archive
	logger   *zap.Logger
}

// NewResolver creates a resolver. Zero config fields fall back to the HF_*
// environment variables and the defaults above.
func NewResolver(config Config, logger *zap.Logger) *Resolver {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
		if endpoint := os.Getenv(EnvHFEndpoint); endpoint != "" {
			config.Endpoint = endpoint
		}
	}
	config.Endpoint = strings.TrimSuffix(config.Endpoint, "/")
	if config.Revision == "" {
		config.Revision = DefaultRevision
	}
	if config.Token == "" {
		config.Token = os.Getenv(EnvHFToken)
	}
	if config.CacheDir == "" {
		config.CacheDir = CacheDir()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Minute
	}
	return &Resolver{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		archives: Archives(),
		logger:   logger,
	}
}

// Resolve returns the files of a local model directory or of a cached hub
// snapshot, downloading the snapshot when auto download is enabled.
func (r *Resolver) Resolve(ctx context.Context, nameOrPath string) (*Files, error) {
	if info, err := os.Stat(nameOrPath); err == nil && info.IsDir() {
		return localFiles(nameOrPath)
	}

	if err := validateModelID(nameOrPath); err != nil {
		return nil, fmt.Errorf("%w: %q is neither a local directory nor a hub id: %v", ErrNotFound, nameOrPath, err)
	}
	snapshot := r.snapshotDir(nameOrPath)
	if files, err := localFiles(snapshot); err == nil {
		r.logger.Debug("Using cached hub snapshot", zap.String("model", nameOrPath), zap.String("dir", snapshot))
		return files, nil
	}
	if !r.config.AutoDownload {
		return nil, fmt.Errorf("%w: %s (auto download disabled)", ErrNotFound, nameOrPath)
	}
	return r.download(ctx, nameOrPath, snapshot)
}

// download fetches config.json and tokenizer.json in parallel, then the first
// ONNX weight candidate the repository has.
func (r *Resolver) download(ctx context.Context, modelID, snapshot string) (*Files, error) {
	start := time.Now()
	files := &Files{Dir: snapshot}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		path, err := r.fetch(gctx, r.fileURL(modelID, "config.json"), filepath.Join(snapshot, "config.json"))
		if err != nil {
			return fmt.Errorf("config.json: %w", err)
		}
		files.ConfigPath = path
		return nil
	})
	g.Go(func() error {
		path, err := r.fetch(gctx, r.fileURL(modelID, "tokenizer.json"), filepath.Join(snapshot, "tokenizer.json"))
		if errors.Is(err, ErrNotFound) {
			r.logger.Debug("Model has no tokenizer.json", zap.String("model", modelID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("tokenizer.json: %w", err)
		}
		files.TokenizerPath = path
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, candidate := range weightCandidates {
		path, err := r.fetch(ctx, r.fileURL(modelID, candidate), filepath.Join(snapshot, filepath.FromSlash(candidate)))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", candidate, err)
		}
		files.WeightsPath = path
		break
	}
	if files.WeightsPath == "" {
		return nil, fmt.Errorf("%w: %s has no ONNX export (tried %s)", ErrNotFound, modelID, strings.Join(weightCandidates, ", "))
	}

	r.logger.Info("Downloaded model snapshot",
		zap.String("model", modelID),
		zap.String("dir", snapshot),
		zap.Duration("took", time.Since(start)))
	return files, nil
}

func (r *Resolver) fileURL(modelID, filename string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", r.config.Endpoint, modelID, r.config.Revision, filename)
}

func (r *Resolver) snapshotDir(modelID string) string {
	return filepath.Join(r.config.CacheDir, modelIDToCacheDir(modelID), CacheSnapshotDir, r.config.Revision)
}

// localFiles finds the config and weights inside dir.
func localFiles(dir string) (*Files, error) {
	files := &Files{Dir: dir}
	config := filepath.Join(dir, "config.json")
	if _, err := os.Stat(config); err != nil {
		return nil, fmt.Errorf("%w: no config.json in %s", ErrNotFound, dir)
	}
	files.ConfigPath = config
	for _, candidate := range weightCandidates {
		path := filepath.Join(dir, filepath.FromSlash(candidate))
		if _, err := os.Stat(path); err == nil {
			files.WeightsPath = path
			break
		}
	}
	if files.WeightsPath == "" {
		return nil, fmt.Errorf("%w: no ONNX weights in %s", ErrNotFound, dir)
	}
	if tok := filepath.Join(dir, "tokenizer.json"); fileExists(tok) {
		files.TokenizerPath = tok
	}
	return files, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func validateModelID(modelID string) error {
	if modelID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelID)
	}
	parts := strings.Split(modelID, "/")
	if len(parts) > 2 {
		return fmt.Errorf("%w: expected 'owner/model' or 'model'", ErrInvalidModelID)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return fmt.Errorf("%w: expected 'owner/model' or 'model'", ErrInvalidModelID)
		}
	}
	return nil
}
