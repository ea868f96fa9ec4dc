package hub

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

//go:embed archives.yaml
var archivesYAML []byte

// Archive is a remote model stored in the saved model format.
type Archive struct {
	Config string `yaml:"config"`
}

// Archives returns the embedded archive map.
func Archives() map[string]Archive {
	archives := map[string]Archive{}
	if err := yaml.Unmarshal(archivesYAML, &archives); err != nil {
		panic(fmt.Sprintf("hub: invalid embedded archives.yaml: %v", err))
	}
	return archives
}

// HasArchive reports whether name is in the archive map.
func (r *Resolver) HasArchive(name string) bool {
	_, ok := r.archives[name]
	return ok
}

// archiveFiles are the file names a saved word embedding config refers to.
type archiveFiles struct {
	EmbeddingsFilename string `json:"embeddings_filename"`
	VocabFilename      string `json:"vocab_filename"`
}

// ResolveArchive downloads an archived model next to its config and returns
// the local directory, ready to be loaded as a saved model.
func (r *Resolver) ResolveArchive(ctx context.Context, name string) (string, error) {
	archive, ok := r.archives[name]
	if !ok {
		return "", fmt.Errorf("%w: %q is not in the archive map", ErrNotFound, name)
	}
	dir := filepath.Join(r.config.CacheDir, archiveCacheSubdir, name)
	configPath, err := r.fetch(ctx, archive.Config, filepath.Join(dir, "language_model_config.json"))
	if err != nil {
		return "", fmt.Errorf("couldn't reach server at %q to download pretrained model configuration: %w", archive.Config, err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read archive config: %w", err)
	}
	var files archiveFiles
	if err := json.Unmarshal(data, &files); err != nil {
		return "", fmt.Errorf("failed to parse archive config: %w", err)
	}

	base, err := url.Parse(archive.Config)
	if err != nil {
		return "", fmt.Errorf("invalid archive url %q: %w", archive.Config, err)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range []string{files.EmbeddingsFilename, files.VocabFilename} {
		if name == "" {
			continue
		}
		ref := *base
		ref.Path = path.Join(path.Dir(base.Path), name)
		target := filepath.Join(dir, filepath.Base(name))
		g.Go(func() error {
			_, err := r.fetch(gctx, ref.String(), target)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	r.logger.Info("Resolved archived model", zap.String("model", name), zap.String("dir", dir))
	return dir, nil
}
