// Package loader reads a YAML catalog dataset from disk and normalizes it
// into the canonical corpus shape.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog/normalizer"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
)

// FileLoader loads the corpus from a YAML dataset file holding a top-level
// sequence of catalog entries.
type FileLoader struct {
	path       string
	normalizer *normalizer.Normalizer
	logger     *slog.Logger
}

// NewFileLoader creates a loader for the dataset configured in cfg.
func NewFileLoader(cfg config.DatasetConfig) *FileLoader {
	return &FileLoader{
		path:       cfg.Path,
		normalizer: normalizer.New(normalizer.NonFreeLicenseSet(cfg.NonFreeLicenses)),
		logger:     logger.WithComponent("dataset-loader"),
	}
}

// Load reads and normalizes the full dataset. Invalid records are dropped by
// the normalizer, never fatal; only an unreadable or unparseable file is.
func (l *FileLoader) Load(ctx context.Context) ([]*catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %s: %w", l.path, err)
	}
	var raws []catalog.RawEntry
	if err := yaml.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", l.path, err)
	}
	entries := l.normalizer.NormalizeAll(raws)
	l.logger.Info("dataset loaded", "path", l.path, "raw_records", len(raws), "entries", len(entries))
	return entries, nil
}
