// Package export cleans extracted items and writes them to per-site JSON
// files.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/sablewing/modelgrab/internal/extract"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CleanItems trims fields, drops entries without a URL, and removes
// duplicate URLs while preserving first-seen order.
func CleanItems(items []extract.Item) []extract.Item {
	seen := make(map[string]struct{}, len(items))
	cleaned := make([]extract.Item, 0, len(items))
	for _, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		it.URL = strings.TrimSpace(it.URL)
		if it.URL == "" {
			continue
		}
		if _, dup := seen[it.URL]; dup {
			continue
		}
		seen[it.URL] = struct{}{}
		cleaned = append(cleaned, it)
	}
	return cleaned
}

// Writer persists item batches as JSON files, one per site.
type Writer struct {
	outputDir string
	indent    bool
	logger    *zap.Logger
}

// NewWriter creates the output directory if needed.
func NewWriter(outputDir string, indent bool, logger *zap.Logger) (*Writer, error) {
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}
	return &Writer{
		outputDir: outputDir,
		indent:    indent,
		logger:    logger.Named("export"),
	}, nil
}

// WriteSite cleans the items and writes them to <site>_models.json,
// replacing any previous run's file. Returns the path written.
func (w *Writer) WriteSite(site string, items []extract.Item) (string, error) {
	cleaned := CleanItems(items)

	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(cleaned, "", "  ")
	} else {
		data, err = json.Marshal(cleaned)
	}
	if err != nil {
		return "", fmt.Errorf("failed to encode items for %s: %w", site, err)
	}

	path := filepath.Join(w.outputDir, fmt.Sprintf("%s_models.json", site))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	w.logger.Info("Items exported.",
		zap.String("site", site),
		zap.Int("count", len(cleaned)),
		zap.String("path", path))
	return path, nil
}
