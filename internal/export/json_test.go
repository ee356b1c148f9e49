package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sablewing/modelgrab/internal/extract"
)

func TestCleanItems(t *testing.T) {
	items := []extract.Item{
		{Name: "  BERT  ", URL: " https://example.com/models/bert ", Page: 1},
		{Name: "No URL", URL: "", Page: 1},
		{Name: "BERT again", URL: "https://example.com/models/bert", Page: 2},
		{Name: "Gemma", URL: "https://example.com/models/gemma", Page: 2},
	}

	cleaned := CleanItems(items)
	require.Len(t, cleaned, 2)
	assert.Equal(t, "BERT", cleaned[0].Name)
	assert.Equal(t, "https://example.com/models/bert", cleaned[0].URL)
	assert.Equal(t, "Gemma", cleaned[1].Name)
}

func TestWriteSite(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, true, zap.NewNop())
	require.NoError(t, err)

	items := []extract.Item{
		{Site: "kaggle", Name: "BERT", URL: "https://example.com/models/bert", Page: 1},
		{Site: "kaggle", Name: "dup", URL: "https://example.com/models/bert", Page: 2},
	}

	path, err := w.WriteSite("kaggle", items)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "kaggle_models.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded []extract.Item
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "BERT", decoded[0].Name)
}

func TestWriteSiteEmpty(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, false, zap.NewNop())
	require.NoError(t, err)

	path, err := w.WriteSite("empty", nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestNewWriterCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	_, err := NewWriter(dir, false, zap.NewNop())
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
