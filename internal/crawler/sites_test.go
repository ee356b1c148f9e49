package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sablewing/modelgrab/internal/browser"
	"github.com/sablewing/modelgrab/internal/config"
)

func TestBuildSites(t *testing.T) {
	t.Run("default sites resolve", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Sites = DefaultSites()

		sites, err := BuildSites(cfg)
		require.NoError(t, err)
		require.Len(t, sites, 2)

		kaggle := sites[0]
		assert.Equal(t, "kaggle", kaggle.Name)
		assert.True(t, kaggle.Paginate)
		assert.Equal(t, browser.LocatorXPath, kaggle.LeadingItem.Kind)
		require.NotNil(t, kaggle.PageIndicator)
		assert.Equal(t, browser.LocatorCSS, kaggle.PageIndicator.Kind)
		assert.NotEmpty(t, kaggle.NextControls)
		assert.Equal(t, cfg.Pagination.MaxPages, kaggle.MaxPages)

		nvidia := sites[1]
		assert.False(t, nvidia.Paginate)
		assert.Equal(t, "title", nvidia.Rules.NameAttr)
	})

	t.Run("per-site page limit overrides the global one", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		sc := DefaultSites()[0]
		sc.MaxPages = 7
		cfg.Sites = []config.SiteConfig{sc}

		sites, err := BuildSites(cfg)
		require.NoError(t, err)
		assert.Equal(t, 7, sites[0].MaxPages)
	})

	t.Run("paginating site without leading item fails", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Sites = []config.SiteConfig{{
			Name:         "broken",
			StartURL:     "https://example.com",
			ItemSelector: "a",
			Paginate:     true,
			NextControls: []string{"button.next"},
		}}

		_, err := BuildSites(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "leading_item")
	})

	t.Run("bad locator fails at startup", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Sites = []config.SiteConfig{{
			Name:         "broken",
			StartURL:     "https://example.com",
			ItemSelector: "a",
			Paginate:     true,
			LeadingItem:  "//a[1]",
			NextControls: []string{"css:"},
		}}

		_, err := BuildSites(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "next_controls")
	})
}
