package extract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `
<html><body>
<ul>
  <li><div><a href="/models/google/bert"><span class="name"> BERT   Base </span></a></div></li>
  <li><div><a href="/models/google/gemma"><span class="name">Gemma</span></a></div></li>
  <li><div><a href="https://www.kaggle.com/models/meta/llama"><span class="name">Llama</span></a></div></li>
  <li><div><a href=""><span class="name">broken</span></a></div></li>
</ul>
</body></html>`

func TestParseListing(t *testing.T) {
	rules := Rules{
		ItemSelector: `ul li div a[href]`,
		NameSelector: "span.name",
		BaseURL:      "https://www.kaggle.com",
	}

	t.Run("extracts items in document order", func(t *testing.T) {
		listing, err := ParseListing(listingHTML, rules)
		require.NoError(t, err)

		want := []Item{
			{Name: "BERT Base", URL: "https://www.kaggle.com/models/google/bert"},
			{Name: "Gemma", URL: "https://www.kaggle.com/models/google/gemma"},
			{Name: "Llama", URL: "https://www.kaggle.com/models/meta/llama"},
		}
		if diff := cmp.Diff(want, listing.Items); diff != "" {
			t.Errorf("items mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("name falls back to element text", func(t *testing.T) {
		html := `<a href="/models/x/y">  Plain  Text  </a>`
		listing, err := ParseListing(html, Rules{ItemSelector: "a", BaseURL: "https://example.com"})
		require.NoError(t, err)
		require.Len(t, listing.Items, 1)
		assert.Equal(t, "Plain Text", listing.Items[0].Name)
	})

	t.Run("name can come from an attribute", func(t *testing.T) {
		html := `<a data-linkbox-overlay="true" title="Nemotron" href="/models/nemotron"></a>`
		listing, err := ParseListing(html, Rules{
			ItemSelector: `a[data-linkbox-overlay="true"]`,
			NameAttr:     "title",
			BaseURL:      "https://build.nvidia.com",
		})
		require.NoError(t, err)
		require.Len(t, listing.Items, 1)
		assert.Equal(t, "Nemotron", listing.Items[0].Name)
		assert.Equal(t, "https://build.nvidia.com/models/nemotron", listing.Items[0].URL)
	})

	t.Run("relative urls stay relative without a base", func(t *testing.T) {
		listing, err := ParseListing(`<a href="/models/x">x</a>`, Rules{ItemSelector: "a"})
		require.NoError(t, err)
		require.Len(t, listing.Items, 1)
		assert.Equal(t, "/models/x", listing.Items[0].URL)
	})

	t.Run("no matches yields an empty listing", func(t *testing.T) {
		listing, err := ParseListing("<html><body></body></html>", rules)
		require.NoError(t, err)
		assert.Empty(t, listing.Items)
	})

	t.Run("invalid base url is an error", func(t *testing.T) {
		_, err := ParseListing(listingHTML, Rules{ItemSelector: "a", BaseURL: "://bad"})
		require.Error(t, err)
	})

	t.Run("custom item attribute", func(t *testing.T) {
		html := `<div class="card" data-url="/models/a">A</div>`
		listing, err := ParseListing(html, Rules{
			ItemSelector: "div.card",
			ItemAttr:     "data-url",
			BaseURL:      "https://example.com",
		})
		require.NoError(t, err)
		require.Len(t, listing.Items, 1)
		assert.Equal(t, "https://example.com/models/a", listing.Items[0].URL)
	})
}
