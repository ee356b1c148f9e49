// Package extract parses rendered listing markup into model items.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Item is one model entry pulled off a listing page.
type Item struct {
	Site string `json:"site"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Page int    `json:"page"`
}

// Rules describes how to pull items out of one site's listing markup.
type Rules struct {
	// ItemSelector matches each item's anchor element.
	ItemSelector string
	// ItemAttr is the attribute holding the item's URL (default "href").
	ItemAttr string
	// NameSelector, when set, is matched inside each item element for the
	// display name; otherwise NameAttr or the item's own text is used.
	NameSelector string
	// NameAttr, when set, reads the name from this attribute of the item
	// element instead of its text content.
	NameAttr string
	// BaseURL resolves relative item URLs.
	BaseURL string
}

// Listing is the parsed result of one page of markup. Items are in document
// order; the first item's URL doubles as the page fingerprint downstream.
type Listing struct {
	Items []Item
}

// ParseListing extracts items from rendered markup in document order.
// Relative URLs are resolved against the rules' base URL; items without a
// usable URL are skipped.
func ParseListing(markup string, rules Rules) (Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Listing{}, fmt.Errorf("failed to parse listing markup: %w", err)
	}

	attr := rules.ItemAttr
	if attr == "" {
		attr = "href"
	}

	var base *url.URL
	if rules.BaseURL != "" {
		base, err = url.Parse(rules.BaseURL)
		if err != nil {
			return Listing{}, fmt.Errorf("invalid base url %q: %w", rules.BaseURL, err)
		}
	}

	var listing Listing
	doc.Find(rules.ItemSelector).Each(func(_ int, sel *goquery.Selection) {
		raw, ok := sel.Attr(attr)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			return
		}

		itemURL := raw
		if base != nil {
			if ref, err := url.Parse(raw); err == nil {
				itemURL = base.ResolveReference(ref).String()
			}
		}

		listing.Items = append(listing.Items, Item{
			Name: itemName(sel, rules),
			URL:  itemURL,
		})
	})

	return listing, nil
}

func itemName(sel *goquery.Selection, rules Rules) string {
	if rules.NameAttr != "" {
		if v, ok := sel.Attr(rules.NameAttr); ok {
			return normalizeSpace(v)
		}
	}
	if rules.NameSelector != "" {
		if name := normalizeSpace(sel.Find(rules.NameSelector).First().Text()); name != "" {
			return name
		}
	}
	// Fall back to the element's first text node, so nested badges or counts
	// after the title do not leak into the name.
	if len(sel.Nodes) > 0 {
		if name := normalizeSpace(firstText(sel.Nodes[0])); name != "" {
			return name
		}
	}
	return normalizeSpace(sel.Text())
}

func firstText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := firstText(c); strings.TrimSpace(t) != "" {
			return t
		}
	}
	return ""
}

// normalizeSpace collapses interior whitespace runs to single spaces and
// trims the ends, matching how browsers render text.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
