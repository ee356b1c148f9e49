package crawler

import (
	"fmt"

	"github.com/sablewing/modelgrab/internal/browser"
	"github.com/sablewing/modelgrab/internal/config"
	"github.com/sablewing/modelgrab/internal/extract"
)

// Site is the runtime form of a SiteConfig: locator strings parsed once at
// startup so every later use works with typed locators.
type Site struct {
	Name         string
	StartURL     string
	WaitSelector string
	Rules        extract.Rules

	Paginate      bool
	MaxPages      int
	LeadingItem   browser.Locator
	PageIndicator *browser.Locator
	NextControls  []browser.Locator
}

// BuildSites resolves the configured sites into runtime form. Locator parse
// errors surface here, at startup, rather than mid-crawl.
func BuildSites(cfg *config.Config) ([]Site, error) {
	sites := make([]Site, 0, len(cfg.Sites))
	for _, sc := range cfg.Sites {
		site := Site{
			Name:         sc.Name,
			StartURL:     sc.StartURL,
			WaitSelector: sc.WaitSelector,
			Rules: extract.Rules{
				ItemSelector: sc.ItemSelector,
				ItemAttr:     sc.ItemAttr,
				NameSelector: sc.NameSelector,
				NameAttr:     sc.NameAttr,
				BaseURL:      sc.BaseURL,
			},
			Paginate: sc.Paginate,
			MaxPages: sc.MaxPages,
		}
		if site.MaxPages <= 0 {
			site.MaxPages = cfg.Pagination.MaxPages
		}

		if sc.Paginate {
			if sc.LeadingItem == "" {
				return nil, fmt.Errorf("site %s: paginate requires leading_item", sc.Name)
			}
			loc, err := browser.ParseLocator(sc.LeadingItem)
			if err != nil {
				return nil, fmt.Errorf("site %s: leading_item: %w", sc.Name, err)
			}
			site.LeadingItem = loc

			if sc.PageIndicator != "" {
				ind, err := browser.ParseLocator(sc.PageIndicator)
				if err != nil {
					return nil, fmt.Errorf("site %s: page_indicator: %w", sc.Name, err)
				}
				site.PageIndicator = &ind
			}

			site.NextControls, err = browser.ParseLocators(sc.NextControls)
			if err != nil {
				return nil, fmt.Errorf("site %s: next_controls: %w", sc.Name, err)
			}
		}

		sites = append(sites, site)
	}
	return sites, nil
}

// DefaultSites returns the built-in targets used when the configuration
// names none.
func DefaultSites() []config.SiteConfig {
	return []config.SiteConfig{
		{
			Name:         "kaggle",
			StartURL:     "https://www.kaggle.com/models?owner-type=organization",
			BaseURL:      "https://www.kaggle.com",
			WaitSelector: `ul li div a[href*="/models/"]`,
			ItemSelector: `ul li div a[href*="/models/"]`,
			LeadingItem:  `xpath://ul/li/div/a[contains(@href, "/models/")]`,
			PageIndicator: `css:button[aria-current="true"]` +
				`[data-testid="selectedPage"]`,
			NextControls: []string{
				`css:button[aria-label="Go to next page"]`,
				`css:button.MuiPaginationItem-previousNext:not([disabled])`,
				`xpath://button[@aria-label="Go to next page"]`,
				`xpath://button[.//svg[@data-testid="NavigateNextIcon"]]`,
				`xpath://nav//button[contains(@class, "MuiPaginationItem") and contains(@aria-label, "next")]`,
			},
			Paginate: true,
		},
		{
			Name:         "nvidia",
			StartURL:     "https://build.nvidia.com/models",
			BaseURL:      "https://build.nvidia.com",
			WaitSelector: `a[data-linkbox-overlay="true"]`,
			ItemSelector: `a[data-linkbox-overlay="true"]`,
			NameAttr:     "title",
			Paginate:     false,
		},
	}
}
