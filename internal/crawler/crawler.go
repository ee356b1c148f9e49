// Package crawler orchestrates the full pipeline for each configured site:
// rendered fetch, optional click-driven pagination, extraction, export, and
// optional database persistence.
package crawler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sablewing/modelgrab/internal/config"
	"github.com/sablewing/modelgrab/internal/extract"
	"github.com/sablewing/modelgrab/internal/paginate"
	"github.com/sablewing/modelgrab/internal/render"
)

// ItemSink receives one site's final item batch.
type ItemSink interface {
	WriteSite(site string, items []extract.Item) (string, error)
}

// RunStore persists a finished site crawl. Satisfied by store.Store.
type RunStore interface {
	SaveRun(ctx context.Context, site string, pages int, items []extract.Item) (uuid.UUID, error)
}

// SiteResult summarizes one site's crawl.
type SiteResult struct {
	Site  string
	Pages int
	Items int
	Err   error
}

// Crawler fans site crawls out over a bounded worker set, pacing rendered
// fetches with a shared rate limiter. A failing site is reported in its
// result, not propagated, so sibling crawls run to completion.
type Crawler struct {
	fetcher *render.Fetcher
	sink    ItemSink
	store   RunStore
	cfg     config.Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a crawler. store may be nil when persistence is disabled.
func New(fetcher *render.Fetcher, sink ItemSink, store RunStore, cfg config.Config, logger *zap.Logger) *Crawler {
	rps := cfg.Crawl.RequestsPerSecond
	if rps <= 0 {
		rps = 2.0
	}
	return &Crawler{
		fetcher: fetcher,
		sink:    sink,
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.Named("crawler"),
	}
}

// Run crawls every site, at most worker_concurrency at a time.
func (c *Crawler) Run(ctx context.Context, sites []Site) []SiteResult {
	results := make([]SiteResult, len(sites))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Crawl.WorkerConcurrency)

	for i, site := range sites {
		g.Go(func() error {
			res := c.crawlSite(gctx, site)
			results[i] = res
			if res.Err != nil {
				c.logger.Error("Site crawl failed.",
					zap.String("site", site.Name), zap.Error(res.Err))
			}
			// Site failures stay local; only context cancellation stops
			// the group.
			return gctx.Err()
		})
	}
	_ = g.Wait()

	return results
}

func (c *Crawler) crawlSite(ctx context.Context, site Site) SiteResult {
	res := SiteResult{Site: site.Name}
	log := c.logger.With(zap.String("site", site.Name))

	if err := c.limiter.Wait(ctx); err != nil {
		res.Err = err
		return res
	}

	log.Info("Starting crawl.", zap.String("url", site.StartURL))

	resp, err := c.fetcher.Fetch(ctx, render.Request{
		URL:          site.StartURL,
		WaitSelector: site.WaitSelector,
		Wait:         c.cfg.Render.DefaultWait,
		KeepSession:  site.Paginate,
	})
	if err != nil {
		res.Err = fmt.Errorf("initial fetch: %w", err)
		return res
	}
	defer resp.Finish()

	var items []extract.Item

	if site.Paginate {
		res.Pages, items, err = c.paginateSite(ctx, site, resp, log)
		if err != nil {
			res.Err = err
			return res
		}
	} else {
		listing, perr := extract.ParseListing(resp.Body, site.Rules)
		if perr != nil {
			res.Err = fmt.Errorf("extraction: %w", perr)
			return res
		}
		items = listing.Items
		res.Pages = 1
	}

	for i := range items {
		items[i].Site = site.Name
	}
	res.Items = len(items)

	if _, err := c.sink.WriteSite(site.Name, items); err != nil {
		res.Err = fmt.Errorf("export: %w", err)
		return res
	}

	if c.store != nil {
		runID, err := c.store.SaveRun(ctx, site.Name, res.Pages, items)
		if err != nil {
			res.Err = fmt.Errorf("persistence: %w", err)
			return res
		}
		log.Debug("Run recorded.", zap.String("run_id", runID.String()))
	}

	log.Info("Crawl complete.",
		zap.Int("pages", res.Pages), zap.Int("items", res.Items))
	return res
}

// paginateSite drives the pagination controller over the session attached to
// the initial response, collecting items page by page.
func (c *Crawler) paginateSite(ctx context.Context, site Site, resp *render.Response, log *zap.Logger) (int, []extract.Item, error) {
	if resp.Session == nil {
		return 0, nil, fmt.Errorf("no live session attached for pagination")
	}

	var items []extract.Item
	page := 1

	extractPage := func(markup string) ([]paginate.Record, error) {
		listing, err := extract.ParseListing(markup, site.Rules)
		if err != nil {
			return nil, err
		}
		records := make([]paginate.Record, len(listing.Items))
		for i, it := range listing.Items {
			it.Page = page
			records[i] = paginate.Record{ID: it.URL, Data: it}
		}
		page++
		return records, nil
	}

	emit := func(rec paginate.Record) {
		if it, ok := rec.Data.(extract.Item); ok {
			items = append(items, it)
		}
	}

	ctrl := paginate.New(resp.Session, extractPage, emit, paginate.Config{
		Listing:        site.Name,
		MaxPages:       site.MaxPages,
		NextControls:   site.NextControls,
		LeadingItem:    site.LeadingItem,
		BaseURL:        site.Rules.BaseURL,
		PageIndicator:  site.PageIndicator,
		PollInterval:   c.cfg.Pagination.PollInterval,
		ConfirmTimeout: c.cfg.Pagination.ConfirmTimeout,
		SettleDelay:    c.cfg.Pagination.SettleDelay,
		MaxSeen:        c.cfg.Pagination.MaxSeen,
	}, log)

	summary, err := ctrl.Run(ctx, resp.Body)
	if err != nil {
		// Items already collected are still worth exporting; report them
		// alongside the failure.
		if summary.Emitted > 0 {
			log.Warn("Pagination ended early; keeping collected items.",
				zap.Int("pages", summary.Pages),
				zap.Int("items", summary.Emitted),
				zap.Error(err))
			return summary.Pages, items, nil
		}
		return summary.Pages, nil, fmt.Errorf("pagination: %w", err)
	}

	return summary.Pages, items, nil
}
