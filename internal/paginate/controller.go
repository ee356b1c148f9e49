// Package paginate drives click-based pagination on listings whose "next"
// action never changes the URL, confirming each transition through content
// fingerprints instead of HTTP status codes.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sablewing/modelgrab/internal/browser"
)

var (
	// ErrControlNotFound: no candidate locator resolved to an actionable
	// next control. Treated as the natural end of a listing.
	ErrControlNotFound = errors.New("paginate: no usable next control found")

	// ErrTransitionNotConfirmed: the click did not produce a verifiable
	// content change within the poll bound. Fatal to this listing's
	// pagination, not to the crawl.
	ErrTransitionNotConfirmed = errors.New("paginate: page transition not confirmed")
)

// PageDriver is the slice of a leased browser session the controller needs.
// The controller never acquires or releases sessions itself; it runs inside
// one caller-held lease.
type PageDriver interface {
	HTML(ctx context.Context) (string, error)
	Visible(ctx context.Context, loc browser.Locator) (bool, error)
	Text(ctx context.Context, loc browser.Locator) (string, error)
	Attribute(ctx context.Context, loc browser.Locator, name string) (string, bool, error)
	Click(ctx context.Context, loc browser.Locator) error
}

// Record is one extracted listing entry: an identifier for de-duplication
// plus an opaque payload passed through to the emitter.
type Record struct {
	ID   string
	Data any
}

// ExtractFunc turns rendered markup into the page's records, in document
// order (the first record's ID doubles as the page fingerprint).
type ExtractFunc func(markup string) ([]Record, error)

// EmitFunc receives each record the first time its ID is seen.
type EmitFunc func(Record)

// Config tunes one listing's pagination run.
type Config struct {
	Listing  string
	MaxPages int

	// NextControls are tried in order; the first visible, enabled,
	// not-disabled match is clicked.
	NextControls []browser.Locator
	// LeadingItem locates the listing's first item in the live DOM; its
	// LeadingAttr value is the transition fingerprint.
	LeadingItem browser.Locator
	LeadingAttr string
	// BaseURL resolves relative identifiers read off the live DOM.
	// getAttribute returns the literal markup value, so a relative href must
	// be absolutized here to compare against extracted record IDs.
	BaseURL string
	// PageIndicator, when set, locates the element displaying the current
	// page number. A transition is only confirmed when the indicator agrees
	// with the expected page.
	PageIndicator *browser.Locator

	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	SettleDelay    time.Duration

	// MaxSeen bounds the de-duplication set. Past the cap, unseen records
	// are still emitted but no longer remembered.
	MaxSeen int
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
	if c.LeadingAttr == "" {
		c.LeadingAttr = "href"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 15 * time.Second
	}
	if c.MaxSeen <= 0 {
		c.MaxSeen = 50000
	}
	return c
}

// Summary reports how a pagination run ended.
type Summary struct {
	Pages   int
	Emitted int
	Final   State
}

// Controller owns the per-listing pagination state: page counter, seen set,
// and fingerprint. It is an explicit loop, not recursion, so arbitrarily
// long listings cannot grow the stack.
type Controller struct {
	driver  PageDriver
	extract ExtractFunc
	emit    EmitFunc
	cfg     Config
	logger  *zap.Logger

	base *url.URL

	seen         map[string]struct{}
	seenOverflow bool
}

// New builds a controller for one listing. The driver must be a session the
// caller holds a lease on for the whole run.
func New(driver PageDriver, extract ExtractFunc, emit EmitFunc, cfg Config, logger *zap.Logger) *Controller {
	cfg = cfg.withDefaults()
	log := logger.Named("paginate").With(zap.String("listing", cfg.Listing))

	var base *url.URL
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			log.Warn("Invalid base url; live-DOM identifiers stay unresolved.",
				zap.String("base_url", cfg.BaseURL), zap.Error(err))
		} else {
			base = parsed
		}
	}

	return &Controller{
		driver:  driver,
		extract: extract,
		emit:    emit,
		cfg:     cfg,
		logger:  log,
		base:    base,
		seen:    make(map[string]struct{}),
	}
}

// resolve absolutizes an identifier read from the live DOM so it lands in
// the same namespace as the extracted record IDs.
func (c *Controller) resolve(raw string) string {
	if c.base == nil || raw == "" {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return c.base.ResolveReference(ref).String()
}

// Run paginates from the already rendered first page markup until the
// listing is exhausted, the page limit is hit, or a transition fails.
// The page counter only increases and the seen set only grows.
func (c *Controller) Run(ctx context.Context, firstPage string) (Summary, error) {
	summary := Summary{Final: StateLoaded}
	page := 1
	markup := firstPage

	for {
		if err := ctx.Err(); err != nil {
			summary.Final = StateFailed
			return summary, err
		}

		records, err := c.extract(markup)
		if err != nil {
			summary.Final = StateFailed
			return summary, fmt.Errorf("extraction failed on page %d: %w", page, err)
		}

		newCount := 0
		fingerprint := ""
		for i, rec := range records {
			if i == 0 {
				fingerprint = rec.ID
			}
			if rec.ID == "" {
				continue
			}
			if _, dup := c.remember(rec.ID); dup {
				continue
			}
			newCount++
			if c.emit != nil {
				c.emit(rec)
			}
		}
		summary.Pages = page
		summary.Emitted += newCount

		c.logger.Info("Page parsed.",
			zap.Int("page", page),
			zap.Int("items", len(records)),
			zap.Int("new_items", newCount))

		// An all-duplicate page past page 1 means either the true last page
		// or a render that never produced fresh content. Either way, stop.
		if newCount == 0 && page > 1 {
			c.logger.Warn("No new items on page; stopping pagination.",
				zap.Int("page", page))
			summary.Final = StateExhausted
			return summary, nil
		}

		if page >= c.cfg.MaxPages {
			c.logger.Info("Page limit reached.", zap.Int("max_pages", c.cfg.MaxPages))
			summary.Final = StateExhausted
			return summary, nil
		}

		next, err := c.findNextControl(ctx)
		if err != nil {
			if errors.Is(err, ErrControlNotFound) {
				c.logger.Info("No further pages.", zap.Int("page", page))
				summary.Final = StateExhausted
				return summary, nil
			}
			summary.Final = StateFailed
			return summary, err
		}

		// The control can go stale between discovery and click when the page
		// re-renders; re-locate and try again before giving up.
		err = browser.RetryStale(ctx, next, browser.RetryOptions{},
			func(ctx context.Context, loc browser.Locator) error {
				return c.driver.Click(ctx, loc)
			},
			c.findNextControl,
		)
		if err != nil {
			c.logger.Warn("Failed to click next control.",
				zap.Int("page", page),
				zap.String("locator", next.String()),
				zap.Error(err))
			summary.Final = StateFailed
			return summary, fmt.Errorf("click on %s: %w", next, err)
		}

		confirmed, err := c.awaitTransition(ctx, fingerprint, page+1)
		if err != nil {
			summary.Final = StateFailed
			return summary, err
		}
		if !confirmed {
			c.logger.Warn("Content did not change after clicking next; stopping.",
				zap.Int("page", page),
				zap.Duration("waited", c.cfg.ConfirmTimeout))
			summary.Final = StateFailed
			return summary, fmt.Errorf("%w: page %d -> %d", ErrTransitionNotConfirmed, page, page+1)
		}

		if c.cfg.SettleDelay > 0 {
			select {
			case <-time.After(c.cfg.SettleDelay):
			case <-ctx.Done():
				summary.Final = StateFailed
				return summary, ctx.Err()
			}
		}

		// Re-parse the session's current rendered state in place; no new
		// navigation request is issued.
		markup, err = c.driver.HTML(ctx)
		if err != nil {
			summary.Final = StateFailed
			return summary, fmt.Errorf("failed to snapshot page %d: %w", page+1, err)
		}
		page++
	}
}

// remember records an identifier in the seen set, honoring the bound.
// Returns whether it was already present.
func (c *Controller) remember(id string) (added bool, dup bool) {
	if _, ok := c.seen[id]; ok {
		return false, true
	}
	if len(c.seen) >= c.cfg.MaxSeen {
		if !c.seenOverflow {
			c.seenOverflow = true
			c.logger.Warn("Seen-set bound reached; de-duplication degraded.",
				zap.Int("max_seen", c.cfg.MaxSeen))
		}
		return false, false
	}
	c.seen[id] = struct{}{}
	return true, false
}

// findNextControl walks the candidate locators in order and returns the
// first that resolves to a genuinely actionable control: visible, and not
// disabled by class, attribute, or ARIA state.
func (c *Controller) findNextControl(ctx context.Context) (browser.Locator, error) {
	for _, loc := range c.cfg.NextControls {
		visible, err := c.driver.Visible(ctx, loc)
		if err != nil {
			c.logger.Debug("Next control probe failed.",
				zap.String("locator", loc.String()), zap.Error(err))
			continue
		}
		if !visible {
			continue
		}

		if class, _, err := c.driver.Attribute(ctx, loc, "class"); err == nil &&
			strings.Contains(strings.ToLower(class), "disabled") {
			c.logger.Debug("Next control disabled by class.",
				zap.String("locator", loc.String()))
			continue
		}
		if value, has, err := c.driver.Attribute(ctx, loc, "disabled"); err == nil &&
			has && value != "false" {
			c.logger.Debug("Next control carries disabled attribute.",
				zap.String("locator", loc.String()))
			continue
		}
		if value, has, err := c.driver.Attribute(ctx, loc, "aria-disabled"); err == nil &&
			has && value == "true" {
			c.logger.Debug("Next control disabled by ARIA state.",
				zap.String("locator", loc.String()))
			continue
		}

		c.logger.Debug("Next control selected.", zap.String("locator", loc.String()))
		return loc, nil
	}
	return browser.Locator{}, ErrControlNotFound
}

// awaitTransition polls the live DOM after a click until the leading item's
// identifier differs from the pre-click fingerprint and, when an indicator
// is configured, the indicator displays the expected page number. A changed
// fingerprint with a mismatched indicator is logged but not accepted: it is
// the signature of a partial render.
func (c *Controller) awaitTransition(ctx context.Context, fingerprint string, expectedPage int) (bool, error) {
	expected := strconv.Itoa(expectedPage)
	deadline := time.Now().Add(c.cfg.ConfirmTimeout)

	for {
		leading, _, err := c.driver.Attribute(ctx, c.cfg.LeadingItem, c.cfg.LeadingAttr)
		leading = c.resolve(leading)
		switch {
		case err != nil:
			c.logger.Debug("Leading item probe failed; page still loading.", zap.Error(err))
		case leading == fingerprint:
			c.logger.Debug("Content unchanged.", zap.String("leading_item", leading))
		default:
			if c.cfg.PageIndicator == nil {
				c.logger.Info("Transition confirmed by fingerprint.",
					zap.String("old", fingerprint), zap.String("new", leading))
				return true, nil
			}
			indicator, ierr := c.driver.Text(ctx, *c.cfg.PageIndicator)
			indicator = strings.TrimSpace(indicator)
			if ierr == nil && indicator == expected {
				c.logger.Info("Transition confirmed.",
					zap.String("old", fingerprint),
					zap.String("new", leading),
					zap.String("page_indicator", indicator))
				return true, nil
			}
			c.logger.Info("Fingerprint changed but page indicator disagrees.",
				zap.String("expected", expected),
				zap.String("indicator", indicator),
				zap.Error(ierr))
		}

		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-time.After(c.cfg.PollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
