package browser

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is an exclusive handle to one running browser instance. A session
// is owned by exactly one pool, and by exactly one in-flight request while
// leased; it is never shared across concurrent leases.
type Session interface {
	ID() string
	// Navigate loads the target URL in the session's tab.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until the CSS selector matches a visible element or
	// the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// CurrentURL reports the session's current location.
	CurrentURL(ctx context.Context) (string, error)
	// HTML snapshots the fully rendered markup of the current document.
	HTML(ctx context.Context) (string, error)
	// Visible probes the locator without blocking on absence.
	Visible(ctx context.Context, loc Locator) (bool, error)
	// Text returns the trimmed text content of the first match, or
	// ErrNoSuchElement.
	Text(ctx context.Context, loc Locator) (string, error)
	// Attribute returns an attribute of the first match. The bool reports
	// whether the attribute is present on the element.
	Attribute(ctx context.Context, loc Locator, name string) (string, bool, error)
	// Click scrolls the first match into view and clicks it, falling back to
	// a synthetic JS click when the native click fails.
	Click(ctx context.Context, loc Locator) error
	Close(ctx context.Context) error
}

// domOpTimeout bounds individual DOM probes so a wedged renderer cannot
// stall a pagination poll indefinitely.
const domOpTimeout = 10 * time.Second

// ChromeOptions configures the shared browser launcher.
type ChromeOptions struct {
	Headless          bool
	Args              []string
	UserAgents        []string
	NavigationTimeout time.Duration
}

// Launcher owns the shared Chrome exec allocator that all pool sessions are
// spawned from.
type Launcher struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	opts     ChromeOptions
	logger   *zap.Logger
}

// NewLauncher builds the exec allocator with stability flags suitable for
// containers plus any user supplied arguments.
func NewLauncher(ctx context.Context, opts ChromeOptions, logger *zap.Logger) *Launcher {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 90 * time.Second
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
	)
	for _, arg := range opts.Args {
		name := strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if name == "" {
			continue
		}
		if key, value, ok := strings.Cut(name, "="); ok {
			allocOpts = append(allocOpts, chromedp.Flag(key, value))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(name, true))
		}
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	return &Launcher{
		allocCtx: allocCtx,
		cancel:   cancel,
		opts:     opts,
		logger:   logger.Named("launcher"),
	}
}

// NewSession starts one browser instance and returns its session handle.
// Satisfies the pool's Factory signature.
func (l *Launcher) NewSession(ctx context.Context) (Session, error) {
	id := uuid.New().String()[:8]
	sessionCtx, cancel := chromedp.NewContext(l.allocCtx)

	s := &chromeSession{
		id:         id,
		ctx:        sessionCtx,
		cancel:     cancel,
		navTimeout: l.opts.NavigationTimeout,
		logger:     l.logger.Named("session").With(zap.String("session_id", id)),
	}

	// Starting the browser process and applying the per-session user agent
	// happens on the first Run. A blank navigation keeps it cheap.
	actions := []chromedp.Action{chromedp.Navigate("about:blank")}
	if ua := l.pickUserAgent(); ua != "" {
		actions = append([]chromedp.Action{emulation.SetUserAgentOverride(ua)}, actions...)
	}

	startCtx, startCancel := context.WithTimeout(sessionCtx, 30*time.Second)
	defer startCancel()
	if err := chromedp.Run(startCtx, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	s.logger.Debug("Browser session started.")
	return s, nil
}

// pickUserAgent rotates through the configured user agents at random.
func (l *Launcher) pickUserAgent() string {
	if len(l.opts.UserAgents) == 0 {
		return ""
	}
	return l.opts.UserAgents[rand.Intn(len(l.opts.UserAgents))]
}

// Close tears down the shared allocator. Call after Pool.Shutdown.
func (l *Launcher) Close() {
	l.cancel()
}

// chromeSession implements Session on top of a chromedp tab context.
type chromeSession struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
	logger     *zap.Logger
	closeOnce  sync.Once
}

func (s *chromeSession) ID() string { return s.id }

// run executes chromedp actions under the session context, bounded by the
// given timeout, aborting early if the caller's context is already dead.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opCtx, opCancel := context.WithTimeout(s.ctx, timeout)
	defer opCancel()

	// Propagate caller cancellation into the chromedp-derived context.
	stop := context.AfterFunc(ctx, opCancel)
	defer stop()

	return chromedp.Run(opCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.run(ctx, s.navTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (s *chromeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = domOpTimeout
	}
	if err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q not visible within %s: %w", selector, timeout, err)
	}
	return nil
}

func (s *chromeSession) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, domOpTimeout, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("failed to read current location: %w", err)
	}
	return location, nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var markup string
	if err := s.run(ctx, domOpTimeout, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page markup: %w", err)
	}
	return markup, nil
}

func (s *chromeSession) Visible(ctx context.Context, loc Locator) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		return !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
	})()`, loc.jsFind())

	var visible bool
	if err := s.run(ctx, domOpTimeout, chromedp.Evaluate(script, &visible)); err != nil {
		return false, fmt.Errorf("visibility probe for %s failed: %w", loc, err)
	}
	return visible, nil
}

// probeResult carries a nullable DOM read back from the page.
type probeResult struct {
	Found bool   `json:"found"`
	Has   bool   `json:"has"`
	Value string `json:"value"`
}

func (s *chromeSession) Text(ctx context.Context, loc Locator) (string, error) {
	script := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return {found: false, has: false, value: ""};
		return {found: true, has: true, value: (el.textContent || "").trim()};
	})()`, loc.jsFind())

	var res probeResult
	if err := s.run(ctx, domOpTimeout, chromedp.Evaluate(script, &res)); err != nil {
		return "", fmt.Errorf("text probe for %s failed: %w", loc, err)
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s", ErrNoSuchElement, loc)
	}
	return res.Value, nil
}

func (s *chromeSession) Attribute(ctx context.Context, loc Locator, name string) (string, bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return {found: false, has: false, value: ""};
		const v = el.getAttribute(%q);
		return {found: true, has: v !== null, value: v === null ? "" : v};
	})()`, loc.jsFind(), name)

	var res probeResult
	if err := s.run(ctx, domOpTimeout, chromedp.Evaluate(script, &res)); err != nil {
		return "", false, fmt.Errorf("attribute probe for %s failed: %w", loc, err)
	}
	if !res.Found {
		return "", false, fmt.Errorf("%w: %s", ErrNoSuchElement, loc)
	}
	return res.Value, res.Has, nil
}

func (s *chromeSession) Click(ctx context.Context, loc Locator) error {
	// Bring the control into the viewport first; off-screen controls make
	// native clicks land on the wrong element.
	scroll := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		el.scrollIntoView({block: "center"});
		return true;
	})()`, loc.jsFind())

	var present bool
	if err := s.run(ctx, domOpTimeout, chromedp.Evaluate(scroll, &present)); err != nil {
		return fmt.Errorf("scroll-into-view for %s failed: %w", loc, err)
	}
	if !present {
		return fmt.Errorf("%w: %s", ErrNoSuchElement, loc)
	}

	clickErr := s.run(ctx, 3*time.Second, chromedp.Click(loc.Expr, loc.by(), chromedp.NodeVisible))
	if clickErr == nil {
		return nil
	}

	// JS fallback, mirroring what works on listing sites whose controls
	// intercept pointer events.
	s.logger.Debug("Native click failed, falling back to JS click.",
		zap.String("locator", loc.String()), zap.Error(clickErr))

	jsClick := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		el.click();
		return true;
	})()`, loc.jsFind())

	var clicked bool
	if err := s.run(ctx, domOpTimeout, chromedp.Evaluate(jsClick, &clicked)); err != nil {
		return fmt.Errorf("js click for %s failed: %w", loc, err)
	}
	if !clicked {
		return fmt.Errorf("%w: %s", ErrNoSuchElement, loc)
	}
	return nil
}

func (s *chromeSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session.")
		s.cancel()
	})
	return nil
}
