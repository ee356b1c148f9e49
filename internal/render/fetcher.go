// Package render leases browser sessions to requests that need a JavaScript
// rendered page, and guarantees each lease is returned to the pool exactly
// once no matter how the request ends.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sablewing/modelgrab/internal/browser"
)

// SessionPool is the slice of the pool contract the fetcher needs.
type SessionPool interface {
	Acquire(ctx context.Context) (browser.Session, error)
	Release(browser.Session) error
}

// Request describes one render-required fetch.
type Request struct {
	URL string
	// WaitSelector, when set, is the readiness condition: the fetch is
	// complete once this CSS selector matches a visible element.
	WaitSelector string
	// Wait is the readiness timeout when WaitSelector is set, or the fixed
	// render delay when it is not.
	Wait time.Duration
	// KeepSession attaches the live session to the response so the caller
	// can keep driving it (multi-step pagination). The caller still owns
	// exactly one Finish call.
	KeepSession bool
}

// Response carries the rendered markup. Finish returns the underlying lease
// to the pool; it is idempotent and must be called on every response.
type Response struct {
	URL  string
	Body string
	// Session is the live browser session, populated only when the request
	// asked to keep driving it. Valid until Finish.
	Session browser.Session

	releaseOnce sync.Once
	release     func()
}

// Finish releases the session behind this response back to the pool.
// Safe to call more than once; only the first call releases.
func (r *Response) Finish() {
	r.releaseOnce.Do(func() {
		if r.release != nil {
			r.release()
		}
		r.Session = nil
	})
}

// NavigationError wraps failures between a successful lease and a captured
// body. The session is always back in the pool by the time it is returned.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation failed for %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Fetcher drives render-required requests through pooled sessions.
type Fetcher struct {
	pool        SessionPool
	defaultWait time.Duration
	logger      *zap.Logger
}

// NewFetcher builds a Fetcher. defaultWait applies when a request does not
// set its own readiness wait.
func NewFetcher(pool SessionPool, defaultWait time.Duration, logger *zap.Logger) *Fetcher {
	if defaultWait <= 0 {
		defaultWait = 3 * time.Second
	}
	return &Fetcher{
		pool:        pool,
		defaultWait: defaultWait,
		logger:      logger.Named("render"),
	}
}

// Fetch leases a session, navigates it to the request URL, applies the
// readiness condition, and snapshots the rendered markup.
//
// Lease discipline: exactly one release per acquire. On any failure after
// the acquire the session is released here, immediately, so pool capacity is
// never lost; on success the release is deferred into Response.Finish so the
// caller can keep driving the session first.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	session, err := f.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrPoolExhausted) {
			f.logger.Error("No session available; dropping request.",
				zap.String("url", req.URL), zap.Error(err))
		}
		return nil, err
	}

	release := func() {
		if rerr := f.pool.Release(session); rerr != nil {
			f.logger.Error("Failed to return session to pool.",
				zap.String("session_id", session.ID()), zap.Error(rerr))
		}
	}

	fail := func(cause error) (*Response, error) {
		release()
		f.logger.Error("Render fetch failed.",
			zap.String("url", req.URL),
			zap.String("session_id", session.ID()),
			zap.Error(cause))
		return nil, &NavigationError{URL: req.URL, Err: cause}
	}

	if err := session.Navigate(ctx, req.URL); err != nil {
		return fail(err)
	}

	wait := req.Wait
	if wait <= 0 {
		wait = f.defaultWait
	}
	if req.WaitSelector != "" {
		if err := session.WaitVisible(ctx, req.WaitSelector, wait); err != nil {
			return fail(err)
		}
	} else {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fail(ctx.Err())
		}
	}

	if current, err := session.CurrentURL(ctx); err == nil && current != req.URL {
		f.logger.Warn("Session URL differs from requested URL.",
			zap.String("requested", req.URL), zap.String("current", current))
	}

	body, err := session.HTML(ctx)
	if err != nil {
		return fail(err)
	}

	resp := &Response{
		URL:     req.URL,
		Body:    body,
		release: release,
	}
	if req.KeepSession {
		resp.Session = session
	}

	f.logger.Debug("Render fetch complete.",
		zap.String("url", req.URL),
		zap.Int("body_bytes", len(body)),
		zap.Bool("session_attached", req.KeepSession))
	return resp, nil
}
