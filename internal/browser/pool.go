package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Factory creates one browser session. Pool calls it capacity times at
// startup.
type Factory func(ctx context.Context) (Session, error)

// PoolOptions configures a session pool.
type PoolOptions struct {
	// Capacity is the number of sessions to create at startup.
	Capacity int
	// AcquireTimeout bounds how long Acquire blocks when every session is
	// leased before reporting ErrPoolExhausted.
	AcquireTimeout time.Duration
}

// Pool is a bounded, thread-safe pool of browser sessions. Every session is
// either in the available queue or recorded as leased, never both, so
// available + leased == capacity holds at all times.
type Pool struct {
	available chan Session
	// done is closed by Shutdown so blocked acquirers fail fast instead of
	// waiting out their full timeout.
	done     chan struct{}
	capacity int
	timeout  time.Duration
	served   atomic.Uint64
	logger   *zap.Logger

	mu     sync.Mutex
	leased map[string]Session
	closed bool
}

// PoolStats is a point-in-time snapshot of pool accounting.
type PoolStats struct {
	Available int
	Leased    int
	Capacity  int
	Served    uint64
}

// NewPool synchronously creates up to opts.Capacity sessions. Individual
// startup failures are tolerated: the pool opens with however many sessions
// succeeded and logs the shortfall. Only a total failure is an error.
func NewPool(ctx context.Context, opts PoolOptions, factory Factory, logger *zap.Logger) (*Pool, error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("pool capacity must be positive, got %d", opts.Capacity)
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 30 * time.Second
	}

	log := logger.Named("session_pool")
	available := make(chan Session, opts.Capacity)

	created := 0
	for i := 0; i < opts.Capacity; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		s, err := factory(ctx)
		if err != nil {
			log.Error("Failed to start browser session.",
				zap.Int("index", i), zap.Error(err))
			continue
		}
		available <- s
		created++
	}

	if created == 0 {
		return nil, fmt.Errorf("failed to start any of %d browser sessions", opts.Capacity)
	}
	if created < opts.Capacity {
		log.Warn("Session pool opened below requested capacity.",
			zap.Int("requested", opts.Capacity), zap.Int("created", created))
	} else {
		log.Info("Session pool ready.", zap.Int("capacity", created))
	}

	return &Pool{
		available: available,
		done:      make(chan struct{}),
		capacity:  created,
		timeout:   opts.AcquireTimeout,
		logger:    log,
		leased:    make(map[string]Session, created),
	}, nil
}

// Acquire blocks until a session is available, the caller's context is
// cancelled, or the pool's acquire timeout elapses. On timeout it reports
// ErrPoolExhausted; the pool itself stays healthy. A successful acquire
// grants exclusive possession until Release.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case s := <-p.available:
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			// Lost the race with Shutdown; this session is ours to clean up.
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Close(closeCtx); err != nil {
				p.logger.Warn("Failed to close session acquired during shutdown.",
					zap.String("session_id", s.ID()), zap.Error(err))
			}
			return nil, ErrPoolClosed
		}
		p.leased[s.ID()] = s
		p.mu.Unlock()
		p.served.Add(1)
		p.logger.Debug("Session acquired.",
			zap.String("session_id", s.ID()),
			zap.Uint64("total_served", p.served.Load()))
		return s, nil
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no session available within %s", ErrPoolExhausted, p.timeout)
	}
}

// Release returns a leased session to the available set. Only sessions the
// pool currently records as leased are accepted; anything else (double
// release, foreign session) is refused with ErrNotLeased so the pool's
// accounting cannot be corrupted by a misbehaving caller.
func (p *Pool) Release(s Session) error {
	if s == nil {
		return fmt.Errorf("%w: nil session", ErrNotLeased)
	}

	p.mu.Lock()
	if _, ok := p.leased[s.ID()]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: session %s", ErrNotLeased, s.ID())
	}
	delete(p.leased, s.ID())
	closed := p.closed
	p.mu.Unlock()

	if closed {
		// The crawl is over; terminate instead of re-queueing.
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			p.logger.Warn("Failed to close session released after shutdown.",
				zap.String("session_id", s.ID()), zap.Error(err))
		}
		return nil
	}

	p.available <- s
	p.logger.Debug("Session released.", zap.String("session_id", s.ID()))
	return nil
}

// Stats reports current pool accounting.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Available: len(p.available),
		Leased:    len(p.leased),
		Capacity:  p.capacity,
		Served:    p.served.Load(),
	}
}

// Shutdown terminates every session: all available ones, and best-effort the
// leased-but-unreturned ones. Safe to call once at crawl end; subsequent
// calls are no-ops.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	// Leased entries stay recorded so a late Release is still recognized;
	// Session.Close is idempotent, so closing here and again on release is
	// harmless.
	abandoned := make([]Session, 0, len(p.leased))
	for _, s := range p.leased {
		abandoned = append(abandoned, s)
	}
	p.mu.Unlock()

	terminated := 0
	failures := 0

	drain := func(s Session) {
		if err := s.Close(ctx); err != nil {
			failures++
			p.logger.Warn("Failed to terminate session.",
				zap.String("session_id", s.ID()), zap.Error(err))
			return
		}
		terminated++
	}

	for {
		select {
		case s := <-p.available:
			drain(s)
			continue
		default:
		}
		break
	}

	for _, s := range abandoned {
		p.logger.Warn("Terminating session that was never released.",
			zap.String("session_id", s.ID()))
		drain(s)
	}

	p.logger.Info("Session pool shut down.",
		zap.Int("terminated", terminated),
		zap.Int("failures", failures),
		zap.Uint64("total_served", p.served.Load()))
}
