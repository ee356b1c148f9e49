package browser

import (
	"errors"
	"strings"
)

var (
	// ErrPoolExhausted is returned when no session becomes available within
	// the acquisition timeout. Recoverable: the caller may skip or retry.
	ErrPoolExhausted = errors.New("browser: session pool exhausted")

	// ErrPoolClosed is returned when acquiring from a pool after Shutdown.
	ErrPoolClosed = errors.New("browser: session pool closed")

	// ErrNotLeased is returned when releasing a session the pool does not
	// recognize as currently leased. Releasing twice is a caller bug; the
	// pool refuses rather than corrupting its invariants.
	ErrNotLeased = errors.New("browser: session not leased from this pool")

	// ErrStaleReference marks failures caused by the page mutating under a
	// held DOM reference. Recovered locally by RetryStale.
	ErrStaleReference = errors.New("browser: stale element reference")

	// ErrNoSuchElement is returned by DOM probes when the locator resolves
	// to nothing. Distinct from staleness: the element was never found.
	ErrNoSuchElement = errors.New("browser: no such element")
)

// staleMarkers are the CDP error fragments that indicate a previously valid
// node or execution context has been invalidated by a page mutation.
var staleMarkers = []string{
	"could not find node",
	"no node with given id found",
	"node with given id does not belong to the document",
	"cannot find context with specified id",
	"execution context was destroyed",
	"detached from document",
}

// IsStale reports whether err belongs to the stale-reference error class.
func IsStale(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStaleReference) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range staleMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
