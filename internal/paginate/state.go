package paginate

// State is the pagination state machine's position for one listing.
type State int

const (
	// StateLoaded: the current page's markup has been parsed and emitted.
	StateLoaded State = iota
	// StateAwaitingTransition: the next control was clicked; waiting for
	// evidence that new content replaced the old.
	StateAwaitingTransition
	// StateConfirmed: the transition was verified against the fingerprint
	// (and page indicator when present).
	StateConfirmed
	// StateExhausted: natural end of the listing (no usable next control, a
	// duplicate page, or the page limit).
	StateExhausted
	// StateFailed: a click produced no verifiable state change, or the
	// session broke mid-sequence. Fatal to this listing only.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateAwaitingTransition:
		return "awaiting_transition"
	case StateConfirmed:
		return "confirmed"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
