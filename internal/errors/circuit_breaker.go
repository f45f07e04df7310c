package errors

import (
	stderrors "errors"
	"sync"
	"time"
)

const (
	// ErrorThreshold is the failure ratio at which a closed breaker opens.
	ErrorThreshold      = 0.5
	MinRequests         = 10
	TimeoutDuration     = 30 * time.Second
	HalfOpenMaxRequests = 3
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

var (
	ErrCircuitOpen   = stderrors.New("circuit breaker is open")
	errProbeRejected = stderrors.New("circuit breaker is probing, call rejected")
)

// counts is the outcome tally of the current closed or half-open period.
type counts struct {
	calls, failures, successes int
}

// CircuitBreaker short-circuits calls to Telegram once the failure ratio over at least
// minRequests calls reaches ErrorThreshold. After openTimeout it lets HalfOpenMaxRequests probe
// calls through: one failure reopens it, that many successes close it.
type CircuitBreaker struct {
	minRequests int
	openTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	tally    counts
	openedAt time.Time
}

type BreakerOption func(*CircuitBreaker)

func WithMinRequests(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.minRequests = n
		}
	}
}

func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.openTimeout = d
		}
	}
}

func withClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{minRequests: MinRequests, openTimeout: TimeoutDuration, now: time.Now}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Call runs fn unless the breaker rejects it, and returns fn's error unchanged.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.openTimeout {
			return ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateHalfOpen && cb.tally.calls >= HalfOpenMaxRequests {
		return errProbeRejected
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.tally.calls++
	if err == nil {
		cb.tally.successes++
		if cb.state == StateHalfOpen && cb.tally.successes >= HalfOpenMaxRequests {
			cb.moveTo(StateClosed)
		}
		return
	}

	cb.tally.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.moveTo(StateOpen)
	case cb.tally.calls >= cb.minRequests &&
		float64(cb.tally.failures)/float64(cb.tally.calls) >= ErrorThreshold:
		cb.moveTo(StateOpen)
	}
}

// moveTo switches state and starts a fresh tally. Callers hold mu.
func (cb *CircuitBreaker) moveTo(s State) {
	cb.state = s
	cb.tally = counts{}
	if s == StateOpen {
		cb.openedAt = cb.now()
	}
}
