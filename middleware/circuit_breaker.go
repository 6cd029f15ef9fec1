package middleware

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lunaris82/sqlkit/pool"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreakerListener fails checkouts fast while the backend is in
// trouble. Creator failures and connection invalidations count as failures;
// once the threshold is reached the breaker opens, and after the reset
// timeout a single probe checkout is let through to test the water.
type CircuitBreakerListener struct {
	pool.BaseListener

	Threshold    int           // Number of failures before opening
	ResetTimeout time.Duration // Time to wait before half-open

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreakerListener {
	return &CircuitBreakerListener{
		Threshold:    threshold,
		ResetTimeout: resetTimeout,
	}
}

func (m *CircuitBreakerListener) Name() string {
	return "CircuitBreaker"
}

// State returns the breaker's current state.
func (m *CircuitBreakerListener) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *CircuitBreakerListener) Checkout(raw any, rec *pool.ConnRecord, c *pool.PooledConn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateOpen {
		if time.Since(m.lastFailure) < m.ResetTimeout {
			return fmt.Errorf("%w: %d consecutive connection failures", ErrCircuitOpen, m.failures)
		}
		m.state = StateHalfOpen
	}
	return nil
}

func (m *CircuitBreakerListener) Connect(raw any, rec *pool.ConnRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// a successful connect closes the breaker again
	m.state = StateClosed
	m.failures = 0
}

func (m *CircuitBreakerListener) ConnectError(rec *pool.ConnRecord, err error) {
	m.recordFailure()
}

func (m *CircuitBreakerListener) Invalidate(raw any, rec *pool.ConnRecord, cause error) {
	m.recordFailure()
}

func (m *CircuitBreakerListener) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.lastFailure = time.Now()
	if m.failures >= m.Threshold {
		m.state = StateOpen
	}
}
