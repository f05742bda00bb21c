package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling fn while the breaker is open
var ErrOpen = errors.New("circuit breaker is open")

// State of a breaker
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

type Settings struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int
	// Timeout is how long the breaker stays open before letting a trial call through.
	Timeout time.Duration
	// OnStateChange is optional.
	OnStateChange func(name string, from, to State)
}

type CircuitBreaker struct {
	name          string
	maxFailures   int
	timeout       time.Duration
	onStateChange func(name string, from, to State)

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       State
	now         func() time.Time
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = 5
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:          settings.Name,
		maxFailures:   settings.MaxFailures,
		timeout:       settings.Timeout,
		onStateChange: settings.OnStateChange,
		state:         StateClosed,
		now:           time.Now,
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State reports the current state, moving open to half-open once the timeout elapsed
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	cb.refresh()
	if cb.state == StateOpen {
		cb.mu.Unlock()
		return ErrOpen
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.setState(StateOpen)
		}
		return err
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
	}
	return nil
}

// refresh must be called with mu held
func (cb *CircuitBreaker) refresh() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) > cb.timeout {
		cb.setState(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}
