// Package circuitbreaker stops calls to an external service after repeated failures
// and lets a single probe through once a cooldown has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls are rejected
	StateHalfOpen              // one probe is in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling the service while the circuit is open
var ErrOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration
type Config struct {
	Name string

	// MaxFailures consecutive failures open the circuit; zero means 3
	MaxFailures int

	// Cooldown is how long the circuit stays open before a probe; zero means 5 minutes
	Cooldown time.Duration

	Now func() time.Time
}

// Breaker guards calls to one service
type Breaker struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New creates a closed breaker
func New(cfg Config, logger zerolog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger.With().Str("component", "circuit-breaker").Str("name", cfg.Name).Logger(),
	}
}

// Do calls fn unless the circuit is open, and records the outcome
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.setState(StateHalfOpen)
		return true
	case StateHalfOpen:
		// the probe has not reported yet
		return false
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.setState(StateClosed)
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
		b.openedAt = b.cfg.Now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.logger.Info().
		Str("from", b.state.String()).
		Str("to", s.String()).
		Int("failures", b.failures).
		Msg("Circuit breaker state changed")
	b.state = s
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.setState(StateClosed)
}
