package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is a component that releases its resources on shutdown
type Closer interface {
	Close() error
}

// Func is a cleanup step that honours the shutdown deadline
type Func func(ctx context.Context) error

// Priorities for monitorframe components, lower runs first
const (
	PriorityScheduler = 10 // stop starting new monitor cycles
	PriorityMonitors  = 20 // cancel an in-flight manual run
	PriorityMetrics   = 30 // log the run summary
	PriorityStorage   = 80 // report backends
	PriorityDatabase  = 90 // data and results stores last
)

type step struct {
	name     string
	priority int
	seq      int
	run      Func
}

// Coordinator runs registered cleanup steps in priority order, once
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	done         chan struct{}
	err          error
}

// New creates a coordinator whose Shutdown gives up after timeout
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout: timeout,
		logger:  logger.With().Str("component", "shutdown").Logger(),
		done:    make(chan struct{}),
	}
}

// Register closes c during shutdown
func (c *Coordinator) Register(name string, closer Closer, priority int) {
	c.RegisterHook(name, func(context.Context) error { return closer.Close() }, priority)
}

// RegisterHook runs fn during shutdown. Steps with equal priority run in registration order.
func (c *Coordinator) RegisterHook(name string, fn Func, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, step{name: name, priority: priority, seq: len(c.steps), run: fn})

	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered for shutdown")
}

// Done is closed once shutdown has been triggered
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// WaitForSignal blocks until SIGINT, SIGTERM, TriggerShutdown or ctx is done
func (c *Coordinator) WaitForSignal(ctx context.Context) os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return sig
	case <-c.done:
		return syscall.SIGTERM
	case <-ctx.Done():
		return syscall.SIGTERM
	}
}

// TriggerShutdown wakes WaitForSignal. Safe to call concurrently.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.done)
	})
}

// Shutdown runs every step once and returns all step failures joined.
// Steps not reached before the timeout are skipped.
func (c *Coordinator) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() { close(c.done) })

		c.mu.Lock()
		steps := append([]step(nil), c.steps...)
		c.mu.Unlock()
		sort.SliceStable(steps, func(i, j int) bool {
			if steps[i].priority != steps[j].priority {
				return steps[i].priority < steps[j].priority
			}
			return steps[i].seq < steps[j].seq
		})

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("steps", len(steps)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		var errs []error
		for i, s := range steps {
			if ctx.Err() != nil {
				c.logger.Warn().
					Int("skipped", len(steps)-i).
					Msg("Shutdown timeout reached, skipping remaining steps")
				errs = append(errs, ctx.Err())
				break
			}

			if err := s.run(ctx); err != nil {
				c.logger.Error().Err(err).Str("name", s.name).Msg("Shutdown step failed")
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				continue
			}
			c.logger.Debug().Str("name", s.name).Msg("Shutdown step complete")
		}

		c.err = errors.Join(errs...)
		c.logger.Info().
			Dur("duration", time.Since(start)).
			Bool("clean", c.err == nil).
			Msg("Graceful shutdown complete")
	})

	return c.err
}
