package shutdown

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closer struct {
	name  string
	order *[]string
	err   error
}

func (c *closer) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestShutdown_Order(t *testing.T) {
	var order []string
	c := New(time.Second, zerolog.Nop())

	c.Register("results-db", &closer{name: "results-db", order: &order}, PriorityDatabase)
	c.Register("reports", &closer{name: "reports", order: &order}, PriorityStorage)
	c.RegisterHook("scheduler", func(context.Context) error {
		order = append(order, "scheduler")
		return nil
	}, PriorityScheduler)
	c.Register("data-db", &closer{name: "data-db", order: &order}, PriorityDatabase)

	require.NoError(t, c.Shutdown())
	assert.Equal(t, []string{"scheduler", "reports", "results-db", "data-db"}, order)
}

func TestShutdown_Once(t *testing.T) {
	calls := 0
	c := New(time.Second, zerolog.Nop())
	c.RegisterHook("count", func(context.Context) error {
		calls++
		return nil
	}, 0)

	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Shutdown())
	assert.Equal(t, 1, calls)
}

func TestShutdown_JoinsErrors(t *testing.T) {
	var order []string
	first := errors.New("flush failed")
	second := errors.New("close failed")

	c := New(time.Second, zerolog.Nop())
	c.Register("a", &closer{name: "a", order: &order, err: first}, 1)
	c.Register("b", &closer{name: "b", order: &order, err: second}, 2)
	c.Register("c", &closer{name: "c", order: &order}, 3)

	err := c.Shutdown()
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Equal(t, []string{"a", "b", "c"}, order, "failures do not stop later steps")

	// the result is remembered
	assert.ErrorIs(t, c.Shutdown(), first)
}

func TestShutdown_Timeout(t *testing.T) {
	reached := false
	c := New(20*time.Millisecond, zerolog.Nop())
	c.RegisterHook("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}, 1)
	c.RegisterHook("late", func(context.Context) error {
		reached = true
		return nil
	}, 2)

	err := c.Shutdown()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, reached)
}

func TestTriggerShutdown(t *testing.T) {
	c := New(time.Second, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.TriggerShutdown()
		}()
	}
	wg.Wait()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed after TriggerShutdown")
	}

	// Shutdown after a trigger must not close the channel twice
	require.NoError(t, c.Shutdown())
}

func TestWaitForSignal(t *testing.T) {
	c := New(time.Second, zerolog.Nop())

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.TriggerShutdown()
	}()
	assert.Equal(t, syscall.SIGTERM, c.WaitForSignal(context.Background()))

	c2 := New(time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, syscall.SIGTERM, c2.WaitForSignal(ctx))
}
