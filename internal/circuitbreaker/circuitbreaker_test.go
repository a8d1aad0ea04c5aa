package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errRelay = errors.New("relay down")

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{Name: "smtp"}, zerolog.Nop())
	if b.cfg.MaxFailures != 3 {
		t.Errorf("MaxFailures = %d, want 3", b.cfg.MaxFailures)
	}
	if b.cfg.Cooldown != 5*time.Minute {
		t.Errorf("Cooldown = %v, want 5m", b.cfg.Cooldown)
	}
	if b.State() != StateClosed {
		t.Errorf("State = %s, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)}
	b := New(Config{MaxFailures: 2, Cooldown: time.Minute, Now: clk.Now}, zerolog.Nop())

	fail := func() error { return errRelay }
	calls := 0
	ok := func() error { calls++; return nil }

	// a success in between resets the count
	b.Do(fail)
	b.Do(ok)
	b.Do(fail)
	if b.State() != StateClosed {
		t.Fatalf("State = %s, want closed", b.State())
	}

	if err := b.Do(fail); !errors.Is(err, errRelay) {
		t.Fatalf("Do() = %v, want relay error", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("State = %s, want open", b.State())
	}

	if err := b.Do(ok); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() while open = %v, want ErrOpen", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)}
	b := New(Config{MaxFailures: 1, Cooldown: time.Minute, Now: clk.Now}, zerolog.Nop())

	b.Do(func() error { return errRelay })
	if b.State() != StateOpen {
		t.Fatalf("State = %s, want open", b.State())
	}

	// failed probe reopens
	clk.now = clk.now.Add(2 * time.Minute)
	if err := b.Do(func() error { return errRelay }); !errors.Is(err, errRelay) {
		t.Fatalf("probe = %v, want relay error", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("State = %s, want open", b.State())
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() right after failed probe = %v, want ErrOpen", err)
	}

	// successful probe closes
	clk.now = clk.now.Add(2 * time.Minute)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe = %v, want nil", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State = %s, want closed", b.State())
	}
}

func TestBreaker_HalfOpenRejectsConcurrentCalls(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)}
	b := New(Config{MaxFailures: 1, Cooldown: time.Minute, Now: clk.Now}, zerolog.Nop())
	b.Do(func() error { return errRelay })
	clk.now = clk.now.Add(2 * time.Minute)

	var inner error
	b.Do(func() error {
		inner = b.Do(func() error { return nil })
		return nil
	})
	if !errors.Is(inner, ErrOpen) {
		t.Errorf("call during probe = %v, want ErrOpen", inner)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := New(Config{MaxFailures: 1}, zerolog.Nop())
	b.Do(func() error { return errRelay })
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("State = %s, want closed", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Errorf("Do() after reset = %v", err)
	}
}
