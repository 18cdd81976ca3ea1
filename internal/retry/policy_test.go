package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"git.home.luguber.info/inful/webapk/internal/config"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Mode != config.RetryBackoffLinear {
		t.Fatalf("expected linear default mode got %s", p.Mode)
	}
	if p.Initial != time.Second || p.Max != 30*time.Second || p.MaxRetries != 2 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

// TestNewPolicyOverrides checks override precedence and clamping when initial > max.
func TestNewPolicyOverrides(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, 5*time.Second, 2*time.Second, 5)
	if p.Initial != 2*time.Second {
		t.Fatalf("expected clamped initial 2s got %v", p.Initial)
	}
	if p.Mode != config.RetryBackoffFixed {
		t.Fatalf("expected fixed mode got %s", p.Mode)
	}
	if p.MaxRetries != 5 {
		t.Fatalf("expected maxRetries 5 got %d", p.MaxRetries)
	}
}

func TestDelayModes(t *testing.T) {
	fixed := NewPolicy(config.RetryBackoffFixed, 100*time.Millisecond, 500*time.Millisecond, 3)
	for i := 1; i <= 3; i++ {
		if d := fixed.Delay(i); d != 100*time.Millisecond {
			t.Fatalf("fixed attempt %d expected 100ms got %v", i, d)
		}
	}

	linear := NewPolicy(config.RetryBackoffLinear, 100*time.Millisecond, 250*time.Millisecond, 5)
	cases := []struct {
		attempt int
		want    time.Duration
	}{{1, 100 * time.Millisecond}, {2, 200 * time.Millisecond}, {3, 250 * time.Millisecond}}
	for _, c := range cases {
		if d := linear.Delay(c.attempt); d != c.want {
			t.Fatalf("linear attempt %d expected %v got %v", c.attempt, c.want, d)
		}
	}

	exp := NewPolicy(config.RetryBackoffExponential, 100*time.Millisecond, 350*time.Millisecond, 5)
	if d := exp.Delay(2); d != 200*time.Millisecond {
		t.Fatalf("exponential attempt 2 expected 200ms got %v", d)
	}
	if d := exp.Delay(3); d != 350*time.Millisecond {
		t.Fatalf("exponential attempt 3 expected cap 350ms got %v", d)
	}
}

func TestFromContentConfig(t *testing.T) {
	p := FromContentConfig(config.ContentConfig{
		MaxRetries:        4,
		RetryBackoff:      config.RetryBackoffExponential,
		RetryInitialDelay: "2s",
		RetryMaxDelay:     "10s",
	})
	if p.MaxRetries != 4 || p.Initial != 2*time.Second || p.Max != 10*time.Second || p.Mode != config.RetryBackoffExponential {
		t.Fatalf("unexpected policy: %+v", p)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 3)
	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 5)
	permanent := errors.New("auth failed")
	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		return permanent
	}, func(err error) bool { return !errors.Is(err, permanent) })
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected single call with permanent error, got calls=%d err=%v", calls, err)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	p := NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 2)
	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		return errors.New("flaky")
	}, nil)
	if err == nil || calls != 3 {
		t.Fatalf("expected 3 calls and an error, got calls=%d err=%v", calls, err)
	}
}
