package supervisor

import (
	"testing"
	"time"

	"go.olrik.dev/warden/internal/core"
)

func TestCalculateBackoff(t *testing.T) {
	policy := core.RestartConfig{
		Delay:    3 * time.Second,
		Factor:   2,
		MaxDelay: time.Minute,
	}

	expected := map[int]time.Duration{
		1:  3 * time.Second,
		2:  6 * time.Second,
		3:  12 * time.Second,
		4:  24 * time.Second,
		5:  48 * time.Second,
		6:  time.Minute,
		10: time.Minute,
		50: time.Minute,
	}
	for n, want := range expected {
		if got := calculateBackoff(policy, n); got != want {
			t.Errorf("Attempt %d: expected %v, got %v", n, want, got)
		}
	}
}

func TestCalculateBackoffNeverDecreases(t *testing.T) {
	policy := core.RestartConfig{Delay: 250 * time.Millisecond, Factor: 1.5, MaxDelay: 10 * time.Second}

	prev := time.Duration(0)
	for n := 1; n <= 30; n++ {
		got := calculateBackoff(policy, n)
		if got < prev {
			t.Fatalf("Attempt %d: backoff decreased from %v to %v", n, prev, got)
		}
		if got > policy.MaxDelay {
			t.Fatalf("Attempt %d: backoff %v exceeds cap %v", n, got, policy.MaxDelay)
		}
		prev = got
	}
	if prev != policy.MaxDelay {
		t.Errorf("Expected backoff to reach the cap, got %v", prev)
	}
}

func TestCalculateBackoffFixedDelay(t *testing.T) {
	// Factor 1 reproduces a plain fixed delay
	policy := core.RestartConfig{Delay: 3 * time.Second, Factor: 1, MaxDelay: time.Minute}
	for n := 1; n <= 5; n++ {
		if got := calculateBackoff(policy, n); got != 3*time.Second {
			t.Errorf("Attempt %d: expected 3s, got %v", n, got)
		}
	}
}

func TestCrashBreakerTripsWithinWindow(t *testing.T) {
	policy := core.RestartConfig{MaxFailures: 3, FailureWindow: time.Minute}
	var b crashBreaker
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		n, tripped := b.record(policy, now.Add(time.Duration(i)*time.Second), time.Second)
		if n != i || tripped {
			t.Fatalf("Failure %d: expected n=%d untripped, got n=%d tripped=%v", i, i, n, tripped)
		}
	}
	n, tripped := b.record(policy, now.Add(3*time.Second), time.Second)
	if n != 3 || !tripped {
		t.Errorf("Expected third failure to trip the breaker, got n=%d tripped=%v", n, tripped)
	}

	b.reset()
	if n, tripped := b.record(policy, now.Add(4*time.Second), 0); n != 1 || tripped {
		t.Errorf("Expected reset breaker to start over, got n=%d tripped=%v", n, tripped)
	}
}

func TestCrashBreakerStreakResets(t *testing.T) {
	policy := core.RestartConfig{MaxFailures: 3, FailureWindow: time.Minute}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("long run", func(t *testing.T) {
		var b crashBreaker
		b.record(policy, now, time.Second)
		b.record(policy, now.Add(time.Second), time.Second)
		// The children stayed up longer than the window before this crash
		n, tripped := b.record(policy, now.Add(3*time.Minute), 2*time.Minute)
		if n != 1 || tripped {
			t.Errorf("Expected streak reset after a long run, got n=%d tripped=%v", n, tripped)
		}
	})

	t.Run("window elapsed", func(t *testing.T) {
		var b crashBreaker
		b.record(policy, now, time.Second)
		b.record(policy, now.Add(10*time.Second), time.Second)
		n, tripped := b.record(policy, now.Add(2*time.Minute), time.Second)
		if n != 1 || tripped {
			t.Errorf("Expected streak reset once the window elapsed, got n=%d tripped=%v", n, tripped)
		}
	})
}

func TestCrashBreakerDisabled(t *testing.T) {
	policy := core.RestartConfig{MaxFailures: 0, FailureWindow: time.Minute}
	var b crashBreaker
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		if _, tripped := b.record(policy, now, 0); tripped {
			t.Fatalf("Breaker tripped at failure %d with MaxFailures=0", i+1)
		}
	}
}

func TestCrashBreakerTripsWithDefaultPolicy(t *testing.T) {
	policy := core.GetDefaultConfig().Restart
	var b crashBreaker
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	start := now

	// A child that dies immediately, restarted after every backoff delay
	for i := 1; i <= policy.MaxFailures; i++ {
		n, tripped := b.record(policy, now, 0)
		if n != i {
			t.Fatalf("Failure %d: expected streak %d, got %d", i, i, n)
		}
		if tripped != (i == policy.MaxFailures) {
			t.Fatalf("Failure %d: expected tripped=%v, got %v", i, i == policy.MaxFailures, tripped)
		}
		now = now.Add(calculateBackoff(policy, n))
	}

	if elapsed := now.Sub(start); elapsed <= policy.FailureWindow {
		t.Errorf("Expected the crash loop to outlast the failure window, took %v", elapsed)
	}
}

func TestCrashBreakerStreakOutlastsWindowFromFirstFailure(t *testing.T) {
	policy := core.RestartConfig{MaxFailures: 4, FailureWindow: time.Minute}
	var b crashBreaker
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Each gap is under the window, the total is well over it
	for i := 1; i <= 3; i++ {
		if n, _ := b.record(policy, now, time.Second); n != i {
			t.Fatalf("Failure %d: expected streak %d, got %d", i, i, n)
		}
		now = now.Add(50 * time.Second)
	}
	n, tripped := b.record(policy, now, time.Second)
	if n != 4 || !tripped {
		t.Errorf("Expected fourth failure to trip, got n=%d tripped=%v", n, tripped)
	}
}
