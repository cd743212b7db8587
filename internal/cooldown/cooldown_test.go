package cooldown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCheckAndStamp(t *testing.T) {
	c := clockwork.NewFakeClockAt(epoch)
	tracker := New(c)

	if out := tracker.CheckAndStamp("u1", "edit-role", time.Minute); !out.Allowed {
		t.Fatalf("expected first use to be allowed, got %+v", out)
	}

	out := tracker.CheckAndStamp("u1", "edit-role", time.Minute)
	if out.Allowed {
		t.Fatalf("expected second use to be blocked")
	}
	if out.Seconds() != 60 {
		t.Fatalf("expected 60 seconds remaining, got %d", out.Seconds())
	}

	c.Advance(61 * time.Second)

	if out := tracker.CheckAndStamp("u1", "edit-role", time.Minute); !out.Allowed {
		t.Fatalf("expected use after the window to be allowed, got %+v", out)
	}
}

func TestCheckAndStampRemainingRoundsUp(t *testing.T) {
	c := clockwork.NewFakeClockAt(epoch)
	tracker := New(c)

	tracker.CheckAndStamp("u1", "role", 10*time.Second)

	tests := []struct {
		elapsed time.Duration
		seconds int
	}{
		{0, 10},
		{100 * time.Millisecond, 10},
		{1 * time.Second, 9},
		{8500 * time.Millisecond, 2},
		{9999 * time.Millisecond, 1},
	}

	var elapsed time.Duration
	for _, test := range tests {
		c.Advance(test.elapsed - elapsed)
		elapsed = test.elapsed

		out := tracker.CheckAndStamp("u1", "role", 10*time.Second)
		if out.Allowed {
			t.Fatalf("at %v: expected to be blocked", test.elapsed)
		}
		if out.Seconds() != test.seconds {
			t.Errorf("at %v: expected %d seconds, got %d", test.elapsed, test.seconds, out.Seconds())
		}
		if out.Seconds() <= 0 || out.Seconds() > 10 {
			t.Errorf("at %v: seconds %d out of range", test.elapsed, out.Seconds())
		}
	}

	c.Advance(10*time.Second - elapsed)
	if out := tracker.CheckAndStamp("u1", "role", 10*time.Second); !out.Allowed {
		t.Fatalf("expected to be allowed exactly at expiry")
	}
}

func TestCheckAndStampNoWindow(t *testing.T) {
	tracker := New(clockwork.NewFakeClockAt(epoch))

	for _, window := range []time.Duration{0, -time.Second} {
		for i := 0; i < 3; i++ {
			if out := tracker.CheckAndStamp("u1", "role", window); !out.Allowed {
				t.Fatalf("window %v: expected allowed", window)
			}
		}
	}

	if tracker.Len() != 0 {
		t.Fatalf("expected nothing stamped, got %d records", tracker.Len())
	}
}

func TestCheckAndStampIndependentKeys(t *testing.T) {
	tracker := New(clockwork.NewFakeClockAt(epoch))

	tracker.CheckAndStamp("u1", "role", time.Minute)

	if out := tracker.CheckAndStamp("u2", "role", time.Minute); !out.Allowed {
		t.Fatalf("expected another subject to be allowed")
	}
	if out := tracker.CheckAndStamp("u1", "testrole", time.Minute); !out.Allowed {
		t.Fatalf("expected another action to be allowed")
	}
}

func TestCheckAndStampConcurrent(t *testing.T) {
	tracker := New(nil)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.CheckAndStamp("u1", "role", time.Hour).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := allowed.Load(); n != 1 {
		t.Fatalf("expected exactly one allowed caller, got %d", n)
	}
}

func TestClear(t *testing.T) {
	tracker := New(clockwork.NewFakeClockAt(epoch))

	tracker.CheckAndStamp("u1", "role", time.Hour)
	tracker.Clear("u1", "role")
	tracker.Clear("u1", "role")

	if out := tracker.CheckAndStamp("u1", "role", time.Hour); !out.Allowed {
		t.Fatalf("expected cleared cooldown to allow")
	}
}

func TestSweep(t *testing.T) {
	c := clockwork.NewFakeClockAt(epoch)
	tracker := New(c)

	tracker.CheckAndStamp("u1", "role", time.Second)
	tracker.CheckAndStamp("u2", "role", time.Minute)

	c.Advance(2 * time.Second)

	if n := tracker.Sweep(); n != 1 {
		t.Fatalf("expected 1 record swept, got %d", n)
	}
	if tracker.Len() != 1 {
		t.Fatalf("expected 1 record left, got %d", tracker.Len())
	}
	if out := tracker.CheckAndStamp("u2", "role", time.Minute); out.Allowed {
		t.Fatalf("sweep must not release a live cooldown")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	tracker := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tracker.Run(ctx, time.Millisecond) }()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRunSweeps(t *testing.T) {
	c := clockwork.NewFakeClockAt(epoch)
	tracker := New(c)

	tracker.CheckAndStamp("u1", "role", time.Second)
	tracker.CheckAndStamp("u2", "role", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go tracker.Run(ctx, time.Minute)

	// Wait for the ticker to be registered before moving time.
	c.BlockUntil(1)
	c.Advance(time.Minute)

	deadline := time.Now().Add(time.Second)
	for tracker.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 record left after a tick, got %d", tracker.Len())
		}
		time.Sleep(time.Millisecond)
	}

	if out := tracker.CheckAndStamp("u2", "role", time.Hour); out.Allowed {
		t.Fatalf("sweep must not release a live cooldown")
	}
}
