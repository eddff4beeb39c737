package memorycache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torutek/authkit/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestTakeIsSingleUse(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.Set(ctx, "n", []byte("user-42"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	v, ok, err := c.Take(ctx, "n")
	if err != nil || !ok || string(v) != "user-42" {
		t.Fatalf("first take = %q, %v, %v", v, ok, err)
	}
	if _, ok, _ := c.Take(ctx, "n"); ok {
		t.Fatal("second take must miss")
	}
}

func TestExpiryUsesInjectedClock(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New(WithClock(clock.Now))
	ctx := context.Background()

	_ = c.Set(ctx, "n", []byte("k"), 10*time.Minute)

	clock.Advance(10*time.Minute - time.Second)
	if _, ok, _ := c.Get(ctx, "n"); !ok {
		t.Fatal("entry should still be live just before expiry")
	}

	clock.Advance(time.Second)
	if _, ok, _ := c.Take(ctx, "n"); ok {
		t.Fatal("entry must be unreachable at its deadline")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped on access, len=%d", c.Len())
	}
}

func TestSetRejectsNonPositiveTTL(t *testing.T) {
	c := New()
	if err := c.Set(context.Background(), "n", nil, 0); !errors.Is(err, cache.ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}

func TestCompareAndDelete(t *testing.T) {
	c := New()
	ctx := context.Background()
	_ = c.Set(ctx, "n", []byte("a"), time.Minute)

	if ok, _ := c.CompareAndDelete(ctx, "n", []byte("b")); ok {
		t.Fatal("mismatched compare must not delete")
	}
	if ok, _ := c.CompareAndDelete(ctx, "n", []byte("a")); !ok {
		t.Fatal("matching compare must delete")
	}
	if _, ok, _ := c.Get(ctx, "n"); ok {
		t.Fatal("entry should be gone")
	}
}

func TestJanitorSweepsExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New(WithClock(clock.Now), WithSweepInterval(5*time.Millisecond))
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), time.Second)
	_ = c.Set(ctx, "b", []byte("2"), time.Hour)
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not sweep, len=%d", c.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConcurrentTakeSingleWinner(t *testing.T) {
	c := New()
	ctx := context.Background()
	_ = c.Set(ctx, "n", []byte("k"), time.Minute)

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, ok, _ := c.Take(ctx, "n"); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected one winner, got %d", winners)
	}
}
