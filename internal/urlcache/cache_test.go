package urlcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSigner struct {
	mu    sync.Mutex
	calls int
	err   error
	// gate, when non-nil, blocks SignURL until released. Used to pile up
	// concurrent resolves.
	gate chan struct{}
}

func (f *fakeSigner) SignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	gate := f.gate
	err := f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://storage.local/%s?sig=%d", key, n), nil
}

func (f *fakeSigner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const ttl = 7 * 24 * time.Hour

func testClock(start time.Time) (func() time.Time, func(d time.Duration)) {
	var mu sync.Mutex
	now := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}
}

func TestResolveCachesWithinSafetyMargin(t *testing.T) {
	signer := &fakeSigner{}
	now, advance := testClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	c := New(signer, ttl, WithClock(now))
	ctx := context.Background()

	first, err := c.Resolve(ctx, "att-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// 80% of the TTL is inside the 90% margin: still a cache hit.
	advance(ttl / 10 * 8)
	second, err := c.Resolve(ctx, "att-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if second.URL != first.URL {
		t.Errorf("expected cached URL, got a new one")
	}
	if signer.callCount() != 1 {
		t.Errorf("expected 1 sign call, got %d", signer.callCount())
	}
}

func TestResolveRefreshesPastSafetyMargin(t *testing.T) {
	signer := &fakeSigner{}
	now, advance := testClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	c := New(signer, ttl, WithClock(now))
	ctx := context.Background()

	first, err := c.Resolve(ctx, "att-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// 95% of the TTL: the URL is technically still valid, but past the margin.
	advance(ttl / 100 * 95)
	second, err := c.Resolve(ctx, "att-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if second.URL == first.URL {
		t.Error("expected a fresh URL past the safety margin")
	}
	if signer.callCount() != 2 {
		t.Errorf("expected 2 sign calls, got %d", signer.callCount())
	}
}

func TestKeysAreIndependent(t *testing.T) {
	signer := &fakeSigner{}
	c := New(signer, ttl)
	ctx := context.Background()

	a, _ := c.Resolve(ctx, "att-1")
	b, _ := c.Resolve(ctx, "att-2")
	if a.URL == b.URL {
		t.Error("different keys should get different URLs")
	}
	if signer.callCount() != 2 {
		t.Errorf("expected 2 sign calls, got %d", signer.callCount())
	}
}

func TestConcurrentResolvesCoalesce(t *testing.T) {
	gate := make(chan struct{})
	signer := &fakeSigner{gate: gate}
	c := New(signer, ttl)
	ctx := context.Background()

	const n = 8
	var started, finished sync.WaitGroup
	var failures atomic.Int32
	urls := make([]string, n)
	started.Add(n)
	finished.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer finished.Done()
			started.Done()
			u, err := c.Resolve(ctx, "att-1")
			if err != nil {
				failures.Add(1)
				return
			}
			urls[i] = u.URL
		}(i)
	}
	started.Wait()
	// Give the stragglers a beat to join the in-flight call, then release.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	finished.Wait()

	if failures.Load() != 0 {
		t.Fatalf("%d resolves failed", failures.Load())
	}
	if signer.callCount() != 1 {
		t.Errorf("expected a single coalesced sign call, got %d", signer.callCount())
	}
	for i := 1; i < n; i++ {
		if urls[i] != urls[0] {
			t.Errorf("caller %d got %s, want %s", i, urls[i], urls[0])
		}
	}
}

func TestSignErrorNotCached(t *testing.T) {
	signer := &fakeSigner{err: errors.New("storage down")}
	c := New(signer, ttl)
	ctx := context.Background()

	if _, err := c.Resolve(ctx, "att-1"); err == nil {
		t.Fatal("expected error from failing signer")
	}

	signer.mu.Lock()
	signer.err = nil
	signer.mu.Unlock()

	if _, err := c.Resolve(ctx, "att-1"); err != nil {
		t.Errorf("Resolve after recovery failed: %v", err)
	}
	if signer.callCount() != 2 {
		t.Errorf("expected a retry sign call, got %d calls", signer.callCount())
	}
}

func TestDoRetriesOnceOnRejection(t *testing.T) {
	signer := &fakeSigner{}
	c := New(signer, ttl)
	ctx := context.Background()

	attempts := 0
	err := c.Do(ctx, "att-1", func(url string) error {
		attempts++
		if attempts == 1 {
			// Stale URL: storage answers 401 even though the cache thought
			// the entry was fresh.
			return fmt.Errorf("download: %w", ErrURLRejected)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if signer.callCount() != 2 {
		t.Errorf("expected a re-sign after invalidation, got %d calls", signer.callCount())
	}
}

func TestDoSecondRejectionIsTerminal(t *testing.T) {
	signer := &fakeSigner{}
	c := New(signer, ttl)
	ctx := context.Background()

	attempts := 0
	err := c.Do(ctx, "att-1", func(url string) error {
		attempts++
		return fmt.Errorf("download: %w", ErrURLRejected)
	})

	var expired *ExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("expected ExpiredError, got %v", err)
	}
	if expired.Key != "att-1" {
		t.Errorf("expected key att-1, got %s", expired.Key)
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestDoPassesThroughOtherErrors(t *testing.T) {
	signer := &fakeSigner{}
	c := New(signer, ttl)
	ctx := context.Background()

	boom := errors.New("disk full")
	attempts := 0
	err := c.Do(ctx, "att-1", func(url string) error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("a non-rejection error must not trigger a retry, got %d attempts", attempts)
	}
}

func TestInvalidateForcesResign(t *testing.T) {
	signer := &fakeSigner{}
	c := New(signer, ttl)
	ctx := context.Background()

	first, _ := c.Resolve(ctx, "att-1")
	c.Invalidate("att-1")
	second, _ := c.Resolve(ctx, "att-1")
	if first.URL == second.URL {
		t.Error("expected a fresh URL after Invalidate")
	}
}
