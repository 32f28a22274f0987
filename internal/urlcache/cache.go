// Package urlcache maps storage object keys to short-lived signed URLs,
// refreshing them before they expire. Entries live for the viewing session
// only; nothing is persisted.
package urlcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrURLRejected is what consumers wrap when storage answers a 401/403 on
// *use* of a signed URL. It triggers one invalidate-and-retry in Do.
var ErrURLRejected = errors.New("signed url rejected by storage")

// ExpiredError is terminal for one attachment: the URL was refreshed once and
// storage rejected it again.
type ExpiredError struct {
	Key string
	Err error
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("signed url for %s expired after refresh: %v", e.Key, e.Err)
}

func (e *ExpiredError) Unwrap() error { return e.Err }

// SignedURL is a derived, expendable artifact. FreshUntil applies a 10%
// safety margin before the real expiry so a URL is never handed out when it
// could lapse mid-download.
type SignedURL struct {
	URL      string
	IssuedAt time.Time
	TTL      time.Duration
}

func (u SignedURL) FreshUntil() time.Time {
	return u.IssuedAt.Add(u.TTL / 10 * 9)
}

// Signer requests a fresh signed URL from the storage collaborator.
type Signer interface {
	SignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Option func(*Cache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is shared by every attachment-rendering surface in a session.
// Concurrent resolves for the same key coalesce into a single sign request.
type Cache struct {
	signer Signer
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	entries  map[string]SignedURL
	inflight map[string]*resolveCall
}

type resolveCall struct {
	done chan struct{}
	url  SignedURL
	err  error
}

func New(signer Signer, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		signer:   signer,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]SignedURL),
		inflight: make(map[string]*resolveCall),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns a signed URL for the key, from cache while the entry is
// inside its safety margin, otherwise via one network sign request no matter
// how many callers ask at once.
func (c *Cache) Resolve(ctx context.Context, key string) (SignedURL, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && c.now().Before(entry.FreshUntil()) {
		c.mu.Unlock()
		return entry, nil
	}
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.url, call.err
		case <-ctx.Done():
			return SignedURL{}, ctx.Err()
		}
	}
	call := &resolveCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	issuedAt := c.now()
	url, err := c.signer.SignURL(ctx, key, c.ttl)

	c.mu.Lock()
	delete(c.inflight, key)
	if err != nil {
		call.err = err
	} else {
		call.url = SignedURL{URL: url, IssuedAt: issuedAt, TTL: c.ttl}
		c.entries[key] = call.url
	}
	c.mu.Unlock()

	close(call.done)
	return call.url, call.err
}

// Invalidate drops the cached entry so the next Resolve signs afresh.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Do resolves the key and runs use with the URL. If use reports the URL was
// rejected (wrap ErrURLRejected), the entry is invalidated, re-resolved, and
// use runs exactly once more; a second rejection is terminal for this key.
func (c *Cache) Do(ctx context.Context, key string, use func(url string) error) error {
	entry, err := c.Resolve(ctx, key)
	if err != nil {
		return err
	}
	err = use(entry.URL)
	if err == nil || !errors.Is(err, ErrURLRejected) {
		return err
	}

	c.Invalidate(key)
	entry, err = c.Resolve(ctx, key)
	if err != nil {
		return err
	}
	if err := use(entry.URL); err != nil {
		if errors.Is(err, ErrURLRejected) {
			return &ExpiredError{Key: key, Err: err}
		}
		return err
	}
	return nil
}
