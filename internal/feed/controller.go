package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"murmur/client/internal/changefeed"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateLive
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Snapshotter loads the initial contents of a scope from the relational
// store, with author display names joined.
type Snapshotter interface {
	Snapshot(ctx context.Context, scope Scope) ([]Item, error)
}

// Enricher fetches a single item by id. Used when a push event carries a bare
// notification instead of the full row.
type Enricher interface {
	ItemByID(ctx context.Context, id string) (Item, error)
}

// Subscriber opens a push channel for one topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (*changefeed.Subscription, error)
}

type Option func(*Controller)

// WithEnricher enables the secondary fetch-by-id for bare push events.
func WithEnricher(e Enricher) Option {
	return func(c *Controller) { c.enrich = e }
}

// WithOnChange registers a callback invoked after every merge that changed
// the buffer. Called from the dispatch goroutine; keep it cheap.
func WithOnChange(fn func()) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithOnError registers a callback for non-blocking feed errors (a dropped
// push channel that could not reconnect). Snapshot errors are returned from
// Activate directly.
func WithOnError(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// WithReconnectDelay overrides the backoff before the single reconnect
// attempt after a dropped push channel.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Controller) { c.reconnectDelay = d }
}

// Controller owns the lifecycle of one logical feed: snapshot load, push
// subscription, merge routing, and teardown. State machine:
//
//	Idle -> Loading -> Live -> Closed
//	              \-> Error
//
// Re-activation on a new scope closes the old push channel before the new
// one opens, so the same controller never holds two live subscriptions.
type Controller struct {
	snapshots      Snapshotter
	pushfeed       Subscriber
	enrich         Enricher
	buffer         *Buffer
	onChange       func()
	onError        func(error)
	reconnectDelay time.Duration

	mu    sync.Mutex
	state State
	scope Scope
	gen   uint64
	sub   *changefeed.Subscription
}

func NewController(snapshots Snapshotter, pushfeed Subscriber, opts ...Option) *Controller {
	c := &Controller{
		snapshots:      snapshots,
		pushfeed:       pushfeed,
		buffer:         NewBuffer(),
		reconnectDelay: 2 * time.Second,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Buffer exposes the controller's merge buffer. The composer inserts
// optimistic items through it; the UI reads All() from it.
func (c *Controller) Buffer() *Buffer { return c.buffer }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Scope() Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

// Items returns the current feed contents in order.
func (c *Controller) Items() []Item { return c.buffer.All() }

// Activate points the controller at a scope: tears down any previous
// subscription, loads the snapshot, then opens the push channel. Safe to call
// again with a new scope; a snapshot still in flight for the old scope is
// discarded when it resolves. Returns a *FetchError or *SubscriptionError on
// failure, leaving the controller in Error state.
func (c *Controller) Activate(ctx context.Context, scope Scope) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return &SubscriptionError{Scope: scope, Err: context.Canceled}
	}
	// Teardown before setup: never two live subscriptions for one controller.
	if c.sub != nil {
		_ = c.sub.Close()
		c.sub = nil
	}
	c.gen++
	gen := c.gen
	c.scope = scope
	c.state = StateLoading
	c.mu.Unlock()

	items, err := c.snapshots.Snapshot(ctx, scope)

	c.mu.Lock()
	if c.gen != gen || c.state == StateClosed {
		// Scope changed or controller closed while the fetch was in flight;
		// a stale snapshot must not corrupt the new scope's buffer.
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.state = StateError
		c.mu.Unlock()
		return &FetchError{Scope: scope, Err: err}
	}
	c.buffer.SnapshotLoad(items)
	c.mu.Unlock()

	sub, err := c.pushfeed.Subscribe(ctx, scope.Topic())

	c.mu.Lock()
	if c.gen != gen || c.state == StateClosed {
		c.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return nil
	}
	if err != nil {
		c.state = StateError
		c.mu.Unlock()
		return &SubscriptionError{Scope: scope, Err: err}
	}
	c.sub = sub
	c.state = StateLive
	c.mu.Unlock()

	c.notifyChange()
	go c.dispatch(ctx, sub, gen, scope, false)
	return nil
}

// Close tears the controller down for good. The push channel is closed
// synchronously; any in-flight snapshot is discarded on arrival.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.gen++
	c.state = StateClosed
	if c.sub != nil {
		_ = c.sub.Close()
		c.sub = nil
	}
}

// dispatch serializes every push event of one subscription into the buffer.
// When the channel closes unexpectedly it attempts exactly one reconnect
// after a backoff; a second drop surfaces as a SubscriptionError.
func (c *Controller) dispatch(ctx context.Context, sub *changefeed.Subscription, gen uint64, scope Scope, reconnected bool) {
	for ev := range sub.C {
		c.handleEvent(ctx, ev, gen, scope)
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateLive {
		// Deliberate teardown or scope change.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if reconnected {
		c.fail(gen, &SubscriptionError{Scope: scope, Err: errChannelDropped})
		return
	}

	log.Printf("feed: push channel dropped for %s, reconnecting", scope.Key())
	select {
	case <-ctx.Done():
		c.fail(gen, &SubscriptionError{Scope: scope, Err: ctx.Err()})
		return
	case <-time.After(c.reconnectDelay):
	}

	next, err := c.pushfeed.Subscribe(ctx, scope.Topic())
	if err != nil {
		c.fail(gen, &SubscriptionError{Scope: scope, Err: err})
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateLive {
		c.mu.Unlock()
		_ = next.Close()
		return
	}
	c.sub = next
	c.mu.Unlock()

	c.dispatch(ctx, next, gen, scope, true)
}

func (c *Controller) handleEvent(ctx context.Context, ev changefeed.Event, gen uint64, scope Scope) {
	if ev.Table != changefeed.TableMessages || ev.Type != changefeed.EventInsert {
		return
	}

	var item Item
	if err := json.Unmarshal(ev.Row, &item); err != nil {
		log.Printf("feed: drop undecodable event for %s: %v", scope.Key(), err)
		return
	}
	if item.ID == "" {
		return
	}

	// A bare notification carries only the id; enrich it with the joined
	// author fields. Failure skips this event, it never tears the feed down.
	if item.SenderID == "" && c.enrich != nil {
		enriched, err := c.enrich.ItemByID(ctx, item.ID)
		if err != nil {
			log.Printf("feed: enrich %s failed, skipping event: %v", item.ID, err)
			return
		}
		item = enriched
	}

	if !scope.Matches(item) {
		return
	}

	// The staleness check and the merge stay under one lock: a re-Activate
	// must not slip a SnapshotLoad in between and take a superseded scope's
	// item into the new buffer.
	c.mu.Lock()
	if c.gen != gen || c.state != StateLive {
		c.mu.Unlock()
		return
	}
	changed := c.buffer.Merge(item)
	c.mu.Unlock()

	if changed {
		c.notifyChange()
	}
}

func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateLive {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.sub = nil
	c.mu.Unlock()

	log.Printf("feed: %v", err)
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Controller) notifyChange() {
	if c.onChange != nil {
		c.onChange()
	}
}
