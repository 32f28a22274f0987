// Package reaction maintains per-message emoji aggregates, fed by the same
// snapshot-plus-push pattern as the message feeds and mutated through an
// idempotent toggle.
package reaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"murmur/client/internal/changefeed"
	"murmur/client/internal/session"
)

var errChannelDropped = errors.New("push channel dropped")

// Reaction is the wire form of one reaction row.
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	UserName  string    `json:"userName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entry is one user inside an emoji bucket, with the display name used for
// tooltips. DisplayName may be empty when the enrichment lookup failed; the
// state change still applies.
type Entry struct {
	UserID      string
	DisplayName string

	reactionID string
}

// EmojiAggregate is the rendered form of one emoji bucket.
type EmojiAggregate struct {
	Emoji string
	Count int
	Users []Entry
}

// Snapshotter loads the current reactions of a message, names joined.
type Snapshotter interface {
	Reactions(ctx context.Context, messageID string) ([]Reaction, error)
}

// Toggler is the atomic flip-my-reaction remote procedure. It returns the
// affected row and whether the flip added (true) or removed (false) it.
type Toggler interface {
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (Reaction, bool, error)
}

// NameLookup resolves a user's display name for push events that arrive
// without one.
type NameLookup interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Subscriber opens a push channel for one topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (*changefeed.Subscription, error)
}

// Publisher emits this client's own toggle events. Optional.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev changefeed.Event) error
}

type Option func(*Aggregator)

func WithNameLookup(n NameLookup) Option {
	return func(a *Aggregator) { a.names = n }
}

func WithPublisher(p Publisher) Option {
	return func(a *Aggregator) { a.publish = p }
}

func WithOnChange(fn func()) Option {
	return func(a *Aggregator) { a.onChange = fn }
}

// WithOnError registers a callback for a push channel that dropped and could
// not reconnect. Aggregates stay readable but no longer update.
func WithOnError(fn func(error)) Option {
	return func(a *Aggregator) { a.onError = fn }
}

// WithReconnectDelay overrides the backoff before the single reconnect
// attempt after a dropped push channel.
func WithReconnectDelay(d time.Duration) Option {
	return func(a *Aggregator) { a.reconnectDelay = d }
}

// Aggregator tracks the emoji buckets of one message.
type Aggregator struct {
	messageID      string
	sess           *session.Session
	snapshots      Snapshotter
	toggler        Toggler
	pushfeed       Subscriber
	names          NameLookup
	publish        Publisher
	onChange       func()
	onError        func(error)
	reconnectDelay time.Duration

	mu      sync.Mutex
	buckets map[string][]Entry
	emojiOf map[string]string
	sub     *changefeed.Subscription
	closed  bool
}

func NewAggregator(messageID string, sess *session.Session, snapshots Snapshotter, toggler Toggler, pushfeed Subscriber, opts ...Option) *Aggregator {
	a := &Aggregator{
		messageID:      messageID,
		sess:           sess,
		snapshots:      snapshots,
		toggler:        toggler,
		pushfeed:       pushfeed,
		reconnectDelay: 2 * time.Second,
		buckets:        make(map[string][]Entry),
		emojiOf:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start loads the current aggregate and opens the push subscription for this
// message's reaction changes.
func (a *Aggregator) Start(ctx context.Context) error {
	current, err := a.snapshots.Reactions(ctx, a.messageID)
	if err != nil {
		return fmt.Errorf("load reactions for %s: %w", a.messageID, err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	for _, r := range current {
		a.addLocked(r)
	}
	a.mu.Unlock()

	sub, err := a.pushfeed.Subscribe(ctx, changefeed.ReactionTopic(a.messageID))
	if err != nil {
		return fmt.Errorf("subscribe reactions for %s: %w", a.messageID, err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	a.sub = sub
	a.mu.Unlock()

	go a.dispatch(ctx, sub, false)
	return nil
}

// dispatch drains one subscription. Same drop policy as the message feeds:
// one reconnect after a backoff, then the failure surfaces and the aggregate
// goes stale-but-readable.
func (a *Aggregator) dispatch(ctx context.Context, sub *changefeed.Subscription, reconnected bool) {
	for ev := range sub.C {
		a.handleEvent(ctx, ev)
	}

	a.mu.Lock()
	if a.closed || a.sub != sub {
		// Deliberate teardown.
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if reconnected {
		a.fail(errChannelDropped)
		return
	}

	log.Printf("reaction: push channel dropped for %s, reconnecting", a.messageID)
	select {
	case <-ctx.Done():
		a.fail(ctx.Err())
		return
	case <-time.After(a.reconnectDelay):
	}

	next, err := a.pushfeed.Subscribe(ctx, changefeed.ReactionTopic(a.messageID))
	if err != nil {
		a.fail(err)
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = next.Close()
		return
	}
	a.sub = next
	a.mu.Unlock()

	a.dispatch(ctx, next, true)
}

func (a *Aggregator) fail(err error) {
	wrapped := fmt.Errorf("reactions for %s unavailable: %w", a.messageID, err)
	log.Printf("reaction: %v", wrapped)
	if a.onError != nil {
		a.onError(wrapped)
	}
}

// Close tears down the push subscription.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.sub != nil {
		_ = a.sub.Close()
		a.sub = nil
	}
}

// Toggle flips the current user's reaction for one emoji: not an explicit
// add or remove, the backing store decides from current membership. The
// local aggregate is updated immediately; the push echo of the same change
// is absorbed by the idempotent apply rules.
func (a *Aggregator) Toggle(ctx context.Context, emoji string) error {
	user := a.sess.CurrentUser()
	row, added, err := a.toggler.ToggleReaction(ctx, a.messageID, user.ID, emoji)
	if err != nil {
		return fmt.Errorf("toggle %s on %s: %w", emoji, a.messageID, err)
	}
	if row.ID == "" {
		// Lost a race with an identical toggle; the other copy's push event
		// already carries the change.
		return nil
	}
	if row.UserName == "" {
		row.UserName = user.Name
	}

	a.mu.Lock()
	if added {
		a.addLocked(row)
	} else {
		a.removeLocked(row.ID)
	}
	a.mu.Unlock()
	a.notifyChange()

	if a.publish != nil {
		evType := changefeed.EventInsert
		if !added {
			evType = changefeed.EventDelete
		}
		payload, err := json.Marshal(row)
		if err == nil {
			err = a.publish.Publish(ctx, changefeed.ReactionTopic(a.messageID), changefeed.Event{
				Table: changefeed.TableReactions,
				Type:  evType,
				Row:   payload,
			})
		}
		if err != nil {
			log.Printf("reaction: publish toggle for %s: %v", a.messageID, err)
		}
	}
	return nil
}

// Aggregates returns the emoji buckets sorted by emoji for stable rendering.
func (a *Aggregator) Aggregates() []EmojiAggregate {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]EmojiAggregate, 0, len(a.buckets))
	for emoji, entries := range a.buckets {
		users := make([]Entry, len(entries))
		copy(users, entries)
		out = append(out, EmojiAggregate{Emoji: emoji, Count: len(entries), Users: users})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Emoji < out[j].Emoji })
	return out
}

func (a *Aggregator) handleEvent(ctx context.Context, ev changefeed.Event) {
	if ev.Table != changefeed.TableReactions {
		return
	}

	var row Reaction
	if err := json.Unmarshal(ev.Row, &row); err != nil {
		log.Printf("reaction: drop undecodable event for %s: %v", a.messageID, err)
		return
	}
	if row.MessageID != "" && row.MessageID != a.messageID {
		return
	}

	switch ev.Type {
	case changefeed.EventInsert:
		if row.UserName == "" && a.names != nil {
			name, err := a.names.DisplayName(ctx, row.UserID)
			if err != nil {
				// A missing display name never blocks the state change.
				log.Printf("reaction: display name for %s: %v", row.UserID, err)
			} else {
				row.UserName = name
			}
		}
		a.mu.Lock()
		a.addLocked(row)
		a.mu.Unlock()
		a.notifyChange()
	case changefeed.EventDelete:
		a.mu.Lock()
		a.removeLocked(row.ID)
		a.mu.Unlock()
		a.notifyChange()
	}
}

// addLocked inserts idempotently by user id: a user contributes at most one
// entry per emoji no matter how many copies of the event arrive.
func (a *Aggregator) addLocked(r Reaction) {
	for _, e := range a.buckets[r.Emoji] {
		if e.UserID == r.UserID {
			return
		}
	}
	a.buckets[r.Emoji] = append(a.buckets[r.Emoji], Entry{
		UserID:      r.UserID,
		DisplayName: r.UserName,
		reactionID:  r.ID,
	})
	a.emojiOf[r.ID] = r.Emoji
}

// removeLocked drops the entry holding the deleted reaction id; an empty
// bucket loses its emoji key entirely.
func (a *Aggregator) removeLocked(reactionID string) {
	emoji, ok := a.emojiOf[reactionID]
	if !ok {
		return
	}
	delete(a.emojiOf, reactionID)

	entries := a.buckets[emoji]
	for i, e := range entries {
		if e.reactionID == reactionID {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(a.buckets, emoji)
	} else {
		a.buckets[emoji] = entries
	}
}

func (a *Aggregator) notifyChange() {
	if a.onChange != nil {
		a.onChange()
	}
}
