// Package app assembles the reconciliation engine and its platform
// collaborators into the client facade the UI talks to.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"murmur/client/internal/blob"
	"murmur/client/internal/changefeed"
	"murmur/client/internal/composer"
	"murmur/client/internal/export"
	"murmur/client/internal/feed"
	"murmur/client/internal/reaction"
	"murmur/client/internal/search"
	"murmur/client/internal/session"
	"murmur/client/internal/store"
	"murmur/client/internal/urlcache"
)

// Client owns the session, the shared URL cache, the composer pipeline, and
// one feed controller per mounted surface. All dependencies are injected;
// there is no package-level state.
type Client struct {
	sess     *session.Session
	source   *feedSource
	broker   *changefeed.Broker
	urls     *urlcache.Cache
	pipeline *composer.Pipeline
	searches *search.Service

	mu          sync.Mutex
	controllers map[string]*feed.Controller
	aggregators map[string]*reaction.Aggregator
	closed      bool
}

func NewClient(sess *session.Session, pg *store.PostgresStore, broker *changefeed.Broker, blobs *blob.Store, searches *search.Service, signTTL time.Duration) *Client {
	source := &feedSource{store: pg}
	return &Client{
		sess:        sess,
		source:      source,
		broker:      broker,
		urls:        urlcache.New(blobs, signTTL),
		pipeline:    composer.NewPipeline(sess, blobs, source, source, broker),
		searches:    searches,
		controllers: make(map[string]*feed.Controller),
		aggregators: make(map[string]*reaction.Aggregator),
	}
}

// OpenFeed mounts a surface: snapshot plus live subscription for the scope.
// Opening a scope that is already open returns the existing controller;
// exactly one subscription exists per live scope.
func (c *Client) OpenFeed(ctx context.Context, scope feed.Scope, opts ...feed.Option) (*feed.Controller, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client closed")
	}
	if ctrl, ok := c.controllers[scope.Key()]; ok {
		c.mu.Unlock()
		return ctrl, nil
	}
	opts = append([]feed.Option{feed.WithEnricher(c.source)}, opts...)
	ctrl := feed.NewController(c.source, c.broker, opts...)
	c.controllers[scope.Key()] = ctrl
	c.mu.Unlock()

	if err := ctrl.Activate(ctx, scope); err != nil {
		c.mu.Lock()
		delete(c.controllers, scope.Key())
		c.mu.Unlock()
		ctrl.Close()
		return nil, err
	}
	return ctrl, nil
}

// CloseFeed unmounts a surface, closing its push channel synchronously.
func (c *Client) CloseFeed(scope feed.Scope) {
	c.mu.Lock()
	ctrl, ok := c.controllers[scope.Key()]
	delete(c.controllers, scope.Key())
	c.mu.Unlock()
	if ok {
		ctrl.Close()
	}
}

// Send runs the composer pipeline against an open feed's buffer. The scope
// must be open; the optimistic insert lands in that surface's buffer.
func (c *Client) Send(ctx context.Context, scope feed.Scope, text string, files []composer.File, onProgress func(string, int)) (feed.Item, error) {
	c.mu.Lock()
	ctrl, ok := c.controllers[scope.Key()]
	c.mu.Unlock()
	if !ok {
		return feed.Item{}, fmt.Errorf("feed %s is not open", scope.Key())
	}

	item, err := c.pipeline.Submit(ctx, ctrl.Buffer(), composer.Submission{
		Scope:      scope,
		Text:       text,
		Files:      files,
		OnProgress: onProgress,
	})
	if err != nil {
		return feed.Item{}, err
	}

	// Keep the parent's reply badge current on whichever open surface holds
	// it; the store already incremented the authoritative counter.
	if scope.Kind == feed.KindThread {
		c.bumpLocalReplyCount(scope.ParentID)
	}

	if c.searches != nil {
		c.searches.IndexMessage(search.MessageRecord{
			ID:         item.ID,
			Content:    item.Content,
			ChannelID:  item.ChannelID,
			SenderID:   item.SenderID,
			SenderName: item.SenderName,
			SentAt:     item.CreatedAt.Unix(),
		})
	}
	return item, nil
}

func (c *Client) bumpLocalReplyCount(parentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ctrl := range c.controllers {
		ctrl.Buffer().Update(parentID, func(it *feed.Item) {
			it.ReplyCount++
		})
	}
}

// Reactions returns the live aggregator for one message, starting it on
// first use.
func (c *Client) Reactions(ctx context.Context, messageID string) (*reaction.Aggregator, error) {
	c.mu.Lock()
	if agg, ok := c.aggregators[messageID]; ok {
		c.mu.Unlock()
		return agg, nil
	}
	agg := reaction.NewAggregator(messageID, c.sess, c.source, c.source, c.broker,
		reaction.WithNameLookup(c.source),
		reaction.WithPublisher(c.broker),
	)
	c.aggregators[messageID] = agg
	c.mu.Unlock()

	if err := agg.Start(ctx); err != nil {
		c.mu.Lock()
		delete(c.aggregators, messageID)
		c.mu.Unlock()
		agg.Close()
		return nil, err
	}
	return agg, nil
}

// AttachmentURL resolves a storage key to a fresh signed URL through the
// session-shared cache.
func (c *Client) AttachmentURL(ctx context.Context, storageKey string) (string, error) {
	entry, err := c.urls.Resolve(ctx, storageKey)
	if err != nil {
		return "", err
	}
	return entry.URL, nil
}

// URLCache exposes the shared cache for consumers that need the
// refresh-and-retry helper.
func (c *Client) URLCache() *urlcache.Cache { return c.urls }

// Search queries the message index.
func (c *Client) Search(q search.Query) search.Response {
	if c.searches == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return c.searches.Search(q)
}

// ExportTranscript renders an open feed to HTML or PDF.
func (c *Client) ExportTranscript(scope feed.Scope, title string, format export.Format) (*export.Result, error) {
	c.mu.Lock()
	ctrl, ok := c.controllers[scope.Key()]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("feed %s is not open", scope.Key())
	}
	return export.Export(export.Request{
		Title:      title,
		ScopeLabel: scope.Key(),
		Items:      ctrl.Items(),
		Format:     format,
	})
}

// CurrentUser returns the session identity.
func (c *Client) CurrentUser() session.Identity {
	return c.sess.CurrentUser()
}

// Close tears down every open surface and aggregator.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	controllers := c.controllers
	aggregators := c.aggregators
	c.controllers = make(map[string]*feed.Controller)
	c.aggregators = make(map[string]*reaction.Aggregator)
	c.mu.Unlock()

	for _, ctrl := range controllers {
		ctrl.Close()
	}
	for _, agg := range aggregators {
		agg.Close()
	}
}
