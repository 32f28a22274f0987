package app

import (
	"context"
	"fmt"

	"murmur/client/internal/feed"
	"murmur/client/internal/reaction"
	"murmur/client/internal/store"
)

// feedSource binds the engine's collaborator interfaces to the Postgres
// store: scoped snapshots, fetch-by-id enrichment, persistence, and the
// reaction procedures.
type feedSource struct {
	store *store.PostgresStore
}

func (f *feedSource) Snapshot(ctx context.Context, scope feed.Scope) ([]feed.Item, error) {
	var (
		rows []store.Message
		err  error
	)
	switch scope.Kind {
	case feed.KindChannel:
		rows, err = f.store.ListChannelMessages(ctx, scope.ChannelID)
	case feed.KindDirect:
		rows, err = f.store.ListDirectMessages(ctx, scope.UserA, scope.UserB)
	case feed.KindThread:
		rows, err = f.store.ListThreadReplies(ctx, scope.ParentID)
	default:
		return nil, fmt.Errorf("unknown scope kind %d", scope.Kind)
	}
	if err != nil {
		return nil, err
	}

	items := make([]feed.Item, 0, len(rows))
	for _, m := range rows {
		items = append(items, itemFromMessage(m))
	}
	return items, nil
}

func (f *feedSource) ItemByID(ctx context.Context, id string) (feed.Item, error) {
	m, err := f.store.GetMessage(ctx, id)
	if err != nil {
		return feed.Item{}, err
	}
	return itemFromMessage(m), nil
}

func (f *feedSource) Persist(ctx context.Context, item feed.Item) (feed.Item, error) {
	persisted, err := f.store.InsertMessage(ctx, messageFromItem(item))
	if err != nil {
		return feed.Item{}, err
	}
	persisted.SenderName = item.SenderName
	return itemFromMessage(persisted), nil
}

func (f *feedSource) IncrementReplyCount(ctx context.Context, parentID string) error {
	return f.store.IncrementReplyCount(ctx, parentID)
}

func (f *feedSource) Reactions(ctx context.Context, messageID string) ([]reaction.Reaction, error) {
	rows, err := f.store.ListMessageReactions(ctx, messageID)
	if err != nil {
		return nil, err
	}
	out := make([]reaction.Reaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, reactionFromRow(r))
	}
	return out, nil
}

func (f *feedSource) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (reaction.Reaction, bool, error) {
	row, added, err := f.store.ToggleReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return reaction.Reaction{}, false, err
	}
	return reactionFromRow(row), added, nil
}

func (f *feedSource) DisplayName(ctx context.Context, userID string) (string, error) {
	user, err := f.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.DisplayName, nil
}

func itemFromMessage(m store.Message) feed.Item {
	item := feed.Item{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		ReplyCount: m.ReplyCount,
		CreatedAt:  m.CreatedAt,
	}
	if m.ChannelID != nil {
		item.ChannelID = *m.ChannelID
	}
	if m.RecipientID != nil {
		item.RecipientID = *m.RecipientID
	}
	if m.ParentID != nil {
		item.ParentID = *m.ParentID
	}
	for _, a := range m.Attachments {
		item.Attachments = append(item.Attachments, feed.Attachment{
			StorageKey:  a.StorageKey,
			DisplayName: a.DisplayName,
			MimeType:    a.MimeType,
			ByteSize:    a.ByteSize,
		})
	}
	return item
}

func messageFromItem(item feed.Item) store.Message {
	m := store.Message{
		ID:         item.ID,
		SenderID:   item.SenderID,
		SenderName: item.SenderName,
		Content:    item.Content,
		ReplyCount: item.ReplyCount,
		CreatedAt:  item.CreatedAt,
	}
	if item.ChannelID != "" {
		m.ChannelID = &item.ChannelID
	}
	if item.RecipientID != "" {
		m.RecipientID = &item.RecipientID
	}
	if item.ParentID != "" {
		m.ParentID = &item.ParentID
	}
	for _, a := range item.Attachments {
		m.Attachments = append(m.Attachments, store.Attachment{
			StorageKey:  a.StorageKey,
			DisplayName: a.DisplayName,
			MimeType:    a.MimeType,
			ByteSize:    a.ByteSize,
		})
	}
	return m
}

func reactionFromRow(r store.Reaction) reaction.Reaction {
	return reaction.Reaction{
		ID:        r.ID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
		UserName:  r.UserName,
		CreatedAt: r.CreatedAt,
	}
}
