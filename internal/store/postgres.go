package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"murmur/client/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const messageColumns = `
	m.id, m.channel_id, m.sender_id, m.recipient_id, m.parent_id,
	m.content, m.reply_count, m.attachments, m.created_at, u.display_name
`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var (
		m        Message
		rawAttrs []byte
	)
	err := row.Scan(
		&m.ID,
		&m.ChannelID,
		&m.SenderID,
		&m.RecipientID,
		&m.ParentID,
		&m.Content,
		&m.ReplyCount,
		&rawAttrs,
		&m.CreatedAt,
		&m.SenderName,
	)
	if err != nil {
		return Message{}, err
	}
	if len(rawAttrs) > 0 {
		if err := json.Unmarshal(rawAttrs, &m.Attachments); err != nil {
			return Message{}, fmt.Errorf("decode attachments for %s: %w", m.ID, err)
		}
	}
	return m, nil
}

func (s *PostgresStore) listMessages(ctx context.Context, where string, args ...any) ([]Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE ` + where + `
		ORDER BY m.created_at ASC, m.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		item, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// ListChannelMessages returns the top-level messages of a channel. Thread
// replies are excluded; they load through ListThreadReplies.
func (s *PostgresStore) ListChannelMessages(ctx context.Context, channelID string) ([]Message, error) {
	return s.listMessages(ctx, `m.channel_id = $1 AND m.parent_id IS NULL`, channelID)
}

// ListDirectMessages returns the top-level messages between two users,
// in either direction.
func (s *PostgresStore) ListDirectMessages(ctx context.Context, userA, userB string) ([]Message, error) {
	return s.listMessages(ctx, `
		m.parent_id IS NULL AND m.channel_id IS NULL AND (
			(m.sender_id = $1 AND m.recipient_id = $2) OR
			(m.sender_id = $2 AND m.recipient_id = $1)
		)`, userA, userB)
}

func (s *PostgresStore) ListThreadReplies(ctx context.Context, parentID string) ([]Message, error) {
	return s.listMessages(ctx, `m.parent_id = $1`, parentID)
}

// GetMessage fetches a single message with the sender's display name joined,
// used to enrich bare changefeed notifications before merging.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`, messageID)
	item, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, err
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return item, nil
}

// InsertMessage persists a message and returns it with the server-assigned
// id and timestamp. The caller adopts the returned id before any optimistic
// local insert.
func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = util.NewID("msg")
	}
	attrs, err := json.Marshal(m.Attachments)
	if err != nil {
		return Message{}, fmt.Errorf("encode attachments: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, channel_id, sender_id, recipient_id, parent_id, content, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, reply_count
	`, m.ID, m.ChannelID, m.SenderID, m.RecipientID, m.ParentID, m.Content, attrs).
		Scan(&m.ID, &m.CreatedAt, &m.ReplyCount)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// IncrementReplyCount bumps the denormalized reply counter on a thread
// parent. The increment happens in the database, never read-modify-write in
// the client, so concurrent replies cannot lose counts.
func (s *PostgresStore) IncrementReplyCount(ctx context.Context, parentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET reply_count = reply_count + 1 WHERE id = $1
	`, parentID)
	if err != nil {
		return fmt.Errorf("increment reply count: %w", err)
	}
	return nil
}

// ToggleReaction flips the caller's reaction on a message for one emoji.
// It is the atomic remote procedure backing the reaction aggregator: a
// single delete-or-insert round trip, safe under concurrent toggles from
// different users.
func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (Reaction, bool, error) {
	var removed Reaction
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3
		RETURNING id, message_id, user_id, emoji, created_at
	`, messageID, userID, emoji).
		Scan(&removed.ID, &removed.MessageID, &removed.UserID, &removed.Emoji, &removed.CreatedAt)
	if err == nil {
		return removed, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Reaction{}, false, fmt.Errorf("remove reaction: %w", err)
	}

	added := Reaction{ID: util.NewID("rct"), MessageID: messageID, UserID: userID, Emoji: emoji}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO reactions (id, message_id, user_id, emoji)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id, emoji) DO NOTHING
		RETURNING id, created_at
	`, added.ID, messageID, userID, emoji).Scan(&added.ID, &added.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost a race with an identical toggle; membership is already flipped.
		return Reaction{}, false, nil
	}
	if err != nil {
		return Reaction{}, false, fmt.Errorf("add reaction: %w", err)
	}
	return added, true, nil
}

func (s *PostgresStore) ListMessageReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.message_id, r.user_id, r.emoji, r.created_at, u.display_name
		FROM reactions r
		JOIN users u ON u.id = r.user_id
		WHERE r.message_id = $1
		ORDER BY r.created_at ASC, r.id ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	items := make([]Reaction, 0)
	for rows.Next() {
		var item Reaction
		if err := rows.Scan(&item.ID, &item.MessageID, &item.UserID, &item.Emoji, &item.CreatedAt, &item.UserName); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reactions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, created_at FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var ch Channel
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, topic, created_at FROM channels WHERE id = $1
	`, channelID).Scan(&ch.ID, &ch.WorkspaceID, &ch.Name, &ch.Topic, &ch.CreatedAt)
	if err != nil {
		return Channel{}, err
	}
	return ch, nil
}
