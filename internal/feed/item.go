// Package feed implements the realtime feed reconciliation engine shared by
// every messaging surface: an ordered dedup buffer fed by an initial snapshot
// and a scoped push subscription.
package feed

import "time"

// Attachment is a file reference carried inline on an item. StorageKey is
// resolved to a short-lived signed URL at render time.
type Attachment struct {
	StorageKey  string `json:"storageKey"`
	DisplayName string `json:"displayName"`
	MimeType    string `json:"mimeType"`
	ByteSize    int64  `json:"byteSize"`
}

// Item is one message in a feed. Empty string means absent for the optional
// identifiers; a non-empty ParentID marks a thread reply.
type Item struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channelId,omitempty"`
	SenderID    string       `json:"senderId"`
	SenderName  string       `json:"senderName,omitempty"`
	RecipientID string       `json:"recipientId,omitempty"`
	ParentID    string       `json:"parentId,omitempty"`
	Content     string       `json:"content"`
	ReplyCount  int          `json:"replyCount"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Before reports whether a sorts ahead of b in feed order: created_at
// ascending with the id as tie-break, so ordering is total and stable across
// clients.
func (a Item) Before(b Item) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
