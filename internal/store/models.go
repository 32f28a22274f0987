package store

import "time"

type User struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

type Channel struct {
	ID          string
	WorkspaceID string
	Name        string
	Topic       string
	CreatedAt   time.Time
}

// Attachment is stored inline on the message row as JSON. The storage key
// points at a private object; access goes through signed URLs.
type Attachment struct {
	StorageKey  string `json:"storageKey"`
	DisplayName string `json:"displayName"`
	MimeType    string `json:"mimeType"`
	ByteSize    int64  `json:"byteSize"`
}

// Message is a channel message, a direct message, or a thread reply.
// Exactly one of ChannelID or RecipientID is set for top-level messages;
// a non-nil ParentID marks a thread reply.
type Message struct {
	ID          string
	ChannelID   *string
	SenderID    string
	RecipientID *string
	ParentID    *string
	Content     string
	ReplyCount  int
	Attachments []Attachment
	CreatedAt   time.Time
	// Joined field for display
	SenderName string
}

type Reaction struct {
	ID        string
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
	// Joined field for display
	UserName string
}
