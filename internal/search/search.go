package search

// Result is a single message hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	ChannelID  string `json:"channelId,omitempty"`
	SenderName string `json:"senderName"`
	Snippet    string `json:"snippet"`
}

// Query describes a message search request.
type Query struct {
	Text      string
	ChannelID string // empty = all channels
	Limit     int
	Offset    int
}

// Response is the envelope returned to the search surface.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over messages.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push messages into a search index.
type Indexer interface {
	IndexMessage(m MessageRecord) error
}

// MessageRecord is the data we index for a message.
type MessageRecord struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	ChannelID  string `json:"channelId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	SentAt     int64  `json:"sentAt"`
}
