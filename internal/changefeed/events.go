// Package changefeed is the client side of the platform's row-change push
// feed, carried over Redis pub/sub. Topics encode the table and the scope key
// so filtering happens at subscription time.
package changefeed

import "encoding/json"

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventDelete EventType = "DELETE"
)

const (
	TableMessages  = "messages"
	TableReactions = "reactions"
)

// Event is the wire envelope for one row change. Row holds the row payload
// as published; depending on the backend it may be the full row or a bare
// notification that needs a secondary fetch-by-id before use.
type Event struct {
	Table string          `json:"table"`
	Type  EventType       `json:"type"`
	Row   json.RawMessage `json:"row"`
}

// ReactionTopic is the changefeed topic carrying reaction changes for one
// message.
func ReactionTopic(messageID string) string {
	return "cf:reactions:msg:" + messageID
}
