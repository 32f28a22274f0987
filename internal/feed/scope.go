package feed

import "fmt"

// Kind discriminates the three feed scopes explicitly. Nothing in the engine
// infers the kind from which optional fields happen to be empty.
type Kind int

const (
	KindChannel Kind = iota
	KindDirect
	KindThread
)

func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindDirect:
		return "direct"
	case KindThread:
		return "thread"
	default:
		return "unknown"
	}
}

// Scope identifies one feed: a channel, an unordered DM pair, or a thread.
type Scope struct {
	Kind      Kind
	ChannelID string
	// Direct scopes keep the pair normalized so {a,b} and {b,a} are the
	// same scope.
	UserA    string
	UserB    string
	ParentID string
}

func ChannelScope(channelID string) Scope {
	return Scope{Kind: KindChannel, ChannelID: channelID}
}

func DirectScope(userA, userB string) Scope {
	if userB < userA {
		userA, userB = userB, userA
	}
	return Scope{Kind: KindDirect, UserA: userA, UserB: userB}
}

func ThreadScope(parentID string) Scope {
	return Scope{Kind: KindThread, ParentID: parentID}
}

// Key returns a stable identifier for the scope, usable as a map key.
func (s Scope) Key() string {
	switch s.Kind {
	case KindChannel:
		return "channel:" + s.ChannelID
	case KindDirect:
		return "direct:" + s.UserA + ":" + s.UserB
	case KindThread:
		return "thread:" + s.ParentID
	default:
		return "unknown"
	}
}

// Topic is the changefeed topic carrying this scope's message events. Scoping
// the topic name pushes filtering down to subscription time instead of
// receiving every row in the table.
func (s Scope) Topic() string {
	switch s.Kind {
	case KindChannel:
		return "cf:messages:chan:" + s.ChannelID
	case KindDirect:
		return "cf:messages:dm:" + s.UserA + ":" + s.UserB
	case KindThread:
		return "cf:messages:thread:" + s.ParentID
	default:
		return "cf:messages:unknown"
	}
}

func (s Scope) String() string {
	return fmt.Sprintf("scope(%s)", s.Key())
}

// Matches reports whether an item belongs to this feed. Top-level scopes
// exclude thread replies so they never leak into the main feed; the replies
// load through their own thread scope.
func (s Scope) Matches(it Item) bool {
	switch s.Kind {
	case KindChannel:
		return it.ParentID == "" && it.ChannelID == s.ChannelID && s.ChannelID != ""
	case KindDirect:
		if it.ParentID != "" || it.ChannelID != "" {
			return false
		}
		a, b := it.SenderID, it.RecipientID
		if b < a {
			a, b = b, a
		}
		return a == s.UserA && b == s.UserB
	case KindThread:
		return it.ParentID == s.ParentID && s.ParentID != ""
	default:
		return false
	}
}
