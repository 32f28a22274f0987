package feed

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// provisionalPrefix marks locally assigned ids that have not been confirmed
// by the server. The composer normally adopts the server id before inserting,
// so provisional entries only exist for backends that ack without an id.
const provisionalPrefix = "tmp_"

// echoWindow bounds the content+author fallback match. Two genuinely distinct
// sends of the same text more than a second apart are never collapsed.
const echoWindow = 1000 * time.Millisecond

// Buffer is the ordered, deduplicating collection behind one feed surface.
// Identity is the server-assigned id; an item merged twice is kept once no
// matter which copy (optimistic insert or push echo) arrived first. Methods
// are safe for concurrent use: push dispatch and the composer's optimistic
// insert run on different goroutines.
type Buffer struct {
	mu    sync.Mutex
	items []Item
	index map[string]int
}

func NewBuffer() *Buffer {
	return &Buffer{index: make(map[string]int)}
}

// SnapshotLoad replaces the buffer contents wholesale. Used once per scope,
// when the controller's initial fetch resolves.
func (b *Buffer) SnapshotLoad(items []Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = b.items[:0]
	b.index = make(map[string]int, len(items))
	for _, it := range items {
		if _, dup := b.index[it.ID]; dup {
			continue
		}
		b.index[it.ID] = 0
		b.items = append(b.items, it)
	}
	sort.Slice(b.items, func(i, j int) bool { return b.items[i].Before(b.items[j]) })
	b.reindexLocked(0)
}

// Merge inserts an item unless it is already present. Present means same id,
// or a provisional entry that looks like the same send (same author and
// content within the echo window) - that entry then adopts the incoming
// server id. The id rule is what makes the optimistic insert and its push
// echo converge to a single item regardless of arrival order.
func (b *Buffer) Merge(item Item) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.index[item.ID]; ok {
		return false
	}

	// Fallback heuristic only; primary identity stays the server id.
	if i, ok := b.findProvisionalLocked(item); ok {
		delete(b.index, b.items[i].ID)
		b.items[i] = item
		b.index[item.ID] = i
		b.resortLocked()
		return false
	}

	pos := sort.Search(len(b.items), func(i int) bool { return item.Before(b.items[i]) })
	b.items = append(b.items, Item{})
	copy(b.items[pos+1:], b.items[pos:])
	b.items[pos] = item
	b.reindexLocked(pos)
	return true
}

// AdoptID rewrites a provisional entry's identity to the server-assigned id
// once the persist call returns. Preferred over the content heuristic.
func (b *Buffer) AdoptID(provisionalID, serverID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[provisionalID]
	if !ok {
		return false
	}
	if _, taken := b.index[serverID]; taken {
		return false
	}
	delete(b.index, provisionalID)
	b.items[i].ID = serverID
	b.index[serverID] = i
	b.resortLocked()
	return true
}

// Update applies fn to the item with the given id, if present. Used for the
// reply-count bump on thread parents; identity and order never change.
func (b *Buffer) Update(id string, fn func(*Item)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[id]
	if !ok {
		return false
	}
	fn(&b.items[i])
	return true
}

// All returns the buffer contents in (createdAt, id) order. The slice is a
// copy; the caller may hold it across merges.
func (b *Buffer) All() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Item, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Buffer) Get(id string) (Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[id]
	if !ok {
		return Item{}, false
	}
	return b.items[i], true
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *Buffer) findProvisionalLocked(incoming Item) (int, bool) {
	for i, it := range b.items {
		if !strings.HasPrefix(it.ID, provisionalPrefix) {
			continue
		}
		if it.SenderID != incoming.SenderID || it.Content != incoming.Content {
			continue
		}
		d := incoming.CreatedAt.Sub(it.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= echoWindow {
			return i, true
		}
	}
	return 0, false
}

// resortLocked restores order after an in-place identity or timestamp
// rewrite. Push delivery order is not guaranteed to match creation order
// under concurrent writers, so the sort is defensive.
func (b *Buffer) resortLocked() {
	sort.Slice(b.items, func(i, j int) bool { return b.items[i].Before(b.items[j]) })
	b.reindexLocked(0)
}

func (b *Buffer) reindexLocked(from int) {
	for i := from; i < len(b.items); i++ {
		b.index[b.items[i].ID] = i
	}
}
