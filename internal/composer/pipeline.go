// Package composer turns a pending send into uploaded attachments, a
// persisted message, and an optimistic local insert that the feed's own push
// echo later deduplicates.
package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"murmur/client/internal/changefeed"
	"murmur/client/internal/feed"
	"murmur/client/internal/session"
	"murmur/client/internal/util"
)

// File is one pending attachment.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Uploader streams attachment bytes to the object-storage collaborator.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, onProgress func(pct int)) error
}

// Persister writes the message through the relational-store collaborator and
// returns it with the server-assigned id and timestamp.
type Persister interface {
	Persist(ctx context.Context, item feed.Item) (feed.Item, error)
}

// ReplyCounter is the atomic remote procedure bumping a thread parent's
// denormalized reply counter.
type ReplyCounter interface {
	IncrementReplyCount(ctx context.Context, parentID string) error
}

// Publisher emits the insert event to the changefeed after persist. Optional;
// platforms that emit changefeed events server-side leave it nil.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev changefeed.Event) error
}

// Submission is one pending send.
type Submission struct {
	Scope feed.Scope
	Text  string
	Files []File
	// OnProgress, when non-nil, receives per-file upload progress 0-100.
	OnProgress func(fileName string, pct int)
}

type Pipeline struct {
	sess    *session.Session
	uploads Uploader
	persist Persister
	replies ReplyCounter
	publish Publisher
	now     func() time.Time
}

func NewPipeline(sess *session.Session, uploads Uploader, persist Persister, replies ReplyCounter, publish Publisher) *Pipeline {
	return &Pipeline{
		sess:    sess,
		uploads: uploads,
		persist: persist,
		replies: replies,
		publish: publish,
		now:     time.Now,
	}
}

// Submit runs the full pipeline: validate, sanitize, upload, persist, insert
// into buf optimistically. Any upload failure aborts the whole send before a
// row is written; already-uploaded blobs from the aborted attempt are left
// behind (no server-side cleanup in this scope).
func (p *Pipeline) Submit(ctx context.Context, buf *feed.Buffer, sub Submission) (feed.Item, error) {
	if strings.TrimSpace(sub.Text) == "" && len(sub.Files) == 0 {
		return feed.Item{}, &ValidationError{Reason: "message text and attachments are both empty"}
	}

	// Security boundary, not formatting: stored markup is filtered before it
	// ever reaches the platform. Renderers sanitize again before display.
	content := Sanitize(sub.Text)

	attachments := make([]feed.Attachment, 0, len(sub.Files))
	for _, f := range sub.Files {
		key := util.NewID("att")
		report := func(pct int) {
			if sub.OnProgress != nil {
				sub.OnProgress(f.Name, pct)
			}
		}
		if err := p.uploads.Upload(ctx, key, f.Content, f.Size, f.ContentType, report); err != nil {
			return feed.Item{}, &UploadError{FileName: f.Name, Err: err}
		}
		attachments = append(attachments, feed.Attachment{
			StorageKey:  key,
			DisplayName: f.Name,
			MimeType:    f.ContentType,
			ByteSize:    f.Size,
		})
	}

	user := p.sess.CurrentUser()
	item := feed.Item{
		SenderID:    user.ID,
		SenderName:  user.Name,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   p.now(),
	}
	switch sub.Scope.Kind {
	case feed.KindChannel:
		item.ChannelID = sub.Scope.ChannelID
	case feed.KindDirect:
		item.RecipientID = otherMember(sub.Scope, user.ID)
	case feed.KindThread:
		item.ParentID = sub.Scope.ParentID
	}

	persisted, err := p.persist.Persist(ctx, item)
	if err != nil {
		return feed.Item{}, fmt.Errorf("persist message: %w", err)
	}

	// Optimistic local echo: the sender sees the message immediately. The
	// push subscription's copy of this row dedups on the server id.
	buf.Merge(persisted)

	if sub.Scope.Kind == feed.KindThread {
		if err := p.replies.IncrementReplyCount(ctx, sub.Scope.ParentID); err != nil {
			// Non-fatal secondary effect; the reply itself is persisted.
			log.Printf("composer: increment reply count for %s: %v", sub.Scope.ParentID, err)
		}
	}

	if p.publish != nil {
		row, err := json.Marshal(persisted)
		if err == nil {
			err = p.publish.Publish(ctx, sub.Scope.Topic(), changefeed.Event{
				Table: changefeed.TableMessages,
				Type:  changefeed.EventInsert,
				Row:   row,
			})
		}
		if err != nil {
			log.Printf("composer: publish insert event for %s: %v", persisted.ID, err)
		}
	}

	return persisted, nil
}

// otherMember picks the DM recipient: the pair member that is not the
// sender. A self-DM has both members equal.
func otherMember(s feed.Scope, senderID string) string {
	if s.UserA == senderID {
		return s.UserB
	}
	return s.UserA
}
