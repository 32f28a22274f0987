package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"murmur/client/internal/changefeed"
	"murmur/client/internal/feed"
	"murmur/client/internal/session"
)

type fakeUploader struct {
	mu     sync.Mutex
	keys   []string
	failOn string
}

func (f *fakeUploader) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, onProgress func(pct int)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && contentType == f.failOn {
		return errors.New("connection reset")
	}
	if onProgress != nil {
		onProgress(0)
		onProgress(100)
	}
	f.keys = append(f.keys, key)
	return nil
}

type fakePersister struct {
	mu        sync.Mutex
	persisted []feed.Item
	err       error
}

func (f *fakePersister) Persist(ctx context.Context, item feed.Item) (feed.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return feed.Item{}, f.err
	}
	item.ID = fmt.Sprintf("msg-%d", len(f.persisted)+1)
	f.persisted = append(f.persisted, item)
	return item, nil
}

func (f *fakePersister) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.persisted)
}

type fakeReplies struct {
	mu      sync.Mutex
	parents []string
	err     error
}

func (f *fakeReplies) IncrementReplyCount(ctx context.Context, parentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parents = append(f.parents, parentID)
	return f.err
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []changefeed.Event
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, ev changefeed.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.events = append(f.events, ev)
	return nil
}

func newTestPipeline() (*Pipeline, *fakeUploader, *fakePersister, *fakeReplies, *fakePublisher) {
	sess := session.New(session.Identity{ID: "user-1", Name: "Ada"})
	uploads := &fakeUploader{}
	persist := &fakePersister{}
	replies := &fakeReplies{}
	publish := &fakePublisher{}
	return NewPipeline(sess, uploads, persist, replies, publish), uploads, persist, replies, publish
}

func TestSubmitRejectsEmptySubmission(t *testing.T) {
	p, _, persist, _, _ := newTestPipeline()
	buf := feed.NewBuffer()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := p.Submit(context.Background(), buf, Submission{
			Scope: feed.ChannelScope("chan-1"),
			Text:  text,
		})
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("text %q: expected ValidationError, got %v", text, err)
		}
	}
	if persist.count() != 0 {
		t.Errorf("nothing should be persisted, got %d rows", persist.count())
	}
}

func TestSubmitAttachmentOnlyIsValid(t *testing.T) {
	p, _, persist, _, _ := newTestPipeline()
	buf := feed.NewBuffer()

	item, err := p.Submit(context.Background(), buf, Submission{
		Scope: feed.ChannelScope("chan-1"),
		Files: []File{{Name: "report.pdf", ContentType: "application/pdf", Size: 4, Content: strings.NewReader("data")}},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(item.Attachments) != 1 || item.Attachments[0].DisplayName != "report.pdf" {
		t.Errorf("unexpected attachments: %+v", item.Attachments)
	}
	if persist.count() != 1 {
		t.Errorf("expected 1 persisted row, got %d", persist.count())
	}
}

func TestSubmitChannelMessage(t *testing.T) {
	p, _, persist, _, publish := newTestPipeline()
	buf := feed.NewBuffer()
	scope := feed.ChannelScope("chan-1")

	item, err := p.Submit(context.Background(), buf, Submission{Scope: scope, Text: "hello"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if item.ID == "" {
		t.Error("submitted item should carry the server id")
	}
	if item.ChannelID != "chan-1" || item.SenderID != "user-1" || item.SenderName != "Ada" {
		t.Errorf("unexpected item fields: %+v", item)
	}

	// Optimistic echo: the sender's buffer already holds the message.
	if _, ok := buf.Get(item.ID); !ok {
		t.Error("persisted item should be in the buffer")
	}

	if persist.count() != 1 {
		t.Errorf("expected 1 persisted row, got %d", persist.count())
	}
	if len(publish.topics) != 1 || publish.topics[0] != scope.Topic() {
		t.Errorf("expected insert event on %s, got %v", scope.Topic(), publish.topics)
	}
}

func TestSubmitSanitizesContent(t *testing.T) {
	p, _, persist, _, _ := newTestPipeline()
	buf := feed.NewBuffer()

	item, err := p.Submit(context.Background(), buf, Submission{
		Scope: feed.ChannelScope("chan-1"),
		Text:  `hi<script>alert(1)</script> <strong>there</strong>`,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	want := "hi <strong>there</strong>"
	if item.Content != want {
		t.Errorf("expected sanitized content %q, got %q", want, item.Content)
	}
	persist.mu.Lock()
	stored := persist.persisted[0].Content
	persist.mu.Unlock()
	if stored != want {
		t.Errorf("stored content should be sanitized, got %q", stored)
	}
}

func TestUploadFailureAbortsWholeSend(t *testing.T) {
	p, uploads, persist, _, _ := newTestPipeline()
	uploads.failOn = "image/png"
	buf := feed.NewBuffer()

	_, err := p.Submit(context.Background(), buf, Submission{
		Scope: feed.ChannelScope("chan-1"),
		Text:  "two files",
		Files: []File{
			{Name: "notes.txt", ContentType: "text/plain", Size: 4, Content: strings.NewReader("abcd")},
			{Name: "shot.png", ContentType: "image/png", Size: 4, Content: strings.NewReader("abcd")},
		},
	})

	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if ue.FileName != "shot.png" {
		t.Errorf("expected failing file shot.png, got %s", ue.FileName)
	}
	if persist.count() != 0 {
		t.Errorf("no row may be persisted after an upload failure, got %d", persist.count())
	}
	if buf.Len() != 0 {
		t.Errorf("no optimistic insert after an upload failure, got %d items", buf.Len())
	}
}

func TestSubmitEchoDedups(t *testing.T) {
	p, _, _, _, _ := newTestPipeline()
	buf := feed.NewBuffer()

	item, err := p.Submit(context.Background(), buf, Submission{
		Scope: feed.ChannelScope("chan-1"),
		Text:  "hello",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The push subscription later delivers the same row.
	if buf.Merge(item) {
		t.Error("push echo of the optimistic insert must dedup")
	}
	if buf.Len() != 1 {
		t.Errorf("expected 1 item, got %d", buf.Len())
	}
}

func TestThreadReplyBumpsParentCounter(t *testing.T) {
	p, _, _, replies, _ := newTestPipeline()
	buf := feed.NewBuffer()

	item, err := p.Submit(context.Background(), buf, Submission{
		Scope: feed.ThreadScope("msg-parent"),
		Text:  "a reply",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if item.ParentID != "msg-parent" {
		t.Errorf("expected parent id on the reply, got %q", item.ParentID)
	}
	if len(replies.parents) != 1 || replies.parents[0] != "msg-parent" {
		t.Errorf("expected reply-count bump for msg-parent, got %v", replies.parents)
	}
}

func TestReplyCountFailureIsNonFatal(t *testing.T) {
	p, _, _, replies, _ := newTestPipeline()
	replies.err = errors.New("deadlock")
	buf := feed.NewBuffer()

	item, err := p.Submit(context.Background(), buf, Submission{
		Scope: feed.ThreadScope("msg-parent"),
		Text:  "a reply",
	})
	if err != nil {
		t.Fatalf("the reply itself must survive a counter failure: %v", err)
	}
	if _, ok := buf.Get(item.ID); !ok {
		t.Error("reply should still land in the buffer")
	}
}

func TestDirectMessageRecipient(t *testing.T) {
	p, _, _, _, _ := newTestPipeline()
	buf := feed.NewBuffer()

	// The scope pair is normalized, so the sender may be either member.
	item, err := p.Submit(context.Background(), buf, Submission{
		Scope: feed.DirectScope("user-9", "user-1"),
		Text:  "psst",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if item.RecipientID != "user-9" {
		t.Errorf("expected recipient user-9, got %q", item.RecipientID)
	}
	if item.ChannelID != "" || item.ParentID != "" {
		t.Errorf("direct message must not carry channel or parent ids: %+v", item)
	}
}

func TestPersistFailure(t *testing.T) {
	p, _, persist, _, publish := newTestPipeline()
	persist.err = errors.New("constraint violation")
	buf := feed.NewBuffer()

	_, err := p.Submit(context.Background(), buf, Submission{
		Scope: feed.ChannelScope("chan-1"),
		Text:  "hello",
	})
	if err == nil {
		t.Fatal("expected persist error")
	}
	if buf.Len() != 0 {
		t.Error("no optimistic insert when persist fails")
	}
	if len(publish.events) != 0 {
		t.Error("no event may be published when persist fails")
	}
}

func TestUploadProgressReported(t *testing.T) {
	p, _, _, _, _ := newTestPipeline()
	buf := feed.NewBuffer()

	var mu sync.Mutex
	progress := map[string][]int{}
	_, err := p.Submit(context.Background(), buf, Submission{
		Scope: feed.ChannelScope("chan-1"),
		Files: []File{{Name: "big.bin", ContentType: "application/octet-stream", Size: 8, Content: strings.NewReader("01234567")}},
		OnProgress: func(name string, pct int) {
			mu.Lock()
			progress[name] = append(progress[name], pct)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	got := progress["big.bin"]
	if len(got) == 0 || got[len(got)-1] != 100 {
		t.Errorf("expected progress ending at 100 for big.bin, got %v", got)
	}
}
