package export

import (
	"strings"
	"testing"
	"time"

	"murmur/client/internal/feed"
)

func sampleItems() []feed.Item {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return []feed.Item{
		{
			ID:         "msg-1",
			SenderID:   "user-1",
			SenderName: "Ada",
			Content:    "morning everyone",
			ReplyCount: 2,
			CreatedAt:  at,
		},
		{
			ID:         "msg-2",
			SenderID:   "user-2",
			SenderName: "Grace",
			Content:    "<strong>ship it</strong>",
			Attachments: []feed.Attachment{
				{StorageKey: "att-1", DisplayName: "release-notes.pdf", MimeType: "application/pdf", ByteSize: 1024},
			},
			CreatedAt: at.Add(time.Minute),
		},
	}
}

func TestExportHTML(t *testing.T) {
	res, err := Export(Request{
		Title:      "general",
		ScopeLabel: "channel:chan-1",
		Items:      sampleItems(),
		Format:     FormatHTML,
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if res.MimeType != "text/html; charset=utf-8" {
		t.Errorf("unexpected mime type %s", res.MimeType)
	}
	if res.Filename != "general.html" {
		t.Errorf("unexpected filename %s", res.Filename)
	}

	html := string(res.Data)
	for _, want := range []string{
		"Ada", "Grace",
		"morning everyone",
		"<strong>ship it</strong>",
		"release-notes.pdf",
		"2 replies",
		"channel:chan-1",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("expected HTML to contain %q", want)
		}
	}
}

func TestExportSanitizesContent(t *testing.T) {
	res, err := Export(Request{
		Title:  "general",
		Format: FormatHTML,
		Items: []feed.Item{{
			ID:         "msg-1",
			SenderName: "Eve",
			Content:    `hi<script>alert(1)</script>`,
			CreatedAt:  time.Now(),
		}},
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if strings.Contains(string(res.Data), "<script>") {
		t.Error("script must never survive into the transcript")
	}
}

func TestExportAuthorFallsBackToSenderID(t *testing.T) {
	res, err := Export(Request{
		Title:  "general",
		Format: FormatHTML,
		Items: []feed.Item{{
			ID:        "msg-1",
			SenderID:  "user-7",
			Content:   "anonymous-looking",
			CreatedAt: time.Now(),
		}},
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.Contains(string(res.Data), "user-7") {
		t.Error("author should fall back to the sender id")
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	if _, err := Export(Request{Title: "x", Format: Format("docx")}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"general", "general"},
		{"release planning 2026", "release-planning-2026"},
		{"weird/../path", "weirdpath"},
		{"", "transcript"},
		{"###", "transcript"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
