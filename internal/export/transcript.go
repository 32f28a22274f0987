package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"murmur/client/internal/composer"
	"murmur/client/internal/feed"
)

// Request describes one transcript export. Items come straight from the
// surface's merge buffer, already in feed order.
type Request struct {
	Title      string
	ScopeLabel string
	Items      []feed.Item
	Format     Format
}

// TemplateMessage is one rendered message block.
type TemplateMessage struct {
	Author      string
	SentAt      time.Time
	ContentHTML template.HTML
	Attachments []string
	ReplyCount  int
}

// TemplateData holds data for transcript template rendering.
type TemplateData struct {
	Title      string
	ScopeLabel string
	Exported   time.Time
	Messages   []TemplateMessage
}

// Export renders the transcript in the requested format.
func Export(req Request) (*Result, error) {
	data := TemplateData{
		Title:      req.Title,
		ScopeLabel: req.ScopeLabel,
		Exported:   time.Now(),
	}
	for _, it := range req.Items {
		msg := TemplateMessage{
			Author: it.SenderName,
			SentAt: it.CreatedAt,
			// Stored content is already sanitized; sanitize again before
			// render, defense in depth.
			ContentHTML: template.HTML(composer.Sanitize(it.Content)),
			ReplyCount:  it.ReplyCount,
		}
		if msg.Author == "" {
			msg.Author = it.SenderID
		}
		for _, att := range it.Attachments {
			msg.Attachments = append(msg.Attachments, att.DisplayName)
		}
		data.Messages = append(data.Messages, msg)
	}

	html, err := renderTranscriptHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render transcript: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(req.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, req.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .message { margin: 1rem 0; padding-bottom: 0.5rem; border-bottom: 1px solid #eee; }
    .message .head { color: #444; font-size: 0.9em; }
    .attachments { color: #666; font-size: 0.85em; font-style: italic; }
    .replies { color: #666; font-size: 0.85em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.ScopeLabel}} | exported {{.Exported.Format "Jan 2, 2006 15:04"}}</div>
  {{range .Messages}}
  <div class="message">
    <div class="head"><strong>{{.Author}}</strong> {{.SentAt.Format "Jan 2, 2006 15:04"}}</div>
    <div>{{.ContentHTML}}</div>
    {{if .Attachments}}<div class="attachments">Attached: {{range $i, $a := .Attachments}}{{if $i}}, {{end}}{{$a}}{{end}}</div>{{end}}
    {{if .ReplyCount}}<div class="replies">{{.ReplyCount}} replies in thread</div>{{end}}
  </div>
  {{end}}
</body>
</html>`))

func renderTranscriptHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
