// Package export renders a feed transcript to HTML or PDF.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are
// unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
