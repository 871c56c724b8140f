// Package export renders a thread archive as standalone HTML or PDF.
package export

import (
	"errors"
	"time"

	"board/api/internal/store"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts the query value of an export request. Empty means HTML.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", ErrUnsupportedFormat
}

// Archive is one thread as it stood when exported.
type Archive struct {
	Thread     store.Thread
	Posts      []store.Post
	ExportedAt time.Time
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing means no headless Chromium is installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
