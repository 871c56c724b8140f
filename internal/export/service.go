package export

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

type Service struct {
	printPDF func(ctx context.Context, html []byte) ([]byte, error)
}

func NewService() *Service {
	return &Service{printPDF: printPDF}
}

func (s *Service) Export(ctx context.Context, archive Archive, format Format) (*Result, error) {
	html, err := RenderHTML(archive)
	if err != nil {
		return nil, fmt.Errorf("render archive: %w", err)
	}
	base := archiveFilename(archive.Thread.Title)

	switch format {
	case FormatHTML:
		return &Result{Data: html, Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		data, err := s.printPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{
			"thread": archive.Thread.ID,
			"bytes":  len(data),
		}).Info("thread exported as pdf")
		return &Result{Data: data, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
	}
	return nil, ErrUnsupportedFormat
}

// archiveFilename keeps ASCII letters, digits, '-' and '_', turns spaces into
// hyphens and caps the result at 50 bytes.
func archiveFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	name := b.String()
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		return "thread"
	}
	return name
}
