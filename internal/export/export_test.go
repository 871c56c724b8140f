package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"board/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArchive() Archive {
	created := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	return Archive{
		Thread: store.Thread{ID: "thr_1", Title: "Cats & dogs"},
		Posts: []store.Post{
			{ID: 11, Name: "Anonymous", ClientID: "AB12CD34", Content: "<b>first</b>", CreatedAt: created},
			{ID: 12, Name: "bob", ClientID: "ZZ00ZZ00", Content: ">>1 see https://example.com/x?a=1", CreatedAt: created},
		},
		ExportedAt: created,
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(sampleArchive())
	require.NoError(t, err)
	page := string(html)

	assert.Contains(t, page, "<title>Cats &amp; dogs</title>")
	assert.Contains(t, page, `id="post-1"`)
	assert.Contains(t, page, `id="post-2"`)
	assert.Contains(t, page, `<a href="#post-1">&gt;&gt;1</a>`)
	assert.Contains(t, page, `/out?to=https%3A%2F%2Fexample.com%2Fx%3Fa%3D1`)
	assert.NotContains(t, page, "<b>first</b>")
	assert.Contains(t, page, "AB12CD34")
}

func TestExportHTML(t *testing.T) {
	svc := NewService()
	result, err := svc.Export(context.Background(), sampleArchive(), FormatHTML)
	require.NoError(t, err)

	assert.Equal(t, "Cats--dogs.html", result.Filename)
	assert.True(t, strings.HasPrefix(result.MimeType, "text/html"))
	assert.NotEmpty(t, result.Data)
}

func TestExportPDFUsesPrinter(t *testing.T) {
	var printed []byte
	svc := &Service{printPDF: func(_ context.Context, html []byte) ([]byte, error) {
		printed = html
		return []byte("%PDF-1.7"), nil
	}}

	result, err := svc.Export(context.Background(), sampleArchive(), FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.MimeType)
	assert.Equal(t, "Cats--dogs.pdf", result.Filename)
	assert.Equal(t, []byte("%PDF-1.7"), result.Data)
	assert.Contains(t, string(printed), `id="post-2"`)
}

func TestExportPDFMissingChromium(t *testing.T) {
	svc := &Service{printPDF: func(context.Context, []byte) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	}}
	_, err := svc.Export(context.Background(), sampleArchive(), FormatPDF)
	assert.True(t, errors.Is(err, ErrPDFDependencyMissing))
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, format)

	format, err = ParseFormat("pdf")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, format)

	_, err = ParseFormat("docx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestArchiveFilename(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"General chat", "General-chat"},
		{"日本語", "thread"},
		{"", "thread"},
		{"a_b-c!?", "a_b-c"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, archiveFilename(tt.title), tt.title)
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	assert.Equal(t, "a%20b", percentEncodeForDataURL("a b"))
	assert.Equal(t, "%3Cp%3E%C3%A9", percentEncodeForDataURL("<p>é"))
	assert.Equal(t, "safe-_.~", percentEncodeForDataURL("safe-_.~"))
}
