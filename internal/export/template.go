package export

import (
	"bytes"
	"html/template"
	"net/url"

	"board/api/internal/augment"
	"board/api/internal/store"
)

var archiveTemplate = template.Must(template.New("archive").Funcs(template.FuncMap{
	"gate":   func(target string) string { return "/out?to=" + url.QueryEscape(target) },
	"anchor": augment.Anchor,
}).Parse(archiveHTML))

type archivePost struct {
	Number int
	Post   store.Post
	Spans  []augment.Span
}

type archiveData struct {
	Title      string
	ThreadID   string
	ExportedAt string
	Posts      []archivePost
}

// RenderHTML lays the archive out with the same span rules the live view
// uses: cross-references jump to the numbered post, links go through the gate.
func RenderHTML(archive Archive) ([]byte, error) {
	data := archiveData{
		Title:      archive.Thread.Title,
		ThreadID:   archive.Thread.ID,
		ExportedAt: archive.ExportedAt.UTC().Format("2006-01-02 15:04 MST"),
		Posts:      make([]archivePost, 0, len(archive.Posts)),
	}
	for i, post := range archive.Posts {
		data.Posts = append(data.Posts, archivePost{
			Number: i + 1,
			Post:   post,
			Spans:  augment.Tokenize(post.Content),
		})
	}

	var buf bytes.Buffer
	if err := archiveTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const archiveHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.85em; }
    .post { border-left: 3px solid #ccc; padding: 0.5rem 1rem; margin: 1rem 0; }
    .content { white-space: pre-wrap; }
    img { max-width: 100%; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <p class="meta">Thread {{.ThreadID}} &middot; exported {{.ExportedAt}} &middot; {{len .Posts}} posts</p>
  {{range .Posts}}
  <article class="post" id="post-{{.Number}}">
    <div class="meta">#{{.Number}} {{.Post.Name}} <code>{{.Post.ClientID}}</code> {{.Post.CreatedAt.UTC.Format "2006-01-02 15:04"}} &middot; {{.Post.Likes}} likes</div>
    {{with .Post.ImageURL}}<img src="{{.}}" alt="">{{end}}
    <div class="content">{{range .Spans}}{{if eq .Kind "crossref"}}<a href="{{anchor .Ref}}">{{.Text}}</a>{{else if eq .Kind "link"}}<a href="{{gate .URL}}" rel="nofollow">{{.Text}}</a>{{else}}{{.Text}}{{end}}{{end}}</div>
  </article>
  {{end}}
</body>
</html>`
