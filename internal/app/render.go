package app

import (
	"board/api/internal/augment"
	"board/api/internal/store"
	"github.com/samber/lo"
)

// RenderedPost is a post as shown in a thread: its 1-based number plus the
// augmented content spans.
type RenderedPost struct {
	Number int `json:"number"`
	store.Post
	Spans []augment.Span `json:"spans"`
}

// RenderPosts never returns nil, so an empty thread encodes as [].
func RenderPosts(posts []store.Post) []RenderedPost {
	if len(posts) == 0 {
		return []RenderedPost{}
	}
	return lo.Map(posts, func(post store.Post, i int) RenderedPost {
		return RenderedPost{
			Number: i + 1,
			Post:   post,
			Spans:  augment.Tokenize(post.Content),
		}
	})
}
