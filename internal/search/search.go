package search

import (
	"context"
	"errors"

	"board/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	PostID   int64  `json:"postId"`
	ThreadID string `json:"threadId"`
	Name     string `json:"name"`
	Snippet  string `json:"snippet"`
	ClientID string `json:"clientId"`
}

// Query describes a search request. ThreadID narrows the search to one
// thread when set.
type Query struct {
	Text     string
	ThreadID string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a search backend that also accepts documents.
type Index interface {
	Searcher
	IndexPosts(posts []PostRecord) error
	DeletePost(id int64) error
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID        int64  `json:"id"`
	ThreadID  string `json:"threadId"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	ClientID  string `json:"clientId"`
	CreatedAt int64  `json:"createdAt"`
}

func RecordFromPost(post store.Post) PostRecord {
	return PostRecord{
		ID:        post.ID,
		ThreadID:  post.ThreadID,
		Name:      post.Name,
		Content:   post.Content,
		ClientID:  post.ClientID,
		CreatedAt: post.CreatedAt.Unix(),
	}
}

const defaultLimit = 20

func normalize(q Query) Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

var errIndexUnavailable = errors.New("search index unavailable")
