package search

import (
	"context"

	"board/api/internal/store"
	log "github.com/sirupsen/logrus"
)

// AllPostsLoader supplies every post for a full reindex.
type AllPostsLoader interface {
	ListAllPosts(ctx context.Context) ([]store.Post, error)
}

// Service is the facade that tries the index first and falls back to PG FTS.
type Service struct {
	index    Index
	fallback Searcher
}

// NewService creates a search service. index may be nil when Meilisearch is
// not configured.
func NewService(index Index, fallback Searcher) *Service {
	return &Service{index: index, fallback: fallback}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise falls back to PG FTS. It
// never fails; errors are logged and yield an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.WithError(err).Warn("index search failed, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.WithError(err).Warn("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPost indexes a post (fire-and-forget).
func (s *Service) IndexPost(post store.Post) {
	if !s.indexReady() {
		return
	}
	record := RecordFromPost(post)
	go func() {
		if err := s.index.IndexPosts([]PostRecord{record}); err != nil {
			log.WithFields(log.Fields{
				"post":  record.ID,
				"error": err,
			}).Warn("index post failed")
		}
	}()
}

// DeletePost removes a post from the index (fire-and-forget).
func (s *Service) DeletePost(id int64) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeletePost(id); err != nil {
			log.WithFields(log.Fields{
				"post":  id,
				"error": err,
			}).Warn("remove post from index failed")
		}
	}()
}

// Reindex loads every post and pushes it to the index. It returns the number
// of posts sent.
func (s *Service) Reindex(ctx context.Context, loader AllPostsLoader) (int, error) {
	if !s.indexReady() {
		return 0, errIndexUnavailable
	}
	posts, err := loader.ListAllPosts(ctx)
	if err != nil {
		return 0, err
	}
	records := make([]PostRecord, 0, len(posts))
	for _, post := range posts {
		records = append(records, RecordFromPost(post))
	}
	if err := s.index.IndexPosts(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
