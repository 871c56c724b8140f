// Package live keeps one viewer's copy of a thread in step with the change
// feed. A View is seeded from a snapshot and then folds in events that may
// repeat, arrive out of order, or overlap the snapshot.
package live

import (
	"board/api/internal/feed"
	"board/api/internal/store"
	"github.com/samber/lo"
)

// View is the ordered post sequence for one thread. It is not safe for
// concurrent use; a Viewer owns exactly one.
type View struct {
	threadID string
	posts    []store.Post
	index    map[int64]int
}

// NewView seeds the view. Repeated ids in the snapshot keep their first
// occurrence.
func NewView(threadID string, snapshot []store.Post) *View {
	unique := lo.UniqBy(snapshot, func(p store.Post) int64 { return p.ID })
	v := &View{
		threadID: threadID,
		posts:    make([]store.Post, 0, len(unique)),
		index:    make(map[int64]int, len(unique)),
	}
	for _, post := range unique {
		v.index[post.ID] = len(v.posts)
		v.posts = append(v.posts, post)
	}
	return v
}

func (v *View) ThreadID() string {
	return v.threadID
}

func (v *View) Len() int {
	return len(v.posts)
}

// Posts returns a copy of the current sequence in display order.
func (v *View) Posts() []store.Post {
	out := make([]store.Post, len(v.posts))
	copy(out, v.posts)
	return out
}

// Apply folds one event into the view and reports whether anything changed.
// Foreign or malformed events, inserts of known ids, and updates or deletes
// of unknown ids leave the view untouched.
func (v *View) Apply(event feed.Event) bool {
	if event.ThreadID != v.threadID || event.Validate() != nil {
		return false
	}

	switch event.Op {
	case feed.OpInsert:
		post := *event.Post
		if post.ThreadID != v.threadID {
			return false
		}
		if _, ok := v.index[post.ID]; ok {
			return false
		}
		v.index[post.ID] = len(v.posts)
		v.posts = append(v.posts, post)
		return true

	case feed.OpUpdate:
		i, ok := v.index[event.Patch.ID]
		if !ok {
			return false
		}
		return mergePatch(&v.posts[i], *event.Patch)

	case feed.OpDelete:
		i, ok := v.index[event.PostID]
		if !ok {
			return false
		}
		v.posts = append(v.posts[:i], v.posts[i+1:]...)
		delete(v.index, event.PostID)
		for j := i; j < len(v.posts); j++ {
			v.index[v.posts[j].ID] = j
		}
		return true
	}
	return false
}

// mergePatch copies the supplied fields and reports whether any differed.
func mergePatch(post *store.Post, patch feed.PostPatch) bool {
	changed := false
	if patch.Name != nil && *patch.Name != post.Name {
		post.Name = *patch.Name
		changed = true
	}
	if patch.Content != nil && *patch.Content != post.Content {
		post.Content = *patch.Content
		changed = true
	}
	if patch.ImageURL != nil && (post.ImageURL == nil || *post.ImageURL != *patch.ImageURL) {
		imageURL := *patch.ImageURL
		post.ImageURL = &imageURL
		changed = true
	}
	if patch.ClientID != nil && *patch.ClientID != post.ClientID {
		post.ClientID = *patch.ClientID
		changed = true
	}
	if patch.Likes != nil && *patch.Likes != post.Likes {
		post.Likes = *patch.Likes
		changed = true
	}
	return changed
}
