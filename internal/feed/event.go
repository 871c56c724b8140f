// Package feed carries per-thread post change events from the database to
// live viewers. Delivery is at-least-once with no ordering guarantee.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"board/api/internal/store"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// PostPatch is a partial post. Nil fields are not part of the change.
type PostPatch struct {
	ID       int64   `json:"id"`
	Name     *string `json:"name,omitempty"`
	Content  *string `json:"content,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
	ClientID *string `json:"client_id,omitempty"`
	Likes    *int    `json:"likes,omitempty"`
}

// Event is one change to a thread. Exactly one of Post, Patch or PostID is
// meaningful, selected by Op.
type Event struct {
	Op       Op          `json:"op"`
	ThreadID string      `json:"thread_id"`
	Post     *store.Post `json:"post,omitempty"`
	Patch    *PostPatch  `json:"patch,omitempty"`
	PostID   int64       `json:"post_id,omitempty"`
}

func Inserted(post store.Post) Event {
	return Event{Op: OpInsert, ThreadID: post.ThreadID, Post: &post}
}

func Updated(threadID string, patch PostPatch) Event {
	return Event{Op: OpUpdate, ThreadID: threadID, Patch: &patch}
}

func Deleted(threadID string, postID int64) Event {
	return Event{Op: OpDelete, ThreadID: threadID, PostID: postID}
}

// FullPatch turns a whole post into an update touching every mutable field.
func FullPatch(post store.Post) PostPatch {
	name, content, clientID, likes := post.Name, post.Content, post.ClientID, post.Likes
	patch := PostPatch{ID: post.ID, Name: &name, Content: &content, ClientID: &clientID, Likes: &likes}
	if post.ImageURL != nil {
		imageURL := *post.ImageURL
		patch.ImageURL = &imageURL
	}
	return patch
}

// PostIDOf returns the id the event refers to, or 0 when it carries none.
func (e Event) PostIDOf() int64 {
	switch e.Op {
	case OpInsert:
		if e.Post != nil {
			return e.Post.ID
		}
	case OpUpdate:
		if e.Patch != nil {
			return e.Patch.ID
		}
	case OpDelete:
		return e.PostID
	}
	return 0
}

var ErrMalformedEvent = errors.New("malformed change event")

// Validate reports whether the event is well formed for its op.
func (e Event) Validate() error {
	if e.ThreadID == "" {
		return fmt.Errorf("%w: missing thread id", ErrMalformedEvent)
	}
	switch e.Op {
	case OpInsert:
		if e.Post == nil {
			return fmt.Errorf("%w: insert without post", ErrMalformedEvent)
		}
	case OpUpdate:
		if e.Patch == nil {
			return fmt.Errorf("%w: update without patch", ErrMalformedEvent)
		}
	case OpDelete:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrMalformedEvent, e.Op)
	}
	if e.PostIDOf() <= 0 {
		return fmt.Errorf("%w: missing post id", ErrMalformedEvent)
	}
	return nil
}

func Decode(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := event.Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, threadID string) (*Subscription, error)
}

// Bus is a feed backend that both accepts and delivers events.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
