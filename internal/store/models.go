package store

import "time"

// JSON names follow the persisted column names; the change feed and the
// HTTP API both rely on them.

type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadSummary is a Thread with its post count for the board index.
type ThreadSummary struct {
	Thread
	PostCount int `json:"post_count"`
}

// DefaultAuthorName is shown for posts submitted without a name.
const DefaultAuthorName = "Anonymous"

type Post struct {
	ID             int64     `json:"id"`
	ThreadID       string    `json:"thread_id"`
	Name           string    `json:"name"`
	Content        string    `json:"content"`
	ImageURL       *string   `json:"image_url"`
	DeletePassword string    `json:"-"`
	ClientID       string    `json:"client_id"`
	Likes          int       `json:"likes"`
	CreatedAt      time.Time `json:"created_at"`
}

type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Auth     string `json:"auth"`
	P256dh   string `json:"p256dh"`
}
