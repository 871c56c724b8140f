package feed

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"board/api/internal/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

// NotifyChannel is the Postgres channel the posts trigger notifies on.
const NotifyChannel = "post_changes"

// PostLoader reloads a post after a change notification.
type PostLoader interface {
	GetPost(ctx context.Context, postID int64) (store.Post, error)
}

type notification struct {
	Op       Op     `json:"op"`
	ID       int64  `json:"id"`
	ThreadID string `json:"thread_id"`
}

// Relay turns Postgres change notifications into feed events. Notifications
// carry only ids; inserted and updated rows are reloaded before publishing.
type Relay struct {
	databaseURL string
	posts       PostLoader
	publisher   Publisher
	connect     func(ctx context.Context, url string) (*pgx.Conn, error)
}

func NewRelay(databaseURL string, posts PostLoader, publisher Publisher) *Relay {
	return &Relay{
		databaseURL: databaseURL,
		posts:       posts,
		publisher:   publisher,
		connect:     pgx.Connect,
	}
}

// Run listens until ctx is cancelled, reconnecting with exponential backoff
// whenever the connection drops.
func (r *Relay) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	operation := func() error {
		err := r.listen(ctx, policy.Reset)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"error": err,
			"retry": wait,
		}).Warn("change relay disconnected")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Relay) listen(ctx context.Context, connected func()) error {
	conn, err := r.connect(ctx, r.databaseURL)
	if err != nil {
		return fmt.Errorf("connect relay: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	connected()
	log.WithField("channel", NotifyChannel).Info("change relay listening")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		r.Handle(ctx, []byte(n.Payload))
	}
}

// Handle publishes the event for one raw notification payload. Failures are
// logged; a row that vanished before it could be reloaded is skipped.
func (r *Relay) Handle(ctx context.Context, payload []byte) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil || n.ID <= 0 || n.ThreadID == "" {
		log.WithField("payload", string(payload)).Warn("ignoring malformed change notification")
		return
	}

	var event Event
	switch n.Op {
	case OpInsert, OpUpdate:
		post, err := r.posts.GetPost(ctx, n.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return
		}
		if err != nil {
			log.WithFields(log.Fields{
				"post":  n.ID,
				"error": err,
			}).Warn("reload changed post failed")
			return
		}
		if n.Op == OpInsert {
			event = Inserted(post)
		} else {
			event = Updated(post.ThreadID, FullPatch(post))
		}
	case OpDelete:
		event = Deleted(n.ThreadID, n.ID)
	default:
		log.WithField("op", n.Op).Warn("ignoring unknown change op")
		return
	}

	if err := r.publisher.Publish(ctx, event); err != nil {
		log.WithFields(log.Fields{
			"op":     event.Op,
			"thread": event.ThreadID,
			"error":  err,
		}).Warn("publish change event failed")
	}
}
