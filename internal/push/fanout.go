// Package push delivers web push notifications for new posts to every
// registered endpoint. Delivery is best effort: nothing here ever reports an
// error back to the post that triggered it.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"board/api/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// ErrGone marks an endpoint that will never accept deliveries again.
var ErrGone = errors.New("push endpoint gone")

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "board_push_deliveries_total",
	Help: "Push delivery attempts by outcome",
}, []string{"outcome"})

type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// NewPayload builds the notification for a post. The body is the raw post
// text.
func NewPayload(threadTitle, author, body, threadID string) Payload {
	if author == "" {
		author = store.DefaultAuthorName
	}
	return Payload{
		Title: fmt.Sprintf("[%s] %s", threadTitle, author),
		Body:  body,
		URL:   "/threads/" + threadID,
	}
}

type Transport interface {
	Deliver(ctx context.Context, sub store.PushSubscription, message []byte) error
}

// Registry is the subscriber list. DeletePushSubscription must tolerate
// concurrent calls and unknown endpoints.
type Registry interface {
	ListPushSubscriptions(ctx context.Context) ([]store.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

type Fanout struct {
	registry  Registry
	transport Transport
}

func NewFanout(registry Registry, transport Transport) *Fanout {
	return &Fanout{registry: registry, transport: transport}
}

// Broadcast delivers payload to every registered endpoint concurrently and
// returns once each delivery has settled. Gone endpoints are removed; every
// other failure is dropped.
func (f *Fanout) Broadcast(ctx context.Context, payload Payload) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("push broadcast aborted")
		}
	}()

	subs, err := f.registry.ListPushSubscriptions(ctx)
	if err != nil {
		log.WithError(err).Warn("list push subscriptions failed")
		return
	}
	if len(subs) == 0 {
		return
	}

	message, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Warn("marshal push payload failed")
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub store.PushSubscription) {
			defer wg.Done()
			f.deliver(ctx, sub, message)
		}(sub)
	}
	wg.Wait()
}

func (f *Fanout) deliver(ctx context.Context, sub store.PushSubscription, message []byte) {
	defer func() {
		if r := recover(); r != nil {
			deliveries.WithLabelValues("failed").Inc()
			log.WithFields(log.Fields{
				"endpoint": sub.Endpoint,
				"panic":    r,
			}).Warn("push delivery panicked")
		}
	}()

	err := f.transport.Deliver(ctx, sub, message)
	switch {
	case err == nil:
		deliveries.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrGone):
		deliveries.WithLabelValues("gone").Inc()
		if err := f.registry.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			log.WithFields(log.Fields{
				"endpoint": sub.Endpoint,
				"error":    err,
			}).Warn("prune push subscription failed")
			return
		}
		log.WithField("endpoint", sub.Endpoint).Info("pruned gone push subscription")
	default:
		deliveries.WithLabelValues("failed").Inc()
		log.WithFields(log.Fields{
			"endpoint": sub.Endpoint,
			"error":    err,
		}).Debug("push delivery failed")
	}
}

// Notify runs Broadcast in the background, detached from the caller's
// cancellation. The returned channel closes when the broadcast has settled;
// callers need not wait on it.
func (f *Fanout) Notify(ctx context.Context, threadTitle, author, body, threadID string) <-chan struct{} {
	done := make(chan struct{})
	payload := NewPayload(threadTitle, author, body, threadID)
	detached := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		f.Broadcast(detached, payload)
	}()
	return done
}
