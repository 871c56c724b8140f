package push

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"board/api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRegistry struct {
	mu      sync.Mutex
	subs    map[string]store.PushSubscription
	listErr error
	deletes int
}

func newMemoryRegistry(endpoints ...string) *memoryRegistry {
	r := &memoryRegistry{subs: make(map[string]store.PushSubscription)}
	for _, endpoint := range endpoints {
		r.subs[endpoint] = store.PushSubscription{Endpoint: endpoint, Auth: "a", P256dh: "k"}
	}
	return r
}

func (r *memoryRegistry) ListPushSubscriptions(context.Context) ([]store.PushSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]store.PushSubscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (r *memoryRegistry) DeletePushSubscription(_ context.Context, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	delete(r.subs, endpoint)
	return nil
}

func (r *memoryRegistry) endpoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs))
	for endpoint := range r.subs {
		out = append(out, endpoint)
	}
	sort.Strings(out)
	return out
}

type fakeTransport struct {
	deliverFn func(ctx context.Context, sub store.PushSubscription, message []byte) error
}

func (f *fakeTransport) Deliver(ctx context.Context, sub store.PushSubscription, message []byte) error {
	return f.deliverFn(ctx, sub, message)
}

func TestBroadcastPrunesOnlyGoneEndpoints(t *testing.T) {
	registry := newMemoryRegistry(
		"https://push.test/ok-1",
		"https://push.test/ok-2",
		"https://push.test/gone-1",
		"https://push.test/gone-2",
		"https://push.test/flaky",
	)
	transport := &fakeTransport{deliverFn: func(_ context.Context, sub store.PushSubscription, _ []byte) error {
		switch sub.Endpoint {
		case "https://push.test/gone-1", "https://push.test/gone-2":
			return ErrGone
		case "https://push.test/flaky":
			return errors.New("connection reset")
		}
		return nil
	}}

	NewFanout(registry, transport).Broadcast(context.Background(), NewPayload("Cats", "Mia", "meow", "thr_1"))

	assert.Equal(t, []string{
		"https://push.test/flaky",
		"https://push.test/ok-1",
		"https://push.test/ok-2",
	}, registry.endpoints())
}

func TestBroadcastDeliversConcurrently(t *testing.T) {
	registry := newMemoryRegistry("https://push.test/a", "https://push.test/b", "https://push.test/c")

	var started sync.WaitGroup
	started.Add(3)
	release := make(chan struct{})
	transport := &fakeTransport{deliverFn: func(context.Context, store.PushSubscription, []byte) error {
		started.Done()
		<-release
		return nil
	}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewFanout(registry, transport).Broadcast(context.Background(), Payload{})
	}()

	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()
	select {
	case <-allStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("deliveries were not started together")
	}
	close(release)
	<-done
}

func TestBroadcastSurvivesRegistryFailureAndPanics(t *testing.T) {
	registry := newMemoryRegistry("https://push.test/a")
	registry.listErr = errors.New("db down")
	transport := &fakeTransport{deliverFn: func(context.Context, store.PushSubscription, []byte) error {
		t.Fatal("no delivery expected without a subscriber list")
		return nil
	}}
	NewFanout(registry, transport).Broadcast(context.Background(), Payload{})

	registry.listErr = nil
	panicky := &fakeTransport{deliverFn: func(context.Context, store.PushSubscription, []byte) error {
		panic("transport bug")
	}}
	NewFanout(registry, panicky).Broadcast(context.Background(), Payload{})
	assert.Equal(t, []string{"https://push.test/a"}, registry.endpoints())
}

func TestBroadcastSendsPayloadJSON(t *testing.T) {
	registry := newMemoryRegistry("https://push.test/a")
	var got Payload
	transport := &fakeTransport{deliverFn: func(_ context.Context, _ store.PushSubscription, message []byte) error {
		return json.Unmarshal(message, &got)
	}}

	NewFanout(registry, transport).Broadcast(context.Background(), NewPayload("Cats", "", "see >>1 http://x.test", "thr_9"))

	assert.Equal(t, "[Cats] Anonymous", got.Title)
	assert.Equal(t, "see >>1 http://x.test", got.Body, "body stays raw text")
	assert.Equal(t, "/threads/thr_9", got.URL)
}

func TestNotifyIsDetachedFromCaller(t *testing.T) {
	registry := newMemoryRegistry("https://push.test/a")
	release := make(chan struct{})
	delivered := make(chan error, 1)
	transport := &fakeTransport{deliverFn: func(ctx context.Context, _ store.PushSubscription, _ []byte) error {
		<-release
		delivered <- ctx.Err()
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := NewFanout(registry, transport).Notify(ctx, "Cats", "Mia", "meow", "thr_1")
	cancel()

	select {
	case <-done:
		t.Fatal("notify finished before delivery was released")
	default:
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never settled")
	}
	require.NoError(t, <-delivered, "request cancellation must not reach deliveries")
}
