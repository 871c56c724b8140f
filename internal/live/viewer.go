package live

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"board/api/internal/feed"
	"board/api/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_live_events_total",
		Help: "Change events seen by live viewers, by op and result",
	}, []string{"op", "result"})

	activeViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "board_live_viewers",
		Help: "Number of live viewers currently running",
	})
)

const toastPreviewRunes = 80

// Sink receives the externally observable effects of applied events.
type Sink interface {
	Render(posts []store.Post)
	Cue(post store.Post)
	Toast(post store.Post, summary string)
}

// Viewer drives a View for one connected viewer. Events are applied one at a
// time on the Run goroutine; SetMuted and Release may be called from any
// goroutine.
type Viewer struct {
	view  *View
	sink  Sink
	muted atomic.Bool

	// mu orders Apply against Release.
	mu          sync.Mutex
	released    bool
	releaseOnce sync.Once
	done        chan struct{}
}

func NewViewer(view *View, sink Sink) *Viewer {
	return &Viewer{
		view: view,
		sink: sink,
		done: make(chan struct{}),
	}
}

// SetMuted takes effect for the next applied insert, including on a Run
// that is already in progress.
func (v *Viewer) SetMuted(muted bool) {
	v.muted.Store(muted)
}

func (v *Viewer) Muted() bool {
	return v.muted.Load()
}

// Release stops the viewer. Once it returns no further event is applied to
// the view; an apply already in progress finishes first.
func (v *Viewer) Release() {
	v.releaseOnce.Do(func() {
		v.mu.Lock()
		v.released = true
		v.mu.Unlock()
		close(v.done)
	})
}

func (v *Viewer) isReleased() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.released
}

// Run renders the current view and then applies events until ctx is done,
// the channel closes, or Release is called. The viewer is released when Run
// returns.
func (v *Viewer) Run(ctx context.Context, events <-chan feed.Event) {
	activeViewers.Inc()
	defer activeViewers.Dec()
	defer v.Release()

	if v.isReleased() {
		return
	}
	v.sink.Render(v.view.Posts())

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			v.deliver(event)
		}
	}
}

func (v *Viewer) deliver(event feed.Event) bool {
	op := strings.ToLower(string(event.Op))

	v.mu.Lock()
	applied := !v.released && v.view.Apply(event)
	var posts []store.Post
	if applied {
		posts = v.view.Posts()
	}
	v.mu.Unlock()

	if !applied {
		eventsTotal.WithLabelValues(op, "ignored").Inc()
		return false
	}
	eventsTotal.WithLabelValues(op, "applied").Inc()

	if event.Op == feed.OpInsert && !v.muted.Load() {
		post := *event.Post
		v.sink.Cue(post)
		v.sink.Toast(post, Summary(post))
	}
	v.sink.Render(posts)
	return true
}

// Summary is the one-line toast text for a new post.
func Summary(post store.Post) string {
	name := strings.TrimSpace(post.Name)
	if name == "" {
		name = store.DefaultAuthorName
	}
	text := strings.Join(strings.Fields(post.Content), " ")
	if runes := []rune(text); len(runes) > toastPreviewRunes {
		text = string(runes[:toastPreviewRunes]) + "…"
	}
	return name + ": " + text
}
