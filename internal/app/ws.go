package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"board/api/internal/live"
	"board/api/internal/store"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	liveWriteWait  = 5 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = 25 * time.Second
	liveOutBuffer  = 32
)

// liveRender replaces the client's post list. Posts is always present, so an
// emptied thread arrives as "posts":[].
type liveRender struct {
	Type  string         `json:"type"`
	Posts []RenderedPost `json:"posts"`
}

// liveMessage carries the cue and toast frames.
type liveMessage struct {
	Type    string `json:"type"`
	PostID  int64  `json:"postId"`
	Message string `json:"message,omitempty"`
}

// liveControl is a client to server frame. Only "mute" is understood.
type liveControl struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted"`
}

// socketSink turns viewer effects into frames for the writer goroutine.
type socketSink struct {
	ctx context.Context
	out chan any
}

func (s *socketSink) send(msg any) {
	select {
	case s.out <- msg:
	case <-s.ctx.Done():
	}
}

func (s *socketSink) Render(posts []store.Post) {
	s.send(liveRender{Type: "render", Posts: RenderPosts(posts)})
}

func (s *socketSink) Cue(post store.Post) {
	s.send(liveMessage{Type: "cue", PostID: post.ID})
}

func (s *socketSink) Toast(post store.Post, summary string) {
	s.send(liveMessage{Type: "toast", PostID: post.ID, Message: summary})
}

// handleLive streams one thread to one viewer until either side goes away.
// Closing the socket releases only this viewer's subscription.
func (s *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request, threadID string) {
	sub, view, err := s.service.OpenLiveView(r.Context(), threadID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &socketSink{ctx: ctx, out: make(chan any, liveOutBuffer)}
	viewer := live.NewViewer(view, sink)
	viewer.SetMuted(r.URL.Query().Get("muted") == "1")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		writeLiveFrames(ctx, conn, sink.out)
	}()

	go func() {
		defer cancel()
		readLiveControls(conn, viewer)
	}()

	logger := log.WithFields(log.Fields{
		"thread": threadID,
		"remote": r.RemoteAddr,
	})
	logger.Debug("live viewer connected")

	viewer.Run(ctx, sub.C)
	cancel()

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	select {
	case <-writerDone:
	case <-time.After(500 * time.Millisecond):
	}
	logger.Debug("live viewer disconnected")
}

func writeLiveFrames(ctx context.Context, conn *websocket.Conn, out <-chan any) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-out:
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}

func readLiveControls(conn *websocket.Conn, viewer *live.Viewer) {
	conn.SetReadLimit(4 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(livePongWait))

		var control liveControl
		if err := json.Unmarshal(data, &control); err != nil {
			continue
		}
		if control.Type == "mute" {
			viewer.SetMuted(control.Muted)
		}
	}
}
