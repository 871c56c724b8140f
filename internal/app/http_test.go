package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"board/api/internal/augment"
	"board/api/internal/store"
)

func serve(t *testing.T, server *HTTPServer, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var response struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return response.Code
}

func TestGetThreadRendersNumberedSpans(t *testing.T) {
	fs := &fakeStore{
		listPostsFn: func(_ context.Context, threadID string) ([]store.Post, error) {
			return []store.Post{
				{ID: 10, ThreadID: threadID, Content: "first"},
				{ID: 11, ThreadID: threadID, Content: ">>1 see https://example.com"},
			}, nil
		},
	}
	server := NewHTTPServer(newTestService(fs, Deps{}), "*")

	rr := serve(t, server, http.MethodGet, "/api/threads/thr_1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var view ThreadView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Posts) != 2 || view.Posts[0].Number != 1 || view.Posts[1].Number != 2 {
		t.Fatalf("unexpected posts %+v", view.Posts)
	}
	spans := view.Posts[1].Spans
	if len(spans) != 3 || spans[0].Kind != augment.KindCrossRef || spans[0].Ref != 1 || spans[2].Kind != augment.KindLink {
		t.Fatalf("unexpected spans %+v", spans)
	}
}

func TestGetThreadNotFound(t *testing.T) {
	fs := &fakeStore{getThreadFn: func(context.Context, string) (store.Thread, error) {
		return store.Thread{}, errThreadNotFound
	}}
	server := NewHTTPServer(newTestService(fs, Deps{}), "*")

	rr := serve(t, server, http.MethodGet, "/api/threads/missing", "")
	if rr.Code != http.StatusNotFound || decodeErrorCode(t, rr) != "THREAD_NOT_FOUND" {
		t.Fatalf("expected THREAD_NOT_FOUND, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCreatePostRespondsWhileFanoutBlocks(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	notifier := &fakeNotifier{notifyFn: func(context.Context, string, string, string, string) <-chan struct{} {
		done := make(chan struct{})
		go func() {
			<-release
			close(done)
		}()
		return done
	}}
	server := NewHTTPServer(newTestService(&fakeStore{}, Deps{Notifier: notifier}), "*")

	finished := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		finished <- serve(t, server, http.MethodPost, "/api/threads/thr_1/posts", `{"content":"hello"}`)
	}()

	select {
	case rr := <-finished:
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var post store.Post
		if err := json.Unmarshal(rr.Body.Bytes(), &post); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if post.Name != store.DefaultAuthorName || len(post.ClientID) != 8 {
			t.Fatalf("unexpected post %+v", post)
		}
		if strings.Contains(rr.Body.String(), "delete_password") {
			t.Fatal("delete password must never be serialized")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request waited on notification delivery")
	}
}

func TestCreatePostRejectsBadJSON(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, Deps{}), "*")

	rr := serve(t, server, http.MethodPost, "/api/threads/thr_1/posts", `{"content":`)
	if rr.Code != http.StatusBadRequest || decodeErrorCode(t, rr) != "INVALID_BODY" {
		t.Fatalf("expected INVALID_BODY, got %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodPost, "/api/threads/thr_1/posts", `{"content":""}`)
	if rr.Code != http.StatusUnprocessableEntity || decodeErrorCode(t, rr) != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestDeletePostWithWrongKey(t *testing.T) {
	fs := &fakeStore{deletePostWithKeyFn: func(context.Context, int64, string) (bool, error) {
		return false, nil
	}}
	server := NewHTTPServer(newTestService(fs, Deps{}), "*")

	rr := serve(t, server, http.MethodPost, "/api/posts/7/delete", `{"password":"nope"}`)
	if rr.Code != http.StatusForbidden || decodeErrorCode(t, rr) != "INVALID_DELETE_KEY" {
		t.Fatalf("expected 403 INVALID_DELETE_KEY, got %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodPost, "/api/posts/abc/delete", `{"password":"nope"}`)
	if rr.Code != http.StatusBadRequest || decodeErrorCode(t, rr) != "INVALID_POST_ID" {
		t.Fatalf("expected INVALID_POST_ID, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestLikePostRoute(t *testing.T) {
	fs := &fakeStore{likePostFn: func(context.Context, int64) (int, error) { return 4, nil }}
	server := NewHTTPServer(newTestService(fs, Deps{}), "*")

	rr := serve(t, server, http.MethodPost, "/api/posts/7/like", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var response struct {
		ID    int64 `json:"id"`
		Likes int   `json:"likes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response.ID != 7 || response.Likes != 4 {
		t.Fatalf("unexpected like response %+v", response)
	}
}

func TestPushRoutesWhenDisabled(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, Deps{}), "*")

	rr := serve(t, server, http.MethodGet, "/api/push/vapid-public-key", "")
	if rr.Code != http.StatusServiceUnavailable || decodeErrorCode(t, rr) != "PUSH_UNAVAILABLE" {
		t.Fatalf("expected PUSH_UNAVAILABLE, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestPushSubscriptionRoute(t *testing.T) {
	svc := newTestService(&fakeStore{}, Deps{})
	svc.cfg.VAPIDPublicKey = "pub"
	svc.cfg.VAPIDPrivateKey = "priv"
	server := NewHTTPServer(svc, "*")

	rr := serve(t, server, http.MethodPost, "/api/push/subscriptions", `{"endpoint":"http://insecure.test"}`)
	if rr.Code != http.StatusUnprocessableEntity || decodeErrorCode(t, rr) != "INVALID_SUBSCRIPTION" {
		t.Fatalf("expected INVALID_SUBSCRIPTION, got %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodPost, "/api/push/subscriptions", `{"endpoint":"https://push.test/x","keys":{"auth":"a","p256dh":"p"}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodGet, "/api/push/vapid-public-key", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"publicKey":"pub"`) {
		t.Fatalf("expected public key, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestSearchRoute(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, Deps{Search: &fakeSearch{}}), "*")

	rr := serve(t, server, http.MethodGet, "/api/search", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without q, got %d", rr.Code)
	}

	rr = serve(t, server, http.MethodGet, "/api/search?q=cats&threadId=thr_2&limit=5", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"thr_2"`) {
		t.Fatalf("unexpected search response %d %s", rr.Code, rr.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, Deps{}), "*")

	for _, target := range []string{"/", "/api", "/api/nothing", "/api/posts/1"} {
		rr := serve(t, server, http.MethodGet, target, "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rr.Code)
		}
	}
}

func TestGateShowsDestination(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, Deps{}), "*")
	destination := `https://example.com/a?b=<script>`

	req := httptest.NewRequest(http.MethodGet, "/out?to="+url.QueryEscape(destination), nil)
	req.Header.Set("Referer", "https://board.test/threads/thr_1")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html, got %s", ct)
	}
	body := rr.Body.String()
	if strings.Contains(body, "<script>") {
		t.Fatal("destination must be escaped")
	}
	if !strings.Contains(body, "https://example.com/a") {
		t.Fatalf("expected destination in page, got %s", body)
	}
	if !strings.Contains(body, `href="/threads/thr_1"`) {
		t.Fatalf("expected back link to referring thread, got %s", body)
	}
}

func TestGateRejectsNonWebSchemes(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}, Deps{}), "*")

	for _, to := range []string{"", "javascript:alert(1)", "data:text/html,hi", "/relative", "https://"} {
		rr := serve(t, server, http.MethodGet, "/out?to="+url.QueryEscape(to), "")
		if rr.Code != http.StatusBadRequest || decodeErrorCode(t, rr) != "INVALID_URL" {
			t.Fatalf("%q: expected INVALID_URL, got %d %s", to, rr.Code, rr.Body.String())
		}
	}
}

func TestRenderPostsNumbersFromOne(t *testing.T) {
	rendered := RenderPosts([]store.Post{{ID: 40, Content: "a"}, {ID: 12, Content: "b"}})
	if len(rendered) != 2 || rendered[0].Number != 1 || rendered[1].Number != 2 {
		t.Fatalf("unexpected numbering %+v", rendered)
	}
	if rendered[1].ID != 12 || rendered[1].Spans[0].Text != "b" {
		t.Fatalf("unexpected rendered post %+v", rendered[1])
	}
	if got := RenderPosts(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil render, got %#v", got)
	}
}

func TestExportThreadHTML(t *testing.T) {
	fs := &fakeStore{listPostsFn: func(_ context.Context, threadID string) ([]store.Post, error) {
		return []store.Post{{ID: 1, ThreadID: threadID, Content: "hi"}}, nil
	}}
	server := NewHTTPServer(newTestService(fs, Deps{}), "*")

	rr := serve(t, server, http.MethodGet, "/api/threads/thr_1/export", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html content type, got %s", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="General.html"` {
		t.Fatalf("unexpected disposition %s", cd)
	}
	if !strings.Contains(rr.Body.String(), `id="post-1"`) {
		t.Fatalf("expected rendered post, got %s", rr.Body.String())
	}

	rr = serve(t, server, http.MethodGet, "/api/threads/thr_1/export?format=docx", "")
	if rr.Code != http.StatusBadRequest || decodeErrorCode(t, rr) != "UNSUPPORTED_FORMAT" {
		t.Fatalf("expected UNSUPPORTED_FORMAT, got %d %s", rr.Code, rr.Body.String())
	}
}
