package app

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"board/api/internal/config"
	"board/api/internal/export"
	"board/api/internal/feed"
	"board/api/internal/identity"
	"board/api/internal/live"
	"board/api/internal/push"
	"board/api/internal/search"
	"board/api/internal/store"
	"board/api/internal/util"
	log "github.com/sirupsen/logrus"
)

const (
	maxTitleRunes     = 200
	maxNameRunes      = 64
	maxContentRunes   = 4000
	maxDeleteKeyBytes = 72
)

type CreateThreadInput struct {
	Title string `json:"title"`
}

type CreatePostInput struct {
	Name           string `json:"name"`
	Content        string `json:"content"`
	DeletePassword string `json:"deletePassword"`
	ImageURL       string `json:"imageUrl"`
}

// ThreadView is a thread with its rendered posts: the snapshot a reader
// starts from.
type ThreadView struct {
	Thread store.Thread   `json:"thread"`
	Posts  []RenderedPost `json:"posts"`
}

type dataStore interface {
	Ping(context.Context) error
	ListThreads(context.Context) ([]store.ThreadSummary, error)
	GetThread(context.Context, string) (store.Thread, error)
	InsertThread(context.Context, store.Thread) (store.Thread, error)
	ListPosts(context.Context, string) ([]store.Post, error)
	GetPost(context.Context, int64) (store.Post, error)
	InsertPost(context.Context, store.Post) (store.Post, error)
	DeletePostWithKey(context.Context, int64, string) (bool, error)
	LikePost(context.Context, int64) (int, error)
	UpsertPushSubscription(context.Context, store.PushSubscription) error
}

type notifier interface {
	Notify(ctx context.Context, threadTitle, author, body, threadID string) <-chan struct{}
}

type imageStore interface {
	Store(ctx context.Context, data []byte, suggestedName string) (string, error)
}

type threadExporter interface {
	Export(ctx context.Context, archive export.Archive, format export.Format) (*export.Result, error)
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPost(post store.Post)
	DeletePost(id int64)
}

// Deps are the collaborators a Service needs. Notifier, Images and Search
// may be nil when the matching feature is not configured. A nil Exporter
// gets the default HTML/PDF exporter.
type Deps struct {
	Store    dataStore
	Feed     feed.Subscriber
	Notifier notifier
	Images   imageStore
	Search   searchService
	Exporter threadExporter
}

type Service struct {
	cfg      config.Config
	store    dataStore
	feed     feed.Subscriber
	notifier notifier
	images   imageStore
	search   searchService
	exporter threadExporter
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Exporter == nil {
		deps.Exporter = export.NewService()
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		feed:     deps.Feed,
		notifier: deps.Notifier,
		images:   deps.Images,
		search:   deps.Search,
		exporter: deps.Exporter,
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListThreads(ctx context.Context) ([]store.ThreadSummary, error) {
	return s.store.ListThreads(ctx)
}

func (s *Service) CreateThread(ctx context.Context, input CreateThreadInput) (store.Thread, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Thread{}, validationError("title is required", nil)
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return store.Thread{}, validationError("title is too long", map[string]any{"maxLength": maxTitleRunes})
	}

	thread, err := s.store.InsertThread(ctx, store.Thread{ID: util.NewID("thr"), Title: title})
	if err != nil {
		return store.Thread{}, err
	}
	log.WithField("thread", thread.ID).Info("thread created")
	return thread, nil
}

func (s *Service) loadThread(ctx context.Context, threadID string) (store.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Thread{}, errThreadNotFound
	}
	return thread, err
}

func (s *Service) GetThread(ctx context.Context, threadID string) (ThreadView, error) {
	thread, err := s.loadThread(ctx, threadID)
	if err != nil {
		return ThreadView{}, err
	}
	posts, err := s.store.ListPosts(ctx, threadID)
	if err != nil {
		return ThreadView{}, err
	}
	return ThreadView{Thread: thread, Posts: RenderPosts(posts)}, nil
}

// CreatePost persists a post and triggers the push fan-out without waiting
// for it. Notification failures never reach the caller.
func (s *Service) CreatePost(ctx context.Context, threadID string, input CreatePostInput, clientAddress string) (store.Post, error) {
	post, err := s.validatePost(threadID, input)
	if err != nil {
		return store.Post{}, err
	}
	thread, err := s.loadThread(ctx, threadID)
	if err != nil {
		return store.Post{}, err
	}

	post.ClientID = identity.Derive(clientAddress, s.now())
	created, err := s.store.InsertPost(ctx, post)
	if err != nil {
		return store.Post{}, err
	}
	log.WithFields(log.Fields{
		"thread": thread.ID,
		"post":   created.ID,
	}).Info("post created")

	if s.search != nil {
		s.search.IndexPost(created)
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, thread.Title, created.Name, created.Content, thread.ID)
	}
	return created, nil
}

func (s *Service) validatePost(threadID string, input CreatePostInput) (store.Post, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return store.Post{}, validationError("content is required", nil)
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return store.Post{}, validationError("content is too long", map[string]any{"maxLength": maxContentRunes})
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = store.DefaultAuthorName
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return store.Post{}, validationError("name is too long", map[string]any{"maxLength": maxNameRunes})
	}

	if len(input.DeletePassword) > maxDeleteKeyBytes {
		return store.Post{}, validationError("delete password is too long", map[string]any{"maxBytes": maxDeleteKeyBytes})
	}

	post := store.Post{
		ThreadID:       threadID,
		Name:           name,
		Content:        content,
		DeletePassword: input.DeletePassword,
	}
	if imageURL := strings.TrimSpace(input.ImageURL); imageURL != "" {
		if !isWebURL(imageURL) {
			return store.Post{}, validationError("imageUrl must be an http(s) URL", nil)
		}
		post.ImageURL = &imageURL
	}
	return post, nil
}

func isWebURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// DeletePost removes a post when key matches its delete password. A wrong or
// missing key leaves the post untouched and reports INVALID_DELETE_KEY.
func (s *Service) DeletePost(ctx context.Context, postID int64, key string) error {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errPostNotFound
		}
		return err
	}

	deleted, err := s.store.DeletePostWithKey(ctx, postID, key)
	if err != nil {
		return err
	}
	if !deleted {
		return errInvalidDeleteKey
	}
	if s.search != nil {
		s.search.DeletePost(postID)
	}
	log.WithField("post", postID).Info("post deleted")
	return nil
}

func (s *Service) LikePost(ctx context.Context, postID int64) (int, error) {
	likes, err := s.store.LikePost(ctx, postID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errPostNotFound
	}
	return likes, err
}

// RegisterPush validates and stores a browser push subscription. Invalid
// payloads are rejected without touching the registry.
func (s *Service) RegisterPush(ctx context.Context, raw []byte) error {
	if !s.cfg.PushEnabled() {
		return errPushDisabled
	}
	sub, err := push.ParseSubscription(raw)
	if err != nil {
		return err
	}
	return s.store.UpsertPushSubscription(ctx, sub)
}

func (s *Service) VAPIDPublicKey() (string, error) {
	if !s.cfg.PushEnabled() {
		return "", errPushDisabled
	}
	return s.cfg.VAPIDPublicKey, nil
}

func (s *Service) UploadImage(ctx context.Context, data []byte, name string) (string, error) {
	if s.images == nil {
		return "", errImagesDisabled
	}
	return s.images.Store(ctx, data, name)
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, validationError("q is required", nil)
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

// ExportThread renders the thread's current posts as a downloadable archive.
func (s *Service) ExportThread(ctx context.Context, threadID, rawFormat string) (*export.Result, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	thread, err := s.loadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	posts, err := s.store.ListPosts(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Archive{Thread: thread, Posts: posts, ExportedAt: s.now()}, format)
}

// OpenLiveView subscribes to the thread's change feed and then loads the
// snapshot, so any change racing the load arrives on the subscription and is
// deduplicated by the view.
func (s *Service) OpenLiveView(ctx context.Context, threadID string) (*feed.Subscription, *live.View, error) {
	if _, err := s.loadThread(ctx, threadID); err != nil {
		return nil, nil, err
	}
	sub, err := s.feed.Subscribe(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	posts, err := s.store.ListPosts(ctx, threadID)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	return sub, live.NewView(threadID, posts), nil
}
