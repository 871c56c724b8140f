package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.created_at, COUNT(p.id)
		FROM threads t
		LEFT JOIN posts p ON p.thread_id = t.id
		GROUP BY t.id, t.title, t.created_at
		ORDER BY t.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := make([]ThreadSummary, 0)
	for rows.Next() {
		var item ThreadSummary
		if err := rows.Scan(&item.ID, &item.Title, &item.CreatedAt, &item.PostCount); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (Thread, error) {
	var item Thread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at
		FROM threads
		WHERE id=$1
	`, threadID).Scan(&item.ID, &item.Title, &item.CreatedAt)
	if err != nil {
		return Thread{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertThread(ctx context.Context, item Thread) (Thread, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO threads (id, title)
		VALUES ($1, $2)
		RETURNING created_at
	`, item.ID, item.Title).Scan(&item.CreatedAt)
	if err != nil {
		return Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	return item, nil
}

const postColumns = `id, thread_id, name, content, image_url, client_id, likes, created_at`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var item Post
	var imageURL sql.NullString
	if err := row.Scan(
		&item.ID,
		&item.ThreadID,
		&item.Name,
		&item.Content,
		&imageURL,
		&item.ClientID,
		&item.Likes,
		&item.CreatedAt,
	); err != nil {
		return Post{}, err
	}
	if imageURL.Valid {
		value := imageURL.String
		item.ImageURL = &value
	}
	return item, nil
}

// ListPosts returns the thread's posts in display order. This is the
// snapshot a live viewer is seeded with.
func (s *PostgresStore) ListPosts(ctx context.Context, threadID string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE thread_id=$1
		ORDER BY created_at ASC, id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

// ListAllPosts is used for search reindexing.
func (s *PostgresStore) ListAllPosts(ctx context.Context) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all posts: %w", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

func collectPosts(rows *sql.Rows) ([]Post, error) {
	items := make([]Post, 0)
	for rows.Next() {
		item, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID int64) (Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE id=$1
	`, postID)
	return scanPost(row)
}

// InsertPost persists item and returns it with the store-assigned id and
// timestamp. A non-empty DeletePassword is stored as a bcrypt hash.
func (s *PostgresStore) InsertPost(ctx context.Context, item Post) (Post, error) {
	deleteHash := ""
	if item.DeletePassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(item.DeletePassword), bcrypt.DefaultCost)
		if err != nil {
			return Post{}, fmt.Errorf("hash delete password: %w", err)
		}
		deleteHash = string(hash)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO posts (thread_id, name, content, image_url, delete_password, client_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, likes, created_at
	`, item.ThreadID, item.Name, item.Content, item.ImageURL, deleteHash, item.ClientID).Scan(&item.ID, &item.Likes, &item.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	item.DeletePassword = ""
	return item, nil
}

// DeletePostWithKey deletes the post only when key matches its deletion key.
// It reports false, with no error, for an unknown post, a post without a
// key, or a mismatch.
func (s *PostgresStore) DeletePostWithKey(ctx context.Context, postID int64, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT delete_password FROM posts WHERE id=$1`, postID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read delete password: %w", err)
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
		return false, nil
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1 AND delete_password=$2`, postID, hash)
	if err != nil {
		return false, fmt.Errorf("delete post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete post rows: %w", err)
	}
	return affected > 0, nil
}

// LikePost increments the like counter atomically and returns the new value.
func (s *PostgresStore) LikePost(ctx context.Context, postID int64) (int, error) {
	var likes int
	err := s.db.QueryRowContext(ctx, `
		UPDATE posts SET likes = likes + 1
		WHERE id=$1
		RETURNING likes
	`, postID).Scan(&likes)
	if err != nil {
		return 0, err
	}
	return likes, nil
}

func (s *PostgresStore) UpsertPushSubscription(ctx context.Context, sub PushSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, auth, p256dh)
		VALUES ($1, $2, $3)
		ON CONFLICT (endpoint) DO UPDATE SET auth=EXCLUDED.auth, p256dh=EXCLUDED.p256dh, updated_at=NOW()
	`, sub.Endpoint, sub.Auth, sub.P256dh)
	if err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	return nil
}

// DeletePushSubscription is idempotent: removing an unknown endpoint is not an error.
func (s *PostgresStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint=$1`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPushSubscriptions(ctx context.Context) ([]PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT endpoint, auth, p256dh FROM push_subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	items := make([]PushSubscription, 0)
	for rows.Next() {
		var item PushSubscription
		if err := rows.Scan(&item.Endpoint, &item.Auth, &item.P256dh); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push subscriptions: %w", err)
	}
	return items, nil
}
