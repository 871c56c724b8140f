// Package media stores uploaded post images in S3-compatible object storage.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"board/api/internal/util"
	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

var (
	ErrEmpty    = errors.New("image is empty")
	ErrNotImage = errors.New("file is not a supported image")
	ErrTooLarge = errors.New("image is too large")
)

var extensionsByType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	MaxBytes      int64
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, name string, data []byte, contentType string) error
}

type Store struct {
	objects objectPutter
	config  Config
	now     func() time.Time
}

// New connects to the object store and creates the bucket if it is missing.
func New(ctx context.Context, config Config) (*Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", config.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", config.Bucket, err)
		}
		log.WithField("bucket", config.Bucket).Info("created image bucket")
	}
	return newStore(minioPutter{client: client}, config), nil
}

func newStore(objects objectPutter, config Config) *Store {
	if config.PublicBaseURL == "" {
		scheme := "http"
		if config.UseSSL {
			scheme = "https"
		}
		config.PublicBaseURL = scheme + "://" + config.Endpoint
	}
	config.PublicBaseURL = strings.TrimRight(config.PublicBaseURL, "/")
	return &Store{objects: objects, config: config, now: time.Now}
}

// Store validates data as an image, uploads it, and returns its public URL.
func (s *Store) Store(ctx context.Context, data []byte, suggestedName string) (string, error) {
	contentType, err := s.validate(data)
	if err != nil {
		return "", err
	}

	name := s.objectName(suggestedName, contentType)
	if err := s.objects.PutObject(ctx, s.config.Bucket, name, data, contentType); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	log.WithFields(log.Fields{
		"object": name,
		"size":   humanize.IBytes(uint64(len(data))),
	}).Info("stored image")
	return s.config.PublicBaseURL + "/" + s.config.Bucket + "/" + name, nil
}

func (s *Store) validate(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if s.config.MaxBytes > 0 && int64(len(data)) > s.config.MaxBytes {
		return "", fmt.Errorf("%w: %s exceeds the %s limit", ErrTooLarge,
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(s.config.MaxBytes)))
	}
	contentType := http.DetectContentType(data)
	if _, ok := extensionsByType[contentType]; !ok {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, contentType)
	}
	return contentType, nil
}

func (s *Store) objectName(suggestedName, contentType string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(suggestedName, "\\", "/"))))
	if !validExtension(ext) {
		ext = extensionsByType[contentType]
	}
	return fmt.Sprintf("%d_%s%s", s.now().UnixMilli(), util.RandomToken(6), ext)
}

func validExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

type minioPutter struct {
	client *minio.Client
}

func (p minioPutter) PutObject(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	_, err := p.client.PutObject(ctx, bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}
