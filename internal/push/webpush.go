package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"board/api/internal/store"
	webpush "github.com/SherClockHolmes/webpush-go"
)

type WebPushConfig struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             time.Duration
	HTTPClient      *http.Client
}

// WebPush sends encrypted notifications signed with the server's VAPID key.
type WebPush struct {
	config WebPushConfig
}

func NewWebPush(config WebPushConfig) *WebPush {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebPush{config: config}
}

func (w *WebPush) IsConfigured() bool {
	return w.config.VAPIDPublicKey != "" && w.config.VAPIDPrivateKey != ""
}

// Deliver maps 404 and 410 responses to ErrGone.
func (w *WebPush) Deliver(ctx context.Context, sub store.PushSubscription, message []byte) error {
	if !w.IsConfigured() {
		return fmt.Errorf("web push not configured")
	}

	resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      w.config.HTTPClient,
		Subscriber:      w.config.Subscriber,
		VAPIDPublicKey:  w.config.VAPIDPublicKey,
		VAPIDPrivateKey: w.config.VAPIDPrivateKey,
		TTL:             int(w.config.TTL / time.Second),
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrGone, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("push endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// GenerateVAPIDKeys returns a new application server key pair, base64url
// encoded.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keys: %w", err)
	}
	return publicKey, privateKey, nil
}
