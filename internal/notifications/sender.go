package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	webpush "github.com/SherClockHolmes/webpush-go"
	"google.golang.org/api/option"

	"github.com/tagwatch/tagwatch/internal/model"
)

const webPushTTL = 86400

// --------------------------------------------------------------------------
// Web Push
// --------------------------------------------------------------------------

// WebPushSender delivers VAPID-signed Web Push messages.
type WebPushSender struct {
	publicKey  string
	privateKey string
	subscriber string
	client     *http.Client
}

// NewWebPushSender returns nil when any VAPID setting is missing, which
// disables Web Push delivery.
func NewWebPushSender(publicKey, privateKey, claimsEmail string) *WebPushSender {
	if publicKey == "" || privateKey == "" || claimsEmail == "" {
		return nil
	}
	return &WebPushSender{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: strings.TrimPrefix(claimsEmail, "mailto:"),
		client:     &http.Client{Timeout: deliveryTimeout},
	}
}

// Push implements Pusher.
func (s *WebPushSender) Push(ctx context.Context, sub model.Subscription, payload []byte, _ Notification) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             webPushTTL,
	})
	if err != nil {
		return fmt.Errorf("web push send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &PushError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}
	return nil
}

// GenerateVAPIDKeys returns a fresh (public, private) VAPID key pair.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keys: %w", err)
	}
	return publicKey, privateKey, nil
}

// --------------------------------------------------------------------------
// Firebase Cloud Messaging
// --------------------------------------------------------------------------

// FCMSender delivers to FCM registration tokens.
type FCMSender struct {
	client *messaging.Client
	logger *slog.Logger
}

// NewFCMSender creates an FCM sender from a service account credentials file.
// Returns nil, nil if credentialsFile is empty (FCM disabled).
func NewFCMSender(ctx context.Context, credentialsFile string, logger *slog.Logger) (*FCMSender, error) {
	if credentialsFile == "" {
		return nil, nil
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCMSender{client: client, logger: logger}, nil
}

// Push implements Pusher. The subscription endpoint is the registration
// token.
func (s *FCMSender) Push(ctx context.Context, sub model.Subscription, _ []byte, n Notification) error {
	msg := &messaging.Message{
		Token: sub.Endpoint,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: stringData(n),
	}
	id, err := s.client.Send(ctx, msg)
	if err != nil {
		switch {
		case messaging.IsUnregistered(err):
			return &PushError{StatusCode: http.StatusNotFound, Err: err}
		case messaging.IsSenderIDMismatch(err):
			return &PushError{StatusCode: http.StatusForbidden, Err: err}
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	s.logger.Debug("FCM message sent", "message_id", id)
	return nil
}

// stringData flattens notification data for FCM, which only carries strings.
func stringData(n Notification) map[string]string {
	out := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	if n.Tag != "" {
		out["tag"] = n.Tag
	}
	return out
}
