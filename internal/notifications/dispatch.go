package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/state"
)

// Pusher delivers one payload to one subscription.
type Pusher interface {
	Push(ctx context.Context, sub model.Subscription, payload []byte, n Notification) error
}

// Channel is an extra best-effort outlet for recorded notifications, such as
// an MQTT topic.
type Channel interface {
	Publish(ctx context.Context, userID string, n Notification) error
}

// PushError carries the HTTP status a push service answered with.
type PushError struct {
	StatusCode int
	Err        error
}

func (e *PushError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("push rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("push rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

var permanentFailureText = []string{
	"expired",
	"invalid registration",
	"unsubscribe",
	"push service error",
}

// isPermanentFailure reports whether a delivery error means the subscription
// will never work again and should be removed.
func isPermanentFailure(err error) bool {
	if err == nil {
		return false
	}
	var pe *PushError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
			return true
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "InvalidToken") {
		return true
	}
	lower := strings.ToLower(msg)
	for _, s := range permanentFailureText {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// NotifierConfig wires push transports and payload settings.
type NotifierConfig struct {
	Retention time.Duration
	Icons     config.IconPaths
	WebPush   Pusher // nil disables Web Push delivery
	FCM       Pusher // nil disables FCM delivery
	Channels  []Channel
	Clock     func() time.Time
}

// Notifier records notification history and fans notifications out to every
// push subscription of a user.
type Notifier struct {
	store  *state.Store
	cfg    NotifierConfig
	logger *slog.Logger
}

// NewNotifier creates a Notifier. It implements Sink.
func NewNotifier(store *state.Store, cfg NotifierConfig, logger *slog.Logger) *Notifier {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Notifier{store: store, cfg: cfg, logger: logger}
}

// DeliveryResult summarises one fan-out.
type DeliveryResult struct {
	Sent    int
	Failed  int
	Skipped int
	Removed int
}

// RecordAndDeliver stores n in history, pushes it to every subscription and
// publishes it on the extra channels. A history failure does not stop
// delivery; it is returned afterwards.
func (s *Notifier) RecordAndDeliver(ctx context.Context, userID string, n Notification) error {
	_, recErr := s.Record(ctx, userID, n)
	if recErr != nil {
		s.logger.Warn("Failed to record notification", "user_id", userID, "type", n.Type, "error", recErr)
	}

	res := s.Deliver(ctx, userID, n)
	s.logger.Info("Notification delivered",
		"user_id", userID, "type", n.Type, "title", n.Title,
		"sent", res.Sent, "failed", res.Failed, "removed", res.Removed)

	for _, ch := range s.cfg.Channels {
		if err := ch.Publish(ctx, userID, n); err != nil {
			s.logger.Warn("Channel publish failed", "user_id", userID, "type", n.Type, "error", err)
		}
	}

	if recErr != nil {
		return fmt.Errorf("record notification: %w", recErr)
	}
	return nil
}

// Deliver pushes n to every subscription of the user. Subscriptions that
// fail permanently are removed; other failures are logged only.
func (s *Notifier) Deliver(ctx context.Context, userID string, n Notification) DeliveryResult {
	unlock := s.store.Lock(userID, state.ResourceSubscriptions)
	subs, err := s.store.LoadSubscriptions(ctx, userID)
	unlock()
	if err != nil {
		s.logger.Warn("Failed to load subscriptions", "user_id", userID, "error", err)
		return DeliveryResult{}
	}
	if len(subs) == 0 {
		s.logger.Debug("No push subscriptions", "user_id", userID)
		return DeliveryResult{}
	}

	targets := make([]model.Subscription, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	return s.deliverTo(ctx, userID, targets, n)
}

func (s *Notifier) deliverTo(ctx context.Context, userID string, targets []model.Subscription, n Notification) DeliveryResult {
	var res DeliveryResult
	payload, err := BuildPayload(n, s.cfg.Icons, s.cfg.Clock())
	if err != nil {
		s.logger.Error("Failed to build push payload", "user_id", userID, "error", err)
		res.Failed = len(targets)
		return res
	}

	var invalid []string
	for _, sub := range targets {
		pusher := s.cfg.WebPush
		if sub.IsFCM() {
			pusher = s.cfg.FCM
		}
		if pusher == nil {
			res.Skipped++
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		err := pusher.Push(pctx, sub, payload, n)
		cancel()
		if err == nil {
			res.Sent++
			continue
		}
		res.Failed++
		if isPermanentFailure(err) {
			invalid = append(invalid, sub.Endpoint)
			s.logger.Info("Push subscription no longer valid",
				"user_id", userID, "endpoint", endpointHint(sub.Endpoint), "error", err)
		} else {
			s.logger.Warn("Push delivery failed",
				"user_id", userID, "endpoint", endpointHint(sub.Endpoint), "error", err)
		}
	}

	if len(invalid) > 0 {
		removed, err := s.removeSubscriptions(ctx, userID, invalid)
		if err != nil {
			s.logger.Error("Failed to remove invalid subscriptions", "user_id", userID, "error", err)
		}
		res.Removed = removed
	}
	return res
}

// removeSubscriptions reloads the set under lock so concurrent additions
// are kept.
func (s *Notifier) removeSubscriptions(ctx context.Context, userID string, endpoints []string) (int, error) {
	defer s.store.Lock(userID, state.ResourceSubscriptions)()

	subs, err := s.store.LoadSubscriptions(ctx, userID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, ep := range endpoints {
		if _, ok := subs[ep]; ok {
			delete(subs, ep)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.store.SaveSubscriptions(ctx, userID, subs); err != nil {
		return 0, err
	}
	return removed, nil
}

// AddSubscription stores sub and, when it is new, sends a welcome
// notification to that subscription alone. It reports whether sub was new.
func (s *Notifier) AddSubscription(ctx context.Context, userID string, sub model.Subscription) (bool, error) {
	if sub.Kind == "" {
		sub.Kind = model.SubscriptionWebPush
	}
	if err := sub.Validate(); err != nil {
		return false, err
	}

	unlock := s.store.Lock(userID, state.ResourceSubscriptions)
	subs, err := s.store.LoadSubscriptions(ctx, userID)
	if err != nil {
		unlock()
		return false, err
	}
	existing, exists := subs[sub.Endpoint]
	if exists && existing == sub {
		unlock()
		return false, nil
	}
	subs[sub.Endpoint] = sub
	err = s.store.SaveSubscriptions(ctx, userID, subs)
	unlock()
	if err != nil {
		return false, err
	}
	if exists {
		s.logger.Info("Updated push subscription", "user_id", userID, "endpoint", endpointHint(sub.Endpoint))
		return false, nil
	}

	s.logger.Info("Added push subscription", "user_id", userID, "kind", sub.Kind, "endpoint", endpointHint(sub.Endpoint))
	welcome := welcomeNotification(userID)
	if _, err := s.Record(ctx, userID, welcome); err != nil {
		s.logger.Warn("Failed to record welcome notification", "user_id", userID, "error", err)
	}
	s.deliverTo(ctx, userID, []model.Subscription{sub}, welcome)
	return true, nil
}

// RemoveSubscription deletes the subscription with endpoint.
func (s *Notifier) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	removed, err := s.removeSubscriptions(ctx, userID, []string{endpoint})
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("subscription: %w", ErrNotFound)
	}
	s.logger.Info("Removed push subscription", "user_id", userID, "endpoint", endpointHint(endpoint))
	return nil
}

func welcomeNotification(userID string) Notification {
	return Notification{
		Type:  TypeWelcome,
		Title: "Notifications Enabled",
		Body:  fmt.Sprintf("Find My alerts enabled for user '%s'.", userID),
		Tag:   "welcome-notification",
		Data:  map[string]any{"type": "welcome"},
	}
}

// endpointHint keeps push endpoints, which embed credentials, out of logs.
func endpointHint(endpoint string) string {
	const keep = 40
	if len(endpoint) <= keep {
		return endpoint
	}
	return endpoint[:keep] + "..."
}
