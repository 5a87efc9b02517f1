// Package mqttbridge connects the service to an MQTT broker: accessory
// reports arrive on per-device topics and recorded notifications are
// published as events.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/notifications"
	"github.com/tagwatch/tagwatch/internal/state"
)

const (
	qosAtLeastOnce = 1
	publishTimeout = 10 * time.Second
	disconnectWait = 250
)

// Connect dials the broker with auto-reconnect enabled.
func Connect(brokerURL, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", "broker", brokerURL)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", brokerURL, token.Error())
	}
	return client, nil
}

// Disconnect closes the client, letting in-flight work finish briefly.
func Disconnect(client mqtt.Client) {
	client.Disconnect(disconnectWait)
}

// --------------------------------------------------------------------------
// Report subscriber
// --------------------------------------------------------------------------

// Subscriber appends reports received on `.../{user}/{device}/report`
// topics to the user's report cache.
type Subscriber struct {
	store     *state.Store
	topic     string
	cacheSize int
	logger    *slog.Logger
}

func NewSubscriber(store *state.Store, topic string, cacheSize int, logger *slog.Logger) *Subscriber {
	return &Subscriber{store: store, topic: topic, cacheSize: cacheSize, logger: logger}
}

// Start subscribes on client. Messages are handled on paho's goroutines.
func (s *Subscriber) Start(client mqtt.Client) error {
	token := client.Subscribe(s.topic, qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.HandleMessage(context.Background(), msg.Topic(), msg.Payload()); err != nil {
			s.logger.Warn("Dropped MQTT report", "topic", msg.Topic(), "error", err)
		}
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timed out", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.logger.Info("Subscribed to report topic", "topic", s.topic)
	return nil
}

// HandleMessage decodes one report and stores it.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	userID, deviceID, err := parseReportTopic(topic)
	if err != nil {
		return err
	}
	if err := state.ValidateUserID(userID); err != nil {
		return err
	}
	if err := model.ValidateDeviceID(deviceID); err != nil {
		return err
	}
	var r model.Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}

	defer s.store.Lock(userID, state.ResourceReports)()
	if err := s.store.AppendReport(ctx, userID, deviceID, r, s.cacheSize); err != nil {
		return err
	}
	s.logger.Debug("Cached MQTT report", "user_id", userID, "device_id", deviceID)
	return nil
}

// parseReportTopic extracts user and device from ".../{user}/{device}/report".
func parseReportTopic(topic string) (userID, deviceID string, err error) {
	parts := strings.Split(topic, "/")
	n := len(parts)
	if n < 3 || parts[n-1] != "report" || parts[n-3] == "" || parts[n-2] == "" {
		return "", "", fmt.Errorf("unexpected report topic %q", topic)
	}
	return parts[n-3], parts[n-2], nil
}

// --------------------------------------------------------------------------
// Event publisher
// --------------------------------------------------------------------------

// tokenPublisher is the part of mqtt.Client the Publisher needs.
type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends recorded notifications to `{prefix}/{user}/{type}`.
// It implements notifications.Channel.
type Publisher struct {
	client tokenPublisher
	prefix string
	clock  func() time.Time
}

func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	return &Publisher{client: client, prefix: strings.TrimSuffix(prefix, "/"), clock: time.Now}
}

type event struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Tag       string         `json:"tag,omitempty"`
	DeviceID  string         `json:"device_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publish implements notifications.Channel. Messages use QoS 1 and are not
// retained.
func (p *Publisher) Publish(ctx context.Context, userID string, n notifications.Notification) error {
	typ := n.Type
	if typ == "" {
		typ = "notification"
	}
	payload, err := json.Marshal(event{
		Type:      typ,
		Title:     n.Title,
		Body:      n.Body,
		Tag:       n.Tag,
		DeviceID:  n.DeviceID,
		Data:      n.Data,
		Timestamp: p.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	topic := p.prefix + "/" + userID + "/" + typ
	token := p.client.Publish(topic, qosAtLeastOnce, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
