// Package app wires configuration into the state backend and the
// notification services shared by cmd/api and cmd/ingest.
package app

import (
	"context"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/db"
	"github.com/tagwatch/tagwatch/internal/mqttbridge"
	"github.com/tagwatch/tagwatch/internal/notifications"
	"github.com/tagwatch/tagwatch/internal/sqlitestore"
	"github.com/tagwatch/tagwatch/internal/state"
)

// Services is the fully wired runtime.
type Services struct {
	Store    *state.Store
	Notifier *notifications.Notifier
	Engine   *notifications.Engine
	MQTT     mqtt.Client // nil when the bridge is disabled

	closers []func()
}

// OpenBackend opens the backend selected by STATE_BACKEND. The returned
// func releases it.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (state.Backend, func(), error) {
	switch cfg.StateBackend {
	case config.BackendFile:
		b, err := state.NewFileBackend(cfg.DataDirectory)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("State backend ready", "backend", cfg.StateBackend, "dir", cfg.DataDirectory)
		return b, func() {}, nil

	case config.BackendPostgres:
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("State backend ready", "backend", cfg.StateBackend,
			"min_conns", cfg.DBPoolMinConns, "max_conns", cfg.DBPoolMaxConns)
		return pool, pool.Close, nil

	case config.BackendSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("init sqlite schema: %w", err)
		}
		logger.Info("State backend ready", "backend", cfg.StateBackend, "path", cfg.SQLitePath)
		return s, func() { s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}

// New opens the backend, the push senders and, when configured, the MQTT
// connection, and builds the notifier and engine on top of them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	backend, closeBackend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &Services{
		Store:   state.NewStore(backend, logger),
		closers: []func(){closeBackend},
	}

	ncfg := notifications.NotifierConfig{
		Retention: cfg.HistoryRetention,
		Icons:     cfg.Icons,
	}

	// A typed nil in an interface field would not read as "disabled".
	if web := notifications.NewWebPushSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDClaimsEmail); web != nil {
		ncfg.WebPush = web
		logger.Info("Web Push delivery enabled")
	} else {
		logger.Info("Web Push delivery disabled (VAPID keys not configured)")
	}

	fcm, err := notifications.NewFCMSender(ctx, cfg.FirebaseCredentialsFile, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	if fcm != nil {
		ncfg.FCM = fcm
		logger.Info("FCM delivery enabled")
	} else {
		logger.Info("FCM delivery disabled (no FIREBASE_CREDENTIALS_FILE)")
	}

	if cfg.MQTTEnabled() {
		client, err := mqttbridge.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.MQTT = client
		s.closers = append(s.closers, func() { mqttbridge.Disconnect(client) })
		ncfg.Channels = append(ncfg.Channels, mqttbridge.NewPublisher(client, cfg.MQTTEventTopicPrefix))
	}

	s.Notifier = notifications.NewNotifier(s.Store, ncfg, logger)
	s.Engine = notifications.NewEngine(s.Store, s.Notifier, notifications.EngineConfig{
		LowBatteryThreshold: cfg.LowBatteryThreshold,
		Cooldown:            cfg.NotificationCooldown,
		Location:            cfg.DisplayTimezone,
	}, logger)
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
