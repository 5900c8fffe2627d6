package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/cornerbot/internal/config"
)

// ErrNotConnected is returned by [Publisher.Publish] before Start has
// created a connection.
var ErrNotConnected = errors.New("mqtt publisher not started")

// discoveryDisabled in config.MQTTConfig.DiscoveryPrefix turns off HA
// discovery.
const discoveryDisabled = "-"

// Publisher owns the broker connection and publishes reports.
type Publisher struct {
	cfg    config.MQTTConfig
	device DeviceInfo
	logger *slog.Logger

	mu   sync.Mutex
	cm   *autopaho.ConnectionManager
	send func(ctx context.Context, pub *paho.Publish) error
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		device: NewDeviceInfo(cfg.DeviceName),
		logger: logger,
	}
}

// Start connects to the broker. It waits briefly for the first
// connection; if the broker is not reachable yet autopaho keeps
// retrying in the background and Start still returns nil.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.announce(ctx)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "cornerbot-" + p.cfg.DeviceName,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	p.mu.Lock()
	p.cm = cm
	p.send = func(ctx context.Context, pub *paho.Publish) error {
		_, err := cm.Publish(ctx, pub)
		return err
	}
	p.mu.Unlock()

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, "offline")
	return cm.Disconnect(ctx)
}

// Publish sends v as JSON to the report topic, retained so late
// subscribers see the latest report. Failures are logged and returned.
func (p *Publisher) Publish(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mqtt marshal report: %w", err)
	}
	topic := p.reportTopic()
	if err := p.publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt report publish failed", "topic", topic, "error", err)
		return err
	}
	p.logger.Debug("mqtt report published", "topic", topic, "bytes", len(payload))
	return nil
}

func (p *Publisher) publish(ctx context.Context, pub *paho.Publish) error {
	p.mu.Lock()
	send := p.send
	p.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}
	return send(ctx, pub)
}

// --- Topics ---

func (p *Publisher) baseTopic() string {
	return "cornerbot/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) reportTopic() string {
	return p.baseTopic() + "/report"
}

func (p *Publisher) discoveryTopic() string {
	return p.cfg.DiscoveryPrefix + "/sensor/" + p.cfg.DeviceName + "/last_referee/config"
}

// --- Connection-up messages ---

func (p *Publisher) announce(ctx context.Context) {
	if p.cfg.DiscoveryPrefix != "" && p.cfg.DiscoveryPrefix != discoveryDisabled {
		p.publishDiscovery(ctx)
	}
	p.publishAvailability(ctx, "online")
}

func (p *Publisher) sensorConfig() SensorConfig {
	return SensorConfig{
		Name:                p.device.Name + " Last Referee",
		UniqueID:            p.device.Identifiers[0] + "_last_referee",
		StateTopic:          p.reportTopic(),
		ValueTemplate:       "{{ value_json.referee }}",
		JsonAttributesTopic: p.reportTopic(),
		AvailabilityTopic:   p.availabilityTopic(),
		Device:              p.device,
		Icon:                "mdi:whistle",
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context) {
	topic := p.discoveryTopic()
	payload, err := json.Marshal(p.sensorConfig())
	if err != nil {
		p.logger.Error("mqtt marshal discovery payload", "error", err)
		return
	}
	if err := p.publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt discovery publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Debug("mqtt discovery published", "topic", topic)
}

func (p *Publisher) publishAvailability(ctx context.Context, status string) {
	if err := p.publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}
