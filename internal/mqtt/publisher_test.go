package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/cornerbot/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:          "mqtt://localhost:1883",
		DeviceName:      "corner",
		DiscoveryPrefix: "homeassistant",
	}
}

// capture installs a recording send func in place of a broker.
func capture(p *Publisher, err error) *[]*paho.Publish {
	var got []*paho.Publish
	p.send = func(_ context.Context, pub *paho.Publish) error {
		got = append(got, pub)
		return err
	}
	return &got
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := New(testConfig(), quietLogger())

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", p.availabilityTopic(), "cornerbot/corner/availability"},
		{"report", p.reportTopic(), "cornerbot/corner/report"},
		{"discovery", p.discoveryTopic(), "homeassistant/sensor/corner/last_referee/config"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s topic = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestPublisher_Publish(t *testing.T) {
	p := New(testConfig(), quietLogger())
	got := capture(p, nil)

	report := map[string]any{"referee": "Michael Oliver", "key": "M Oliver"}
	if err := p.Publish(context.Background(), report); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("published %d messages, want 1", len(*got))
	}
	pub := (*got)[0]
	if pub.Topic != "cornerbot/corner/report" || pub.QoS != 1 || !pub.Retain {
		t.Errorf("publish = topic %q qos %d retain %v", pub.Topic, pub.QoS, pub.Retain)
	}
	var back map[string]string
	if err := json.Unmarshal(pub.Payload, &back); err != nil || back["referee"] != "Michael Oliver" {
		t.Errorf("payload = %s (%v)", pub.Payload, err)
	}
}

func TestPublisher_PublishErrors(t *testing.T) {
	p := New(testConfig(), quietLogger())
	if err := p.Publish(context.Background(), "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("before Start err = %v, want ErrNotConnected", err)
	}

	boom := errors.New("connection lost")
	capture(p, boom)
	if err := p.Publish(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want broker error", err)
	}

	capture(p, nil)
	if err := p.Publish(context.Background(), func() {}); err == nil {
		t.Error("expected marshal error for func value")
	}
}

func TestPublisher_Announce(t *testing.T) {
	p := New(testConfig(), quietLogger())
	got := capture(p, nil)

	p.announce(context.Background())

	if len(*got) != 2 {
		t.Fatalf("published %d messages, want discovery and availability", len(*got))
	}
	disc, avail := (*got)[0], (*got)[1]
	if avail.Topic != "cornerbot/corner/availability" || string(avail.Payload) != "online" {
		t.Errorf("availability = %q %q", avail.Topic, avail.Payload)
	}

	var sc SensorConfig
	if err := json.Unmarshal(disc.Payload, &sc); err != nil {
		t.Fatal(err)
	}
	if sc.StateTopic != "cornerbot/corner/report" || sc.ValueTemplate != "{{ value_json.referee }}" {
		t.Errorf("sensor config = %+v", sc)
	}
	if sc.UniqueID != "cornerbot_corner_last_referee" || sc.Device.Name != "corner" {
		t.Errorf("sensor identity = %q / %q", sc.UniqueID, sc.Device.Name)
	}
}

func TestPublisher_DiscoveryDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DiscoveryPrefix = "-"
	p := New(cfg, quietLogger())
	got := capture(p, nil)

	p.announce(context.Background())

	if len(*got) != 1 || (*got)[0].Topic != "cornerbot/corner/availability" {
		t.Errorf("published %d messages, want availability only", len(*got))
	}
}

func TestPublisher_StopWithoutStart(t *testing.T) {
	if err := New(testConfig(), quietLogger()).Stop(context.Background()); err != nil {
		t.Errorf("Stop = %v, want nil", err)
	}
}

func TestMQTTConfig_Configured(t *testing.T) {
	if !(config.MQTTConfig{Broker: "mqtt://localhost"}).Configured() {
		t.Error("broker set: Configured = false")
	}
	if (config.MQTTConfig{}).Configured() {
		t.Error("empty: Configured = true")
	}
}
