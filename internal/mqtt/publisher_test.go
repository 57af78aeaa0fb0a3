package mqtt

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/reelworks/montage/internal/config"
)

func testPublisher() *Publisher {
	cfg := config.MQTTConfig{
		BrokerURL:   "mqtt://127.0.0.1:1883",
		ClientID:    "montage",
		TopicPrefix: "montage",
	}
	stats := NewStudioStats(time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, "0193e0a1-test", stats, "gemini-3-flash-preview", logger)
}

func TestTopics(t *testing.T) {
	p := testPublisher()

	if got := p.availabilityTopic(); got != "montage/availability" {
		t.Errorf("availability topic = %q", got)
	}
	if got := p.stateTopic("agent_state"); got != "montage/agent_state/state" {
		t.Errorf("state topic = %q", got)
	}
	if got := p.discoveryTopic("sensor", "uptime"); got != "homeassistant/sensor/montage/uptime/config" {
		t.Errorf("discovery topic = %q", got)
	}
}

func TestSensorDefinitions(t *testing.T) {
	p := testPublisher()
	defs := p.sensorDefinitions()

	wantEntities := []string{
		"agent_state", "current_project", "steps_today", "tokens_today",
		"last_run", "default_model", "version", "uptime",
	}
	if len(defs) != len(wantEntities) {
		t.Fatalf("got %d sensor definitions, want %d", len(defs), len(wantEntities))
	}

	seen := make(map[string]bool)
	for _, d := range defs {
		seen[d.entitySuffix] = true

		if d.config.UniqueID == "" || !strings.HasPrefix(d.config.UniqueID, p.instanceID) {
			t.Errorf("%s: unique_id = %q, want instance-prefixed", d.entitySuffix, d.config.UniqueID)
		}
		if d.config.StateTopic != p.stateTopic(d.entitySuffix) {
			t.Errorf("%s: state topic = %q", d.entitySuffix, d.config.StateTopic)
		}
		if d.config.AvailabilityTopic != p.availabilityTopic() {
			t.Errorf("%s: availability topic = %q", d.entitySuffix, d.config.AvailabilityTopic)
		}
		if len(d.config.Device.Identifiers) == 0 {
			t.Errorf("%s: missing device identifiers", d.entitySuffix)
		}
	}
	for _, want := range wantEntities {
		if !seen[want] {
			t.Errorf("missing sensor definition %q", want)
		}
	}
}

func TestDeviceInfo(t *testing.T) {
	d := NewDeviceInfo("0193e0a1-test", "montage")
	if len(d.Identifiers) != 1 || d.Identifiers[0] != "0193e0a1-test" {
		t.Errorf("identifiers = %v", d.Identifiers)
	}
	if d.Name != "montage" {
		t.Errorf("name = %q", d.Name)
	}
	if d.Model == "" || d.SWVersion == "" {
		t.Errorf("device = %+v, want model and version set", d)
	}
}
