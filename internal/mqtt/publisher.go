package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/reelworks/montage/internal/buildinfo"
	"github.com/reelworks/montage/internal/config"
)

const (
	// discoveryPrefix is the standard Home Assistant discovery topic
	// root.
	discoveryPrefix = "homeassistant"
	// publishInterval is how often sensor states are pushed.
	publishInterval = 30 * time.Second
)

// Publisher manages the MQTT connection, publishes HA discovery config
// messages on (re-)connect, and runs a periodic loop that pushes
// sensor state updates to the broker.
type Publisher struct {
	cfg          config.MQTTConfig
	instanceID   string
	device       DeviceInfo
	stats        *StudioStats
	defaultModel string
	logger       *slog.Logger
	cm           *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, instanceID string, stats *StudioStats, defaultModel string, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:          cfg,
		instanceID:   instanceID,
		device:       NewDeviceInfo(instanceID, cfg.ClientID),
		stats:        stats,
		defaultModel: defaultModel,
		logger:       logger.With("component", "mqtt"),
	}
}

// Start connects to the MQTT broker and begins the periodic publish
// loop. It blocks until ctx is cancelled. On every (re-)connect it
// publishes discovery configs and a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.BrokerURL)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before starting the publish loop.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return discoveryPrefix + "/" + component + "/" + p.cfg.ClientID + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	avail := p.availabilityTopic()
	return []sensorDef{
		{
			entitySuffix: "agent_state",
			config: SensorConfig{
				Name:              p.device.Name + " Agent State",
				UniqueID:          p.instanceID + "_agent_state",
				StateTopic:        p.stateTopic("agent_state"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:movie-edit",
			},
		},
		{
			entitySuffix: "current_project",
			config: SensorConfig{
				Name:              p.device.Name + " Current Project",
				UniqueID:          p.instanceID + "_current_project",
				StateTopic:        p.stateTopic("current_project"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:folder-play",
			},
		},
		{
			entitySuffix: "steps_today",
			config: SensorConfig{
				Name:              p.device.Name + " Steps Today",
				UniqueID:          p.instanceID + "_steps_today",
				StateTopic:        p.stateTopic("steps_today"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:stairs",
				StateClass:        "total_increasing",
			},
		},
		{
			entitySuffix: "tokens_today",
			config: SensorConfig{
				Name:              p.device.Name + " Tokens Today",
				UniqueID:          p.instanceID + "_tokens_today",
				StateTopic:        p.stateTopic("tokens_today"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:counter",
				StateClass:        "total_increasing",
				UnitOfMeasurement: "tokens",
			},
		},
		{
			entitySuffix: "last_run",
			config: SensorConfig{
				Name:              p.device.Name + " Last Run",
				UniqueID:          p.instanceID + "_last_run",
				StateTopic:        p.stateTopic("last_run"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:clock-check",
				EntityCategory:    "diagnostic",
			},
		},
		{
			entitySuffix: "default_model",
			config: SensorConfig{
				Name:              p.device.Name + " Default Model",
				UniqueID:          p.instanceID + "_default_model",
				StateTopic:        p.stateTopic("default_model"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:brain",
				EntityCategory:    "diagnostic",
			},
		},
		{
			entitySuffix: "version",
			config: SensorConfig{
				Name:              p.device.Name + " Version",
				UniqueID:          p.instanceID + "_version",
				StateTopic:        p.stateTopic("version"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:tag",
				EntityCategory:    "diagnostic",
			},
		},
		{
			entitySuffix: "uptime",
			config: SensorConfig{
				Name:              p.device.Name + " Uptime",
				UniqueID:          p.instanceID + "_uptime",
				StateTopic:        p.stateTopic("uptime"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:clock-outline",
				EntityCategory:    "diagnostic",
			},
		},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", s.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", s.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", s.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Periodic state loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	snap := p.stats.Snapshot()

	project := snap.Project
	if project == "" {
		project = "none"
	}
	lastRun := "never"
	if !snap.LastRun.IsZero() {
		lastRun = snap.LastRun.Format(time.RFC3339)
	}

	states := map[string]string{
		"agent_state":     snap.State,
		"current_project": project,
		"steps_today":     strconv.FormatInt(snap.StepsToday, 10),
		"tokens_today":    strconv.FormatInt(snap.TokensToday, 10),
		"last_run":        lastRun,
		"default_model":   p.defaultModel,
		"version":         buildinfo.Version,
		"uptime":          buildinfo.Uptime().Truncate(time.Second).String(),
	}

	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt sensor states published",
		"entities", len(states))
}
