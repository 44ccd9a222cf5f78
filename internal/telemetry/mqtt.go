// Package telemetry fans the behavior engine's periodic register updates
// out to MQTT and InfluxDB, the two optional telemetry sinks of §2.1.
// Both are best-effort: a broker or bucket being unreachable degrades
// telemetry publishing, it never affects the RTU-facing simulation.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fieldbus-sim/rtusim/internal/events"
)

// MQTTConfig configures the telemetry publisher.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // a Go template-free prefix; device id is appended
	QoS      byte
	Retain   bool
}

// MQTTPublisher implements events.Sink, publishing every registers-changed
// event as a JSON payload under "<topic>/<deviceID>".
type MQTTPublisher struct {
	client mqtt.Client
	cfg    MQTTConfig
	mu     sync.RWMutex
	log    events.Logger
}

// NewMQTTPublisher connects to cfg.Broker and returns a ready publisher.
func NewMQTTPublisher(cfg MQTTConfig, log events.Logger) (*MQTTPublisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("rtusim_%d", time.Now().Unix())
	}
	if cfg.Topic == "" {
		cfg.Topic = "rtusim/telemetry"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	p := &MQTTPublisher{cfg: cfg, log: log}
	opts.SetConnectionLostHandler(func(mqtt.Client, error) {
		p.log.Warnf("mqtt telemetry: connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if token.Error() != nil {
		return nil, fmt.Errorf("mqtt telemetry: connect: %w", token.Error())
	}
	p.client = client
	return p, nil
}

// Publish implements events.Sink. Only registers-changed events (the
// periodic energymeter drift and the control-command telemetry cascade)
// carry payloads worth shipping to a telemetry broker.
func (p *MQTTPublisher) Publish(ev events.Event) {
	if ev.Kind != events.KindRegistersChanged || ev.DeviceID == nil {
		return
	}

	payload, err := marshalTelemetry(ev)
	if err != nil {
		p.log.Warnf("mqtt telemetry: marshal event: %v", err)
		return
	}

	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return
	}

	topic := fmt.Sprintf("%s/%d", p.cfg.Topic, *ev.DeviceID)
	token := client.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)
	token.Wait()
	if token.Error() != nil {
		p.log.Warnf("mqtt telemetry: publish %s: %v", topic, token.Error())
	}
}

// Close disconnects the MQTT client.
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}
