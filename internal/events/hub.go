// Package events is the simulator's broadcast bus: every log line, every
// register change and every roster change flows through here on its way
// to operator WebSocket clients and, optionally, Redis subscribers. The
// hub is the one component in the system that owns its own goroutine —
// everything else in §5's concurrency model runs on the single dispatch
// loop, calling into the hub only to enqueue.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies an Event for client-side filtering and coloring.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
	SeverityErr  Severity = "err"
	SeverityRX   Severity = "rx"
	SeverityTX   Severity = "tx"
)

// Kind is the event's payload shape, mirrored in Data.
type Kind string

const (
	KindLog              Kind = "log"
	KindRegisterChanged  Kind = "register-changed"
	KindRegistersChanged Kind = "registers-changed"
	KindParameterChanged Kind = "parameter_changed"
	KindDeviceAdded      Kind = "device-added"
	KindDeviceRemoved    Kind = "device-removed"
	KindDeviceUpdated    Kind = "device-updated"
	KindRosterChanged    Kind = "devices-list"
	KindFrame            Kind = "frame"
)

// Event is one broadcast unit.
type Event struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	Severity  Severity               `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	DeviceID  *uint16                `json:"device_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Sink receives every event the hub broadcasts, in addition to the
// registered WebSocket clients. This package's RedisSink, the sqlite audit
// log and internal/telemetry's MQTT and InfluxDB writers implement Sink.
type Sink interface {
	Publish(Event)
}

// Client is a single subscriber — typically one WebSocket connection, but
// tests can subscribe directly.
type Client struct {
	ID   string
	Send chan Event
}

const clientBuffer = 256

// Hub fans Event values out to every registered Client and Sink. Nil is a
// valid zero value only via New.
type Hub struct {
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	sinks      []Sink
	stop       chan struct{}
}

// New returns a Hub. Call Run in its own goroutine before publishing.
func New(sinks ...Sink) *Hub {
	return &Hub{
		broadcast:  make(chan Event, 1024),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		sinks:      sinks,
		stop:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It owns all client bookkeeping so no mutex
// is needed — every map access happens on this one goroutine.
func (h *Hub) Run() {
	clients := make(map[string]*Client)
	for {
		select {
		case c := <-h.register:
			clients[c.ID] = c
		case c := <-h.unregister:
			if _, ok := clients[c.ID]; ok {
				delete(clients, c.ID)
				close(c.Send)
			}
		case ev := <-h.broadcast:
			for _, c := range clients {
				select {
				case c.Send <- ev:
				default:
					// client too slow to keep up; drop rather than block the bus.
				}
			}
			for _, s := range h.sinks {
				s.Publish(ev)
			}
		case <-h.stop:
			for _, c := range clients {
				close(c.Send)
			}
			return
		}
	}
}

// Stop ends Run's loop. Safe to call once.
func (h *Hub) Stop() { close(h.stop) }

// Subscribe registers a new client and returns it; the caller must drain
// Send until it closes.
func (h *Hub) Subscribe() *Client {
	c := &Client{ID: uuid.NewString(), Send: make(chan Event, clientBuffer)}
	h.register <- c
	return c
}

// Unsubscribe removes a client registered with Subscribe.
func (h *Hub) Unsubscribe(c *Client) {
	h.unregister <- c
}

func (h *Hub) publish(ev Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now()
	h.broadcast <- ev
}

// Infof emits an info-severity log event.
func (h *Hub) Infof(format string, args ...interface{}) {
	h.publish(Event{Kind: KindLog, Severity: SeverityInfo, Message: sprintf(format, args...)})
}

// Warnf emits a warn-severity log event.
func (h *Hub) Warnf(format string, args ...interface{}) {
	h.publish(Event{Kind: KindLog, Severity: SeverityWarn, Message: sprintf(format, args...)})
}

// Errorf emits an error-severity log event.
func (h *Hub) Errorf(format string, args ...interface{}) {
	h.publish(Event{Kind: KindLog, Severity: SeverityErr, Message: sprintf(format, args...)})
}

// Log emits an event at an arbitrary severity with structured fields,
// used by the logger package's zapcore bridge so every zap log line also
// reaches WebSocket clients and the audit log.
func (h *Hub) Log(severity Severity, message string, fields map[string]interface{}) {
	h.publish(Event{Kind: KindLog, Severity: severity, Message: message, Data: fields})
}

// RX logs raw bytes received from the serial port.
func (h *Hub) RX(data []byte) {
	h.publish(Event{Kind: KindFrame, Severity: SeverityRX, Data: map[string]interface{}{"bytes": hexString(data)}})
}

// TX logs raw bytes written to the serial port.
func (h *Hub) TX(data []byte) {
	h.publish(Event{Kind: KindFrame, Severity: SeverityTX, Data: map[string]interface{}{"bytes": hexString(data)}})
}
