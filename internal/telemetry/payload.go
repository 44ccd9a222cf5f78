package telemetry

import (
	"encoding/json"

	"github.com/fieldbus-sim/rtusim/internal/events"
)

type telemetryPayload struct {
	DeviceID  uint16                 `json:"device_id"`
	Timestamp int64                  `json:"timestamp"`
	Registers map[string]interface{} `json:"registers"`
}

func marshalTelemetry(ev events.Event) ([]byte, error) {
	return json.Marshal(telemetryPayload{
		DeviceID:  *ev.DeviceID,
		Timestamp: ev.Timestamp.Unix(),
		Registers: ev.Data,
	})
}
