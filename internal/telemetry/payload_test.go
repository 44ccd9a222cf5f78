package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/fieldbus-sim/rtusim/internal/events"
)

func TestMarshalTelemetryIncludesDeviceAndRegisters(t *testing.T) {
	id := uint16(200)
	ev := events.Event{
		Kind:     events.KindRegistersChanged,
		DeviceID: &id,
		Data:     map[string]interface{}{"0x0000": uint16(0x4401), "0x0001": uint16(0x999a)},
	}

	raw, err := marshalTelemetry(ev)
	if err != nil {
		t.Fatalf("marshalTelemetry() error = %v", err)
	}

	var decoded telemetryPayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.DeviceID != 200 {
		t.Fatalf("DeviceID = %d, want 200", decoded.DeviceID)
	}
	if len(decoded.Registers) != 2 {
		t.Fatalf("Registers = %+v, want 2 entries", decoded.Registers)
	}
}
