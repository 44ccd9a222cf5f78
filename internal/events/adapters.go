package events

import "github.com/fieldbus-sim/rtusim/internal/device"

// RegisterChanged implements behavior.EventSink.
func (h *Hub) RegisterChanged(id uint16, addr, val uint16) {
	h.publish(Event{
		Kind:     KindRegisterChanged,
		Severity: SeverityInfo,
		DeviceID: &id,
		Data: map[string]interface{}{
			"address": addr,
			"value":   val,
		},
	})
}

// RegistersChanged implements behavior.EventSink for batched updates, used
// by the control-command cascade and the periodic telemetry tick.
func (h *Hub) RegistersChanged(id uint16, updates map[uint16]uint16) {
	data := make(map[string]interface{}, len(updates))
	for addr, val := range updates {
		data[addrKey(addr)] = val
	}
	h.publish(Event{
		Kind:     KindRegistersChanged,
		Severity: SeverityInfo,
		DeviceID: &id,
		Data:     data,
	})
}

// ParameterChanged implements behavior.EventSink.
func (h *Hub) ParameterChanged(id uint16, addr, val uint16, description string) {
	h.publish(Event{
		Kind:     KindParameterChanged,
		Severity: SeverityInfo,
		DeviceID: &id,
		Message:  description,
		Data: map[string]interface{}{
			"address": addr,
			"value":   val,
		},
	})
}

// DeviceAdded implements device.Notifier.
func (h *Hub) DeviceAdded(d device.Summary) {
	id := d.ID
	h.publish(Event{Kind: KindDeviceAdded, Severity: SeverityInfo, DeviceID: &id, Data: summaryData(d)})
}

// DeviceRemoved implements device.Notifier.
func (h *Hub) DeviceRemoved(id uint16) {
	h.publish(Event{Kind: KindDeviceRemoved, Severity: SeverityInfo, DeviceID: &id})
}

// DeviceUpdated implements device.Notifier.
func (h *Hub) DeviceUpdated(d device.Summary) {
	id := d.ID
	h.publish(Event{Kind: KindDeviceUpdated, Severity: SeverityInfo, DeviceID: &id, Data: summaryData(d)})
}

// RosterChanged implements device.Notifier.
func (h *Hub) RosterChanged(all []device.Summary) {
	devices := make([]map[string]interface{}, len(all))
	for i, d := range all {
		devices[i] = summaryData(d)
	}
	h.publish(Event{Kind: KindRosterChanged, Severity: SeverityInfo, Data: map[string]interface{}{"devices": devices}})
}

func summaryData(d device.Summary) map[string]interface{} {
	return map[string]interface{}{
		"id":       d.ID,
		"type":     d.Type,
		"enabled":  d.Enabled,
		"sim_mode": d.SimMode,
	}
}

func addrKey(addr uint16) string {
	const hextable = "0123456789abcdef"
	return "0x" + string([]byte{
		hextable[(addr>>12)&0xF],
		hextable[(addr>>8)&0xF],
		hextable[(addr>>4)&0xF],
		hextable[addr&0xF],
	})
}
