// Package behavior implements the device-behavior engine of §4.7: the
// reactive side effects of specific master writes, and the 1 Hz periodic
// telemetry drift for random-mode devices. It is the dispatcher's Hooks
// implementation.
package behavior

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/fieldbus-sim/rtusim/internal/device"
	"github.com/fieldbus-sim/rtusim/internal/regbank"
)

// telemetryRegisters are the U00-group addresses the 0x2000 control
// command re-initialises, in the order frequency/voltage/current/power/
// speed/energy.
var telemetryRegisters = []uint16{0x3000, 0x3002, 0x3003, 0x3004, 0x3005, 0x3006}

// parameterRegisters are the inverter addresses whose writes are reported
// as named parameter-change events rather than plain register-changed
// ones.
var parameterRegisters = map[uint16]bool{
	0x8000: true,
	0x8001: true,
	0x8006: true,
	0x8200: true,
	0x840A: true,
}

// EventSink receives the behavior engine's observations. internal/events
// provides the production implementation; tests can fake it directly.
type EventSink interface {
	RegisterChanged(id uint16, addr, val uint16)
	RegistersChanged(id uint16, updates map[uint16]uint16)
	ParameterChanged(id uint16, addr, val uint16, description string)
}

// Engine is the dispatcher's reactive Hooks and the periodic-tick driver.
type Engine struct {
	registry *device.Registry
	bank     *regbank.Bank
	events   EventSink
	rng      *rand.Rand
}

// New returns an Engine. events must not be nil.
func New(registry *device.Registry, bank *regbank.Bank, events EventSink) *Engine {
	return &Engine{
		registry: registry,
		bank:     bank,
		events:   events,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AfterWrite implements dispatch.Hooks: every committed write is observed
// here, possibly triggering a cascade of further writes.
func (e *Engine) AfterWrite(id uint16, addr, val uint16) {
	e.events.RegisterChanged(id, addr, val)

	d, exists := e.registry.Get(id)
	if !exists || d.Type != device.TypeInverter {
		return
	}

	switch {
	case addr == 0x2000:
		e.applyControlCommand(id, val)
	case parameterRegisters[addr]:
		e.events.ParameterChanged(id, addr, val, describeParameter(addr, val))
	}
}

// applyControlCommand re-initialises the telemetry registers per §4.7 and
// bundles the cascade into a single registers-changed event, distinct from
// the primary register-changed event the control write itself produced.
func (e *Engine) applyControlCommand(id uint16, command uint16) {
	var values []uint16
	switch command {
	case 0, 5, 6: // stop
		values = []uint16{0, 0, 0, 0, 0, 0}
	case 1, 2, 3, 4: // run forward/reverse/jog
		idv := id
		values = []uint16{
			idv * 1000,
			(100 + 10*idv) * 10,
			idv * 10,
			idv * 10,
			idv * 100,
			idv,
		}
	default:
		return
	}

	updates := make(map[uint16]uint16, len(telemetryRegisters)*2)
	for i, reg := range telemetryRegisters {
		updates[reg] = values[i]
		updates[device.MirrorAddress(reg)] = values[i]
	}

	for addr, val := range updates {
		e.bank.Write(id, addr, val)
	}
	e.events.RegistersChanged(id, updates)
}

func describeParameter(addr, val uint16) string {
	if addr == 0x8200 {
		switch val {
		case 0:
			return "Modbus RTU"
		case 1:
			return "Profibus"
		case 2:
			return "RS485/Comm"
		}
	}
	return fmt.Sprintf("%d", val)
}

// Tick runs the 1 Hz periodic drift over every enabled, random-mode
// device. Only energymeters drift in this spec — inverters and flowmeters
// change only in response to writes.
func (e *Engine) Tick() {
	for _, s := range e.registry.List() {
		if !s.Enabled || s.SimMode != device.SimModeRandom {
			continue
		}
		if s.Type == device.TypeEnergymeter {
			e.driftEnergymeter(s.ID)
		}
	}
}

// Energymeter periodic-tick register layout. The spec leaves these
// addresses unspecified (§9 Open Questions); chosen here to match the
// common three-phase layout real energy meters use, documented in
// DESIGN.md.
const (
	regVoltageL1 uint16 = 0x0000
	regVoltageL2 uint16 = 0x0002
	regVoltageL3 uint16 = 0x0004
	regCurrentL1 uint16 = 0x0008
	regCurrentL2 uint16 = 0x000A
	regCurrentL3 uint16 = 0x000C
	regPowerL1   uint16 = 0x0010
	regPowerL2   uint16 = 0x0012
	regPowerL3   uint16 = 0x0014
	regPowerTot  uint16 = 0x001A
	regFrequency uint16 = 0x0020
)

func (e *Engine) driftEnergymeter(id uint16) {
	jitter := func(center, pct float64) float64 {
		return center + center*pct*(e.rng.Float64()*2-1)
	}

	v1 := jitter(220, 0.02)
	v2 := jitter(220, 0.02)
	v3 := jitter(220, 0.02)
	i1 := 5 + e.rng.Float64()*5
	i2 := 5 + e.rng.Float64()*5
	i3 := 5 + e.rng.Float64()*5
	p1 := v1 * i1
	p2 := v2 * i2
	p3 := v3 * i3
	freq := 50 + 0.1*(e.rng.Float64()*2-1)

	updates := make(map[uint16]uint16, 22)
	setFloat := func(base uint16, v float64) {
		hi, lo := regbank.FloatMSWFirst(float32(v))
		updates[base] = hi
		updates[base+1] = lo
	}
	setFloat(regVoltageL1, v1)
	setFloat(regVoltageL2, v2)
	setFloat(regVoltageL3, v3)
	setFloat(regCurrentL1, i1)
	setFloat(regCurrentL2, i2)
	setFloat(regCurrentL3, i3)
	setFloat(regPowerL1, p1)
	setFloat(regPowerL2, p2)
	setFloat(regPowerL3, p3)
	setFloat(regPowerTot, p1+p2+p3)
	setFloat(regFrequency, freq)

	for addr, val := range updates {
		e.bank.Write(id, addr, val)
	}
	e.events.RegistersChanged(id, updates)
}
