package behavior

import (
	"math"
	"testing"

	"github.com/fieldbus-sim/rtusim/internal/device"
	"github.com/fieldbus-sim/rtusim/internal/regbank"
)

type recordingSink struct {
	registerChanges  [][3]uint16
	batchedChanges   []map[uint16]uint16
	paramDescription string
}

func (r *recordingSink) RegisterChanged(id uint16, addr, val uint16) {
	r.registerChanges = append(r.registerChanges, [3]uint16{id, addr, val})
}

func (r *recordingSink) RegistersChanged(id uint16, updates map[uint16]uint16) {
	r.batchedChanges = append(r.batchedChanges, updates)
}

func (r *recordingSink) ParameterChanged(id uint16, addr, val uint16, description string) {
	r.paramDescription = description
}

func newEngine(t *testing.T, id uint16, typ device.Type) (*Engine, *regbank.Bank, *recordingSink) {
	t.Helper()
	bank := regbank.New()
	reg := device.New(bank, nil)
	if err := reg.Add(id, typ); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	sink := &recordingSink{}
	return New(reg, bank, sink), bank, sink
}

func TestRunCommandReinitialisesTelemetryAndMirror(t *testing.T) {
	e, bank, sink := newEngine(t, 1, device.TypeInverter)

	e.AfterWrite(1, 0x2000, 1) // run forward

	if got := bank.Read(1, 0x3000); got != 1000 {
		t.Fatalf("0x3000 = %d, want 1000", got)
	}
	if got := bank.Read(1, 0x0300); got != 1000 {
		t.Fatalf("mirror 0x0300 = %d, want 1000", got)
	}
	if len(sink.batchedChanges) != 1 {
		t.Fatalf("expected one batched registers-changed event, got %d", len(sink.batchedChanges))
	}
	if len(sink.registerChanges) != 1 || sink.registerChanges[0] != [3]uint16{1, 0x2000, 1} {
		t.Fatalf("unexpected primary register-changed events: %+v", sink.registerChanges)
	}
}

func TestStopCommandZeroesTelemetry(t *testing.T) {
	e, bank, _ := newEngine(t, 2, device.TypeInverter)
	bank.Write(2, 0x3000, 5000)

	e.AfterWrite(2, 0x2000, 0) // stop

	if got := bank.Read(2, 0x3000); got != 0 {
		t.Fatalf("0x3000 = %d, want 0 after stop", got)
	}
}

func TestParameterWriteEmitsNamedDescription(t *testing.T) {
	e, _, sink := newEngine(t, 1, device.TypeInverter)

	e.AfterWrite(1, 0x8200, 2)

	if sink.paramDescription != "RS485/Comm" {
		t.Fatalf("description = %q, want %q", sink.paramDescription, "RS485/Comm")
	}
}

func TestNonInverterWritesOnlyEmitRegisterChanged(t *testing.T) {
	e, _, sink := newEngine(t, 110, device.TypeFlowmeter)

	e.AfterWrite(110, 261, 999)

	if len(sink.registerChanges) != 1 {
		t.Fatalf("expected one register-changed event, got %d", len(sink.registerChanges))
	}
	if len(sink.batchedChanges) != 0 {
		t.Fatalf("flowmeter writes must never trigger a telemetry cascade")
	}
}

func TestTickDriftsOnlyEnabledRandomEnergymeters(t *testing.T) {
	e, bank, sink := newEngine(t, 200, device.TypeEnergymeter)

	e.Tick()

	if len(sink.batchedChanges) != 1 {
		t.Fatalf("expected one drift event, got %d", len(sink.batchedChanges))
	}
	v := readFloat(bank, 200, regVoltageL1)
	if v < 215 || v > 225 {
		t.Fatalf("voltage L1 = %v, want within +-2%% of 220", v)
	}
	freq := readFloat(bank, 200, regFrequency)
	if freq < 49.8 || freq > 50.2 {
		t.Fatalf("frequency = %v, want within +-0.1 of 50", freq)
	}
}

func TestTickSkipsManualModeAndDisabled(t *testing.T) {
	e, _, sink := newEngine(t, 201, device.TypeEnergymeter)

	e.registry.SetSimMode(201, device.SimModeManual)
	e.Tick()
	if len(sink.batchedChanges) != 0 {
		t.Fatalf("manual sim mode must not drift")
	}

	e.registry.SetSimMode(201, device.SimModeRandom)
	e.registry.SetEnabled(201, false)
	e.Tick()
	if len(sink.batchedChanges) != 0 {
		t.Fatalf("disabled device must not drift")
	}
}

func readFloat(bank *regbank.Bank, id, base uint16) float64 {
	hi := bank.Read(id, base)
	lo := bank.Read(id, base+1)
	bits := uint32(hi)<<16 | uint32(lo)
	return float64(math.Float32frombits(bits))
}
