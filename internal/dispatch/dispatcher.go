// Package dispatch implements the request dispatcher of §4.6: function
// codes 03, 04, 06 and 16, per-slave enable gating, and Modbus exception
// responses. It consults the registry and register bank and delegates
// write legality to the validator; reactive side effects are left to a
// Hooks implementation (the behavior engine).
package dispatch

import (
	"encoding/binary"

	"github.com/fieldbus-sim/rtusim/internal/crc"
	"github.com/fieldbus-sim/rtusim/internal/device"
	"github.com/fieldbus-sim/rtusim/internal/frame"
	"github.com/fieldbus-sim/rtusim/internal/regbank"
	"github.com/fieldbus-sim/rtusim/internal/validate"
)

const (
	maxReadCount  = 125
	minReadCount  = 1
	exIllegalAddr = validate.ExIllegalAddress
	exIllegalVal  = validate.ExIllegalValue
)

// Hooks receives the side effects of a committed write. The dispatcher
// calls AfterWrite once per register after it has been written to the
// bank — for FC16 that means once per sub-write, all after every
// validation in the request passed (§4.6 atomicity).
type Hooks interface {
	AfterWrite(id uint16, addr, val uint16)
}

// NopHooks implements Hooks with no side effects; used in tests.
type NopHooks struct{}

func (NopHooks) AfterWrite(uint16, uint16, uint16) {}

// Logger receives advisory/diagnostic events from the dispatcher.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// NopLogger discards everything; used in tests.
type NopLogger struct{}

func (NopLogger) Infof(string, ...interface{}) {}
func (NopLogger) Warnf(string, ...interface{}) {}

// Dispatcher turns one validated, CRC-checked Frame into zero or one
// response frames.
type Dispatcher struct {
	registry  *device.Registry
	bank      *regbank.Bank
	validator *validate.Validator
	hooks     Hooks
	log       Logger
}

// New returns a Dispatcher. hooks and log may be nil.
func New(registry *device.Registry, bank *regbank.Bank, validator *validate.Validator, hooks Hooks, log Logger) *Dispatcher {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if log == nil {
		log = NopLogger{}
	}
	return &Dispatcher{registry: registry, bank: bank, validator: validator, hooks: hooks, log: log}
}

// Dispatch processes f and returns the bytes to write to the serial sink,
// or nil if no response should be sent at all (unknown slave id, disabled
// device).
func (d *Dispatcher) Dispatch(f frame.Frame) []byte {
	dev, exists := d.registry.Get(uint16(f.UnitID))
	if !exists {
		return nil
	}
	if !dev.Enabled {
		d.log.Infof("slave %d: request ignored, device disabled", f.UnitID)
		return nil
	}

	switch f.FuncCode {
	case frame.FuncReadHolding, frame.FuncReadInput:
		return d.dispatchRead(f)
	case frame.FuncWriteSingle:
		return d.dispatchWriteSingle(f)
	case frame.FuncWriteMultiple:
		return d.dispatchWriteMultiple(f)
	default:
		return nil
	}
}

func (d *Dispatcher) dispatchRead(f frame.Frame) []byte {
	body := f.Body
	startAddr := binary.BigEndian.Uint16(body[2:4])
	count := binary.BigEndian.Uint16(body[4:6])

	if count < minReadCount || count > maxReadCount || int(startAddr)+int(count) > 0x10000 {
		return exceptionResponse(f.UnitID, f.FuncCode, exIllegalVal)
	}

	values := d.bank.ReadMany(uint16(f.UnitID), startAddr, int(count))
	resp := make([]byte, 0, 3+len(values)*2+2)
	resp = append(resp, f.UnitID, f.FuncCode, byte(len(values)*2))
	for _, v := range values {
		resp = append(resp, byte(v>>8), byte(v))
	}
	return crc.Append(resp)
}

func (d *Dispatcher) dispatchWriteSingle(f frame.Frame) []byte {
	body := f.Body
	addr := binary.BigEndian.Uint16(body[2:4])
	val := binary.BigEndian.Uint16(body[4:6])

	ok, code := d.validator.Check(uint16(f.UnitID), addr, val)
	if !ok {
		d.log.Warnf("slave %d: write to %#04x rejected, exception %#02x", f.UnitID, addr, code)
		return exceptionResponse(f.UnitID, f.FuncCode, code)
	}

	d.bank.Write(uint16(f.UnitID), addr, val)
	d.hooks.AfterWrite(uint16(f.UnitID), addr, val)

	return crc.Append(append([]byte(nil), body...))
}

func (d *Dispatcher) dispatchWriteMultiple(f frame.Frame) []byte {
	body := f.Body
	addr := binary.BigEndian.Uint16(body[2:4])
	count := binary.BigEndian.Uint16(body[4:6])
	byteCount := body[6]
	data := body[7:]

	if count < minReadCount || int(byteCount) != len(data) || int(byteCount) != int(count)*2 || int(addr)+int(count) > 0x10000 {
		return exceptionResponse(f.UnitID, f.FuncCode, exIllegalVal)
	}

	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[i*2:])
	}

	// Atomicity: validate every sub-write before committing any of them.
	for i, v := range values {
		if ok, code := d.validator.Check(uint16(f.UnitID), addr+uint16(i), v); !ok {
			d.log.Warnf("slave %d: FC16 write to %#04x rejected, exception %#02x", f.UnitID, addr+uint16(i), code)
			return exceptionResponse(f.UnitID, f.FuncCode, code)
		}
	}

	d.bank.WriteMany(uint16(f.UnitID), addr, values)
	for i, v := range values {
		d.hooks.AfterWrite(uint16(f.UnitID), addr+uint16(i), v)
	}

	resp := []byte{f.UnitID, f.FuncCode, byte(addr >> 8), byte(addr), byte(count >> 8), byte(count)}
	return crc.Append(resp)
}

func exceptionResponse(unitID, fc, code byte) []byte {
	resp := []byte{unitID, frame.ExceptionCode(fc), code}
	return crc.Append(resp)
}
