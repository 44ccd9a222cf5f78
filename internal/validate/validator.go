// Package validate implements the per-device write rules of §4.5:
// read-only ranges, the protection-register lock and its password unlock,
// and range checks on the inverter's control registers. Non-inverter
// devices accept every write.
package validate

import (
	"time"

	"github.com/fieldbus-sim/rtusim/internal/device"
)

// Exception codes, reused as Modbus exception responses by the dispatcher.
const (
	ExIllegalAddress byte = 0x02
	ExIllegalValue   byte = 0x03
	ExDeviceLocked   byte = 0x04 // reuse of "slave device failure", see §9
)

const unlockIdleTimeout = 5 * time.Minute

// controlRange describes an inverter control register's allowed values.
type controlRange struct {
	min, max int32
}

var controlRegisters = map[uint16]controlRange{
	0x2000: {0, 7},
	0x2001: {0, 60000},
	0x2002: {0, 1000},
	0x2003: {0, 1000},
	0x2004: {-3000, 3000},
}

var explicitReadOnly = map[uint16]bool{
	0x2100: true,
	0x2101: true,
}

func isU00(addr uint16) bool { return addr >= 0x3000 && addr <= 0x30FF }
func isU01(addr uint16) bool { return addr >= 0x3100 && addr <= 0x31FF }

func isReadOnly(addr uint16) bool {
	return isU00(addr) || isU01(addr) || explicitReadOnly[addr]
}

const (
	passwordAddr   uint16 = 0x0000
	protectionAddr uint16 = 0x0002
)

// Logger receives advisory events the validator raises as it runs; the
// server supplies the event hub as the Logger.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// NopLogger discards everything; used in tests.
type NopLogger struct{}

func (NopLogger) Infof(string, ...interface{}) {}
func (NopLogger) Warnf(string, ...interface{}) {}

// Validator checks proposed writes against a device's type-specific rules.
type Validator struct {
	registry *device.Registry
	bank     currentReader
	log      Logger
	now      func() time.Time
}

// currentReader is the subset of *regbank.Bank the validator needs, kept
// as a tiny interface so tests can fake it without pulling in the bank.
type currentReader interface {
	Read(id, addr uint16) uint16
}

// New returns a Validator. log may be nil (defaults to NopLogger).
func New(registry *device.Registry, bank currentReader, log Logger) *Validator {
	if log == nil {
		log = NopLogger{}
	}
	return &Validator{registry: registry, bank: bank, log: log, now: time.Now}
}

// Check validates a single (addr, val) write for id, applying §4.5's
// validation order. It also performs the stateful side effects that are
// logically part of validation: auto-lock expiry, password handling and
// unlock-timer refresh. ok is false with exceptionCode set when the write
// must be rejected.
func (v *Validator) Check(id uint16, addr, val uint16) (ok bool, exceptionCode byte) {
	d, exists := v.registry.Get(id)
	if !exists {
		return false, ExIllegalAddress
	}
	if d.Type != device.TypeInverter {
		return true, 0
	}

	v.autoLockIfExpired(id)
	d, _ = v.registry.Get(id) // re-read after possible auto-lock

	if addr == passwordAddr {
		v.handlePasswordWrite(id, d, val)
		return true, 0
	}

	if isReadOnly(addr) {
		return false, ExIllegalAddress
	}

	if v.bank.Read(id, protectionAddr) == 1 && addr != protectionAddr && !d.Unlock.Unlocked {
		return false, ExDeviceLocked
	}

	if rng, isControl := controlRegisters[addr]; isControl {
		sv := int32(val)
		if rng.min < 0 {
			sv = int32(int16(val)) // signed range: val is two's complement on the wire
		}
		if sv < rng.min || sv > rng.max {
			return false, ExIllegalValue
		}
	}

	if d.Unlock.Unlocked {
		now := v.now()
		v.registry.Mutate(id, func(dev *device.Device) {
			dev.Unlock.LastActivity = now
		})
	}

	return true, 0
}

func (v *Validator) autoLockIfExpired(id uint16) {
	d, exists := v.registry.Get(id)
	if !exists || !d.Unlock.Unlocked {
		return
	}
	if v.now().Sub(d.Unlock.LastActivity) > unlockIdleTimeout {
		v.registry.Mutate(id, func(dev *device.Device) {
			dev.Unlock.Unlocked = false
		})
		v.log.Infof("device %d parameter protection re-locked after idle timeout", id)
	}
}

// handlePasswordWrite runs before the dispatcher commits val to register
// 0x0000, so bank.Read still returns the password as it stood prior to
// this write — comparing against it, not a shadow copy, means a password
// restored into the bank from persistence (or seeded by an operator via
// SetRegister) is honored exactly like one set by a prior master write.
func (v *Validator) handlePasswordWrite(id uint16, d device.Device, val uint16) {
	now := v.now()
	stored := v.bank.Read(id, passwordAddr)
	switch {
	case stored == 0:
		// no password set yet; the dispatcher commits val to 0x0000 next.
	case val == stored:
		v.registry.Mutate(id, func(dev *device.Device) {
			dev.Unlock.Unlocked = true
			dev.Unlock.LastActivity = now
		})
	default:
		v.log.Warnf("device %d: wrong password on unlock attempt", id)
	}
}
