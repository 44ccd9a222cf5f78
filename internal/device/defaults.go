package device

import "github.com/fieldbus-sim/rtusim/internal/regbank"

// Defaults returns the {address -> initial value} pairs applied exactly
// once, at device creation, for the given type. See §6 of the design spec
// for the source of these register profiles.
func Defaults(t Type) map[uint16]uint16 {
	switch t {
	case TypeInverter:
		return inverterDefaults()
	case TypeFlowmeter:
		return flowmeterDefaults()
	case TypeEnergymeter:
		return energymeterDefaults()
	default:
		return map[uint16]uint16{}
	}
}

// inverterU00Base holds the registers in the U00 status group that also
// get mirrored one-for-one into the 0x0300+ range.
func inverterU00Base() map[uint16]uint16 {
	return map[uint16]uint16{
		0x3000: 5000, // frequency
		0x3002: 2200, // voltage
		0x3003: 50,   // current
		0x3004: 11,   // power
		0x3005: 1450, // speed
		0x3006: 3100, // energy
		0x3017: 350,
		0x3023: 999,
	}
}

func inverterDefaults() map[uint16]uint16 {
	base := inverterU00Base()
	out := make(map[uint16]uint16, len(base)*2+2)
	for addr, val := range base {
		out[addr] = val
		out[MirrorAddress(addr)] = val
	}
	out[0x840A] = 1
	out[0x0B15] = 45
	return out
}

// MirrorAddress maps a U00-group address (0x3000-0x30FF) to its mirror in
// the 0x0300+ range. Both ranges share the same low byte.
func MirrorAddress(addr uint16) uint16 {
	return 0x0300 + (addr - 0x3000)
}

func flowmeterDefaults() map[uint16]uint16 {
	out := map[uint16]uint16{
		774: 0x0403, // units
	}
	setFloatCDAB(out, 261, 424.0)
	setFloatCDAB(out, 281, 100.0)
	setFloatCDAB(out, 284, 10.0)
	return out
}

func setFloatCDAB(regs map[uint16]uint16, base uint16, v float32) {
	lo, hi := regbank.FloatCDAB(v)
	regs[base] = lo
	regs[base+1] = hi
}

func energymeterDefaults() map[uint16]uint16 {
	return map[uint16]uint16{
		0x082E: 0x3F80, // power factor L1 == 1.0, MSW
		0x0830: 0x3F80, // power factor L2
		0x0832: 0x3F80, // power factor L3
		0x0834: 0x0032,
		0x008D: 0x0001,
		0x008E: 0x0001,
	}
}
