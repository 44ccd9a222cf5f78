package regbank

import "math"

// FloatCDAB splits a 32-bit float across two registers in CDAB word
// order: the lower address holds the low-order word. This is the
// flowmeter convention — a real device quirk preserved bit-for-bit.
func FloatCDAB(v float32) (lo, hi uint16) {
	bits := math.Float32bits(v)
	lo = uint16(bits & 0xFFFF)
	hi = uint16(bits >> 16)
	return lo, hi
}

// FloatMSWFirst splits a 32-bit float across two registers with the
// most-significant word at the base address — the inverter/energymeter
// convention, the opposite of FloatCDAB.
func FloatMSWFirst(v float32) (base, basePlus1 uint16) {
	bits := math.Float32bits(v)
	base = uint16(bits >> 16)
	basePlus1 = uint16(bits & 0xFFFF)
	return base, basePlus1
}
