// Package device owns the roster of simulated slaves: which ids exist,
// their type, enable/sim-mode flags and inverter unlock state. See §3/§4.4
// of the design spec.
package device

import "time"

// Type is the simulated device's hardware profile. It determines default
// register layout and which semantic hooks apply.
type Type string

const (
	TypeInverter    Type = "inverter"
	TypeFlowmeter   Type = "flowmeter"
	TypeEnergymeter Type = "energymeter"
)

// Valid reports whether t is one of the known device types.
func (t Type) Valid() bool {
	switch t {
	case TypeInverter, TypeFlowmeter, TypeEnergymeter:
		return true
	default:
		return false
	}
}

// SimMode controls whether the behavior engine's periodic tick drifts a
// device's telemetry.
type SimMode string

const (
	SimModeRandom SimMode = "random"
	SimModeManual SimMode = "manual"
)

// UnlockState is the inverter parameter-protection unlock state. Zero
// value is "locked", matching every non-inverter device permanently. The
// password itself is not stored here: it lives in register 0x0000, the
// single source of truth the spec models it as, so it survives a memory
// reload the same way every other register does.
type UnlockState struct {
	Unlocked     bool
	LastActivity time.Time
}

// Device is one simulated slave.
type Device struct {
	ID        uint16
	Type      Type
	Enabled   bool
	SimMode   SimMode
	Unlock    UnlockState
	CreatedAt time.Time
	UpdatedAt time.Time
	Revision  uint64
}

// Summary is the read-only view handed to operators and persistence —
// it deliberately omits the live unlock timer so a roster listing never
// implies a stale notion of "now".
type Summary struct {
	ID      uint16  `json:"id"`
	Type    Type    `json:"type"`
	Enabled bool    `json:"enabled"`
	SimMode SimMode `json:"sim_mode"`
}
