package device

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fieldbus-sim/rtusim/internal/regbank"
)

// Notifier receives registry mutation notifications. Implementations
// typically fan the change out to the event bus and trigger a roster
// snapshot to persistence — every mutation does both, per §4.4.
type Notifier interface {
	DeviceAdded(d Summary)
	DeviceRemoved(id uint16)
	DeviceUpdated(d Summary)
	RosterChanged(all []Summary)
}

// NopNotifier is a Notifier that does nothing; used in tests.
type NopNotifier struct{}

func (NopNotifier) DeviceAdded(Summary)      {}
func (NopNotifier) DeviceRemoved(uint16)     {}
func (NopNotifier) DeviceUpdated(Summary)    {}
func (NopNotifier) RosterChanged([]Summary) {}

// Registry holds the current roster and owns the register bank lifecycle
// that goes with it (allocate on add, free on remove).
type Registry struct {
	mu       sync.RWMutex
	devices  map[uint16]*Device
	bank     *regbank.Bank
	notifier Notifier
}

// New returns an empty Registry backed by bank. notifier may be nil.
func New(bank *regbank.Bank, notifier Notifier) *Registry {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Registry{
		devices:  make(map[uint16]*Device),
		bank:     bank,
		notifier: notifier,
	}
}

// Add creates id with the given type's defaults, enabled, sim_mode=random.
// Fails if id is already present or out of the [1,247] slave id range.
func (r *Registry) Add(id uint16, t Type) error {
	if id < 1 || id > 247 {
		return fmt.Errorf("slave id %d out of range [1,247]", id)
	}
	if !t.Valid() {
		return fmt.Errorf("unknown device type %q", t)
	}

	r.mu.Lock()
	if _, exists := r.devices[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("device %d already exists", id)
	}

	now := time.Now()
	d := &Device{
		ID:        id,
		Type:      t,
		Enabled:   true,
		SimMode:   SimModeRandom,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.devices[id] = d
	summary := d.summary()
	all := r.listLocked()
	r.mu.Unlock()

	r.bank.Allocate(id, Defaults(t))

	r.notifier.DeviceAdded(summary)
	r.notifier.RosterChanged(all)
	return nil
}

// Remove destroys id and frees its memory. Fails if id is absent.
func (r *Registry) Remove(id uint16) error {
	r.mu.Lock()
	if _, exists := r.devices[id]; !exists {
		r.mu.Unlock()
		return fmt.Errorf("device %d does not exist", id)
	}
	delete(r.devices, id)
	all := r.listLocked()
	r.mu.Unlock()

	r.bank.Free(id)

	r.notifier.DeviceRemoved(id)
	r.notifier.RosterChanged(all)
	return nil
}

// SetType destroys and recreates id's memory with the new type's
// defaults, preserving the enabled flag.
func (r *Registry) SetType(id uint16, t Type) error {
	if !t.Valid() {
		return fmt.Errorf("unknown device type %q", t)
	}

	r.mu.Lock()
	d, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("device %d does not exist", id)
	}
	d.Type = t
	d.Unlock = UnlockState{}
	d.UpdatedAt = time.Now()
	d.Revision++
	summary := d.summary()
	all := r.listLocked()
	r.mu.Unlock()

	r.bank.Allocate(id, Defaults(t))

	r.notifier.DeviceUpdated(summary)
	r.notifier.RosterChanged(all)
	return nil
}

// SetEnabled toggles whether id answers requests.
func (r *Registry) SetEnabled(id uint16, enabled bool) error {
	return r.update(id, func(d *Device) { d.Enabled = enabled })
}

// SetSimMode toggles whether the behavior engine drifts id's telemetry.
func (r *Registry) SetSimMode(id uint16, mode SimMode) error {
	return r.update(id, func(d *Device) { d.SimMode = mode })
}

func (r *Registry) update(id uint16, fn func(*Device)) error {
	r.mu.Lock()
	d, exists := r.devices[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("device %d does not exist", id)
	}
	fn(d)
	d.UpdatedAt = time.Now()
	d.Revision++
	summary := d.summary()
	all := r.listLocked()
	r.mu.Unlock()

	r.notifier.DeviceUpdated(summary)
	r.notifier.RosterChanged(all)
	return nil
}

// Mutate runs fn with exclusive access to id's Device, for callers (the
// write validator, the behavior engine) that need to update unlock state.
// Reports whether id exists.
func (r *Registry) Mutate(id uint16, fn func(*Device)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, exists := r.devices[id]
	if !exists {
		return false
	}
	fn(d)
	return true
}

// Get returns a copy of id's Device and whether it exists.
func (r *Registry) Get(id uint16) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, exists := r.devices[id]
	if !exists {
		return Device{}, false
	}
	return *d, true
}

// Exists reports whether id is in the roster.
func (r *Registry) Exists(id uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

// List returns every device as a roster summary, sorted by id.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Summary {
	out := make([]Summary, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.summary())
	}
	sortSummaries(out)
	return out
}

// IDs returns every registered slave id, sorted ascending.
func (r *Registry) IDs() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint16, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *Device) summary() Summary {
	return Summary{ID: d.ID, Type: d.Type, Enabled: d.Enabled, SimMode: d.SimMode}
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}
