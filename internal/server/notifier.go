package server

import (
	"github.com/fieldbus-sim/rtusim/internal/device"
	"github.com/fieldbus-sim/rtusim/internal/events"
	"github.com/fieldbus-sim/rtusim/internal/persist"
)

// rosterNotifier implements device.Notifier by fanning every mutation out
// to the event hub and, per §4.4/§4.8, saving a roster snapshot to
// persistence so add_device/set_type/set_enabled/set_sim_mode survive a
// restart.
type rosterNotifier struct {
	hub   *events.Hub
	store *persist.Store
}

func (n *rosterNotifier) DeviceAdded(d device.Summary)   { n.hub.DeviceAdded(d) }
func (n *rosterNotifier) DeviceRemoved(id uint16)        { n.hub.DeviceRemoved(id) }
func (n *rosterNotifier) DeviceUpdated(d device.Summary) { n.hub.DeviceUpdated(d) }

// RosterChanged fires on every registry mutation (Add, Remove, SetType,
// SetEnabled, SetSimMode all call it), so saving here covers the whole
// roster-mutation surface in one place.
func (n *rosterNotifier) RosterChanged(all []device.Summary) {
	n.hub.RosterChanged(all)

	entries := make([]persist.RosterEntry, len(all))
	for i, s := range all {
		entries[i] = persist.RosterEntry{ID: s.ID, Type: s.Type, Enabled: s.Enabled, SimMode: s.SimMode}
	}
	if err := n.store.SaveRoster(entries); err != nil {
		n.hub.Warnf("server: persist roster: %v", err)
	}
}
