package device

import (
	"testing"

	"github.com/fieldbus-sim/rtusim/internal/regbank"
)

func newTestBank() *regbank.Bank {
	return regbank.New()
}

func TestAddAllocatesDefaultsAndRejectsDuplicate(t *testing.T) {
	bank := newTestBank()
	r := New(bank, nil)

	if err := r.Add(1, TypeInverter); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !bank.Allocated(1) {
		t.Fatalf("expected bank to allocate memory for device 1")
	}
	if got := bank.Read(1, 0x3000); got != 5000 {
		t.Fatalf("default frequency = %d, want 5000", got)
	}

	if err := r.Add(1, TypeFlowmeter); err == nil {
		t.Fatalf("expected duplicate Add() to fail")
	}
}

func TestRemoveFreesMemory(t *testing.T) {
	bank := newTestBank()
	r := New(bank, nil)
	mustAdd(t, r, 2, TypeFlowmeter)

	if err := r.Remove(2); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if bank.Allocated(2) {
		t.Fatalf("expected memory to be freed")
	}
	if err := r.Remove(2); err == nil {
		t.Fatalf("expected Remove() of absent device to fail")
	}
}

func TestSetTypeResetsDefaultsPreservesEnabled(t *testing.T) {
	bank := newTestBank()
	r := New(bank, nil)
	mustAdd(t, r, 3, TypeInverter)
	if err := r.SetEnabled(3, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}

	if err := r.SetType(3, TypeEnergymeter); err != nil {
		t.Fatalf("SetType() error = %v", err)
	}

	d, ok := r.Get(3)
	if !ok {
		t.Fatalf("device 3 missing after SetType")
	}
	if d.Type != TypeEnergymeter {
		t.Fatalf("type = %v, want energymeter", d.Type)
	}
	if d.Enabled {
		t.Fatalf("expected enabled flag to stay false across SetType")
	}
	if got := bank.Read(3, 0x3000); got != 0 {
		t.Fatalf("expected inverter default to be gone after type change, got %d", got)
	}
	if got := bank.Read(3, 0x008D); got != 1 {
		t.Fatalf("expected energymeter default present, got %d", got)
	}
}

func TestListIsSortedById(t *testing.T) {
	bank := newTestBank()
	r := New(bank, nil)
	mustAdd(t, r, 111, TypeFlowmeter)
	mustAdd(t, r, 2, TypeInverter)
	mustAdd(t, r, 50, TypeEnergymeter)

	list := r.List()
	if len(list) != 3 || list[0].ID != 2 || list[1].ID != 50 || list[2].ID != 111 {
		t.Fatalf("List() not sorted: %+v", list)
	}
}

func mustAdd(t *testing.T, r *Registry, id uint16, typ Type) {
	t.Helper()
	if err := r.Add(id, typ); err != nil {
		t.Fatalf("Add(%d, %v) error = %v", id, typ, err)
	}
}
