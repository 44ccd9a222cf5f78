package persist

import (
	"testing"

	"github.com/fieldbus-sim/rtusim/internal/device"
)

func TestLoadRosterFallsBackToDefault(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entries, err := s.LoadRoster()
	if err != nil {
		t.Fatalf("LoadRoster() error = %v", err)
	}
	if len(entries) != 7 {
		t.Fatalf("default roster has %d entries, want 7", len(entries))
	}
	var inverters, flowmeters int
	for _, e := range entries {
		switch e.Type {
		case device.TypeInverter:
			inverters++
		case device.TypeFlowmeter:
			flowmeters++
		}
	}
	if inverters != 5 || flowmeters != 2 {
		t.Fatalf("default roster = %d inverters, %d flowmeters, want 5 and 2", inverters, flowmeters)
	}
}

func TestSaveRosterRoundTrips(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	want := []RosterEntry{
		{ID: 1, Type: device.TypeInverter, Enabled: true, SimMode: device.SimModeRandom},
		{ID: 110, Type: device.TypeFlowmeter, Enabled: false, SimMode: device.SimModeManual},
	}
	if err := s.SaveRoster(want); err != nil {
		t.Fatalf("SaveRoster() error = %v", err)
	}

	got, err := s.LoadRoster()
	if err != nil {
		t.Fatalf("LoadRoster() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMemoryRoundTrips(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	snapshot := map[uint16]map[uint16]uint16{
		1:   {0x2001: 123, 0x2002: 456},
		110: {261: 999},
	}
	if err := s.SaveMemory(snapshot); err != nil {
		t.Fatalf("SaveMemory() error = %v", err)
	}

	got, err := s.LoadMemory()
	if err != nil {
		t.Fatalf("LoadMemory() error = %v", err)
	}
	if got[1][0x2001] != 123 || got[1][0x2002] != 456 {
		t.Fatalf("device 1 registers = %+v, want %+v", got[1], snapshot[1])
	}
	if got[110][261] != 999 {
		t.Fatalf("device 110 register 261 = %d, want 999", got[110][261])
	}
}

func TestLoadMemoryOnMissingFileReturnsEmpty(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := s.LoadMemory()
	if err != nil {
		t.Fatalf("LoadMemory() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty memory map, got %+v", got)
	}
}
