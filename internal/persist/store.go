// Package persist is the simulator's on-disk state: the device roster and
// each device's non-zero register values, written as JSON and reloaded
// at startup. It follows the teacher's file-storage conventions (atomic
// write-then-rename, one file per concern) adapted to the roster+memory
// shape this domain needs instead of flow documents.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fieldbus-sim/rtusim/internal/device"
)

// RosterEntry is one persisted roster row.
type RosterEntry struct {
	ID      uint16         `json:"id"`
	Type    device.Type    `json:"type"`
	Enabled bool           `json:"enabled"`
	SimMode device.SimMode `json:"sim_mode"`
}

type rosterFile struct {
	Devices []RosterEntry `json:"devices"`
}

type memoryFile struct {
	// Registers maps device id (as a decimal string, since JSON object
	// keys must be strings) to its non-zero register snapshot.
	Registers map[string]map[uint16]uint16 `json:"registers"`
}

// Store owns the roster.json and memory.json files under a base
// directory.
type Store struct {
	mu         sync.Mutex
	rosterPath string
	memoryPath string
}

// New returns a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create base dir: %w", err)
	}
	return &Store{
		rosterPath: filepath.Join(baseDir, "roster.json"),
		memoryPath: filepath.Join(baseDir, "memory.json"),
	}, nil
}

// RosterPath exposes the roster file's path for the fsnotify watcher.
func (s *Store) RosterPath() string { return s.rosterPath }

// MemoryPath exposes the register snapshot file's path, for archival
// after a scheduled backup.
func (s *Store) MemoryPath() string { return s.memoryPath }

// DefaultRoster is the fallback roster used the first time rtusimd runs
// against an empty data directory: five inverters and two flowmeters, a
// minimal but representative fleet for exercising every device type.
func DefaultRoster() []RosterEntry {
	entries := make([]RosterEntry, 0, 7)
	for id := uint16(1); id <= 5; id++ {
		entries = append(entries, RosterEntry{ID: id, Type: device.TypeInverter, Enabled: true, SimMode: device.SimModeRandom})
	}
	for _, id := range []uint16{110, 111} {
		entries = append(entries, RosterEntry{ID: id, Type: device.TypeFlowmeter, Enabled: true, SimMode: device.SimModeRandom})
	}
	return entries
}

// LoadRoster reads roster.json, or returns DefaultRoster if the file does
// not exist yet.
func (s *Store) LoadRoster() ([]RosterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.rosterPath)
	if os.IsNotExist(err) {
		return DefaultRoster(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read roster: %w", err)
	}

	var rf rosterFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("persist: parse roster: %w", err)
	}
	return rf.Devices, nil
}

// SaveRoster atomically replaces roster.json.
func (s *Store) SaveRoster(entries []RosterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.rosterPath, rosterFile{Devices: entries})
}

// LoadMemory reads memory.json, keyed by device id. Ids absent from the
// current roster are the caller's responsibility to discard — §4's
// load-roster-then-load-memory sequencing means persist never filters on
// its own.
func (s *Store) LoadMemory() (map[uint16]map[uint16]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.memoryPath)
	if os.IsNotExist(err) {
		return map[uint16]map[uint16]uint16{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read memory: %w", err)
	}

	var mf memoryFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("persist: parse memory: %w", err)
	}

	out := make(map[uint16]map[uint16]uint16, len(mf.Registers))
	for idStr, regs := range mf.Registers {
		var id uint16
		if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
			continue
		}
		out[id] = regs
	}
	return out, nil
}

// SaveMemory atomically replaces memory.json with a full snapshot of
// every device's non-zero registers, defaults included.
func (s *Store) SaveMemory(snapshot map[uint16]map[uint16]uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	registers := make(map[string]map[uint16]uint16, len(snapshot))
	for id, regs := range snapshot {
		registers[fmt.Sprintf("%d", id)] = regs
	}
	return writeAtomic(s.memoryPath, memoryFile{Registers: registers})
}

// writeAtomic marshals v as indented JSON into a temp file in path's
// directory, then renames it into place — a crash mid-write never
// corrupts the previous snapshot.
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("persist: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist: rename into place: %w", err)
	}
	return nil
}
