package server

import (
	"io"
	"testing"

	"github.com/fieldbus-sim/rtusim/internal/crc"
	"github.com/fieldbus-sim/rtusim/internal/device"
	"github.com/fieldbus-sim/rtusim/internal/events"
	"github.com/fieldbus-sim/rtusim/internal/persist"
)

// pipeTransport is an in-memory Transport for tests: writes to the
// simulator arrive on masterToSim, and the simulator's responses are
// readable from simToMaster.
type pipeTransport struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (p *pipeTransport) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeTransport) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeTransport) Close() error {
	p.r.Close()
	return p.w.Close()
}

func newTestServer(t *testing.T) (*Server, *events.Hub, io.Writer, io.Reader) {
	t.Helper()

	hub := events.New()
	go hub.Run()
	t.Cleanup(hub.Stop)

	store, err := persist.New(t.TempDir())
	if err != nil {
		t.Fatalf("persist.New() error = %v", err)
	}
	if err := store.SaveRoster([]persist.RosterEntry{
		{ID: 1, Type: device.TypeInverter, Enabled: true, SimMode: device.SimModeRandom},
	}); err != nil {
		t.Fatalf("SaveRoster() error = %v", err)
	}

	s, err := New(hub, store, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.LoadState(); err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}

	masterR, simW := io.Pipe()
	simR, masterW := io.Pipe()
	transport := &pipeTransport{r: simR, w: simW}

	s.Start(transport)
	t.Cleanup(s.Stop)

	return s, hub, masterW, masterR
}

func TestServerDispatchesReadRequestEndToEnd(t *testing.T) {
	_, _, masterW, masterR := newTestServer(t)

	req := crc.Append([]byte{1, 3, 0x30, 0x00, 0x00, 0x02})
	go masterW.Write(req)

	resp := make([]byte, 9)
	if _, err := io.ReadFull(masterR, resp); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}

	want := crc.Append([]byte{1, 3, 4, 0x13, 0x88, 0x00, 0x00})
	for i, b := range want {
		if resp[i] != b {
			t.Fatalf("response = % x, want % x", resp, want)
		}
	}
}

func TestStartTransportRejectsDoubleStart(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	r, w := io.Pipe()
	defer r.Close()
	defer w.Close()
	if err := s.StartTransport(&pipeTransport{r: r, w: w}); err == nil {
		t.Fatal("expected error starting an already-running server")
	}
}

func TestRestartFromSameStoreResumesPersistedRegisters(t *testing.T) {
	hub := events.New()
	go hub.Run()
	defer hub.Stop()

	dir := t.TempDir()
	store, err := persist.New(dir)
	if err != nil {
		t.Fatalf("persist.New() error = %v", err)
	}
	if err := store.SaveRoster([]persist.RosterEntry{
		{ID: 1, Type: device.TypeInverter, Enabled: true, SimMode: device.SimModeRandom},
	}); err != nil {
		t.Fatalf("SaveRoster() error = %v", err)
	}

	first, err := New(hub, store, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := first.LoadState(); err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if err := first.SetRegister(1, 0x2001, 777); err != nil {
		t.Fatalf("SetRegister() error = %v", err)
	}
	first.backupSnapshot() // simulate the cron-scheduled snapshot firing before a restart

	second, err := New(hub, store, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := second.LoadState(); err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}

	got, err := second.GetRegister(1, 0x2001)
	if err != nil {
		t.Fatalf("GetRegister() error = %v", err)
	}
	if got != 777 {
		t.Fatalf("0x2001 = %d, want 777 (state not resumed across restart)", got)
	}
}
