// Package server is the composition context of §5: it owns the serial
// transport, the frame parser, the dispatcher and the behavior engine's
// periodic tick, all driven off one select loop so register mutation
// never happens from two goroutines at once. The event hub is the single
// exception, running its own broadcast loop per §2.1.
package server

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fieldbus-sim/rtusim/internal/behavior"
	"github.com/fieldbus-sim/rtusim/internal/device"
	"github.com/fieldbus-sim/rtusim/internal/dispatch"
	"github.com/fieldbus-sim/rtusim/internal/events"
	"github.com/fieldbus-sim/rtusim/internal/frame"
	"github.com/fieldbus-sim/rtusim/internal/persist"
	"github.com/fieldbus-sim/rtusim/internal/regbank"
	"github.com/fieldbus-sim/rtusim/internal/validate"
)

// Transport is the minimal surface the server needs from a serial port —
// go.bug.st/serial's Port satisfies this directly.
type Transport interface {
	io.ReadWriteCloser
}

const tickInterval = time.Second

// readChunk is what the reader goroutine hands to the main loop.
type readChunk struct {
	data []byte
	err  error
}

// Archiver ships a completed snapshot file off-box after a scheduled
// backup. *persist.S3Archiver implements this.
type Archiver interface {
	ArchiveSnapshot(localPath string) error
}

// Server is the simulator's single running instance: one roster, one
// register bank, one serial port.
type Server struct {
	transport  Transport
	parser     *frame.Parser
	registry   *device.Registry
	bank       *regbank.Bank
	dispatcher *dispatch.Dispatcher
	behavior   *behavior.Engine
	hub        *events.Hub
	store      *persist.Store
	cron       *cron.Cron
	archiver   Archiver

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New wires every component together. transport is nil until Start is
// called with one (allowing the composition root to defer opening the
// real serial port until after the roster is loaded).
func New(hub *events.Hub, store *persist.Store, backupCron string) (*Server, error) {
	bank := regbank.New()
	registry := device.New(bank, &rosterNotifier{hub: hub, store: store})
	validator := validate.New(registry, bank, hub)
	beh := behavior.New(registry, bank, hub)
	disp := dispatch.New(registry, bank, validator, beh, hub)

	c := cron.New()
	s := &Server{
		parser:     frame.NewParser(),
		registry:   registry,
		bank:       bank,
		dispatcher: disp,
		behavior:   beh,
		hub:        hub,
		store:      store,
		cron:       c,
	}

	if backupCron != "" {
		if _, err := c.AddFunc(backupCron, s.backupSnapshot); err != nil {
			return nil, fmt.Errorf("server: invalid backup schedule %q: %w", backupCron, err)
		}
	}

	return s, nil
}

// SetArchiver wires an optional off-box archival step run after every
// scheduled backup succeeds. Call before Start.
func (s *Server) SetArchiver(a Archiver) { s.archiver = a }

// Registry exposes the device roster for the operator API.
func (s *Server) Registry() *device.Registry { return s.registry }

// Bank exposes the register bank for the operator API's get/set_register.
func (s *Server) Bank() *regbank.Bank { return s.bank }

// LoadState loads the roster and register snapshot from the Store and
// populates the registry/bank, per §4's load-roster-then-load-memory
// sequencing. Call before Start.
func (s *Server) LoadState() error {
	roster, err := s.store.LoadRoster()
	if err != nil {
		return fmt.Errorf("server: load roster: %w", err)
	}
	memory, err := s.store.LoadMemory()
	if err != nil {
		return fmt.Errorf("server: load memory: %w", err)
	}

	for _, entry := range roster {
		if err := s.registry.Add(entry.ID, entry.Type); err != nil {
			s.hub.Warnf("server: skipping roster entry %d: %v", entry.ID, err)
			continue
		}
		if !entry.Enabled {
			s.registry.SetEnabled(entry.ID, false)
		}
		if entry.SimMode != "" {
			s.registry.SetSimMode(entry.ID, entry.SimMode)
		}
		if snapshot, ok := memory[entry.ID]; ok {
			s.bank.Restore(entry.ID, snapshot)
		}
	}
	return nil
}

// Start begins serving transport on the main dispatch loop and starts the
// 1 Hz behavior tick and the backup scheduler. It returns right away; the
// loop runs in its own goroutine, which in turn launches the reader
// goroutine.
func (s *Server) Start(transport Transport) {
	s.mu.Lock()
	s.transport = transport
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.cron.Start()
	go s.run()
}

// Stop closes the transport, cancels in-flight frame assembly and stops
// the behavior tick and scheduler. Safe to call once.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	transport := s.transport
	s.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
	<-s.doneCh
	s.cron.Stop()
	s.parser.Reset()
}

// run is the single loop that owns every mutation to the registry and
// register bank: serial reads (relayed through a channel, since Read
// blocks), the 1 Hz behavior tick, and transport writes all happen here.
func (s *Server) run() {
	defer close(s.doneCh)

	chunks := make(chan readChunk, 4)
	go s.readLoop(chunks)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case c, ok := <-chunks:
			if !ok {
				return
			}
			if c.err != nil {
				s.hub.Warnf("server: transport read error: %v", c.err)
				return
			}
			s.handleBytes(c.data)
		case <-ticker.C:
			s.behavior.Tick()
		}
	}
}

func (s *Server) readLoop(out chan<- readChunk) {
	defer close(out)
	buf := make([]byte, 256)
	for {
		n, err := s.transport.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case out <- readChunk{data: chunk}:
			case <-s.stopCh:
				return
			}
		}
		if err != nil {
			select {
			case out <- readChunk{err: err}:
			case <-s.stopCh:
			}
			return
		}
	}
}

func (s *Server) handleBytes(data []byte) {
	s.hub.RX(data)

	frames, overflow := s.parser.Feed(data)
	if overflow {
		s.hub.Warnf("server: input buffer overflow, resynchronising")
	}
	for _, f := range frames {
		resp := s.dispatcher.Dispatch(f)
		if resp == nil {
			continue
		}
		s.hub.TX(resp)
		if _, err := s.transport.Write(resp); err != nil {
			s.hub.Warnf("server: transport write error: %v", err)
			return
		}
	}
}

func (s *Server) backupSnapshot() {
	snapshot := make(map[uint16]map[uint16]uint16)
	for _, d := range s.registry.List() {
		snapshot[d.ID] = s.bank.Snapshot(d.ID)
	}
	if err := s.store.SaveMemory(snapshot); err != nil {
		s.hub.Warnf("server: scheduled backup failed: %v", err)
		return
	}
	if s.archiver != nil {
		if err := s.archiver.ArchiveSnapshot(s.store.MemoryPath()); err != nil {
			s.hub.Warnf("server: snapshot archival failed: %v", err)
		}
	}
}
