package server

import (
	"fmt"

	"github.com/fieldbus-sim/rtusim/internal/device"
)

// OperatorAPI is the command surface §6 exposes over HTTP/WebSocket.
// internal/api's fiber handlers depend on this interface, not *Server
// directly, so they can be tested against a fake.
type OperatorAPI interface {
	StartTransport(t Transport) error
	StopTransport()
	AddDevice(id uint16, t device.Type) error
	RemoveDevice(id uint16) error
	SetType(id uint16, t device.Type) error
	SetEnabled(id uint16, enabled bool) error
	SetSimMode(id uint16, mode device.SimMode) error
	SetRegister(id, addr, val uint16) error
	GetRegister(id, addr uint16) (uint16, error)
	ListDevices() []device.Summary
	GetDeviceState(id uint16) (device.Device, error)
}

// StartTransport implements OperatorAPI. It loads persisted state first,
// so "start" after "stop" resumes exactly where the simulator left off.
func (s *Server) StartTransport(t Transport) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("server: already running")
	}
	if err := s.LoadState(); err != nil {
		return err
	}
	s.Start(t)
	return nil
}

// StopTransport implements OperatorAPI.
func (s *Server) StopTransport() {
	s.Stop()
}

// AddDevice implements OperatorAPI.
func (s *Server) AddDevice(id uint16, t device.Type) error {
	return s.registry.Add(id, t)
}

// RemoveDevice implements OperatorAPI.
func (s *Server) RemoveDevice(id uint16) error {
	return s.registry.Remove(id)
}

// SetType implements OperatorAPI.
func (s *Server) SetType(id uint16, t device.Type) error {
	return s.registry.SetType(id, t)
}

// SetEnabled implements OperatorAPI.
func (s *Server) SetEnabled(id uint16, enabled bool) error {
	return s.registry.SetEnabled(id, enabled)
}

// SetSimMode implements OperatorAPI.
func (s *Server) SetSimMode(id uint16, mode device.SimMode) error {
	return s.registry.SetSimMode(id, mode)
}

// SetRegister implements OperatorAPI: a direct, unvalidated write used by
// operators seeding scenario data, bypassing the write validator that
// only governs master-originated traffic. Per §4.8, an operator-initiated
// register change is persisted immediately rather than waiting for the
// next scheduled backup.
func (s *Server) SetRegister(id, addr, val uint16) error {
	if !s.registry.Exists(id) {
		return fmt.Errorf("server: device %d does not exist", id)
	}
	s.bank.Write(id, addr, val)
	s.backupSnapshot()
	return nil
}

// GetRegister implements OperatorAPI.
func (s *Server) GetRegister(id, addr uint16) (uint16, error) {
	if !s.registry.Exists(id) {
		return 0, fmt.Errorf("server: device %d does not exist", id)
	}
	return s.bank.Read(id, addr), nil
}

// ListDevices implements OperatorAPI.
func (s *Server) ListDevices() []device.Summary {
	return s.registry.List()
}

// GetDeviceState implements OperatorAPI.
func (s *Server) GetDeviceState(id uint16) (device.Device, error) {
	d, ok := s.registry.Get(id)
	if !ok {
		return device.Device{}, fmt.Errorf("server: device %d does not exist", id)
	}
	return d, nil
}
