package dispatch

import (
	"bytes"
	"testing"

	"github.com/fieldbus-sim/rtusim/internal/crc"
	"github.com/fieldbus-sim/rtusim/internal/device"
	"github.com/fieldbus-sim/rtusim/internal/frame"
	"github.com/fieldbus-sim/rtusim/internal/regbank"
	"github.com/fieldbus-sim/rtusim/internal/validate"
)

type recordingHooks struct {
	writes [][3]uint16
}

func (r *recordingHooks) AfterWrite(id, addr, val uint16) {
	r.writes = append(r.writes, [3]uint16{id, addr, val})
}

func newHarness(t *testing.T) (*Dispatcher, *device.Registry, *regbank.Bank, *recordingHooks) {
	t.Helper()
	bank := regbank.New()
	reg := device.New(bank, nil)
	if err := reg.Add(1, device.TypeInverter); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	v := validate.New(reg, bank, nil)
	hooks := &recordingHooks{}
	return New(reg, bank, v, hooks, nil), reg, bank, hooks
}

func parseOne(t *testing.T, raw []byte) frame.Frame {
	t.Helper()
	p := frame.NewParser()
	frames, overflow := p.Feed(raw)
	if overflow || len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d (overflow=%v)", len(frames), overflow)
	}
	return frames[0]
}

func TestReadHoldingRegistersDefault(t *testing.T) {
	d, _, _, _ := newHarness(t)

	req := crc.Append([]byte{1, 3, 0x30, 0x00, 0x00, 0x02})
	resp := d.Dispatch(parseOne(t, req))

	want := crc.Append([]byte{1, 3, 4, 0x13, 0x88, 0x00, 0x00})
	if !bytes.Equal(resp, want) {
		t.Fatalf("response = % x, want % x", resp, want)
	}
}

func TestWriteControlCommandEchoesRequest(t *testing.T) {
	d, _, _, hooks := newHarness(t)

	req := crc.Append([]byte{1, 6, 0x20, 0x00, 0x00, 0x01})
	resp := d.Dispatch(parseOne(t, req))

	if !bytes.Equal(resp, req) {
		t.Fatalf("response = % x, want echo % x", resp, req)
	}
	if len(hooks.writes) != 1 || hooks.writes[0] != [3]uint16{1, 0x2000, 1} {
		t.Fatalf("unexpected hook calls: %+v", hooks.writes)
	}
}

func TestWriteReadOnlyRegisterReturnsException(t *testing.T) {
	d, _, _, _ := newHarness(t)

	req := crc.Append([]byte{1, 6, 0x30, 0x00, 0x00, 0xFF})
	resp := d.Dispatch(parseOne(t, req))

	want := crc.Append([]byte{1, 0x86, 0x02})
	if !bytes.Equal(resp, want) {
		t.Fatalf("response = % x, want % x", resp, want)
	}
}

func TestDisabledDeviceYieldsNoResponse(t *testing.T) {
	d, reg, _, _ := newHarness(t)
	if err := reg.SetEnabled(1, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}

	req := crc.Append([]byte{1, 3, 0x30, 0x00, 0x00, 0x02})
	resp := d.Dispatch(parseOne(t, req))

	if resp != nil {
		t.Fatalf("expected no response for disabled device, got % x", resp)
	}
}

func TestUnknownSlaveYieldsNoResponse(t *testing.T) {
	d, _, _, _ := newHarness(t)

	req := crc.Append([]byte{99, 3, 0, 0, 0, 1})
	resp := d.Dispatch(parseOne(t, req))

	if resp != nil {
		t.Fatalf("expected no response for unregistered slave, got % x", resp)
	}
}

func TestWriteMultipleIsAtomicOnFailure(t *testing.T) {
	d, _, bank, hooks := newHarness(t)
	bank.Write(1, 0x2FFF, 111) // prior value that must survive the rejected request

	// 0x2FFF=30000 (legal), 0x3000=0 (read-only, illegal) -> whole request rejected.
	body := []byte{1, 0x10, 0x2F, 0xFF, 0x00, 0x02, 0x04, 0x75, 0x30, 0x00, 0x00}
	req := crc.Append(body)
	resp := d.Dispatch(parseOne(t, req))

	want := crc.Append([]byte{1, 0x90, 0x02})
	if !bytes.Equal(resp, want) {
		t.Fatalf("response = % x, want % x", resp, want)
	}
	if got := bank.Read(1, 0x2FFF); got != 111 {
		t.Fatalf("0x2FFF = %d, want unchanged 111 (atomicity violated)", got)
	}
	if len(hooks.writes) != 0 {
		t.Fatalf("expected no hook calls on rejected FC16, got %+v", hooks.writes)
	}
}

func TestWriteMultipleAppliesAllOnSuccess(t *testing.T) {
	d, _, bank, hooks := newHarness(t)

	body := []byte{1, 0x10, 0x20, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x00, 0x14}
	req := crc.Append(body)
	resp := d.Dispatch(parseOne(t, req))

	want := crc.Append([]byte{1, 0x10, 0x20, 0x01, 0x00, 0x02})
	if !bytes.Equal(resp, want) {
		t.Fatalf("response = % x, want % x", resp, want)
	}
	if got := bank.Read(1, 0x2001); got != 10 {
		t.Fatalf("0x2001 = %d, want 10", got)
	}
	if got := bank.Read(1, 0x2002); got != 20 {
		t.Fatalf("0x2002 = %d, want 20", got)
	}
	if len(hooks.writes) != 2 {
		t.Fatalf("expected 2 hook calls, got %+v", hooks.writes)
	}
}

func TestReadCountOutOfRangeReturnsException(t *testing.T) {
	d, _, _, _ := newHarness(t)

	req := crc.Append([]byte{1, 3, 0, 0, 0, 126})
	resp := d.Dispatch(parseOne(t, req))

	want := crc.Append([]byte{1, 0x83, 0x03})
	if !bytes.Equal(resp, want) {
		t.Fatalf("response = % x, want % x", resp, want)
	}
}
