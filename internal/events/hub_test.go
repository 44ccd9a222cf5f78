package events

import (
	"testing"
	"time"

	"github.com/fieldbus-sim/rtusim/internal/device"
)

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Publish(ev Event) {
	r.events = append(r.events, ev)
}

func waitFor(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeReceivesBroadcastEvent(t *testing.T) {
	h := New()
	go h.Run()
	defer h.Stop()

	c := h.Subscribe()
	defer h.Unsubscribe(c)

	h.Infof("hello %d", 42)

	ev := waitFor(t, c.Send)
	if ev.Kind != KindLog || ev.Severity != SeverityInfo || ev.Message != "hello 42" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestSinkReceivesEveryEvent(t *testing.T) {
	sink := &recordingSink{}
	h := New(sink)
	go h.Run()
	defer h.Stop()

	id := uint16(5)
	h.RegisterChanged(id, 0x2001, 10)

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for sink delivery")
		default:
		}
		if len(sink.events) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	ev := sink.events[0]
	if ev.Kind != KindRegisterChanged || *ev.DeviceID != 5 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRosterChangedCarriesEverySummary(t *testing.T) {
	sink := &recordingSink{}
	h := New(sink)
	go h.Run()
	defer h.Stop()

	h.RosterChanged([]device.Summary{
		{ID: 1, Type: device.TypeInverter, Enabled: true, SimMode: device.SimModeRandom},
		{ID: 110, Type: device.TypeFlowmeter, Enabled: true, SimMode: device.SimModeRandom},
	})

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for sink delivery")
		default:
		}
		if len(sink.events) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	devices, ok := sink.events[0].Data["devices"].([]map[string]interface{})
	if !ok || len(devices) != 2 {
		t.Fatalf("unexpected roster payload: %+v", sink.events[0].Data)
	}
}

func TestUnsubscribeClosesSendChannel(t *testing.T) {
	h := New()
	go h.Run()
	defer h.Stop()

	c := h.Subscribe()
	h.Unsubscribe(c)

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Fatal("expected channel to be closed, got a value")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
