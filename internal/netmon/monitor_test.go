package netmon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erauner12/daykeep/internal/event"
)

func TestStartsOnline(t *testing.T) {
	m := New(func(context.Context) bool { return false }, time.Minute, event.NewBus())
	if !m.Online() {
		t.Error("monitor must start online")
	}
}

func TestSetOnlineEmitsOnlyOnTransition(t *testing.T) {
	bus := event.NewBus()
	m := New(nil, time.Minute, bus)
	events, cancel := bus.Subscribe(8)
	defer cancel()

	m.SetOnline(true) // already online, no signal
	select {
	case ev := <-events:
		t.Fatalf("unexpected signal on non-transition: %s", ev.Signal)
	default:
	}

	m.SetOnline(false)
	m.SetOnline(false) // repeated state, no second signal
	m.SetOnline(true)

	var got []event.Signal
	for {
		select {
		case ev := <-events:
			got = append(got, ev.Signal)
			continue
		default:
		}
		break
	}
	want := []event.Signal{event.NetworkLost, event.NetworkRestored}
	if len(got) != len(want) {
		t.Fatalf("signals: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("signal %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRunProbesAndUpdates(t *testing.T) {
	bus := event.NewBus()
	var reachable atomic.Bool

	m := New(func(context.Context) bool { return reachable.Load() }, 5*time.Millisecond, bus)
	events, cancel := bus.Subscribe(8)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go m.Run(ctx)

	// First probes see an unreachable network and flip the flag.
	waitSignal(t, events, event.NetworkLost)
	if m.Online() {
		t.Error("flag still online after failed probes")
	}

	reachable.Store(true)
	waitSignal(t, events, event.NetworkRestored)
	if !m.Online() {
		t.Error("flag still offline after successful probe")
	}
}

func waitSignal(t *testing.T, events <-chan event.Event, want event.Signal) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Signal == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
