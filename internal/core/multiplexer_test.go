package core

import (
	"fmt"
	"testing"
	"time"

	"autocdn/internal/events"
)

func newTestMux(t *testing.T) (*Multiplexer, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	m := NewMultiplexer(bus, LabelsEN)
	t.Cleanup(m.Close)
	return m, bus
}

func lastLine(p Projection) string {
	if len(p.LogLines) == 0 {
		return ""
	}
	return p.LogLines[len(p.LogLines)-1]
}

func TestMultiplexerLogKeepsDeliveryOrder(t *testing.T) {
	m, bus := newTestMux(t)
	for i := 0; i < 5; i++ {
		bus.Log(fmt.Sprintf("line %d", i))
	}
	waitFor(t, "five lines", func() bool { return len(m.Snapshot().LogLines) == 5 })

	for i, line := range m.Snapshot().LogLines {
		if want := fmt.Sprintf("[log] line %d", i); line != want {
			t.Fatalf("line %d = %q, want %q", i, line, want)
		}
	}
}

func TestMultiplexerStatusWritesBothProjections(t *testing.T) {
	m, bus := newTestMux(t)
	bus.Status("Starting probe (IPV4)...")
	waitFor(t, "status line", func() bool { return len(m.Snapshot().LogLines) == 1 })

	p := m.Snapshot()
	if p.StatusText != "Starting probe (IPV4)..." {
		t.Fatalf("status = %q", p.StatusText)
	}
	if p.LogLines[0] != "[status] Starting probe (IPV4)..." {
		t.Fatalf("log = %q", p.LogLines[0])
	}
}

func TestMultiplexerErrorOnlyLogs(t *testing.T) {
	m, bus := newTestMux(t)
	bus.Error("ip file not found")
	waitFor(t, "error line", func() bool { return len(m.Snapshot().LogLines) == 1 })

	p := m.Snapshot()
	if p.LogLines[0] != "[error] ip file not found" {
		t.Fatalf("log = %q", p.LogLines[0])
	}
	if p.StatusText != LabelsEN.Ready || p.ProgressPercent != 0 {
		t.Fatalf("error changed status or progress: %+v", p)
	}
}

func TestMultiplexerProgress(t *testing.T) {
	m, bus := newTestMux(t)

	bus.Progress(30, 120, "")
	waitFor(t, "percent", func() bool { return m.Snapshot().ProgressPercent == 25 })
	if got := m.Snapshot().StatusText; got != LabelsEN.Testing {
		t.Fatalf("status without msg = %q, want default", got)
	}

	bus.Progress(10, 0, "waiting")
	waitFor(t, "msg", func() bool { return m.Snapshot().StatusText == "waiting" })
	if got := m.Snapshot().ProgressPercent; got != 25 {
		t.Fatalf("zero total changed percent to %v", got)
	}

	bus.Progress(60, 120, "")
	waitFor(t, "percent 50", func() bool { return m.Snapshot().ProgressPercent == 50 })
	if got := m.Snapshot().StatusText; got != "waiting" {
		t.Fatalf("status = %q, want prior progress message", got)
	}

	bus.Progress(500, 120, "")
	waitFor(t, "clamped", func() bool { return m.Snapshot().ProgressPercent == 100 })

	bus.Progress(-5, 120, "")
	waitFor(t, "clamped low", func() bool { return m.Snapshot().ProgressPercent == 0 })

	if n := len(m.Snapshot().LogLines); n != 0 {
		t.Fatalf("progress produced %d log lines", n)
	}
}

func TestMultiplexerBoundsLogAcrossChannels(t *testing.T) {
	m, bus := newTestMux(t)

	bus.Log("first")
	waitFor(t, "first line", func() bool { return len(m.Snapshot().LogLines) == 1 })

	for i := 0; i < 50; i++ {
		bus.Error(fmt.Sprintf("e%d", i))
		bus.Status(fmt.Sprintf("s%d", i))
	}
	waitFor(t, "last lines", func() bool {
		lines := m.Snapshot().LogLines
		var sawE, sawS bool
		for _, l := range lines {
			sawE = sawE || l == "[error] e49"
			sawS = sawS || l == "[status] s49"
		}
		return sawE && sawS
	})

	p := m.Snapshot()
	if len(p.LogLines) != LogCapacity {
		t.Fatalf("len = %d, want %d", len(p.LogLines), LogCapacity)
	}
	for _, l := range p.LogLines {
		if l == "[log] first" {
			t.Fatalf("oldest entry still present")
		}
	}
}

func TestMultiplexerResetAndFinish(t *testing.T) {
	m, bus := newTestMux(t)
	bus.Progress(1, 2, "half")
	bus.Log("x")
	waitFor(t, "events", func() bool {
		p := m.Snapshot()
		return p.ProgressPercent == 50 && len(p.LogLines) == 1
	})

	m.Reset("run-1", "initializing...")
	p := m.Snapshot()
	if p.StatusText != "initializing..." || p.ProgressPercent != 0 || len(p.LogLines) != 0 {
		t.Fatalf("reset left %+v", p)
	}

	bus.Progress(1, 4, "")
	waitFor(t, "percent after reset", func() bool { return m.Snapshot().ProgressPercent == 25 })
	if got := m.Snapshot().StatusText; got != LabelsEN.Testing {
		t.Fatalf("reset kept prior progress message: %q", got)
	}

	m.Finish("done", "boom")
	p = m.Snapshot()
	if p.ProgressPercent != 100 || p.StatusText != "done" || lastLine(p) != "[fatal] boom" {
		t.Fatalf("finish left %+v", p)
	}
}

func TestMultiplexerFinishFreezesPercentAndStatus(t *testing.T) {
	m, _ := newTestMux(t)
	m.Reset("run-1", "initializing...")
	m.Finish("finished", "")

	half := "half"
	m.apply(events.Event{Kind: events.KindProgress, RunID: "run-1", Progress: events.Progress{Current: 1, Total: 2, Msg: &half}})
	m.apply(events.Event{Kind: events.KindStatus, RunID: "run-1", Text: "Probe stopped."})
	m.apply(events.Event{Kind: events.KindLog, Text: "tail"})
	m.apply(events.Event{Kind: events.KindError, RunID: "run-1", Text: "late"})

	p := m.Snapshot()
	if p.ProgressPercent != 100 || p.StatusText != "finished" {
		t.Fatalf("finished projection moved: %+v", p)
	}
	want := []string{"[status] Probe stopped.", "[log] tail", "[error] late"}
	if len(p.LogLines) != len(want) {
		t.Fatalf("log = %q, want %q", p.LogLines, want)
	}
	for i := range want {
		if p.LogLines[i] != want[i] {
			t.Fatalf("log = %q, want %q", p.LogLines, want)
		}
	}

	m.Reset("run-2", "initializing...")
	m.apply(events.Event{Kind: events.KindProgress, RunID: "run-2", Progress: events.Progress{Current: 1, Total: 4}})
	if p := m.Snapshot(); p.ProgressPercent != 25 {
		t.Fatalf("reset did not unfreeze progress: %+v", p)
	}
}

func TestMultiplexerDropsEventsOfOtherRuns(t *testing.T) {
	m, _ := newTestMux(t)
	m.Reset("run-2", "initializing...")

	m.apply(events.Event{Kind: events.KindLog, RunID: "run-1", Text: "stale"})
	m.apply(events.Event{Kind: events.KindStatus, RunID: "run-1", Text: "Probe finished."})
	m.apply(events.Event{Kind: events.KindProgress, RunID: "run-1", Progress: events.Progress{Current: 2, Total: 2}})

	p := m.Snapshot()
	if p.StatusText != "initializing..." || p.ProgressPercent != 0 || len(p.LogLines) != 0 {
		t.Fatalf("stale run changed projection: %+v", p)
	}
}

func TestMultiplexerCloseReleasesSubscriptions(t *testing.T) {
	bus := events.NewBus()
	m := NewMultiplexer(bus, LabelsEN)
	for _, kind := range events.Kinds {
		if n := bus.Subscribers(kind); n != 1 {
			t.Fatalf("%s subscribers = %d, want 1", kind, n)
		}
	}

	bus.Log("before")
	waitFor(t, "before", func() bool { return len(m.Snapshot().LogLines) == 1 })
	m.Close()
	m.Close()

	for _, kind := range events.Kinds {
		if n := bus.Subscribers(kind); n != 0 {
			t.Fatalf("%s subscribers after close = %d", kind, n)
		}
	}
	before := m.Snapshot()
	bus.Log("after")
	bus.Status("after")
	bus.Progress(1, 1, "after")
	bus.Error("after")
	time.Sleep(50 * time.Millisecond)

	after := m.Snapshot()
	if after.StatusText != before.StatusText || after.ProgressPercent != before.ProgressPercent || len(after.LogLines) != len(before.LogLines) {
		t.Fatalf("state changed after close: before=%+v after=%+v", before, after)
	}
}

func TestMultiplexersOnSameBusDoNotDuplicate(t *testing.T) {
	bus := events.NewBus()
	first := NewMultiplexer(bus, LabelsEN)
	first.Close()
	second := NewMultiplexer(bus, LabelsEN)
	defer second.Close()

	bus.Log("once")
	waitFor(t, "delivery", func() bool { return len(second.Snapshot().LogLines) == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := len(second.Snapshot().LogLines); n != 1 {
		t.Fatalf("got %d lines, want 1", n)
	}
	if n := bus.Subscribers(events.KindLog); n != 1 {
		t.Fatalf("log subscribers = %d, want 1", n)
	}
}
