package events

import (
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s event", sub.Kind())
	}
	return Event{}
}

func TestPublishPreservesOrderPerChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(KindLog)
	defer sub.Release()

	for _, msg := range []string{"a", "b", "c", "d"} {
		bus.Log(msg)
	}
	for _, want := range []string{"a", "b", "c", "d"} {
		if got := recv(t, sub).Text; got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

func TestPublishOnlyReachesMatchingKind(t *testing.T) {
	bus := NewBus()
	logs := bus.Subscribe(KindLog)
	defer logs.Release()
	errs := bus.Subscribe(KindError)
	defer errs.Release()

	bus.Error("boom")
	bus.Log("hello")

	if ev := recv(t, errs); ev.Text != "boom" || ev.Kind != KindError {
		t.Fatalf("unexpected error event: %#v", ev)
	}
	if ev := recv(t, logs); ev.Text != "hello" {
		t.Fatalf("unexpected log event: %#v", ev)
	}
}

func TestProgressOmitsEmptyMessage(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(KindProgress)
	defer sub.Release()

	bus.Progress(3, 10, "")
	bus.Progress(4, 10, "pinging")

	first := recv(t, sub)
	if first.Progress.Msg != nil {
		t.Fatalf("expected nil msg, got %q", *first.Progress.Msg)
	}
	second := recv(t, sub)
	if second.Progress.Msg == nil || *second.Progress.Msg != "pinging" {
		t.Fatalf("unexpected msg: %#v", second.Progress)
	}
	if second.Progress.Current != 4 || second.Progress.Total != 10 {
		t.Fatalf("unexpected payload: %#v", second.Progress)
	}
}

func TestReleaseDetachesAndClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(KindStatus)
	if n := bus.Subscribers(KindStatus); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}

	sub.Release()
	sub.Release()

	if n := bus.Subscribers(KindStatus); n != 0 {
		t.Fatalf("subscribers after release = %d, want 0", n)
	}
	bus.Status("late")

	select {
	case ev, ok := <-sub.C():
		if ok {
			t.Fatalf("received event after release: %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery channel not closed after release")
	}
}

func TestPublishDoesNotBlockWithoutReader(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(KindLog)
	defer sub.Release()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			bus.Log("x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("publisher blocked on an unread subscription")
	}
}
