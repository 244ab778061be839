package server

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
)

// testLogger returns a logger for tests that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case got := <-ch:
		return string(got)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker(testLogger())

	ch1 := broker.Subscribe()
	ch2 := broker.Subscribe()

	event := formatSSE(EventActivity, `{"id":"abc"}`)
	broker.broadcast(event)

	if got := receive(t, ch1); got != string(event) {
		t.Errorf("ch1: got %q, want %q", got, event)
	}
	if got := receive(t, ch2); got != string(event) {
		t.Errorf("ch2: got %q, want %q", got, event)
	}

	broker.Unsubscribe(ch1)
	if broker.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", broker.Subscribers())
	}
	event2 := formatSSE(EventActivity, `{"id":"def"}`)
	broker.broadcast(event2)
	if got := receive(t, ch2); got != string(event2) {
		t.Errorf("ch2: got %q, want %q", got, event2)
	}

	broker.Unsubscribe(ch2)
}

func TestFormatSSE(t *testing.T) {
	got := string(formatSSE("activity", `{"id":"123"}`))
	want := "event: activity\ndata: {\"id\":\"123\"}\n\n"
	if got != want {
		t.Errorf("formatSSE: got %q, want %q", got, want)
	}
}

func TestBrokerSlowSubscriber(t *testing.T) {
	broker := NewBroker(testLogger())

	slow := broker.Subscribe()
	fast := broker.Subscribe()

	for range 65 {
		broker.broadcast(formatSSE("test", "fill"))
	}
	// Drain fast so it has room; slow stays full.
	for range 64 {
		<-fast
	}

	event := formatSSE("test", "after-fill")
	broker.broadcast(event)
	if got := receive(t, fast); got != string(event) {
		t.Fatalf("fast subscriber got %q", got)
	}

	broker.Unsubscribe(slow)
	broker.Unsubscribe(fast)
}

func TestBrokerObserve(t *testing.T) {
	broker := NewBroker(testLogger())
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	broker.Observe(store.Change{
		Kind:   store.ChangeStatus,
		Entity: model.EntityRef{Kind: model.EntityAlert, ID: "a-1"},
		From:   "active",
		To:     "acknowledged",
	})

	got := receive(t, ch)
	if !strings.HasPrefix(got, "event: status-changed\n") {
		t.Fatalf("unexpected event name: %q", got)
	}
	if !strings.Contains(got, `"entity":{"kind":"alert","id":"a-1"}`) || !strings.Contains(got, `"to":"acknowledged"`) {
		t.Fatalf("unexpected payload: %q", got)
	}

	broker.Observe(store.Change{Kind: "unknown"})
	select {
	case got := <-ch:
		t.Fatalf("unknown change kinds are not streamed, got %q", got)
	default:
	}
}
