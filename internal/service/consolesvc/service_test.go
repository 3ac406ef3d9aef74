package consolesvc

import (
	"testing"
	"time"

	"github.com/wardenpanel/warden/internal/console"
	"github.com/wardenpanel/warden/internal/protocol"
	"github.com/wardenpanel/warden/internal/ws"
)

type fakeSubscriber struct {
	received chan []byte
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{received: make(chan []byte, 16)}
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.received <- payload
	return nil
}

func (f *fakeSubscriber) Close() {}

func TestIngestBuffersAndDeliversToSubscribers(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()
	svc := New(console.NewRegistry(10), hub, nil)

	watcher := newFakeSubscriber()
	hub.Attach(watcher)
	hub.Register("srv-1", watcher)

	at := time.Date(2026, time.July, 4, 16, 0, 0, 0, time.UTC)
	svc.Ingest("srv-1", "player joined", at)

	select {
	case payload := <-watcher.received:
		frame, err := protocol.Decode(payload)
		if err != nil {
			t.Fatalf("delivered payload is not a frame: %v", err)
		}
		if frame.Kind != protocol.KindConsoleLine || frame.ServerID != "srv-1" {
			t.Fatalf("unexpected frame %s/%s", frame.Kind, frame.ServerID)
		}
	case <-time.After(time.Second):
		t.Fatalf("line never delivered")
	}

	lines := svc.ReadAll("srv-1")
	if len(lines) != 1 || lines[0].Text != "player joined" {
		t.Fatalf("unexpected buffer contents %v", lines)
	}
}

func TestIngestSkipsUnsubscribedSessions(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()
	svc := New(console.NewRegistry(10), hub, nil)

	bystander := newFakeSubscriber()
	hub.Attach(bystander)

	svc.Ingest("srv-1", "quiet line", time.Now().UTC())

	select {
	case payload := <-bystander.received:
		t.Fatalf("unsubscribed session received %q", payload)
	case <-time.After(50 * time.Millisecond):
	}

	// The line is buffered regardless of who was listening.
	if got := svc.ReadAll("srv-1"); len(got) != 1 {
		t.Fatalf("expected buffered line, got %v", got)
	}
}

func TestIngestStampsMissingTimestamp(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()
	svc := New(console.NewRegistry(10), hub, nil)
	fixed := time.Date(2026, time.July, 4, 16, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	line := svc.Ingest("srv-1", "no timestamp", time.Time{})
	if !line.At.Equal(fixed) {
		t.Fatalf("expected ingest time %s, got %s", fixed, line.At)
	}
}

func TestClearEmptiesBuffer(t *testing.T) {
	hub := ws.NewHub()
	defer hub.Close()
	svc := New(console.NewRegistry(10), hub, nil)

	svc.Ingest("srv-1", "one", time.Now().UTC())
	svc.Ingest("srv-1", "two", time.Now().UTC())
	svc.Clear("srv-1")

	if got := svc.ReadAll("srv-1"); len(got) != 0 {
		t.Fatalf("expected empty buffer after clear, got %v", got)
	}
}
