package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wardenpanel/warden/internal/domain"
	"github.com/wardenpanel/warden/internal/protocol"
)

// fakeTransport is a channel-backed duplex frame pipe. The test side pushes
// inbound frames and observes writes.
type fakeTransport struct {
	mu        sync.Mutex
	in        chan protocol.Frame
	wrote     chan protocol.Frame
	closed    chan struct{}
	once      sync.Once
	heartbeat func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan protocol.Frame, 16),
		wrote:  make(chan protocol.Frame, 16),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadFrame() (protocol.Frame, error) {
	select {
	case frame := <-t.in:
		return frame, nil
	case <-t.closed:
		return protocol.Frame{}, errors.New("transport closed")
	}
}

func (t *fakeTransport) WriteFrame(frame protocol.Frame) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	default:
	}
	t.wrote <- frame
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) setHeartbeat(fn func()) {
	t.mu.Lock()
	t.heartbeat = fn
	t.mu.Unlock()
}

func (t *fakeTransport) fireHeartbeat(tt *testing.T) {
	tt.Helper()
	t.mu.Lock()
	fn := t.heartbeat
	t.mu.Unlock()
	if fn == nil {
		tt.Fatalf("heartbeat hook never installed")
	}
	fn()
}

func (t *fakeTransport) push(kind protocol.FrameKind, serverID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	t.in <- protocol.Frame{Kind: kind, ServerID: serverID, Payload: raw}
}

func (t *fakeTransport) expectWrite(tt *testing.T, kind protocol.FrameKind, serverID string) protocol.Frame {
	tt.Helper()
	select {
	case frame := <-t.wrote:
		if frame.Kind != kind || frame.ServerID != serverID {
			tt.Fatalf("wrote %s/%s, want %s/%s", frame.Kind, frame.ServerID, kind, serverID)
		}
		return frame
	case <-time.After(time.Second):
		tt.Fatalf("timed out waiting for %s frame for %s", kind, serverID)
		return protocol.Frame{}
	}
}

func (t *fakeTransport) expectNoWrite(tt *testing.T) {
	tt.Helper()
	select {
	case frame := <-t.wrote:
		tt.Fatalf("unexpected %s frame for %s", frame.Kind, frame.ServerID)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeDialer hands out transports in order and fails transiently once the
// sequence is exhausted.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	calls      int
	err        error
}

func (d *fakeDialer) dial(context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.transports) == 0 {
		return nil, errors.New("no transport available")
	}
	next := d.transports[0]
	d.transports = d.transports[1:]
	return next, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectReplaysLatentSubscriptions(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil)

	// Intent recorded while disconnected; nothing goes over the wire yet.
	sess.Subscribe("srv-1")
	sess.Subscribe("srv-2")

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case frame := <-transport.wrote:
			if frame.Kind != protocol.KindSubscribe {
				t.Fatalf("expected subscribe frame, got %s", frame.Kind)
			}
			got[frame.ServerID] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for subscribe replay")
		}
	}
	if !got["srv-1"] || !got["srv-2"] {
		t.Fatalf("expected replay for both servers, got %v", got)
	}
}

func TestReconnectReassertsSubscriptionIntent(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{first, second}}
	sess := New(dialer.dial, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	sess.Subscribe("srv-1")
	first.expectWrite(t, protocol.KindSubscribe, "srv-1")

	// Channel drops; the pump dials again and re-asserts intent by itself.
	first.Close()
	second.expectWrite(t, protocol.KindSubscribe, "srv-1")
	waitFor(t, "reconnect", sess.Connected)

	if !sess.Subscribed("srv-1") {
		t.Fatalf("subscription intent lost across reconnect")
	}
}

func TestReconnectDoesNotBackfillConsole(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{first, second}}
	sess := New(dialer.dial, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()
	sess.Subscribe("srv-1")
	first.expectWrite(t, protocol.KindSubscribe, "srv-1")

	first.push(protocol.KindConsoleLine, "srv-1", domain.ConsoleLine{ServerID: "srv-1", Text: "before outage"})
	waitFor(t, "pre-outage line", func() bool { return len(sess.ReadConsole("srv-1")) == 1 })

	// Lines emitted during the outage never reach the session; nothing is
	// queued or replayed on reconnect.
	first.Close()
	second.expectWrite(t, protocol.KindSubscribe, "srv-1")
	waitFor(t, "reconnect", sess.Connected)

	buffered := sess.ReadConsole("srv-1")
	if len(buffered) != 1 || buffered[0].Text != "before outage" {
		t.Fatalf("expected only the pre-outage line after reconnect, got %v", buffered)
	}

	second.push(protocol.KindConsoleLine, "srv-1", domain.ConsoleLine{ServerID: "srv-1", Text: "after outage"})
	waitFor(t, "post-outage line", func() bool { return len(sess.ReadConsole("srv-1")) == 2 })
	buffered = sess.ReadConsole("srv-1")
	if buffered[0].Text != "before outage" || buffered[1].Text != "after outage" {
		t.Fatalf("unexpected buffer order after reconnect: %v", buffered)
	}
}

func TestHeartbeatAdvancesLastSeen(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	base := sess.LastSeen()
	time.Sleep(10 * time.Millisecond)
	transport.fireHeartbeat(t)
	if !sess.LastSeen().After(base) {
		t.Fatalf("heartbeat did not advance last-seen past %s", base)
	}
}

func TestConnectUnauthorizedIsFatal(t *testing.T) {
	dialer := &fakeDialer{err: fmt.Errorf("handshake: %w", ErrUnauthorized)}
	sess := New(dialer.dial, nil)

	err := sess.Connect(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if dialer.callCount() != 1 {
		t.Fatalf("expected a single dial attempt, got %d", dialer.callCount())
	}
	if sess.Connected() {
		t.Fatalf("session must not report connected after rejection")
	}
}

func TestConnectBackoffStopsOnCancel(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	sess := New(dialer.dial, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sess.Connect(ctx) }()

	waitFor(t, "first dial attempt", func() bool { return dialer.callCount() >= 1 })
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("connect did not stop on cancel")
	}
}

func TestConsoleLinesBufferedForSubscribedServer(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil)
	lines := make(chan domain.ConsoleLine, 4)
	sess.OnLine = func(line domain.ConsoleLine) { lines <- line }

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()
	sess.Subscribe("srv-1")
	transport.expectWrite(t, protocol.KindSubscribe, "srv-1")

	at := time.Date(2026, time.May, 10, 8, 0, 0, 0, time.UTC)
	transport.push(protocol.KindConsoleLine, "srv-1", domain.ConsoleLine{ServerID: "srv-1", Text: "Server ERROR: oh no", At: at})

	select {
	case line := <-lines:
		if line.Severity != domain.SeverityError {
			t.Fatalf("expected error severity, got %s", line.Severity)
		}
	case <-time.After(time.Second):
		t.Fatalf("line never dispatched")
	}

	buffered := sess.ReadConsole("srv-1")
	if len(buffered) != 1 || buffered[0].Text != "Server ERROR: oh no" {
		t.Fatalf("unexpected buffer contents: %v", buffered)
	}
}

func TestConsoleLinesForUnsubscribedServerDiscarded(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	transport.push(protocol.KindConsoleLine, "srv-2", domain.ConsoleLine{ServerID: "srv-2", Text: "stray line"})
	// A later frame for a watched server proves the stray one was processed.
	sess.Subscribe("srv-1")
	transport.expectWrite(t, protocol.KindSubscribe, "srv-1")
	transport.push(protocol.KindConsoleLine, "srv-1", domain.ConsoleLine{ServerID: "srv-1", Text: "watched line"})

	waitFor(t, "watched line", func() bool { return len(sess.ReadConsole("srv-1")) == 1 })
	if got := sess.ReadConsole("srv-2"); len(got) != 0 {
		t.Fatalf("expected stray line to be discarded, got %v", got)
	}
}

func TestUnsubscribeDropsBufferAndResubscribeStartsEmpty(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()
	sess.Subscribe("srv-1")
	transport.expectWrite(t, protocol.KindSubscribe, "srv-1")

	transport.push(protocol.KindConsoleLine, "srv-1", domain.ConsoleLine{ServerID: "srv-1", Text: "old history"})
	waitFor(t, "buffered line", func() bool { return len(sess.ReadConsole("srv-1")) == 1 })

	sess.Unsubscribe("srv-1")
	transport.expectWrite(t, protocol.KindUnsubscribe, "srv-1")
	if got := sess.ReadConsole("srv-1"); len(got) != 0 {
		t.Fatalf("expected buffer dropped on unsubscribe, got %v", got)
	}

	sess.Subscribe("srv-1")
	transport.expectWrite(t, protocol.KindSubscribe, "srv-1")
	if got := sess.ReadConsole("srv-1"); len(got) != 0 {
		t.Fatalf("resubscribe must start with an empty buffer, got %v", got)
	}
}

func TestSwitchConsole(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()
	sess.Subscribe("srv-a")
	transport.expectWrite(t, protocol.KindSubscribe, "srv-a")

	sess.SwitchConsole("srv-a", "srv-b")
	transport.expectWrite(t, protocol.KindUnsubscribe, "srv-a")
	transport.expectWrite(t, protocol.KindSubscribe, "srv-b")

	if sess.Subscribed("srv-a") {
		t.Fatalf("srv-a should no longer be subscribed")
	}
	if !sess.Subscribed("srv-b") {
		t.Fatalf("srv-b should be subscribed")
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	sess.Subscribe("srv-1")
	transport.expectWrite(t, protocol.KindSubscribe, "srv-1")
	sess.Subscribe("srv-1")
	transport.expectNoWrite(t)

	sess.Unsubscribe("srv-1")
	transport.expectWrite(t, protocol.KindUnsubscribe, "srv-1")
	sess.Unsubscribe("srv-1")
	transport.expectNoWrite(t)
}

func TestMetricsAndStatusLifecycle(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil)
	statuses := make(chan string, 4)
	sess.OnStatus = func(_ domain.ServerID, status string) { statuses <- status }

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	at := time.Date(2026, time.June, 1, 14, 0, 0, 0, time.UTC)
	snapshot := domain.MetricSnapshot{ServerID: "srv-1", At: at, CPUPercent: 55, RAMBytes: 8 << 30, TPS: 19.5, Players: 7}
	transport.push(protocol.KindMetrics, "srv-1", snapshot)

	waitFor(t, "live snapshot", func() bool {
		_, ok := sess.Live("srv-1")
		return ok
	})
	live, _ := sess.Live("srv-1")
	if live.Players != 7 {
		t.Fatalf("unexpected live snapshot: %+v", live)
	}

	// Stop transition invalidates the live value but keeps the last-known one
	// for the degraded view.
	transport.push(protocol.KindStatus, "srv-1", protocol.StatusPayload{Status: domain.StatusStopped})
	select {
	case status := <-statuses:
		if status != domain.StatusStopped {
			t.Fatalf("expected stopped, got %s", status)
		}
	case <-time.After(time.Second):
		t.Fatalf("status frame never dispatched")
	}

	if _, ok := sess.Live("srv-1"); ok {
		t.Fatalf("live snapshot must be cleared once the server stops")
	}
	lastKnown, ok := sess.LastKnown("srv-1")
	if !ok || lastKnown.Players != 7 {
		t.Fatalf("last-known snapshot lost: %+v ok=%v", lastKnown, ok)
	}
	if got := sess.Status("srv-1"); got != domain.StatusStopped {
		t.Fatalf("expected stopped status, got %s", got)
	}
}

func TestVisibilityFilterDropsMetrics(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil, WithVisibilityFilter(func(id domain.ServerID) bool {
		return id != "srv-hidden"
	}))

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	transport.push(protocol.KindMetrics, "srv-hidden", domain.MetricSnapshot{ServerID: "srv-hidden", Players: 3})
	transport.push(protocol.KindMetrics, "srv-shown", domain.MetricSnapshot{ServerID: "srv-shown", Players: 5})

	waitFor(t, "visible snapshot", func() bool {
		_, ok := sess.Live("srv-shown")
		return ok
	})
	if _, ok := sess.Live("srv-hidden"); ok {
		t.Fatalf("filtered server must not retain metrics")
	}
}

func TestErrorFrameSurfacesToCallback(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil)
	errs := make(chan string, 1)
	sess.OnError = func(msg string) { errs <- msg }

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sess.Disconnect()

	transport.push(protocol.KindError, "", protocol.ErrorPayload{Message: "command rejected"})
	select {
	case msg := <-errs:
		if msg != "command rejected" {
			t.Fatalf("unexpected error message %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("error frame never surfaced")
	}
}

func TestDisconnectPreservesSubscriptionIntent(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	sess := New(dialer.dial, nil)

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	sess.Subscribe("srv-1")
	transport.expectWrite(t, protocol.KindSubscribe, "srv-1")

	sess.Disconnect()
	if sess.Connected() {
		t.Fatalf("expected disconnected state")
	}
	if !sess.Subscribed("srv-1") {
		t.Fatalf("subscription intent must survive disconnect")
	}
}
