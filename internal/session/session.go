package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenpanel/warden/internal/console"
	"github.com/wardenpanel/warden/internal/domain"
	"github.com/wardenpanel/warden/internal/protocol"
)

// ErrUnauthorized indicates the control plane rejected the session's
// credential at connect time. Fatal for the session; no retry.
var ErrUnauthorized = errors.New("session unauthorized")

// ErrNotConnected indicates an operation that requires a live channel was
// attempted while disconnected.
var ErrNotConnected = errors.New("session not connected")

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Transport is one established duplex frame channel.
type Transport interface {
	ReadFrame() (protocol.Frame, error)
	WriteFrame(protocol.Frame) error
	Close() error
}

// Dialer establishes a transport. Implementations return ErrUnauthorized for
// credential rejections and any other error for transient failures.
type Dialer func(ctx context.Context) (Transport, error)

// Session owns one logical duplex channel to the control plane, hiding
// reconnect churn from its consumers. All state mutation happens on the read
// pump or under the session mutex; accessors never block on network I/O.
type Session struct {
	dial     Dialer
	logger   *slog.Logger
	registry *console.Registry
	visible  func(domain.ServerID) bool

	mu        sync.Mutex
	transport Transport
	connected bool
	lastSeen  time.Time
	subs      map[domain.ServerID]struct{}
	statuses  map[domain.ServerID]string
	live      map[domain.ServerID]domain.MetricSnapshot
	lastKnown map[domain.ServerID]domain.MetricSnapshot
	history   []string
	cancelRun context.CancelFunc
	pumpDone  chan struct{}

	// OnLine, OnStatus and OnError observe dispatched frames for the UI.
	// Optional; invoked from the read pump.
	OnLine   func(domain.ConsoleLine)
	OnStatus func(domain.ServerID, string)
	OnError  func(string)
}

// Option customises session construction.
type Option func(*Session)

// WithBufferCapacity caps each console buffer at n lines.
func WithBufferCapacity(n int) Option {
	return func(s *Session) { s.registry = console.NewRegistry(n) }
}

// WithVisibilityFilter limits which servers' metric snapshots the session
// retains.
func WithVisibilityFilter(filter func(domain.ServerID) bool) Option {
	return func(s *Session) { s.visible = filter }
}

// New constructs a disconnected session.
func New(dial Dialer, logger *slog.Logger, opts ...Option) *Session {
	if logger != nil {
		logger = logger.With("component", "session")
	}
	s := &Session{
		dial:      dial,
		logger:    logger,
		registry:  console.NewRegistry(0),
		subs:      make(map[domain.ServerID]struct{}),
		statuses:  make(map[domain.ServerID]string),
		live:      make(map[domain.ServerID]domain.MetricSnapshot),
		lastKnown: make(map[domain.ServerID]domain.MetricSnapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect establishes the channel, retrying transient failures with capped
// exponential backoff until it succeeds, the context is cancelled, or the
// credential is rejected. On success the read pump runs in the background and
// re-establishes the channel itself after drops; Disconnect stops it.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	s.mu.Unlock()

	transport, err := s.establish(runCtx)
	if err != nil {
		cancel()
		return err
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.pumpDone = done
	s.mu.Unlock()
	go s.readPump(runCtx, transport, done)
	return nil
}

// Disconnect tears the channel down and cancels any in-flight reconnect.
// Active subscriptions persist as intent for a later Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel := s.cancelRun
	transport := s.transport
	done := s.pumpDone
	s.cancelRun = nil
	s.transport = nil
	s.pumpDone = nil
	s.connected = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if transport != nil {
		_ = transport.Close()
	}
	if done != nil {
		<-done
	}
}

// establish dials until success or a fatal condition.
func (s *Session) establish(ctx context.Context) (Transport, error) {
	delay := minBackoff
	for {
		transport, err := s.dial(ctx)
		if err == nil {
			s.onEstablished(transport)
			return transport, nil
		}
		if errors.Is(err, ErrUnauthorized) {
			if s.logger != nil {
				s.logger.Error("connect rejected", "error", err)
			}
			return nil, err
		}
		if s.logger != nil {
			s.logger.Warn("connect failed, retrying", "error", err, "delay", delay)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

// onEstablished flips connected state and re-asserts subscription intent.
// Transports that surface heartbeats feed the last-seen clock.
func (s *Session) onEstablished(transport Transport) {
	if hb, ok := transport.(interface{ setHeartbeat(func()) }); ok {
		hb.setHeartbeat(s.touch)
	}
	s.mu.Lock()
	s.transport = transport
	s.connected = true
	s.lastSeen = time.Now().UTC()
	ids := make([]domain.ServerID, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.writeFrame(protocol.Frame{Kind: protocol.KindSubscribe, ServerID: id})
	}
	if s.logger != nil {
		s.logger.Info("session connected", "resubscribed", len(ids))
	}
}

func (s *Session) readPump(ctx context.Context, transport Transport, done chan struct{}) {
	defer close(done)
	for {
		for {
			frame, err := transport.ReadFrame()
			if err != nil {
				break
			}
			s.dispatch(frame)
		}
		s.markDisconnected()
		if ctx.Err() != nil {
			return
		}
		if s.logger != nil {
			s.logger.Warn("session channel dropped, reconnecting")
		}
		next, err := s.establish(ctx)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) && s.OnError != nil {
				s.OnError("session credential rejected, re-login required")
			}
			return
		}
		transport = next
	}
}

func (s *Session) markDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.transport = nil
	s.mu.Unlock()
}

// dispatch routes one inbound frame by discriminant. Failures here are
// absorbed: a malformed payload is logged, never propagated.
func (s *Session) dispatch(frame protocol.Frame) {
	s.touch()
	switch frame.Kind {
	case protocol.KindConsoleLine:
		s.onConsoleLine(frame)
	case protocol.KindMetrics:
		s.onMetrics(frame)
	case protocol.KindStatus:
		s.onStatus(frame)
	case protocol.KindError:
		var payload protocol.ErrorPayload
		if err := json.Unmarshal(frame.Payload, &payload); err == nil && s.OnError != nil {
			s.OnError(payload.Message)
		}
	default:
		if s.logger != nil {
			s.logger.Warn("unexpected frame kind", "kind", frame.Kind)
		}
	}
}

func (s *Session) onConsoleLine(frame protocol.Frame) {
	s.mu.Lock()
	_, subscribed := s.subs[frame.ServerID]
	s.mu.Unlock()
	if !subscribed {
		// Lines for a console we no longer watch (e.g. during an A→B view
		// switch) are discarded.
		return
	}
	var payload domain.ConsoleLine
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		if s.logger != nil {
			s.logger.Warn("malformed console-line payload", "server_id", frame.ServerID, "error", err)
		}
		return
	}
	line := s.registry.Append(frame.ServerID, payload.Text, payload.At)
	if s.OnLine != nil {
		s.OnLine(line)
	}
}

func (s *Session) onMetrics(frame protocol.Frame) {
	if s.visible != nil && !s.visible(frame.ServerID) {
		return
	}
	var snapshot domain.MetricSnapshot
	if err := json.Unmarshal(frame.Payload, &snapshot); err != nil {
		if s.logger != nil {
			s.logger.Warn("malformed metrics payload", "server_id", frame.ServerID, "error", err)
		}
		return
	}
	s.mu.Lock()
	s.live[frame.ServerID] = snapshot
	s.lastKnown[frame.ServerID] = snapshot
	s.mu.Unlock()
}

func (s *Session) onStatus(frame protocol.Frame) {
	var payload protocol.StatusPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		if s.logger != nil {
			s.logger.Warn("malformed status payload", "server_id", frame.ServerID, "error", err)
		}
		return
	}
	s.mu.Lock()
	s.statuses[frame.ServerID] = payload.Status
	if payload.Status != domain.StatusRunning {
		// Live value is stale once the process leaves running; last-known is
		// retained for the degraded view.
		delete(s.live, frame.ServerID)
	}
	s.mu.Unlock()
	if s.OnStatus != nil {
		s.OnStatus(frame.ServerID, payload.Status)
	}
}

// writeFrame sends a frame if connected; drops otherwise. Delivery is never
// awaited.
func (s *Session) writeFrame(frame protocol.Frame) {
	s.mu.Lock()
	transport := s.transport
	connected := s.connected
	s.mu.Unlock()
	if !connected || transport == nil {
		return
	}
	if err := transport.WriteFrame(frame); err != nil && s.logger != nil {
		s.logger.Warn("frame send failed", "kind", frame.Kind, "error", err)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now().UTC()
	s.mu.Unlock()
}

// Connected reports channel liveness. UIs gate controls on this.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastSeen reports the time of the most recent inbound frame or heartbeat.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Status returns the last observed lifecycle state for a server.
func (s *Session) Status(id domain.ServerID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.statuses[id]; ok {
		return status
	}
	return domain.StatusStopped
}

// SetStatus seeds a server's lifecycle state, e.g. from the REST listing at
// startup before any status frame has arrived.
func (s *Session) SetStatus(id domain.ServerID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
}

// Live returns the current-interval snapshot for a running server.
func (s *Session) Live(id domain.ServerID) (domain.MetricSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.live[id]
	return snapshot, ok
}

// LastKnown returns the most recent snapshot ever observed for a server,
// surviving stop transitions and disconnects.
func (s *Session) LastKnown(id domain.ServerID) (domain.MetricSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.lastKnown[id]
	return snapshot, ok
}

// ReadConsole returns the buffered console lines for a server in insertion
// order.
func (s *Session) ReadConsole(id domain.ServerID) []domain.ConsoleLine {
	return s.registry.ReadAll(id)
}

// ClearConsole empties a server's local buffer without touching subscription
// state.
func (s *Session) ClearConsole(id domain.ServerID) {
	s.registry.Clear(id)
}
