package consolesvc

import (
	"log/slog"
	"time"

	"github.com/wardenpanel/warden/internal/console"
	"github.com/wardenpanel/warden/internal/domain"
	"github.com/wardenpanel/warden/internal/protocol"
	"github.com/wardenpanel/warden/internal/ws"
)

// Service ingests console output from the supervisor and fans it out to the
// sessions subscribed to each server. Lines live only in the bounded
// in-memory registry; there is no durable console history.
type Service struct {
	registry *console.Registry
	hub      *ws.Hub
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a console service.
func New(registry *console.Registry, hub *ws.Hub, logger *slog.Logger) *Service {
	if registry == nil {
		registry = console.NewRegistry(0)
	}
	if logger != nil {
		logger = logger.With("component", "console")
	}
	return &Service{registry: registry, hub: hub, logger: logger, now: time.Now}
}

// Ingest appends one line to the server's buffer and delivers it to current
// subscribers only. Called by the single output pump per server, preserving
// emission order end-to-end.
func (s *Service) Ingest(serverID domain.ServerID, text string, at time.Time) domain.ConsoleLine {
	if at.IsZero() {
		at = s.now().UTC()
	}
	line := s.registry.Append(serverID, text, at)
	payload, err := protocol.Encode(protocol.KindConsoleLine, serverID, line)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to marshal console line", "server_id", serverID, "error", err)
		}
		return line
	}
	s.hub.Deliver(serverID, payload)
	return line
}

// ReadAll returns a server's retained lines in insertion order.
func (s *Service) ReadAll(serverID domain.ServerID) []domain.ConsoleLine {
	return s.registry.ReadAll(serverID)
}

// Clear empties a server's buffer without touching subscriptions.
func (s *Service) Clear(serverID domain.ServerID) {
	s.registry.Clear(serverID)
}

// Hub exposes the fan-out hub for the realtime handler.
func (s *Service) Hub() *ws.Hub {
	return s.hub
}
