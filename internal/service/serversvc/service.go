package serversvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardenpanel/warden/internal/domain"
	"github.com/wardenpanel/warden/internal/protocol"
	"github.com/wardenpanel/warden/internal/repository"
	"github.com/wardenpanel/warden/internal/ws"
)

// Lifecycle forwards asynchronous process lifecycle requests to the external
// supervisor. Satisfied by supervisor.Client.
type Lifecycle interface {
	Start(ctx context.Context, id domain.ServerID) error
	Stop(ctx context.Context, id domain.ServerID) error
	Restart(ctx context.Context, id domain.ServerID) error
	Kill(ctx context.Context, id domain.ServerID) error
	SendCommand(ctx context.Context, id domain.ServerID, text string) error
}

// Service owns the server registry: listing, status transitions pushed by the
// supervisor, lifecycle proxying, and command forwarding with audit.
type Service struct {
	servers    repository.ServerRepository
	commands   repository.CommandRepository
	supervisor Lifecycle
	hub        *ws.Hub
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs a server service.
func New(servers repository.ServerRepository, commands repository.CommandRepository, supervisor Lifecycle, hub *ws.Hub, logger *slog.Logger) *Service {
	if logger != nil {
		logger = logger.With("component", "servers")
	}
	return &Service{
		servers:    servers,
		commands:   commands,
		supervisor: supervisor,
		hub:        hub,
		logger:     logger,
		now:        time.Now,
	}
}

// List returns all known servers.
func (s *Service) List(ctx context.Context) ([]domain.GameServer, error) {
	return s.servers.ListServers(ctx)
}

// Get returns one server record.
func (s *Service) Get(ctx context.Context, id domain.ServerID) (*domain.GameServer, error) {
	return s.servers.GetServerByID(ctx, id)
}

// Register upserts a server record announced by the supervisor.
func (s *Service) Register(ctx context.Context, server domain.GameServer) error {
	server.ID = strings.TrimSpace(server.ID)
	if server.ID == "" {
		return errors.New("server id required")
	}
	if server.Status == "" {
		server.Status = domain.StatusStopped
	}
	if !domain.ValidStatus(server.Status) {
		return fmt.Errorf("unknown status %q", server.Status)
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = s.now().UTC()
	}
	server.LastSeenAt = s.now().UTC()
	return s.servers.UpsertServer(ctx, &server)
}

// UpdateStatus records a lifecycle transition pushed by the supervisor and
// broadcasts a status frame to every connected session.
func (s *Service) UpdateStatus(ctx context.Context, id domain.ServerID, status string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("server id required")
	}
	if !domain.ValidStatus(status) {
		return fmt.Errorf("unknown status %q", status)
	}
	if err := s.servers.UpdateServerStatus(ctx, id, status); err != nil {
		return err
	}
	payload, err := protocol.Encode(protocol.KindStatus, id, protocol.StatusPayload{Status: status})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to marshal status frame", "server_id", id, "error", err)
		}
		return nil
	}
	s.hub.Broadcast(payload)
	return nil
}

// Lifecycle proxies one of start/stop/restart/kill to the supervisor. The
// transition itself arrives later as a status push.
func (s *Service) Lifecycle(ctx context.Context, id domain.ServerID, action string) error {
	if _, err := s.servers.GetServerByID(ctx, id); err != nil {
		return err
	}
	switch action {
	case "start":
		return s.supervisor.Start(ctx, id)
	case "stop":
		return s.supervisor.Stop(ctx, id)
	case "restart":
		return s.supervisor.Restart(ctx, id)
	case "kill":
		return s.supervisor.Kill(ctx, id)
	}
	return fmt.Errorf("unknown lifecycle action %q", action)
}

// CommandHistory returns the audited commands for a server, newest first.
func (s *Service) CommandHistory(ctx context.Context, id domain.ServerID, limit int) ([]domain.CommandRecord, error) {
	if s.commands == nil {
		return nil, nil
	}
	if _, err := s.servers.GetServerByID(ctx, id); err != nil {
		return nil, err
	}
	return s.commands.ListCommandsByServer(ctx, id, limit)
}

// ErrNotRunning rejects commands targeting a server that is not running.
var ErrNotRunning = errors.New("server is not running")

// DispatchCommand validates and forwards an operator command to the server's
// standard input, recording an audit row. Fire-and-forget from the session's
// perspective; forwarding errors are returned to the caller, not the session.
func (s *Service) DispatchCommand(ctx context.Context, sessionID string, id domain.ServerID, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("command text is empty")
	}
	server, err := s.servers.GetServerByID(ctx, id)
	if err != nil {
		return err
	}
	if server.Status != domain.StatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, server.Status)
	}
	if err := s.supervisor.SendCommand(ctx, id, text); err != nil {
		return fmt.Errorf("forward command: %w", err)
	}
	if s.commands != nil {
		record := domain.CommandRecord{
			ID:        uuid.NewString(),
			ServerID:  id,
			SessionID: sessionID,
			Text:      text,
			IssuedAt:  s.now().UTC(),
		}
		if err := s.commands.InsertCommand(ctx, &record); err != nil && s.logger != nil {
			s.logger.Warn("failed to audit command", "server_id", id, "error", err)
		}
	}
	return nil
}
