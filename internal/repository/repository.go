package repository

import (
	"context"

	"github.com/wardenpanel/warden/internal/domain"
)

// ServerRepository persists the registry of managed game servers.
type ServerRepository interface {
	UpsertServer(ctx context.Context, server *domain.GameServer) error
	GetServerByID(ctx context.Context, id domain.ServerID) (*domain.GameServer, error)
	ListServers(ctx context.Context) ([]domain.GameServer, error)
	ListRunningServers(ctx context.Context) ([]domain.GameServer, error)
	UpdateServerStatus(ctx context.Context, id domain.ServerID, status string) error
}

// MetricRepository stores the metric snapshot time series. This is the
// history store behind the REST backfill endpoint; the push channel does not
// read from it.
type MetricRepository interface {
	AppendSnapshot(ctx context.Context, snapshot domain.MetricSnapshot) error
	ListSnapshots(ctx context.Context, id domain.ServerID, limit int) ([]domain.MetricSnapshot, error)
}

// CommandRepository records accepted command frames for auditing.
type CommandRepository interface {
	InsertCommand(ctx context.Context, record *domain.CommandRecord) error
	ListCommandsByServer(ctx context.Context, id domain.ServerID, limit int) ([]domain.CommandRecord, error)
}
