package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenpanel/warden/internal/domain"
	"github.com/wardenpanel/warden/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ServerRepository  = (*Repository)(nil)
	_ repository.MetricRepository  = (*Repository)(nil)
	_ repository.CommandRepository = (*Repository)(nil)
)

// UpsertServer inserts or refreshes a server record.
func (r *Repository) UpsertServer(ctx context.Context, server *domain.GameServer) error {
	const query = `INSERT INTO servers (id, name, game, status, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, game = EXCLUDED.game,
			status = EXCLUDED.status, last_seen_at = EXCLUDED.last_seen_at`
	_, err := r.pool.Exec(ctx, query, server.ID, server.Name, server.Game, server.Status, server.LastSeenAt, server.CreatedAt)
	return err
}

// GetServerByID fetches one server record.
func (r *Repository) GetServerByID(ctx context.Context, id domain.ServerID) (*domain.GameServer, error) {
	const query = `SELECT id, name, game, status, last_seen_at, created_at FROM servers WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var s domain.GameServer
	if err := row.Scan(&s.ID, &s.Name, &s.Game, &s.Status, &s.LastSeenAt, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListServers returns all known servers ordered by name.
func (r *Repository) ListServers(ctx context.Context) ([]domain.GameServer, error) {
	const query = `SELECT id, name, game, status, last_seen_at, created_at FROM servers ORDER BY name`
	return r.queryServers(ctx, query)
}

// ListRunningServers returns servers currently in the running state.
func (r *Repository) ListRunningServers(ctx context.Context) ([]domain.GameServer, error) {
	const query = `SELECT id, name, game, status, last_seen_at, created_at FROM servers
		WHERE status = 'running' ORDER BY name`
	return r.queryServers(ctx, query)
}

func (r *Repository) queryServers(ctx context.Context, query string, args ...any) ([]domain.GameServer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var servers []domain.GameServer
	for rows.Next() {
		var s domain.GameServer
		if err := rows.Scan(&s.ID, &s.Name, &s.Game, &s.Status, &s.LastSeenAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// UpdateServerStatus records a lifecycle transition.
func (r *Repository) UpdateServerStatus(ctx context.Context, id domain.ServerID, status string) error {
	const query = `UPDATE servers SET status = $2, last_seen_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendSnapshot stores one metric snapshot in the history series.
func (r *Repository) AppendSnapshot(ctx context.Context, snapshot domain.MetricSnapshot) error {
	const query = `INSERT INTO metric_snapshots (server_id, sampled_at, cpu_percent, ram_bytes, tps, players)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, snapshot.ServerID, snapshot.At, snapshot.CPUPercent, int64(snapshot.RAMBytes), snapshot.TPS, snapshot.Players)
	return err
}

// ListSnapshots returns the most recent snapshots for a server, newest first.
func (r *Repository) ListSnapshots(ctx context.Context, id domain.ServerID, limit int) ([]domain.MetricSnapshot, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	const query = `SELECT server_id, sampled_at, cpu_percent, ram_bytes, tps, players
		FROM metric_snapshots WHERE server_id = $1 ORDER BY sampled_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var snapshots []domain.MetricSnapshot
	for rows.Next() {
		var s domain.MetricSnapshot
		var ram int64
		if err := rows.Scan(&s.ServerID, &s.At, &s.CPUPercent, &ram, &s.TPS, &s.Players); err != nil {
			return nil, err
		}
		s.RAMBytes = uint64(ram)
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// InsertCommand records a forwarded command for auditing.
func (r *Repository) InsertCommand(ctx context.Context, record *domain.CommandRecord) error {
	const query = `INSERT INTO command_audit (id, server_id, session_id, text, issued_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, record.ID, record.ServerID, record.SessionID, record.Text, record.IssuedAt)
	return err
}

// ListCommandsByServer returns recent audited commands, newest first.
func (r *Repository) ListCommandsByServer(ctx context.Context, id domain.ServerID, limit int) ([]domain.CommandRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const query = `SELECT id, server_id, session_id, text, issued_at
		FROM command_audit WHERE server_id = $1 ORDER BY issued_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []domain.CommandRecord
	for rows.Next() {
		var rec domain.CommandRecord
		if err := rows.Scan(&rec.ID, &rec.ServerID, &rec.SessionID, &rec.Text, &rec.IssuedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
