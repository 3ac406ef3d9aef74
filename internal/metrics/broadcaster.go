package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenpanel/warden/internal/domain"
	"github.com/wardenpanel/warden/internal/protocol"
)

const defaultPushInterval = 2 * time.Second

// ServerSource lists the servers eligible for sampling. Only servers in the
// running state are sampled; a server that stopped mid-interval simply stops
// appearing here and emits nothing until it runs again.
type ServerSource interface {
	ListRunningServers(ctx context.Context) ([]domain.GameServer, error)
}

// HistorySink receives every pushed snapshot for the time-series store.
type HistorySink interface {
	AppendSnapshot(ctx context.Context, snapshot domain.MetricSnapshot) error
}

// FrameSink receives encoded metric frames for fan-out to sessions.
type FrameSink interface {
	Broadcast(payload []byte)
}

// Broadcaster samples every running server on a fixed interval and pushes a
// metrics frame per server to all connected sessions, subscription state
// notwithstanding. Sampling failures are isolated per server.
type Broadcaster struct {
	source   ServerSource
	sampler  Sampler
	hub      FrameSink
	history  HistorySink
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	once     sync.Once
}

// NewBroadcaster constructs a broadcaster with sane defaults.
func NewBroadcaster(source ServerSource, sampler Sampler, hub FrameSink, history HistorySink, logger *slog.Logger, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = defaultPushInterval
	}
	if logger != nil {
		logger = logger.With("component", "metric_broadcaster")
	}
	return &Broadcaster{
		source:   source,
		sampler:  sampler,
		hub:      hub,
		history:  history,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run samples on the configured interval until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	if b == nil {
		return
	}
	b.once.Do(func() {
		if b.logger != nil {
			b.logger.Info("metric broadcaster started", "interval", b.interval)
		}
	})
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if b.logger != nil {
				b.logger.Info("metric broadcaster stopped")
			}
			return
		case <-ticker.C:
			b.SampleOnce(ctx)
		}
	}
}

// SampleOnce performs one sampling sweep over all running servers. Each
// server is sampled in its own goroutine so one slow or failing sampler
// cannot block snapshots for the others.
func (b *Broadcaster) SampleOnce(ctx context.Context) {
	servers, err := b.source.ListRunningServers(ctx)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("failed to list running servers", "error", err)
		}
		return
	}
	var wg sync.WaitGroup
	for _, server := range servers {
		wg.Add(1)
		go func(server domain.GameServer) {
			defer wg.Done()
			b.sampleServer(ctx, server)
		}(server)
	}
	wg.Wait()
}

func (b *Broadcaster) sampleServer(ctx context.Context, server domain.GameServer) {
	snapshot, err := b.sampler.Sample(ctx, server.ID)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("sampling failed", "server_id", server.ID, "error", err)
		}
		return
	}
	snapshot.ServerID = server.ID
	if snapshot.At.IsZero() {
		snapshot.At = b.now().UTC()
	}
	snapshot.RAMBytes = NormalizeRAM(snapshot.RAMBytes)

	payload, err := protocol.Encode(protocol.KindMetrics, server.ID, snapshot)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("failed to marshal metric snapshot", "server_id", server.ID, "error", err)
		}
		return
	}
	b.hub.Broadcast(payload)

	if b.history != nil {
		if err := b.history.AppendSnapshot(ctx, snapshot); err != nil {
			if b.logger != nil {
				b.logger.Warn("failed to persist metric snapshot", "server_id", server.ID, "error", err)
			}
		}
	}
}
