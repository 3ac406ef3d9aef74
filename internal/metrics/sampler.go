package metrics

import (
	"context"

	"github.com/wardenpanel/warden/internal/domain"
)

// Sampler pulls one live resource snapshot for a server. Implemented by the
// supervisor boundary client in production and by stubs in tests.
type Sampler interface {
	Sample(ctx context.Context, serverID domain.ServerID) (domain.MetricSnapshot, error)
}

// ramByteFloor is the crossover for RAM unit disambiguation. Collector
// backends disagree on units (bytes vs kilobytes depending on platform);
// readings below 2^22 are implausibly small to be a running game server's
// byte count, so they are taken as kilobytes. Readings at or above it are
// trusted as bytes. Known ambiguity: a genuine 4+ GiB kilobyte reading is
// indistinguishable from a byte reading and passes through unscaled.
const ramByteFloor = 1 << 22

// NormalizeRAM coerces a heterogeneous RAM reading to bytes.
func NormalizeRAM(value uint64) uint64 {
	if value < ramByteFloor {
		return value * 1024
	}
	return value
}
