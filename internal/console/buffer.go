package console

import (
	"time"

	"github.com/wardenpanel/warden/internal/domain"
)

// DefaultCapacity bounds a console buffer when no explicit cap is configured.
const DefaultCapacity = 500

// Buffer holds a bounded, ordered run of console lines for one server.
// Appends evict the oldest line once the cap is reached, which is the
// backpressure valve for slow consumers. Not safe for concurrent use; the
// owning Registry serializes access.
type Buffer struct {
	lines []domain.ConsoleLine
	head  int
	size  int
}

// NewBuffer returns a buffer capped at capacity lines.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{lines: make([]domain.ConsoleLine, capacity)}
}

// Append adds a line, classifying its severity from the text. Evicts the
// oldest line when full.
func (b *Buffer) Append(serverID domain.ServerID, text string, at time.Time) domain.ConsoleLine {
	line := domain.ConsoleLine{
		ServerID: serverID,
		Text:     text,
		Severity: domain.ClassifySeverity(text),
		At:       at,
	}
	if b.size == len(b.lines) {
		b.lines[b.head] = line
		b.head = (b.head + 1) % len(b.lines)
		return line
	}
	b.lines[(b.head+b.size)%len(b.lines)] = line
	b.size++
	return line
}

// ReadAll returns a snapshot of the buffer in insertion order.
func (b *Buffer) ReadAll() []domain.ConsoleLine {
	out := make([]domain.ConsoleLine, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.lines[(b.head+i)%len(b.lines)]
	}
	return out
}

// Len reports the number of retained lines.
func (b *Buffer) Len() int {
	return b.size
}

// Clear empties the buffer without affecting capacity.
func (b *Buffer) Clear() {
	b.head = 0
	b.size = 0
}
