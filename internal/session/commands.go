package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wardenpanel/warden/internal/domain"
	"github.com/wardenpanel/warden/internal/protocol"
)

// ErrEmptyCommand rejects blank operator input before any frame is sent.
var ErrEmptyCommand = errors.New("command text is empty")

const commandHistoryCap = 50

// SendCommand forwards an operator-typed line to a running server's standard
// input. Fire-and-forget: no application-level ack exists, success is
// inferred from subsequent console output. Validation failures are local and
// send nothing.
func (s *Session) SendCommand(id domain.ServerID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyCommand
	}
	s.mu.Lock()
	status := s.statuses[id]
	connected := s.connected
	transport := s.transport
	s.mu.Unlock()

	if status != domain.StatusRunning {
		return fmt.Errorf("server %s is %s, not running", id, orStopped(status))
	}
	if !connected || transport == nil {
		return ErrNotConnected
	}
	raw, err := json.Marshal(protocol.CommandPayload{Text: text})
	if err != nil {
		return fmt.Errorf("marshal command payload: %w", err)
	}
	frame := protocol.Frame{Kind: protocol.KindCommand, ServerID: id, Payload: raw}
	if err := transport.WriteFrame(frame); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	s.recordCommand(text)
	return nil
}

// History returns entered commands, most recent first, capped at 50. A
// client-side convenience only; not part of the transport contract.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) recordCommand(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]string{text}, s.history...)
	if len(s.history) > commandHistoryCap {
		s.history = s.history[:commandHistoryCap]
	}
}

func orStopped(status string) string {
	if status == "" {
		return domain.StatusStopped
	}
	return status
}
