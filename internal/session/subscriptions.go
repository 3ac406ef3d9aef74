package session

import (
	"github.com/wardenpanel/warden/internal/domain"
	"github.com/wardenpanel/warden/internal/protocol"
)

// Subscribe registers interest in a server's console. Idempotent: a second
// call while already subscribed is a no-op. While disconnected the intent is
// latent and replayed on the next successful connect.
func (s *Session) Subscribe(id domain.ServerID) {
	s.mu.Lock()
	if _, ok := s.subs[id]; ok {
		s.mu.Unlock()
		return
	}
	s.subs[id] = struct{}{}
	s.mu.Unlock()
	s.writeFrame(protocol.Frame{Kind: protocol.KindSubscribe, ServerID: id})
}

// Unsubscribe removes interest in a server's console. Idempotent; always
// clears local intent regardless of connection state, and discards the local
// buffer so a later resubscribe starts empty. Console history is never
// replayed.
func (s *Session) Unsubscribe(id domain.ServerID) {
	s.mu.Lock()
	if _, ok := s.subs[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, id)
	s.mu.Unlock()
	s.registry.Drop(id)
	s.writeFrame(protocol.Frame{Kind: protocol.KindUnsubscribe, ServerID: id})
}

// SwitchConsole moves the viewed console from one server to another. The two
// operations are not atomic; a brief dual subscription is harmless since
// lines for the old console are discarded once it is unsubscribed.
func (s *Session) SwitchConsole(from, to domain.ServerID) {
	if from == to {
		return
	}
	if from != "" {
		s.Unsubscribe(from)
	}
	if to != "" {
		s.Subscribe(to)
	}
}

// Subscriptions returns the current subscription intent set.
func (s *Session) Subscriptions() []domain.ServerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.ServerID, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	return ids
}

// Subscribed reports whether the session currently wants a server's console.
func (s *Session) Subscribed(id domain.ServerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[id]
	return ok
}
