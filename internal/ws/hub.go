package ws

import "sync"

// Subscriber abstracts a streaming client connection.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans console-line frames out to the sessions subscribed to each server
// and broadcast frames (metrics, status) out to every attached session. A
// single run loop owns both maps so subscribe/unsubscribe from many sessions
// and delivery from many pumps never race.
type Hub struct {
	watchers map[string]map[Subscriber]struct{}
	sessions map[Subscriber]struct{}

	attach    chan Subscriber
	detach    chan Subscriber
	subscribe chan subscription
	unsub     chan subscription
	deliver   chan message
	announce  chan []byte
	stop      chan struct{}
	once      sync.Once
}

// message couples a payload with the server it belongs to.
type message struct {
	serverID string
	payload  []byte
}

// subscription is a register/unregister request for one server's console.
type subscription struct {
	serverID string
	client   Subscriber
}

// NewHub creates a running hub.
func NewHub() *Hub {
	h := &Hub{
		watchers:  make(map[string]map[Subscriber]struct{}),
		sessions:  make(map[Subscriber]struct{}),
		attach:    make(chan Subscriber),
		detach:    make(chan Subscriber),
		subscribe: make(chan subscription),
		unsub:     make(chan subscription),
		deliver:   make(chan message),
		announce:  make(chan []byte),
		stop:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.stop:
			return
		case client := <-h.attach:
			h.sessions[client] = struct{}{}
		case client := <-h.detach:
			delete(h.sessions, client)
			for serverID, watchers := range h.watchers {
				delete(watchers, client)
				if len(watchers) == 0 {
					delete(h.watchers, serverID)
				}
			}
		case sub := <-h.subscribe:
			if _, ok := h.watchers[sub.serverID]; !ok {
				h.watchers[sub.serverID] = make(map[Subscriber]struct{})
			}
			h.watchers[sub.serverID][sub.client] = struct{}{}
		case sub := <-h.unsub:
			if watchers, ok := h.watchers[sub.serverID]; ok {
				delete(watchers, sub.client)
				if len(watchers) == 0 {
					delete(h.watchers, sub.serverID)
				}
			}
		case msg := <-h.deliver:
			if watchers, ok := h.watchers[msg.serverID]; ok {
				for c := range watchers {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(watchers, c)
						delete(h.sessions, c)
					}
				}
				if len(watchers) == 0 {
					delete(h.watchers, msg.serverID)
				}
			}
		case payload := <-h.announce:
			for c := range h.sessions {
				if err := c.Send(payload); err != nil {
					c.Close()
					delete(h.sessions, c)
					for serverID, watchers := range h.watchers {
						delete(watchers, c)
						if len(watchers) == 0 {
							delete(h.watchers, serverID)
						}
					}
				}
			}
		}
	}
}

// Attach adds a session to the broadcast set. Metric and status frames reach
// every attached session regardless of console subscriptions.
func (h *Hub) Attach(client Subscriber) {
	select {
	case h.attach <- client:
	case <-h.stop:
	}
}

// Detach removes a session from the broadcast set and from every console it
// was watching.
func (h *Hub) Detach(client Subscriber) {
	select {
	case h.detach <- client:
	case <-h.stop:
	}
}

// Register adds a session to a server's console stream.
func (h *Hub) Register(serverID string, client Subscriber) {
	select {
	case h.subscribe <- subscription{serverID: serverID, client: client}:
	case <-h.stop:
	}
}

// Unregister removes a session from a server's console stream.
func (h *Hub) Unregister(serverID string, client Subscriber) {
	select {
	case h.unsub <- subscription{serverID: serverID, client: client}:
	case <-h.stop:
	}
}

// Deliver sends payload to the sessions subscribed to serverID.
func (h *Hub) Deliver(serverID string, payload []byte) {
	select {
	case h.deliver <- message{serverID: serverID, payload: payload}:
	case <-h.stop:
	}
}

// Broadcast sends payload to every attached session.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.announce <- payload:
	case <-h.stop:
	}
}

// Close stops the run loop. Pending operations are dropped.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.stop) })
}
