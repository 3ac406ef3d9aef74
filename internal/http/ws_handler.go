package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardenpanel/warden/internal/protocol"
	"github.com/wardenpanel/warden/internal/ws"
)

const (
	wsPingInterval         = 25 * time.Second
	wsReadTimeout          = 60 * time.Second
	commandDispatchTimeout = 10 * time.Second
)

// handleConsoleWS hosts one realtime session. The connection starts with no
// console subscriptions; metric and status frames flow immediately, console
// lines only after a subscribe frame for that server.
func (r *Router) handleConsoleWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := authInfoFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for console websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	sessionID := uuid.NewString()
	client := ws.NewClient(conn, r.logger)
	hub := r.console.Hub()
	hub.Attach(client)

	stop := make(chan struct{})
	go r.pingLoop(client, stop)

	go func() {
		defer func() {
			close(stop)
			hub.Detach(client)
			client.Close()
		}()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			r.handleSessionFrame(sessionID, client, data)
		}
	}()
}

func (r *Router) pingLoop(client *ws.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}

// handleSessionFrame processes one inbound frame from a session. Rejections
// are answered with an error frame, never by dropping the connection. The
// request context does not outlive the upgrade, so dispatch runs on its own
// deadline.
func (r *Router) handleSessionFrame(sessionID string, client *ws.Client, data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		r.sendErrorFrame(client, "malformed frame")
		return
	}
	r.recordInboundFrame(string(frame.Kind))
	hub := r.console.Hub()
	switch frame.Kind {
	case protocol.KindSubscribe:
		hub.Register(frame.ServerID, client)
	case protocol.KindUnsubscribe:
		hub.Unregister(frame.ServerID, client)
	case protocol.KindCommand:
		var payload protocol.CommandPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil || strings.TrimSpace(payload.Text) == "" {
			r.sendErrorFrame(client, "command text required")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandDispatchTimeout)
		defer cancel()
		if err := r.servers.DispatchCommand(ctx, sessionID, frame.ServerID, payload.Text); err != nil {
			r.logger.Warn("command rejected", "server_id", frame.ServerID, "error", err)
			r.sendErrorFrame(client, err.Error())
		}
	default:
		r.sendErrorFrame(client, "unexpected frame kind "+string(frame.Kind))
	}
}

func (r *Router) sendErrorFrame(client *ws.Client, message string) {
	payload, err := protocol.Encode(protocol.KindError, "", protocol.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	_ = client.Send(payload)
}
