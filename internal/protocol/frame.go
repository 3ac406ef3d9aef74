package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FrameKind discriminates stream payloads on the realtime channel.
type FrameKind string

const (
	KindConsoleLine FrameKind = "console-line"
	KindMetrics     FrameKind = "metrics"
	KindStatus      FrameKind = "status"
	KindCommand     FrameKind = "command"
	KindSubscribe   FrameKind = "subscribe"
	KindUnsubscribe FrameKind = "unsubscribe"
	KindError       FrameKind = "error"
)

// Frame is the transport-agnostic envelope for realtime payloads. ServerID is
// empty for frames that are not scoped to one server.
type Frame struct {
	Kind     FrameKind       `json:"kind"`
	ServerID string          `json:"server_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// StatusPayload carries a lifecycle transition.
type StatusPayload struct {
	Status string `json:"status"`
}

// CommandPayload carries an operator command destined for a server's stdin.
type CommandPayload struct {
	Text string `json:"text"`
}

// ErrorPayload surfaces a server-side rejection to the session.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode marshals a frame with the given payload value.
func Encode(kind FrameKind, serverID string, payload any) ([]byte, error) {
	frame := Frame{Kind: kind, ServerID: serverID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		frame.Payload = raw
	}
	return json.Marshal(frame)
}

// Decode parses a wire frame and validates its discriminant.
func Decode(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch frame.Kind {
	case KindConsoleLine, KindMetrics, KindStatus, KindCommand, KindSubscribe, KindUnsubscribe, KindError:
	case "":
		return Frame{}, fmt.Errorf("frame missing kind")
	default:
		return Frame{}, fmt.Errorf("unknown frame kind %q", frame.Kind)
	}
	if frame.Kind != KindError && strings.TrimSpace(frame.ServerID) == "" {
		return Frame{}, fmt.Errorf("%s frame missing server_id", frame.Kind)
	}
	return frame, nil
}
