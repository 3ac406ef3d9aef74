package domain

import "time"

// MetricSnapshot captures one sampling of a running server's live resource
// usage. Immutable once emitted; the most recent snapshot is the "live" view
// and the full series lands in the metric history store.
type MetricSnapshot struct {
	ServerID   ServerID  `json:"server_id"`
	At         time.Time `json:"at"`
	CPUPercent float64   `json:"cpu_percent"`
	RAMBytes   uint64    `json:"ram_bytes"`
	TPS        float64   `json:"tps"`
	Players    int       `json:"players"`
}

// CommandRecord is the audit row written for every command frame the panel
// accepts and forwards to a server's standard input.
type CommandRecord struct {
	ID        string    `json:"id"`
	ServerID  ServerID  `json:"server_id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	IssuedAt  time.Time `json:"issued_at"`
}
