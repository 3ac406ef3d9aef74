package domain

import (
	"strings"
	"time"
)

// Console line severities derived from text markers. Presentation only;
// storage and delivery ignore them.
const (
	SeverityPlain   = "plain"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// ConsoleLine is one line of a server's standard output as observed by the
// panel. Ordering within one ServerID follows emission order at the source.
type ConsoleLine struct {
	ServerID ServerID  `json:"server_id"`
	Text     string    `json:"text"`
	Severity string    `json:"severity"`
	At       time.Time `json:"at"`
}

var (
	errorMarkers   = []string{"error", "exception", "crash"}
	warningMarkers = []string{"warn"}
)

// ClassifySeverity tags a raw console line by case-insensitive substring
// match. "warn" also covers "warning".
func ClassifySeverity(text string) string {
	lowered := strings.ToLower(text)
	for _, marker := range errorMarkers {
		if strings.Contains(lowered, marker) {
			return SeverityError
		}
	}
	for _, marker := range warningMarkers {
		if strings.Contains(lowered, marker) {
			return SeverityWarning
		}
	}
	return SeverityPlain
}
