package audit

import "time"

// Event captures one applied change for the audit trail. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	ChangeDate time.Time `json:"change_date"`
	ChangeType string    `json:"change_type"`
	// Summary is the human-readable narration of the change.
	Summary string   `json:"summary"`
	Units   []string `json:"units,omitempty"`
	Source  string   `json:"source,omitempty"`
}
