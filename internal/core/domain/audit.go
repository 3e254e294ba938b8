package domain

import "time"

// Review is a reviewer's verdict on one stored record.
type Review struct {
	ID          string            `json:"id"`
	RecordID    string            `json:"record_id"`
	Reviewer    string            `json:"reviewer"`
	Confirmed   bool              `json:"confirmed"`
	Corrections map[string]string `json:"corrections,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

type AuditReason string

const (
	ReasonCorrected AuditReason = "corrected"
	ReasonConfirmed AuditReason = "confirmed"
)

// AuditFlag describes one change made by an audit run. It is reported, never stored.
type AuditFlag struct {
	RecordID   string      `json:"record_id"`
	Field      string      `json:"field,omitempty"`
	Reason     AuditReason `json:"reason"`
	Reviewer   string      `json:"reviewer"`
	Previous   *Value      `json:"previous,omitempty"`
	Resolution *Value      `json:"resolution,omitempty"`
}

// AuditPatch is the only mutation an audit may apply to a stored record.
type AuditPatch struct {
	Fields     []RecordField
	Flagged    []string
	AuditState AuditState
	AuditedAt  time.Time
}

type AuditReport struct {
	AsOf       time.Time   `json:"as_of"`
	Window     TimeRange   `json:"-"`
	Candidates int         `json:"candidates"`
	Reviewed   int         `json:"reviewed"`
	Corrected  int         `json:"corrected"`
	Confirmed  int         `json:"confirmed"`
	Pending    int         `json:"pending"`
	Skipped    int         `json:"skipped"`
	Flags      []AuditFlag `json:"flags"`
}
