// Package audit captures the append-only trail of identity and anchoring
// actions. Events are persisted first and shipped to Kafka by a background
// worker, so a broker outage never loses or blocks a domain operation.
package audit

import "time"

// Action names follow "<subject>.<verb>".
const (
	ActionIdentityRegistered = "identity.registered"
	ActionIdentityReviewed   = "identity.reviewed"
	ActionBiometricCommitted = "biometric.committed"
	ActionRecordAdded        = "record.added"
	ActionAnchorSubmitted    = "anchor.submitted"
	ActionAnchorConfirmed    = "anchor.confirmed"
	ActionAnchorExpired      = "anchor.expired"
	ActionAnchorCorrected    = "anchor.corrected"
	ActionIntegrityAlarm     = "anchor.integrity_alarm"
	ActionRecordsAnchored    = "records.anchored"
	ActionUserRegistered     = "user.registered"
	ActionUserLoggedIn       = "user.logged_in"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	IdentityID string    `json:"identity_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Action     string    `json:"action"`
	Detail     string    `json:"detail,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
}
