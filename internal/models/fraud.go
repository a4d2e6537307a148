package models

import "time"

// FraudStatus is the review state of a flagged anomaly.
type FraudStatus string

const (
	FraudStatusOpen      FraudStatus = "open"
	FraudStatusReviewing FraudStatus = "reviewing"
	FraudStatusResolved  FraudStatus = "resolved"
	FraudStatusRevoked   FraudStatus = "revoked"
)

// FraudCheck is a human-reviewable case opened by a heuristic rule. At most
// one unresolved case exists per (user_id, reason) or per transaction_id.
type FraudCheck struct {
	ID             string      `json:"id" db:"id"`
	UserID         string      `json:"user_id" db:"user_id"`
	TransactionID  string      `json:"transaction_id,omitempty" db:"transaction_id"`
	Reason         string      `json:"reason" db:"reason"`
	Status         FraudStatus `json:"status" db:"status"`
	Score          int         `json:"score" db:"score"`
	Metadata       Metadata    `json:"metadata" db:"metadata"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolutionNote string      `json:"resolution_note" db:"resolution_note"`
}

// Unresolved reports whether the case still blocks duplicate detections.
func (f FraudStatus) Unresolved() bool {
	return f == FraudStatusOpen || f == FraudStatusReviewing
}
