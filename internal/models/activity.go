package models

import "time"

// Activity log actions referenced by the fraud heuristics.
const (
	ActionLeadCreate    = "lead_create"
	ActionBalanceChange = "balance_change"
	ActionPayoutRequest = "payout_request"
)

// ActivityEntry is one append-only line in the user activity log. The IP
// burst heuristic counts these per (user, ip, action) over a trailing window.
type ActivityEntry struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Action    string    `json:"action" db:"action"`
	IP        string    `json:"ip" db:"ip"`
	Meta      Metadata  `json:"meta" db:"meta"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Notification is the payload handed to the delivery collaborator.
type Notification struct {
	ToUserID string   `json:"to_user_id"`
	Message  string   `json:"message"`
	Type     string   `json:"type"`
	Metadata Metadata `json:"metadata,omitempty"`
}
