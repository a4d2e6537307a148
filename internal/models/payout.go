package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus mirrors the lifecycle of a withdrawal request.
type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusApproved PayoutStatus = "approved"
	PayoutStatusRejected PayoutStatus = "rejected"
	PayoutStatusPaid     PayoutStatus = "paid"
)

// PayoutRequest is the withdrawal record the ledger debits/credits in
// lock-step with. The surrounding payout module owns its status transitions.
type PayoutRequest struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	AccountKind AccountKind     `json:"account_kind" db:"account_kind"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Status      PayoutStatus    `json:"status" db:"status"`
	CardNumber  string          `json:"card_number" db:"card_number"`
	CardHolder  string          `json:"card_holder" db:"card_holder"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// MaskCardNumber keeps the first four and last four digits visible. Anything
// shorter than nine characters is masked entirely.
func MaskCardNumber(card string) string {
	if len(card) < 9 {
		return "****"
	}
	return card[:4] + "****" + card[len(card)-4:]
}
