package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies why a balance moved.
type TransactionKind string

const (
	TxLeadAccepted    TransactionKind = "lead_accepted"
	TxLeadSold        TransactionKind = "lead_sold"
	TxLeadCancelled   TransactionKind = "lead_cancelled"
	TxPayoutRequest   TransactionKind = "payout_request"
	TxPayoutApproved  TransactionKind = "payout_approved"
	TxPayoutRejected  TransactionKind = "payout_rejected"
	TxAdminAdjustment TransactionKind = "admin_adjustment"
	TxHoldAdd         TransactionKind = "hold_add"
	TxHoldRelease     TransactionKind = "hold_release"
	TxHoldRemove      TransactionKind = "hold_remove"
)

// Transaction is one immutable balance mutation. BalanceAfter always equals
// BalanceBefore plus Amount for credits and minus Amount for debits, and is
// never negative. Rows are the sole audit trail and the sole source for
// replay/idempotency checks.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	UserID        string          `json:"user_id" db:"user_id"`
	AccountKind   AccountKind     `json:"account_kind" db:"account_kind"`
	Kind          TransactionKind `json:"kind" db:"kind"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	IsCredit      bool            `json:"is_credit" db:"is_credit"`
	Note          string          `json:"note" db:"note"`
	Metadata      Metadata        `json:"metadata" db:"metadata"`
	LeadID        string          `json:"lead_id,omitempty" db:"lead_id"`
	PayoutID      string          `json:"payout_id,omitempty" db:"payout_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// TransactionFilter narrows the transaction listing for the query surface.
type TransactionFilter struct {
	Kind        TransactionKind
	AccountKind AccountKind
	Limit       int
	Offset      int
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
