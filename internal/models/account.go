package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind identifies a per-user balance bucket. Hold kinds carry funds
// earned but not yet released; main kinds carry funds eligible for payout.
type AccountKind string

const (
	AccountReferrerHold AccountKind = "referrer_hold"
	AccountReferrerMain AccountKind = "referrer_main"
	AccountOperatorHold AccountKind = "operator_hold"
	AccountOperatorMain AccountKind = "operator_main"
	AccountSellerMain   AccountKind = "seller_main"
	AccountMain         AccountKind = "main"
)

// Account is a per-(user, kind) balance row. At most one row exists per
// (user_id, kind); the amount is never negative after a committed mutation.
type Account struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Kind      AccountKind     `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Currency  string          `json:"currency" db:"currency"`
	Version   int             `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// RoleAccounts maps a role identifier to the hold/main pair that role owns.
// Roles without a hold bucket reuse the main kind for both slots.
type RoleAccounts struct {
	Hold AccountKind
	Main AccountKind
}

var roleAccountKinds = map[string]RoleAccounts{
	"referrer": {Hold: AccountReferrerHold, Main: AccountReferrerMain},
	"operator": {Hold: AccountOperatorHold, Main: AccountOperatorMain},
	"seller":   {Hold: AccountSellerMain, Main: AccountSellerMain},
	"user":     {Hold: AccountMain, Main: AccountMain},
}

// AccountKindsForRole resolves the account kinds owned by a role. Unknown
// roles fall back to the generic main bucket so new roles stay additive.
func AccountKindsForRole(role string) RoleAccounts {
	if kinds, ok := roleAccountKinds[role]; ok {
		return kinds
	}
	return roleAccountKinds["user"]
}

// ValidAccountKind reports whether the given kind is one of the known buckets.
func ValidAccountKind(kind AccountKind) bool {
	switch kind {
	case AccountReferrerHold, AccountReferrerMain, AccountOperatorHold,
		AccountOperatorMain, AccountSellerMain, AccountMain:
		return true
	}
	return false
}

// BalanceSummary is the dashboard view of a user's money: the grand total,
// the per-account breakdown and the most recent transactions.
type BalanceSummary struct {
	UserID       string          `json:"user_id"`
	Total        decimal.Decimal `json:"total"`
	Accounts     []Account       `json:"accounts"`
	Transactions []Transaction   `json:"recent_transactions"`
}
