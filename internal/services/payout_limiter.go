package services

import (
	"database/sql"
	"time"

	"github.com/leadpay/backoffice/internal/config"
	"github.com/leadpay/backoffice/internal/models"
	"github.com/shopspring/decimal"
)

// PayoutLimiter enforces the withdrawal policy before the ledger debits the
// main account: minimum amount, rolling daily/monthly ceilings over
// pending+approved+paid payouts, and a daily request-count cap. A zero
// threshold disables its check.
type PayoutLimiter struct {
	db  *sql.DB
	cfg *config.LimitsConfig
}

func NewPayoutLimiter(db *sql.DB, cfg *config.LimitsConfig) *PayoutLimiter {
	return &PayoutLimiter{db: db, cfg: cfg}
}

// CheckPayoutAllowed must run and pass before a payout debit is issued.
func (l *PayoutLimiter) CheckPayoutAllowed(userID string, amount decimal.Decimal) error {
	if l.cfg.PayoutMinimum.IsPositive() && amount.LessThan(l.cfg.PayoutMinimum) {
		return newLimitError(LimitBelowMinimum,
			"payout %s is below the minimum %s", amount, l.cfg.PayoutMinimum)
	}

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	if l.cfg.DailyLimit.IsPositive() || l.cfg.DailyRequestCap > 0 {
		daySum, dayCount, err := l.windowTotals(userID, dayStart)
		if err != nil {
			return err
		}
		if l.cfg.DailyLimit.IsPositive() && daySum.Add(amount).GreaterThan(l.cfg.DailyLimit) {
			return newLimitError(LimitDailyExceeded,
				"daily payouts %s plus %s exceed the limit %s", daySum, amount, l.cfg.DailyLimit)
		}
		if l.cfg.DailyRequestCap > 0 && dayCount+1 > l.cfg.DailyRequestCap {
			return newLimitError(LimitRequestRateExceeded,
				"daily payout request cap %d reached", l.cfg.DailyRequestCap)
		}
	}

	if l.cfg.MonthlyLimit.IsPositive() {
		monthSum, _, err := l.windowTotals(userID, monthStart)
		if err != nil {
			return err
		}
		if monthSum.Add(amount).GreaterThan(l.cfg.MonthlyLimit) {
			return newLimitError(LimitMonthlyExceeded,
				"monthly payouts %s plus %s exceed the limit %s", monthSum, amount, l.cfg.MonthlyLimit)
		}
	}

	return nil
}

// windowTotals sums and counts the user's payouts that still count against
// the ceilings (rejected ones do not) since the window start.
func (l *PayoutLimiter) windowTotals(userID string, since time.Time) (decimal.Decimal, int, error) {
	var sum decimal.Decimal
	var count int
	err := l.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM payouts
		WHERE user_id = $1 AND status IN ($2, $3, $4) AND created_at >= $5`,
		userID, models.PayoutStatusPending, models.PayoutStatusApproved,
		models.PayoutStatusPaid, since).Scan(&sum, &count)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return sum, count, nil
}
