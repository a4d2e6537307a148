package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leadpay/backoffice/internal/config"
	"github.com/leadpay/backoffice/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLifecycleForTest(t *testing.T) (*LifecycleService, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	activity := NewActivityService(db)
	ledger := NewLedgerService(db, nil, nil)
	limiter := NewPayoutLimiter(db, &config.LimitsConfig{
		PayoutMinimum:   decimal.NewFromInt(1000),
		DailyLimit:      decimal.NewFromInt(200000),
		MonthlyLimit:    decimal.NewFromInt(2000000),
		DailyRequestCap: 5,
	})
	fraud := NewFraudService(db, activity, nil, &config.FraudConfig{
		CardReuseBaseScore: 50,
		IPBurstBaseScore:   30,
		IPBurstThreshold:   15,
		IPBurstWindow:      6 * time.Hour,
	})
	return NewLifecycleService(db, ledger, limiter, fraud, activity, nil), mock
}

func leadEvent(amount int64) LeadEvent {
	return LeadEvent{
		LeadID: "lead-1",
		UserID: "user-1",
		Role:   "referrer",
		Amount: decimal.NewFromInt(amount),
	}
}

func expectExistsCheck(mock sqlmock.Sqlmock, exists bool) {
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func TestLifecycleService_LeadFlow(t *testing.T) {
	t.Run("approval credits the referrer hold account", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		expectExistsCheck(mock, false)
		mock.ExpectBegin()
		expectAccountLock(mock, "acc-hold", "user-1", models.AccountReferrerHold, "0", 1)
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(decimal.NewFromInt(50000), sqlmock.AnyArg(), "acc-hold", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := service.OnLeadApproved(leadEvent(50000), "admin-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed approval posts nothing", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		expectExistsCheck(mock, true)

		err := service.OnLeadApproved(leadEvent(50000), "admin-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancellation before release reverses the hold credit", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		expectExistsCheck(mock, false) // not released
		expectExistsCheck(mock, true)  // was accepted
		expectExistsCheck(mock, false) // not yet reversed
		mock.ExpectBegin()
		expectAccountLock(mock, "acc-hold", "user-1", models.AccountReferrerHold, "50000", 2)
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(decimal.NewFromInt(0), sqlmock.AnyArg(), "acc-hold", 2).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := service.OnLeadCancelled(leadEvent(50000), "admin-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancellation of a never-credited lead is a no-op", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		expectExistsCheck(mock, false) // not released
		expectExistsCheck(mock, false) // never accepted

		err := service.OnLeadCancelled(leadEvent(50000), "admin-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancellation after release opens a fraud case instead of reversing", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		expectExistsCheck(mock, true) // already released to main
		mock.ExpectQuery("SELECT id FROM transactions").
			WithArgs("user-1", "lead-1", models.TxLeadSold, models.AccountReferrerMain).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tx-9"))
		mock.ExpectQuery("FROM fraud_checks").
			WillReturnRows(fraudCheckRows()) // nothing pinned to the transaction
		mock.ExpectQuery("FROM fraud_checks").
			WillReturnRows(fraudCheckRows()) // no live (user, reason) case either
		mock.ExpectExec("INSERT INTO fraud_checks").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.OnLeadCancelled(leadEvent(50000), "admin-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delivery releases the hold into the main balance", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		mock.ExpectBegin()
		expectExistsCheck(mock, false)
		expectAccountLock(mock, "acc-hold", "user-1", models.AccountReferrerHold, "50000", 1)
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(1, 1))
		expectAccountLock(mock, "acc-main", "user-1", models.AccountReferrerMain, "0", 1)
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := service.OnOrderDelivered(leadEvent(50000), "admin-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("return claws released funds back from main", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		expectExistsCheck(mock, true)  // released
		expectExistsCheck(mock, false) // not yet clawed back
		mock.ExpectBegin()
		expectAccountLock(mock, "acc-main", "user-1", models.AccountReferrerMain, "50000", 3)
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(decimal.NewFromInt(0), sqlmock.AnyArg(), "acc-main", 3).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := service.OnOrderReturned(leadEvent(50000), "admin-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("return without a prior release is a no-op", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		expectExistsCheck(mock, false)

		err := service.OnOrderReturned(leadEvent(50000), "admin-1")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLifecycleService_RequestPayout(t *testing.T) {
	input := PayoutInput{
		UserID:     "user-1",
		Role:       "referrer",
		Amount:     decimal.NewFromInt(50000),
		CardNumber: "8600123412345678",
		CardHolder: "JOHN DOE",
	}

	t.Run("debits main and records the payout row", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		mock.ExpectQuery("FROM payouts"). // daily window
							WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow("0", 0))
		mock.ExpectQuery("FROM payouts"). // monthly window
							WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow("0", 0))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payouts").
			WithArgs(sqlmock.AnyArg(), "user-1", models.AccountReferrerMain,
				decimal.NewFromInt(50000), models.PayoutStatusPending,
				"8600123412345678", "JOHN DOE", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectAccountLock(mock, "acc-main", "user-1", models.AccountReferrerMain, "100000", 4)
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(decimal.NewFromInt(50000), sqlmock.AnyArg(), "acc-main", 4).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		mock.ExpectExec("INSERT INTO activity_log").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT DISTINCT user_id FROM payouts").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"})) // no card reuse

		payout, err := service.RequestPayout(input, "user-1")
		require.NoError(t, err)
		assert.Equal(t, models.PayoutStatusPending, payout.Status)
		assert.Equal(t, models.AccountReferrerMain, payout.AccountKind)
		assert.True(t, payout.Amount.Equal(decimal.NewFromInt(50000)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("daily ceiling blocks before any write", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		// 150000 already paid out today; 60000 more would cross 200000.
		mock.ExpectQuery("FROM payouts").
			WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow("150000", 2))

		in := input
		in.Amount = decimal.NewFromInt(60000)
		_, err := service.RequestPayout(in, "user-1")
		assert.True(t, IsKind(err, ErrPayoutLimitExceeded))
		assert.Equal(t, LimitDailyExceeded, LimitReason(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("below minimum rejected without touching the database", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		in := input
		in.Amount = decimal.NewFromInt(500)
		_, err := service.RequestPayout(in, "user-1")
		assert.True(t, IsKind(err, ErrPayoutLimitExceeded))
		assert.Equal(t, LimitBelowMinimum, LimitReason(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient main balance rolls the payout row back", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		mock.ExpectQuery("FROM payouts").
			WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow("0", 0))
		mock.ExpectQuery("FROM payouts").
			WillReturnRows(sqlmock.NewRows([]string{"sum", "count"}).AddRow("0", 0))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payouts").WillReturnResult(sqlmock.NewResult(1, 1))
		expectAccountLock(mock, "acc-main", "user-1", models.AccountReferrerMain, "10000", 1)
		mock.ExpectRollback()

		_, err := service.RequestPayout(input, "user-1")
		assert.True(t, IsKind(err, ErrInsufficientFunds))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLifecycleService_PayoutTransitions(t *testing.T) {
	payout := models.PayoutRequest{
		ID:          "payout-1",
		UserID:      "user-1",
		AccountKind: models.AccountReferrerMain,
		Amount:      decimal.NewFromInt(50000),
		Status:      models.PayoutStatusPending,
	}

	t.Run("approval transitions only pending rows", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		mock.ExpectExec("UPDATE payouts").
			WithArgs(models.PayoutStatusApproved, "payout-1", models.PayoutStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, service.HandlePayoutApproval(payout, "admin-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed approval matches no rows and stays silent", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		mock.ExpectExec("UPDATE payouts").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, service.HandlePayoutApproval(payout, "admin-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejection refunds the bucket the request debited", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		expectExistsCheck(mock, false) // not refunded yet
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE payouts").
			WithArgs(models.PayoutStatusRejected, "payout-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAccountLock(mock, "acc-main", "user-1", models.AccountReferrerMain, "0", 7)
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(decimal.NewFromInt(50000), sqlmock.AnyArg(), "acc-main", 7).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		assert.NoError(t, service.HandlePayoutRejection(payout, "admin-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed rejection refunds only once", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		expectExistsCheck(mock, true)

		assert.NoError(t, service.HandlePayoutRejection(payout, "admin-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejection losing the refund race succeeds without a second credit", func(t *testing.T) {
		// Both rejections pass the guard before either commits; the loser's
		// refund insert collides with the payout constraint.
		service, mock := newLifecycleForTest(t)

		expectExistsCheck(mock, false)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE payouts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAccountLock(mock, "acc-main", "user-1", models.AccountReferrerMain, "0", 7)
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		assert.NoError(t, service.HandlePayoutRejection(payout, "admin-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLifecycleService_AdminAdjustBalance(t *testing.T) {
	t.Run("requires a reason", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		_, err := service.AdminAdjustBalance("user-1", models.AccountMain,
			decimal.NewFromInt(100), true, "", "admin-1")
		assert.True(t, IsKind(err, ErrInvalidAmount))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("posts the adjustment with the reason as note", func(t *testing.T) {
		service, mock := newLifecycleForTest(t)

		mock.ExpectBegin()
		expectAccountLock(mock, "acc-1", "user-1", models.AccountMain, "0", 1)
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		txn, err := service.AdminAdjustBalance("user-1", models.AccountMain,
			decimal.NewFromInt(100), true, "support ticket 4821", "admin-1")
		require.NoError(t, err)
		assert.Equal(t, models.TxAdminAdjustment, txn.Kind)
		assert.Equal(t, "support ticket 4821", txn.Note)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLifecycleService_RecordLeadCreated(t *testing.T) {
	service, mock := newLifecycleForTest(t)

	mock.ExpectExec("INSERT INTO activity_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3)) // below threshold

	service.RecordLeadCreated("user-1", "10.0.0.1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
