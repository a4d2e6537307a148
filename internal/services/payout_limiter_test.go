package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leadpay/backoffice/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiterForTest(t *testing.T, cfg config.LimitsConfig) (*PayoutLimiter, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPayoutLimiter(db, &cfg), mock
}

func defaultLimits() config.LimitsConfig {
	return config.LimitsConfig{
		PayoutMinimum:   decimal.NewFromInt(1000),
		DailyLimit:      decimal.NewFromInt(200000),
		MonthlyLimit:    decimal.NewFromInt(2000000),
		DailyRequestCap: 5,
	}
}

func windowRow(sum string, count int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"sum", "count"}).AddRow(sum, count)
}

func TestPayoutLimiter_CheckPayoutAllowed(t *testing.T) {
	t.Run("amount under the minimum", func(t *testing.T) {
		limiter, mock := newLimiterForTest(t, defaultLimits())

		err := limiter.CheckPayoutAllowed("user-1", decimal.NewFromInt(999))
		assert.Equal(t, LimitBelowMinimum, LimitReason(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("amount at the minimum passes that check", func(t *testing.T) {
		limiter, mock := newLimiterForTest(t, defaultLimits())

		mock.ExpectQuery("FROM payouts").WillReturnRows(windowRow("0", 0))
		mock.ExpectQuery("FROM payouts").WillReturnRows(windowRow("0", 0))

		err := limiter.CheckPayoutAllowed("user-1", decimal.NewFromInt(1000))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("request crossing the daily ceiling", func(t *testing.T) {
		limiter, mock := newLimiterForTest(t, defaultLimits())

		mock.ExpectQuery("FROM payouts").WillReturnRows(windowRow("150000", 2))

		err := limiter.CheckPayoutAllowed("user-1", decimal.NewFromInt(60000))
		assert.Equal(t, LimitDailyExceeded, LimitReason(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("request landing exactly on the daily ceiling passes", func(t *testing.T) {
		limiter, mock := newLimiterForTest(t, defaultLimits())

		mock.ExpectQuery("FROM payouts").WillReturnRows(windowRow("150000", 2))
		mock.ExpectQuery("FROM payouts").WillReturnRows(windowRow("150000", 2))

		err := limiter.CheckPayoutAllowed("user-1", decimal.NewFromInt(50000))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("daily request cap reached", func(t *testing.T) {
		limiter, mock := newLimiterForTest(t, defaultLimits())

		mock.ExpectQuery("FROM payouts").WillReturnRows(windowRow("10000", 5))

		err := limiter.CheckPayoutAllowed("user-1", decimal.NewFromInt(5000))
		assert.Equal(t, LimitRequestRateExceeded, LimitReason(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("request crossing the monthly ceiling", func(t *testing.T) {
		limiter, mock := newLimiterForTest(t, defaultLimits())

		mock.ExpectQuery("FROM payouts").WillReturnRows(windowRow("0", 0))
		mock.ExpectQuery("FROM payouts").WillReturnRows(windowRow("1990000", 40))

		err := limiter.CheckPayoutAllowed("user-1", decimal.NewFromInt(20000))
		assert.Equal(t, LimitMonthlyExceeded, LimitReason(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero thresholds disable every check", func(t *testing.T) {
		limiter, mock := newLimiterForTest(t, config.LimitsConfig{})

		err := limiter.CheckPayoutAllowed("user-1", decimal.NewFromInt(1))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
