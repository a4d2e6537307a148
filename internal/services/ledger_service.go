package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/leadpay/backoffice/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const defaultCurrency = "UZS"

// uniqueViolation is the Postgres error code raised by the natural-key
// constraint on transactions; the ledger treats it as "already applied".
const uniqueViolation = "23505"

// LedgerService applies postings and transfers to user accounts. Every
// mutation runs inside one database transaction with the account row locked
// FOR UPDATE, so concurrent postings never act on a stale balance.
type LedgerService struct {
	db       *sql.DB
	activity *ActivityService
	notifier *NotifyService
}

func NewLedgerService(db *sql.DB, activity *ActivityService, notifier *NotifyService) *LedgerService {
	return &LedgerService{
		db:       db,
		activity: activity,
		notifier: notifier,
	}
}

// PostingInput describes one credit or debit against a single account.
type PostingInput struct {
	UserID      string
	AccountKind models.AccountKind
	Amount      decimal.Decimal
	Kind        models.TransactionKind
	IsCredit    bool
	Note        string
	Metadata    models.Metadata
	LeadID      string
	PayoutID    string
	ActorID     string
	Currency    string
}

func (in *PostingInput) validate() error {
	if in.UserID == "" {
		return newLedgerError(ErrUserNotFound, "posting requires a user id")
	}
	if !models.ValidAccountKind(in.AccountKind) {
		return newLedgerError(ErrAccountNotFound, "unknown account kind %q", in.AccountKind)
	}
	if !in.Amount.IsPositive() {
		return newLedgerError(ErrInvalidAmount, "amount must be positive, got %s", in.Amount)
	}
	if in.Currency == "" {
		in.Currency = defaultCurrency
	}
	return nil
}

// ApplyPosting validates the input, applies the mutation atomically and fires
// the best-effort side effects after commit. A unique violation on the
// transaction natural key means the same business event was already posted;
// the existing row is returned instead of an error.
func (s *LedgerService) ApplyPosting(in PostingInput) (*models.Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		log.Printf("[LEDGER] Failed to begin transaction: %v", err)
		return nil, err
	}
	defer dbTx.Rollback()

	txn, err := s.ApplyPostingTx(dbTx, in)
	if err != nil {
		if isUniqueViolation(err) {
			dbTx.Rollback()
			log.Printf("[LEDGER] Replay detected for user %s lead %s kind %s", in.UserID, in.LeadID, in.Kind)
			return s.findPostedTransaction(in)
		}
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		log.Printf("[LEDGER] Failed to commit posting: %v", err)
		return nil, err
	}

	s.afterCommit(&in, txn)
	return txn, nil
}

// ApplyPostingTx applies a posting inside a caller-owned database
// transaction. The caller commits or rolls back; no side effects fire here.
func (s *LedgerService) ApplyPostingTx(dbTx *sql.Tx, in PostingInput) (*models.Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	account, err := s.lockAccountTx(dbTx, in.UserID, in.AccountKind, in.Currency)
	if err != nil {
		return nil, err
	}

	before := account.Amount
	var after decimal.Decimal
	if in.IsCredit {
		after = before.Add(in.Amount)
	} else {
		after = before.Sub(in.Amount)
		if after.IsNegative() {
			return nil, newLedgerError(ErrInsufficientFunds,
				"debit of %s exceeds balance %s on %s", in.Amount, before, in.AccountKind)
		}
	}

	txn := &models.Transaction{
		ID:            uuid.New().String(),
		AccountID:     account.ID,
		UserID:        in.UserID,
		AccountKind:   in.AccountKind,
		Kind:          in.Kind,
		Amount:        in.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		IsCredit:      in.IsCredit,
		Note:          in.Note,
		Metadata:      in.Metadata,
		LeadID:        in.LeadID,
		PayoutID:      in.PayoutID,
		CreatedAt:     time.Now(),
	}

	if err := s.insertTransaction(dbTx, txn); err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(dbTx, account.ID, after, account.Version); err != nil {
		return nil, err
	}

	return txn, nil
}

// TransferHoldToMain moves funds earned on a lead from the hold bucket into
// the payable main bucket as an atomic pair of postings. If a lead_sold
// credit already exists for (user, lead, mainKind) the whole transfer is a
// no-op, which makes delivery events safe to replay.
func (s *LedgerService) TransferHoldToMain(userID string, amount decimal.Decimal, leadID string, holdKind, mainKind models.AccountKind, actorID string) error {
	if !amount.IsPositive() {
		return newLedgerError(ErrInvalidAmount, "transfer amount must be positive, got %s", amount)
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		log.Printf("[LEDGER] Failed to begin transfer: %v", err)
		return err
	}
	defer dbTx.Rollback()

	exists, err := s.hasLeadTransaction(dbTx, userID, leadID, models.TxLeadSold, mainKind, true)
	if err != nil {
		return err
	}
	if exists {
		log.Printf("[LEDGER] Transfer already applied for user %s lead %s, skipping", userID, leadID)
		return nil
	}

	note := fmt.Sprintf("lead %s sold, hold released", leadID)
	if _, err := s.ApplyPostingTx(dbTx, PostingInput{
		UserID:      userID,
		AccountKind: holdKind,
		Amount:      amount,
		Kind:        models.TxLeadSold,
		IsCredit:    false,
		Note:        note,
		LeadID:      leadID,
		ActorID:     actorID,
	}); err != nil {
		return s.transferLegError(dbTx, userID, leadID, err)
	}

	if _, err := s.ApplyPostingTx(dbTx, PostingInput{
		UserID:      userID,
		AccountKind: mainKind,
		Amount:      amount,
		Kind:        models.TxLeadSold,
		IsCredit:    true,
		Note:        note,
		LeadID:      leadID,
		ActorID:     actorID,
	}); err != nil {
		return s.transferLegError(dbTx, userID, leadID, err)
	}

	if err := dbTx.Commit(); err != nil {
		log.Printf("[LEDGER] Failed to commit transfer: %v", err)
		return err
	}

	if s.notifier != nil {
		s.notifier.PublishBalanceChanged(userID)
	}
	return nil
}

// transferLegError maps a replay-index collision on either transfer leg to a
// no-op success. Two replays of the same delivery event can pass the existence
// check together; the loser's insert hits the constraint instead.
func (s *LedgerService) transferLegError(dbTx *sql.Tx, userID, leadID string, err error) error {
	if isUniqueViolation(err) {
		dbTx.Rollback()
		log.Printf("[LEDGER] Transfer replay detected for user %s lead %s, skipping", userID, leadID)
		return nil
	}
	return err
}

// EnsureAccount lazily provisions the (user, kind) balance row and returns
// it. Safe to call repeatedly.
func (s *LedgerService) EnsureAccount(userID string, kind models.AccountKind) (*models.Account, error) {
	if !models.ValidAccountKind(kind) {
		return nil, newLedgerError(ErrAccountNotFound, "unknown account kind %q", kind)
	}

	_, err := s.db.Exec(`
		INSERT INTO accounts (id, user_id, kind, amount, currency, version, updated_at)
		VALUES ($1, $2, $3, 0, $4, 1, $5)
		ON CONFLICT (user_id, kind) DO NOTHING`,
		uuid.New().String(), userID, kind, defaultCurrency, time.Now())
	if err != nil {
		return nil, err
	}

	var account models.Account
	err = s.db.QueryRow(`
		SELECT id, user_id, kind, amount, currency, version, updated_at
		FROM accounts
		WHERE user_id = $1 AND kind = $2`, userID, kind).
		Scan(&account.ID, &account.UserID, &account.Kind, &account.Amount,
			&account.Currency, &account.Version, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// HasLeadPosting is the existence guard lifecycle handlers run before
// posting for a business event.
func (s *LedgerService) HasLeadPosting(userID, leadID string, kind models.TransactionKind, accountKind models.AccountKind) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`
        SELECT EXISTS(
            SELECT 1 FROM transactions
            WHERE user_id = $1 AND lead_id = $2 AND kind = $3 AND account_kind = $4
        )`, userID, leadID, kind, accountKind).Scan(&exists)
	return exists, err
}

// HasPayoutPosting reports whether a posting of the given kind was already
// written for the payout.
func (s *LedgerService) HasPayoutPosting(userID, payoutID string, kind models.TransactionKind) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`
        SELECT EXISTS(
            SELECT 1 FROM transactions
            WHERE user_id = $1 AND payout_id = $2 AND kind = $3
        )`, userID, payoutID, kind).Scan(&exists)
	return exists, err
}

// GetUserBalances returns the total, the per-account breakdown and the most
// recent transactions for the dashboard.
func (s *LedgerService) GetUserBalances(userID string, recentLimit int) (*models.BalanceSummary, error) {
	if recentLimit <= 0 {
		recentLimit = 10
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, kind, amount, currency, version, updated_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY kind`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &models.BalanceSummary{UserID: userID, Total: decimal.Zero, Accounts: []models.Account{}}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Kind, &a.Amount, &a.Currency, &a.Version, &a.UpdatedAt); err != nil {
			return nil, err
		}
		summary.Total = summary.Total.Add(a.Amount)
		summary.Accounts = append(summary.Accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summary.Transactions, err = s.GetUserTransactions(userID, models.TransactionFilter{Limit: recentLimit})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// GetUserTransactions lists a user's transactions newest-first with optional
// kind/account filters and pagination.
func (s *LedgerService) GetUserTransactions(userID string, filter models.TransactionFilter) ([]models.Transaction, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	} else if filter.Limit > 100 {
		filter.Limit = 100
	}

	query := `
		SELECT id, account_id, user_id, account_kind, kind, amount, balance_before,
		       balance_after, is_credit, note, metadata, lead_id, payout_id, created_at
		FROM transactions
		WHERE user_id = $1`
	args := []any{userID}
	argIndex := 2

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIndex)
		args = append(args, filter.Kind)
		argIndex++
	}
	if filter.AccountKind != "" {
		query += fmt.Sprintf(" AND account_kind = $%d", argIndex)
		args = append(args, filter.AccountKind)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}

// Internal helpers

// lockAccountTx provisions the account row if missing and locks it for the
// remainder of the database transaction.
func (s *LedgerService) lockAccountTx(dbTx *sql.Tx, userID string, kind models.AccountKind, currency string) (*models.Account, error) {
	_, err := dbTx.Exec(`
		INSERT INTO accounts (id, user_id, kind, amount, currency, version, updated_at)
		VALUES ($1, $2, $3, 0, $4, 1, $5)
		ON CONFLICT (user_id, kind) DO NOTHING`,
		uuid.New().String(), userID, kind, currency, time.Now())
	if err != nil {
		return nil, err
	}

	var account models.Account
	err = dbTx.QueryRow(`
		SELECT id, user_id, kind, amount, currency, version, updated_at
		FROM accounts
		WHERE user_id = $1 AND kind = $2
		FOR UPDATE`, userID, kind).
		Scan(&account.ID, &account.UserID, &account.Kind, &account.Amount,
			&account.Currency, &account.Version, &account.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, newLedgerError(ErrAccountNotFound, "account %s/%s not found", userID, kind)
		}
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) insertTransaction(dbTx *sql.Tx, txn *models.Transaction) error {
	_, err := dbTx.Exec(`
		INSERT INTO transactions
		(id, account_id, user_id, account_kind, kind, amount, balance_before, balance_after,
		 is_credit, note, metadata, lead_id, payout_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		txn.ID, txn.AccountID, txn.UserID, txn.AccountKind, txn.Kind, txn.Amount,
		txn.BalanceBefore, txn.BalanceAfter, txn.IsCredit, txn.Note, txn.Metadata,
		nullable(txn.LeadID), nullable(txn.PayoutID), txn.CreatedAt)
	return err
}

func (s *LedgerService) updateAccountBalance(dbTx *sql.Tx, accountID string, newAmount decimal.Decimal, version int) error {
	result, err := dbTx.Exec(`
		UPDATE accounts
		SET amount = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newAmount, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}
	return nil
}

func (s *LedgerService) hasLeadTransaction(dbTx *sql.Tx, userID, leadID string, kind models.TransactionKind, accountKind models.AccountKind, isCredit bool) (bool, error) {
	var exists bool
	err := dbTx.QueryRow(`
        SELECT EXISTS(
            SELECT 1 FROM transactions
            WHERE user_id = $1 AND lead_id = $2 AND kind = $3 AND account_kind = $4 AND is_credit = $5
        )`, userID, leadID, kind, accountKind, isCredit).Scan(&exists)
	return exists, err
}

// findPostedTransaction fetches the row a replayed posting collided with.
func (s *LedgerService) findPostedTransaction(in PostingInput) (*models.Transaction, error) {
	row := s.db.QueryRow(`
		SELECT id, account_id, user_id, account_kind, kind, amount, balance_before,
		       balance_after, is_credit, note, metadata, lead_id, payout_id, created_at
		FROM transactions
		WHERE user_id = $1 AND lead_id = $2 AND kind = $3 AND account_kind = $4 AND is_credit = $5`,
		in.UserID, in.LeadID, in.Kind, in.AccountKind, in.IsCredit)
	return scanTransaction(row)
}

func (s *LedgerService) afterCommit(in *PostingInput, txn *models.Transaction) {
	if s.activity != nil {
		meta := models.Metadata{
			"transaction_id": txn.ID,
			"kind":           string(txn.Kind),
			"amount":         txn.Amount.String(),
		}
		if err := s.activity.Append(in.UserID, models.ActionBalanceChange, "", meta); err != nil {
			log.Printf("[LEDGER] Activity log failed for transaction %s: %v", txn.ID, err)
		}
	}

	if s.notifier == nil {
		return
	}
	if in.ActorID != "" && in.ActorID != in.UserID {
		direction := "debited"
		if in.IsCredit {
			direction = "credited"
		}
		go s.notifier.NotifyUser(models.Notification{
			ToUserID: in.UserID,
			Message:  fmt.Sprintf("Your %s balance was %s by %s", in.AccountKind, direction, in.Amount),
			Type:     "balance_change",
			Metadata: models.Metadata{"transaction_id": txn.ID},
		})
	}
	s.notifier.PublishBalanceChanged(in.UserID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var txn models.Transaction
	var leadID, payoutID sql.NullString
	err := row.Scan(&txn.ID, &txn.AccountID, &txn.UserID, &txn.AccountKind, &txn.Kind,
		&txn.Amount, &txn.BalanceBefore, &txn.BalanceAfter, &txn.IsCredit, &txn.Note,
		&txn.Metadata, &leadID, &payoutID, &txn.CreatedAt)
	if err != nil {
		return nil, err
	}
	txn.LeadID = leadID.String
	txn.PayoutID = payoutID.String
	return &txn, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
