package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/leadpay/backoffice/internal/config"
	"github.com/leadpay/backoffice/internal/models"
)

// FraudService runs the rule-based heuristics after financial postings and
// manages the resulting cases. Evaluations are best-effort: a failure here is
// logged and never rolls back the posting that triggered it.
type FraudService struct {
	db       *sql.DB
	activity *ActivityService
	notifier *NotifyService
	cfg      *config.FraudConfig
}

func NewFraudService(db *sql.DB, activity *ActivityService, notifier *NotifyService, cfg *config.FraudConfig) *FraudService {
	return &FraudService{
		db:       db,
		activity: activity,
		notifier: notifier,
		cfg:      cfg,
	}
}

// EvaluateCardReuse flags a payout whose card number already appears on
// other users' live payouts. While an equivalent case is unresolved the
// duplicate list and score are raised in place instead of opening a second
// case.
func (s *FraudService) EvaluateCardReuse(userID, transactionID, cardNumber string) (*models.FraudCheck, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT user_id FROM payouts
		WHERE card_number = $1 AND user_id <> $2 AND status IN ($3, $4, $5)`,
		cardNumber, userID, models.PayoutStatusPending,
		models.PayoutStatusApproved, models.PayoutStatusPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	duplicates := []string{}
	for rows.Next() {
		var dup string
		if err := rows.Scan(&dup); err != nil {
			return nil, err
		}
		duplicates = append(duplicates, dup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(duplicates) == 0 {
		return nil, nil
	}

	masked := models.MaskCardNumber(cardNumber)
	reason := "card_reuse:" + masked
	score := s.cfg.CardReuseBaseScore + 5*len(duplicates)
	meta := models.Metadata{
		"card_number": masked,
		"duplicates":  duplicates,
	}

	// Card reuse is deduplicated on the reason alone: the masked card embeds
	// the shared card, so any user's later payout raises the one live case.
	existing, err := s.findUnresolvedByReason(reason)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.raiseCheck(existing, score, meta)
	}

	return s.openCheck(userID, transactionID, reason, score, meta)
}

// EvaluateIPBurst flags a user whose lead-creation activity from one IP
// reaches the threshold within the trailing window.
func (s *FraudService) EvaluateIPBurst(userID, ip string) (*models.FraudCheck, error) {
	since := time.Now().Add(-s.cfg.IPBurstWindow)
	count, err := s.activity.CountByActionIPSince(userID, models.ActionLeadCreate, ip, since)
	if err != nil {
		return nil, err
	}
	if count < s.cfg.IPBurstThreshold {
		return nil, nil
	}

	reason := "ip_burst:" + ip
	score := s.cfg.IPBurstBaseScore + 2*(count-s.cfg.IPBurstThreshold)
	meta := models.Metadata{
		"ip":         ip,
		"lead_count": count,
		"window":     s.cfg.IPBurstWindow.String(),
	}

	existing, err := s.findUnresolved(userID, "", reason)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	return s.openCheck(userID, "", reason, score, meta)
}

// EvaluateCancelledAfterRelease flags a cancelled lead whose funds were
// already released to the main balance. Guards against the hold-to-main
// transfer and the cancellation event racing each other.
func (s *FraudService) EvaluateCancelledAfterRelease(userID, leadID string, mainKind models.AccountKind) (*models.FraudCheck, error) {
	var transactionID string
	err := s.db.QueryRow(`
		SELECT id FROM transactions
		WHERE user_id = $1 AND lead_id = $2 AND kind = $3 AND account_kind = $4 AND is_credit = TRUE
		LIMIT 1`, userID, leadID, models.TxLeadSold, mainKind).Scan(&transactionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	reason := "cancelled_after_release:" + leadID
	meta := models.Metadata{
		"lead_id":        leadID,
		"transaction_id": transactionID,
	}

	existing, err := s.findUnresolved(userID, transactionID, reason)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	return s.openCheck(userID, transactionID, reason, s.cfg.CardReuseBaseScore, meta)
}

// ResolveFraudCheck transitions a case. ResolvedAt is set only when moving
// into resolved or revoked.
func (s *FraudService) ResolveFraudCheck(id string, status models.FraudStatus, note, actorID string) error {
	switch status {
	case models.FraudStatusReviewing, models.FraudStatusResolved, models.FraudStatusRevoked:
	default:
		return fmt.Errorf("invalid fraud check status %q", status)
	}

	var resolvedAt any
	if status == models.FraudStatusResolved || status == models.FraudStatusRevoked {
		resolvedAt = time.Now()
	}

	result, err := s.db.Exec(`
		UPDATE fraud_checks
		SET status = $1, resolution_note = $2, resolved_at = $3
		WHERE id = $4`,
		status, note, resolvedAt, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return newLedgerError(ErrCaseNotFound, "fraud check %s not found", id)
	}

	if s.activity != nil {
		meta := models.Metadata{"check_id": id, "status": string(status)}
		if err := s.activity.Append(actorID, "fraud_check_resolve", "", meta); err != nil {
			log.Printf("[FRAUD] Activity log failed for check %s: %v", id, err)
		}
	}
	return nil
}

// GetFraudChecks lists cases, optionally filtered by status, newest first.
func (s *FraudService) GetFraudChecks(status models.FraudStatus) ([]models.FraudCheck, error) {
	query := `
		SELECT id, user_id, transaction_id, reason, status, score, metadata,
		       created_at, resolved_at, resolution_note
		FROM fraud_checks`
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	checks := []models.FraudCheck{}
	for rows.Next() {
		check, err := scanFraudCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, *check)
	}
	return checks, rows.Err()
}

// findUnresolved looks for a live case matching the transaction id first.
// A miss falls through to the (user, reason) pair, so a rule re-triggered by
// a fresh transaction still lands on the case it opened earlier.
func (s *FraudService) findUnresolved(userID, transactionID, reason string) (*models.FraudCheck, error) {
	if transactionID != "" {
		check, err := liveCheck(s.db.QueryRow(`
			SELECT id, user_id, transaction_id, reason, status, score, metadata,
			       created_at, resolved_at, resolution_note
			FROM fraud_checks
			WHERE transaction_id = $1 AND status IN ($2, $3)
			LIMIT 1`, transactionID, models.FraudStatusOpen, models.FraudStatusReviewing))
		if err != nil || check != nil {
			return check, err
		}
	}

	return liveCheck(s.db.QueryRow(`
		SELECT id, user_id, transaction_id, reason, status, score, metadata,
		       created_at, resolved_at, resolution_note
		FROM fraud_checks
		WHERE user_id = $1 AND reason = $2 AND status IN ($3, $4)
		LIMIT 1`, userID, reason, models.FraudStatusOpen, models.FraudStatusReviewing))
}

// findUnresolvedByReason matches a live case on the reason string regardless
// of owner.
func (s *FraudService) findUnresolvedByReason(reason string) (*models.FraudCheck, error) {
	return liveCheck(s.db.QueryRow(`
		SELECT id, user_id, transaction_id, reason, status, score, metadata,
		       created_at, resolved_at, resolution_note
		FROM fraud_checks
		WHERE reason = $1 AND status IN ($2, $3)
		ORDER BY created_at
		LIMIT 1`, reason, models.FraudStatusOpen, models.FraudStatusReviewing))
}

// liveCheck turns the no-rows miss into a nil case.
func liveCheck(row *sql.Row) (*models.FraudCheck, error) {
	check, err := scanFraudCheck(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return check, nil
}

func (s *FraudService) openCheck(userID, transactionID, reason string, score int, meta models.Metadata) (*models.FraudCheck, error) {
	check := &models.FraudCheck{
		ID:            uuid.New().String(),
		UserID:        userID,
		TransactionID: transactionID,
		Reason:        reason,
		Status:        models.FraudStatusOpen,
		Score:         score,
		Metadata:      meta,
		CreatedAt:     time.Now(),
	}

	_, err := s.db.Exec(`
		INSERT INTO fraud_checks (id, user_id, transaction_id, reason, status, score, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		check.ID, check.UserID, nullable(check.TransactionID), check.Reason,
		check.Status, check.Score, check.Metadata, check.CreatedAt)
	if err != nil {
		return nil, err
	}

	log.Printf("[FRAUD] Opened check %s for user %s: %s (score %d)", check.ID, userID, reason, score)
	if s.notifier != nil {
		s.notifier.RelayOperatorAlert(fmt.Sprintf("fraud check opened for user %s: %s", userID, reason))
	}
	return check, nil
}

// raiseCheck updates an unresolved case in place with a higher score and a
// fresh duplicate list.
func (s *FraudService) raiseCheck(check *models.FraudCheck, score int, meta models.Metadata) (*models.FraudCheck, error) {
	if score < check.Score {
		score = check.Score
	}
	_, err := s.db.Exec(`
		UPDATE fraud_checks SET score = $1, metadata = $2 WHERE id = $3`,
		score, meta, check.ID)
	if err != nil {
		return nil, err
	}
	check.Score = score
	check.Metadata = meta
	return check, nil
}

func scanFraudCheck(row rowScanner) (*models.FraudCheck, error) {
	var check models.FraudCheck
	var transactionID, note sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(&check.ID, &check.UserID, &transactionID, &check.Reason,
		&check.Status, &check.Score, &check.Metadata, &check.CreatedAt,
		&resolvedAt, &note)
	if err != nil {
		return nil, err
	}
	check.TransactionID = transactionID.String
	check.ResolutionNote = note.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		check.ResolvedAt = &t
	}
	return &check, nil
}
