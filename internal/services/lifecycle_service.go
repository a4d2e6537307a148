package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/leadpay/backoffice/internal/models"
	"github.com/shopspring/decimal"
)

// LeadEvent carries the fields the lead/order CRUD modules hand over when a
// lifecycle event fires: which lead, whose money, how much, and which role
// decides the account buckets.
type LeadEvent struct {
	LeadID string          `json:"lead_id" validate:"required"`
	UserID string          `json:"user_id" validate:"required"`
	Role   string          `json:"role" validate:"required"`
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// PayoutInput is the inbound payout request trigger.
type PayoutInput struct {
	UserID     string          `json:"user_id" validate:"required"`
	Role       string          `json:"role" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"required"`
	CardNumber string          `json:"card_number" validate:"required,min=9,max=19"`
	CardHolder string          `json:"card_holder" validate:"required,max=100"`
}

// LifecycleService orchestrates the ledger reaction to business events. Each
// posting is guarded by an existence check against the transaction log for
// the (user, lead, kind, accountKind) tuple, so replaying an event never
// double-posts.
type LifecycleService struct {
	db       *sql.DB
	ledger   *LedgerService
	limiter  *PayoutLimiter
	fraud    *FraudService
	activity *ActivityService
	notifier *NotifyService
}

func NewLifecycleService(db *sql.DB, ledger *LedgerService, limiter *PayoutLimiter, fraud *FraudService, activity *ActivityService, notifier *NotifyService) *LifecycleService {
	return &LifecycleService{
		db:       db,
		ledger:   ledger,
		limiter:  limiter,
		fraud:    fraud,
		activity: activity,
		notifier: notifier,
	}
}

// OnLeadApproved credits the role's hold account with the lead payout.
func (s *LifecycleService) OnLeadApproved(ev LeadEvent, actorID string) error {
	kinds := models.AccountKindsForRole(ev.Role)

	exists, err := s.ledger.HasLeadPosting(ev.UserID, ev.LeadID, models.TxLeadAccepted, kinds.Hold)
	if err != nil {
		return err
	}
	if exists {
		log.Printf("[LIFECYCLE] Lead %s already credited to hold, skipping", ev.LeadID)
		return nil
	}

	_, err = s.ledger.ApplyPosting(PostingInput{
		UserID:      ev.UserID,
		AccountKind: kinds.Hold,
		Amount:      ev.Amount,
		Kind:        models.TxLeadAccepted,
		IsCredit:    true,
		Note:        fmt.Sprintf("lead %s approved", ev.LeadID),
		LeadID:      ev.LeadID,
		ActorID:     actorID,
	})
	return err
}

// OnLeadCancelled reverses the hold credit. If the funds were already
// released to the main balance there is nothing safe to reverse; the
// post-cancellation anomaly rule opens a case instead.
func (s *LifecycleService) OnLeadCancelled(ev LeadEvent, actorID string) error {
	kinds := models.AccountKindsForRole(ev.Role)

	released, err := s.ledger.HasLeadPosting(ev.UserID, ev.LeadID, models.TxLeadSold, kinds.Main)
	if err != nil {
		return err
	}
	if released {
		if _, ferr := s.fraud.EvaluateCancelledAfterRelease(ev.UserID, ev.LeadID, kinds.Main); ferr != nil {
			log.Printf("[LIFECYCLE] Post-cancellation check failed for lead %s: %v", ev.LeadID, ferr)
		}
		return nil
	}

	accepted, err := s.ledger.HasLeadPosting(ev.UserID, ev.LeadID, models.TxLeadAccepted, kinds.Hold)
	if err != nil {
		return err
	}
	if !accepted {
		log.Printf("[LIFECYCLE] Lead %s was never credited, nothing to reverse", ev.LeadID)
		return nil
	}

	reversed, err := s.ledger.HasLeadPosting(ev.UserID, ev.LeadID, models.TxLeadCancelled, kinds.Hold)
	if err != nil {
		return err
	}
	if reversed {
		log.Printf("[LIFECYCLE] Lead %s already reversed, skipping", ev.LeadID)
		return nil
	}

	_, err = s.ledger.ApplyPosting(PostingInput{
		UserID:      ev.UserID,
		AccountKind: kinds.Hold,
		Amount:      ev.Amount,
		Kind:        models.TxLeadCancelled,
		IsCredit:    false,
		Note:        fmt.Sprintf("lead %s cancelled", ev.LeadID),
		LeadID:      ev.LeadID,
		ActorID:     actorID,
	})
	return err
}

// OnOrderDelivered releases the lead's hold into the payable main balance as
// one atomic two-leg transfer.
func (s *LifecycleService) OnOrderDelivered(ev LeadEvent, actorID string) error {
	kinds := models.AccountKindsForRole(ev.Role)
	return s.ledger.TransferHoldToMain(ev.UserID, ev.Amount, ev.LeadID, kinds.Hold, kinds.Main, actorID)
}

// OnOrderReturned claws released funds back out of the main balance.
func (s *LifecycleService) OnOrderReturned(ev LeadEvent, actorID string) error {
	kinds := models.AccountKindsForRole(ev.Role)

	released, err := s.ledger.HasLeadPosting(ev.UserID, ev.LeadID, models.TxLeadSold, kinds.Main)
	if err != nil {
		return err
	}
	if !released {
		log.Printf("[LIFECYCLE] Lead %s was never released, nothing to claw back", ev.LeadID)
		return nil
	}

	reversed, err := s.ledger.HasLeadPosting(ev.UserID, ev.LeadID, models.TxLeadCancelled, kinds.Main)
	if err != nil {
		return err
	}
	if reversed {
		log.Printf("[LIFECYCLE] Lead %s return already applied, skipping", ev.LeadID)
		return nil
	}

	_, err = s.ledger.ApplyPosting(PostingInput{
		UserID:      ev.UserID,
		AccountKind: kinds.Main,
		Amount:      ev.Amount,
		Kind:        models.TxLeadCancelled,
		IsCredit:    false,
		Note:        fmt.Sprintf("order for lead %s returned", ev.LeadID),
		LeadID:      ev.LeadID,
		ActorID:     actorID,
	})
	return err
}

// RecordLeadCreated appends the lead-creation activity entry and runs the IP
// burst heuristic over it. Called by the lead CRUD on every new lead.
func (s *LifecycleService) RecordLeadCreated(userID, ip string) {
	if err := s.activity.Append(userID, models.ActionLeadCreate, ip, nil); err != nil {
		log.Printf("[LIFECYCLE] Activity log failed for lead creation by %s: %v", userID, err)
	}
	if _, err := s.fraud.EvaluateIPBurst(userID, ip); err != nil {
		log.Printf("[LIFECYCLE] IP burst check failed for user %s: %v", userID, err)
	}
}

// RequestPayout runs the limiter, then debits the main account and creates
// the payout row in one database transaction. The card-reuse heuristic runs
// after commit and never fails the request.
func (s *LifecycleService) RequestPayout(in PayoutInput, actorID string) (*models.PayoutRequest, error) {
	if err := s.limiter.CheckPayoutAllowed(in.UserID, in.Amount); err != nil {
		return nil, err
	}

	kinds := models.AccountKindsForRole(in.Role)
	payout := &models.PayoutRequest{
		ID:          uuid.New().String(),
		UserID:      in.UserID,
		AccountKind: kinds.Main,
		Amount:      in.Amount,
		Status:      models.PayoutStatusPending,
		CardNumber:  in.CardNumber,
		CardHolder:  in.CardHolder,
		CreatedAt:   time.Now(),
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	_, err = dbTx.Exec(`
		INSERT INTO payouts (id, user_id, account_kind, amount, status, card_number, card_holder, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		payout.ID, payout.UserID, payout.AccountKind, payout.Amount,
		payout.Status, payout.CardNumber, payout.CardHolder, payout.CreatedAt)
	if err != nil {
		return nil, err
	}

	txn, err := s.ledger.ApplyPostingTx(dbTx, PostingInput{
		UserID:      in.UserID,
		AccountKind: kinds.Main,
		Amount:      in.Amount,
		Kind:        models.TxPayoutRequest,
		IsCredit:    false,
		Note:        fmt.Sprintf("payout to card %s", models.MaskCardNumber(in.CardNumber)),
		Metadata:    models.Metadata{"card_number": models.MaskCardNumber(in.CardNumber)},
		PayoutID:    payout.ID,
		ActorID:     actorID,
	})
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	if err := s.activity.Append(in.UserID, models.ActionPayoutRequest, "",
		models.Metadata{"payout_id": payout.ID, "amount": in.Amount.String()}); err != nil {
		log.Printf("[LIFECYCLE] Activity log failed for payout %s: %v", payout.ID, err)
	}
	if _, err := s.fraud.EvaluateCardReuse(in.UserID, txn.ID, in.CardNumber); err != nil {
		log.Printf("[LIFECYCLE] Card reuse check failed for payout %s: %v", payout.ID, err)
	}
	if s.notifier != nil {
		s.notifier.PublishBalanceChanged(in.UserID)
	}

	return payout, nil
}

// HandlePayoutApproval marks a pending payout approved. The funds were
// already debited at request time, so no posting is issued; replays are
// no-ops because only pending rows transition.
func (s *LifecycleService) HandlePayoutApproval(payout models.PayoutRequest, actorID string) error {
	result, err := s.db.Exec(`
		UPDATE payouts SET status = $1 WHERE id = $2 AND status = $3`,
		models.PayoutStatusApproved, payout.ID, models.PayoutStatusPending)
	if err != nil {
		return err
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		log.Printf("[LIFECYCLE] Payout %s not pending, approval skipped", payout.ID)
		return nil
	}

	if s.notifier != nil {
		go s.notifier.NotifyUser(models.Notification{
			ToUserID: payout.UserID,
			Message:  fmt.Sprintf("Your payout of %s was approved", payout.Amount),
			Type:     "payout_approved",
			Metadata: models.Metadata{"payout_id": payout.ID},
		})
	}
	return nil
}

// HandlePayoutRejection refunds the debited amount to the same account the
// request took it from, guarded by the payout_rejected posting check.
func (s *LifecycleService) HandlePayoutRejection(payout models.PayoutRequest, actorID string) error {
	refunded, err := s.ledger.HasPayoutPosting(payout.UserID, payout.ID, models.TxPayoutRejected)
	if err != nil {
		return err
	}
	if refunded {
		log.Printf("[LIFECYCLE] Payout %s already refunded, skipping", payout.ID)
		return nil
	}

	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	_, err = dbTx.Exec(`
		UPDATE payouts SET status = $1 WHERE id = $2`,
		models.PayoutStatusRejected, payout.ID)
	if err != nil {
		return err
	}

	_, err = s.ledger.ApplyPostingTx(dbTx, PostingInput{
		UserID:      payout.UserID,
		AccountKind: payout.AccountKind,
		Amount:      payout.Amount,
		Kind:        models.TxPayoutRejected,
		IsCredit:    true,
		Note:        fmt.Sprintf("payout %s rejected, funds returned", payout.ID),
		PayoutID:    payout.ID,
		ActorID:     actorID,
	})
	if err != nil {
		// Two concurrent rejections can pass the guard together; the loser's
		// refund hits the (payout_id, kind) constraint.
		if isUniqueViolation(err) {
			dbTx.Rollback()
			log.Printf("[LIFECYCLE] Payout %s refund already posted, skipping", payout.ID)
			return nil
		}
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.PublishBalanceChanged(payout.UserID)
		go s.notifier.NotifyUser(models.Notification{
			ToUserID: payout.UserID,
			Message:  fmt.Sprintf("Your payout of %s was rejected and refunded", payout.Amount),
			Type:     "payout_rejected",
			Metadata: models.Metadata{"payout_id": payout.ID},
		})
	}
	return nil
}

// GetPayout loads a payout row for the approval/rejection triggers.
func (s *LifecycleService) GetPayout(id string) (*models.PayoutRequest, error) {
	var p models.PayoutRequest
	err := s.db.QueryRow(`
		SELECT id, user_id, account_kind, amount, status, card_number, card_holder, created_at
		FROM payouts WHERE id = $1`, id).
		Scan(&p.ID, &p.UserID, &p.AccountKind, &p.Amount, &p.Status,
			&p.CardNumber, &p.CardHolder, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AdminAdjustBalance is the privileged wrapper over ApplyPosting. The
// human-readable reason is mandatory and lands in the transaction note.
func (s *LifecycleService) AdminAdjustBalance(userID string, kind models.AccountKind, amount decimal.Decimal, isCredit bool, reason, actorID string) (*models.Transaction, error) {
	if reason == "" {
		return nil, newLedgerError(ErrInvalidAmount, "adjustment reason is required")
	}
	return s.ledger.ApplyPosting(PostingInput{
		UserID:      userID,
		AccountKind: kind,
		Amount:      amount,
		Kind:        models.TxAdminAdjustment,
		IsCredit:    isCredit,
		Note:        reason,
		ActorID:     actorID,
	})
}
