package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leadpay/backoffice/internal/middleware"
	"github.com/leadpay/backoffice/internal/models"
	"github.com/leadpay/backoffice/internal/services"
	"github.com/shopspring/decimal"
)

// LedgerHandler exposes the read-only query surface and the privileged
// balance adjustment.
type LedgerHandler struct {
	ledger    *services.LedgerService
	lifecycle *services.LifecycleService
	validator *services.ValidationHelper
}

func NewLedgerHandler(ledger *services.LedgerService, lifecycle *services.LifecycleService) *LedgerHandler {
	return &LedgerHandler{
		ledger:    ledger,
		lifecycle: lifecycle,
		validator: services.NewValidationHelper(),
	}
}

// GetUserBalances returns the total, per-account breakdown and recent transactions
// @Summary Get user balances
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Param recent query int false "Recent transaction count (default 10)"
// @Success 200 {object} models.BalanceSummary
// @Failure 500 {object} services.ErrorResponse
// @Router /users/{userId}/balances [get]
func (h *LedgerHandler) GetUserBalances(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	recent := 10
	if v := r.URL.Query().Get("recent"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			recent = n
		}
	}

	summary, err := h.ledger.GetUserBalances(userID, recent)
	if err != nil {
		log.Printf("[LEDGER] Failed to fetch balances for user %s: %v", userID, err)
		services.SendErrorResponse(w, "Failed to fetch balances", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// GetUserTransactions lists a user's transactions with optional filters
// @Summary List user transactions
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Param kind query string false "Filter by transaction kind"
// @Param accountKind query string false "Filter by account kind"
// @Param limit query int false "Page size (default 50, max 100)"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Router /users/{userId}/transactions [get]
func (h *LedgerHandler) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	filter := models.TransactionFilter{
		Kind:        models.TransactionKind(r.URL.Query().Get("kind")),
		AccountKind: models.AccountKind(r.URL.Query().Get("accountKind")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	transactions, err := h.ledger.GetUserTransactions(userID, filter)
	if err != nil {
		log.Printf("[LEDGER] Failed to fetch transactions for user %s: %v", userID, err)
		services.SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// AdminAdjustBalance applies a privileged manual credit or debit
// @Summary Adjust a user balance
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{user_id=string,account_kind=string,amount=string,direction=string,reason=string} true "Adjustment"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/adjust-balance [post]
func (h *LedgerHandler) AdminAdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string          `json:"user_id" validate:"required"`
		AccountKind string          `json:"account_kind" validate:"required"`
		Amount      decimal.Decimal `json:"amount" validate:"required"`
		Direction   string          `json:"direction" validate:"required,oneof=credit debit"`
		Reason      string          `json:"reason" validate:"required,max=500"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	actorID := middleware.ActorID(r)
	log.Printf("[ADMIN] Balance adjustment for user %s by %s: %s %s %s",
		req.UserID, actorID, req.Direction, req.Amount, req.AccountKind)

	txn, err := h.lifecycle.AdminAdjustBalance(req.UserID, models.AccountKind(req.AccountKind),
		req.Amount, req.Direction == "credit", req.Reason, actorID)
	if err != nil {
		log.Printf("[ADMIN] Adjustment failed for user %s: %v", req.UserID, err)
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}
