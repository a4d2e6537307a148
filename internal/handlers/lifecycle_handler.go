package handlers

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/leadpay/backoffice/internal/middleware"
	"github.com/leadpay/backoffice/internal/models"
	"github.com/leadpay/backoffice/internal/services"
)

// LifecycleHandler exposes the business-event triggers called by the
// lead/order/payout CRUD modules.
type LifecycleHandler struct {
	service   *services.LifecycleService
	validator *services.ValidationHelper
}

func NewLifecycleHandler(service *services.LifecycleService) *LifecycleHandler {
	return &LifecycleHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// LeadApproved credits the lead payout to the role's hold account
// @Summary Lead approved trigger
// @Tags lifecycle
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param event body services.LeadEvent true "Lead event"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} services.ErrorResponse
// @Router /events/lead-approved [post]
func (h *LifecycleHandler) LeadApproved(w http.ResponseWriter, r *http.Request) {
	h.handleLeadEvent(w, r, "lead-approved", h.service.OnLeadApproved)
}

// LeadCancelled reverses the hold credit for a cancelled lead
// @Summary Lead cancelled trigger
// @Tags lifecycle
// @Router /events/lead-cancelled [post]
func (h *LifecycleHandler) LeadCancelled(w http.ResponseWriter, r *http.Request) {
	h.handleLeadEvent(w, r, "lead-cancelled", h.service.OnLeadCancelled)
}

// OrderDelivered releases hold funds into the main balance
// @Summary Order delivered trigger
// @Tags lifecycle
// @Router /events/order-delivered [post]
func (h *LifecycleHandler) OrderDelivered(w http.ResponseWriter, r *http.Request) {
	h.handleLeadEvent(w, r, "order-delivered", h.service.OnOrderDelivered)
}

// OrderReturned claws released funds back from the main balance
// @Summary Order returned trigger
// @Tags lifecycle
// @Router /events/order-returned [post]
func (h *LifecycleHandler) OrderReturned(w http.ResponseWriter, r *http.Request) {
	h.handleLeadEvent(w, r, "order-returned", h.service.OnOrderReturned)
}

func (h *LifecycleHandler) handleLeadEvent(w http.ResponseWriter, r *http.Request, name string, apply func(services.LeadEvent, string) error) {
	var ev services.LeadEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if err := h.validator.ValidateStruct(&ev); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	actorID := middleware.ActorID(r)
	log.Printf("[LIFECYCLE] %s for lead %s by %s", name, ev.LeadID, actorID)

	if err := apply(ev, actorID); err != nil {
		log.Printf("[LIFECYCLE] %s failed for lead %s: %v", name, ev.LeadID, err)
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// LeadCreated records lead-creation activity for the IP burst heuristic
// @Summary Lead created trigger
// @Tags lifecycle
// @Router /events/lead-created [post]
func (h *LifecycleHandler) LeadCreated(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	h.service.RecordLeadCreated(req.UserID, ip)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// RequestPayout runs the limiter and debits the main balance
// @Summary Request a payout
// @Tags payouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.PayoutInput true "Payout request"
// @Success 201 {object} models.PayoutRequest
// @Failure 422 {object} services.ErrorResponse
// @Router /payouts [post]
func (h *LifecycleHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	var in services.PayoutInput
	if !decodeBody(w, r, &in) {
		return
	}

	if in.UserID == "" {
		in.UserID = middleware.ActorID(r)
	}
	if in.Role == "" {
		in.Role = middleware.ActorRole(r)
	}

	if err := h.validator.ValidateStruct(&in); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payout, err := h.service.RequestPayout(in, middleware.ActorID(r))
	if err != nil {
		log.Printf("[PAYOUT] Request failed for user %s: %v", in.UserID, err)
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(payout)
}

// ApprovePayout marks a pending payout approved
// @Summary Approve a payout
// @Tags payouts
// @Router /payouts/{payoutId}/approve [post]
func (h *LifecycleHandler) ApprovePayout(w http.ResponseWriter, r *http.Request) {
	h.transitionPayout(w, r, h.service.HandlePayoutApproval)
}

// RejectPayout rejects a payout and refunds the debited amount
// @Summary Reject a payout
// @Tags payouts
// @Router /payouts/{payoutId}/reject [post]
func (h *LifecycleHandler) RejectPayout(w http.ResponseWriter, r *http.Request) {
	h.transitionPayout(w, r, h.service.HandlePayoutRejection)
}

func (h *LifecycleHandler) transitionPayout(w http.ResponseWriter, r *http.Request, apply func(models.PayoutRequest, string) error) {
	payoutID := chi.URLParam(r, "payoutId")

	payout, err := h.service.GetPayout(payoutID)
	if err != nil {
		if err == sql.ErrNoRows {
			services.SendErrorResponse(w, "Payout not found", http.StatusNotFound, nil)
		} else {
			services.SendErrorResponse(w, "Failed to load payout", http.StatusInternalServerError, nil)
		}
		return
	}

	if err := apply(*payout, middleware.ActorID(r)); err != nil {
		log.Printf("[PAYOUT] Transition failed for payout %s: %v", payoutID, err)
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
