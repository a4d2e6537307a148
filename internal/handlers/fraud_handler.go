package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leadpay/backoffice/internal/middleware"
	"github.com/leadpay/backoffice/internal/models"
	"github.com/leadpay/backoffice/internal/services"
)

// FraudHandler exposes the case list and the operator resolution action.
type FraudHandler struct {
	service   *services.FraudService
	validator *services.ValidationHelper
}

func NewFraudHandler(service *services.FraudService) *FraudHandler {
	return &FraudHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// ListChecks lists fraud cases, optionally filtered by status
// @Summary List fraud checks
// @Tags fraud
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status (open, reviewing, resolved, revoked)"
// @Success 200 {object} object{checks=[]models.FraudCheck,count=int}
// @Router /admin/fraud-checks [get]
func (h *FraudHandler) ListChecks(w http.ResponseWriter, r *http.Request) {
	status := models.FraudStatus(r.URL.Query().Get("status"))

	checks, err := h.service.GetFraudChecks(status)
	if err != nil {
		log.Printf("[FRAUD] Failed to list checks: %v", err)
		services.SendErrorResponse(w, "Failed to fetch fraud checks", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"checks": checks,
		"count":  len(checks),
	})
}

// ResolveCheck transitions a fraud case
// @Summary Resolve a fraud check
// @Tags fraud
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param checkId path string true "Fraud check ID"
// @Param request body object{status=string,note=string} true "Resolution"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/fraud-checks/{checkId}/resolve [post]
func (h *FraudHandler) ResolveCheck(w http.ResponseWriter, r *http.Request) {
	checkID := chi.URLParam(r, "checkId")

	var req struct {
		Status string `json:"status" validate:"required,oneof=reviewing resolved revoked"`
		Note   string `json:"note" validate:"max=500"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	actorID := middleware.ActorID(r)
	if err := h.service.ResolveFraudCheck(checkID, models.FraudStatus(req.Status), req.Note, actorID); err != nil {
		log.Printf("[FRAUD] Resolution failed for check %s: %v", checkID, err)
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
