package handlers

import (
	"log"
	"net/http"

	"github.com/openbank/ledger/internal/services"
)

// AdminHandler exposes the governed ledger setters.
type AdminHandler struct {
	service   *services.LedgerService
	validator *services.ValidationHelper
}

func NewAdminHandler(service *services.LedgerService) *AdminHandler {
	return &AdminHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// SetName renames the ledger
// @Summary Set Bank Name
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body NameRequest true "New name"
// @Success 200 {object} models.LedgerInfo
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/name [put]
func (h *AdminHandler) SetName(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	h.apply(w, r, &req, func(callerID string) error {
		return h.service.SetName(r.Context(), callerID, req.Name)
	})
}

// SetNominee changes the nominee account
// @Summary Set Nominee
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body NomineeRequest true "Nominee account"
// @Success 200 {object} models.LedgerInfo
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/nominee [put]
func (h *AdminHandler) SetNominee(w http.ResponseWriter, r *http.Request) {
	var req NomineeRequest
	h.apply(w, r, &req, func(callerID string) error {
		return h.service.SetNominee(r.Context(), callerID, req.Nominee)
	})
}

// SetAuthority changes the role authority
// @Summary Set Role Authority
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body AuthorityRequest true "Authority identity"
// @Success 200 {object} models.LedgerInfo
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/authority [put]
func (h *AdminHandler) SetAuthority(w http.ResponseWriter, r *http.Request) {
	var req AuthorityRequest
	h.apply(w, r, &req, func(callerID string) error {
		return h.service.SetAuthorityIdentity(r.Context(), callerID, req.Authority)
	})
}

// SetAffirmativeCode changes the code an allowed caller is answered with
// @Summary Set Affirmative Secure Code
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CodeRequest true "Code"
// @Success 200 {object} models.LedgerInfo
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/affirmative-code [put]
func (h *AdminHandler) SetAffirmativeCode(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	h.apply(w, r, &req, func(callerID string) error {
		return h.service.SetAffirmativeCode(r.Context(), callerID, *req.Code)
	})
}

// SetNegativeCode changes the code a caller that is not barred is answered with
// @Summary Set Negative Secure Code
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CodeRequest true "Code"
// @Success 200 {object} models.LedgerInfo
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/negative-code [put]
func (h *AdminHandler) SetNegativeCode(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	h.apply(w, r, &req, func(callerID string) error {
		return h.service.SetNegativeCode(r.Context(), callerID, *req.Code)
	})
}

// DeactivateTestMode turns the authority bypass off for good
// @Summary Deactivate Test Mode
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} TestModeResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /admin/test-mode/deactivate [post]
func (h *AdminHandler) DeactivateTestMode(w http.ResponseWriter, r *http.Request) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}

	testMode, err := h.service.DeactivateTestMode(r.Context(), callerID)
	if err != nil {
		log.Printf("[ADMIN] deactivate test mode by %s failed: %v", callerID, err)
		services.SendLedgerError(w, err)
		return
	}
	services.SendJSON(w, TestModeResponse{TestMode: testMode})
}

func (h *AdminHandler) apply(w http.ResponseWriter, r *http.Request, req any, run func(callerID string) error) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}
	if !h.validator.DecodeJSON(w, r, req) {
		return
	}

	if err := run(callerID); err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, h.service.Info())
}
