package handlers

import (
	"errors"
	"net/http"

	"github.com/openbank/ledger/internal/models"
	"github.com/openbank/ledger/internal/services"
)

type QRHandler struct {
	service   *services.QRService
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.QRService, ledger *services.LedgerService) *QRHandler {
	return &QRHandler{
		service:   service,
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// RequestDebitQR renders the presentation code of a request debit
// @Summary Request Debit QR Code
// @Description Generate a QR code the payee presents to claim a request debit
// @Tags QR
// @Produce json
// @Security BearerAuth
// @Param ref path string true "Request debit reference"
// @Success 200 {object} QRResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /request-debits/{ref}/qr [get]
func (h *QRHandler) RequestDebitQR(w http.ResponseWriter, r *http.Request) {
	ref, ok := reference(w, r)
	if !ok {
		return
	}

	if _, err := h.ledger.FindRequestDebit(ref); err != nil {
		services.SendLedgerError(w, err)
		return
	}

	qrCode, qrImage, err := h.service.GenerateRequestDebitCode(r.Context(), h.ledger.Info().LedgerID, ref)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, QRResponse{
		Reference: models.FormatReference(ref),
		QRCode:    qrCode,
		QRImage:   qrImage,
	})
}

// ResolveQR resolves a scanned presentation code
// @Summary Resolve QR Code
// @Description Resolve a scanned presentation code to its request debit
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ResolveQRRequest true "Scanned code"
// @Success 200 {object} ResolveQRResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /request-debits/qr/resolve [post]
func (h *QRHandler) ResolveQR(w http.ResponseWriter, r *http.Request) {
	var req ResolveQRRequest
	if !h.validator.DecodeJSON(w, r, &req) {
		return
	}

	payload, err := h.service.ResolveCode(r.Context(), req.Code)
	if errors.Is(err, services.ErrInvalidCode) {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	info := h.ledger.Info()
	if payload.LedgerID != info.LedgerID {
		services.SendErrorResponse(w, "QR code belongs to another ledger", http.StatusBadRequest, nil)
		return
	}

	ref, err := models.ParseReference(payload.Reference)
	if err != nil {
		services.SendErrorResponse(w, services.ErrInvalidCode.Error(), http.StatusBadRequest, nil)
		return
	}

	rd, err := h.ledger.FindRequestDebit(ref)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, ResolveQRResponse{Payload: payload, RequestDebit: rd})
}
