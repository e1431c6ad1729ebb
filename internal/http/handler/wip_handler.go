package handler

import (
	"errors"
	"net/http"

	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/service"
	"go.uber.org/zap"
)

// WipHandler exposes creation of the fulfilment records owned by a deal
type WipHandler struct {
	wipService *service.WipService
	logger     *zap.Logger
}

func NewWipHandler(wipService *service.WipService, logger *zap.Logger) *WipHandler {
	return &WipHandler{
		wipService: wipService,
		logger:     logger,
	}
}

// ListWip handles GET /deals/{id}/wip
func (h *WipHandler) ListWip(w http.ResponseWriter, r *http.Request) {
	dealID, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid deal ID")
		return
	}

	wips, err := h.wipService.ListWip(r.Context(), dealID)
	if err != nil {
		h.handleWipError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wips)
}

// CreateWip handles POST /deals/{id}/wip
func (h *WipHandler) CreateWip(w http.ResponseWriter, r *http.Request) {
	dealID, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid deal ID")
		return
	}

	var req domain.CreateWipRequest
	if !h.decode(w, r, &req) {
		return
	}

	wip, err := h.wipService.CreateWip(r.Context(), dealID, &req)
	if err != nil {
		h.handleWipError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, wip)
}

// CreateInstallation handles POST /deals/{id}/installations
func (h *WipHandler) CreateInstallation(w http.ResponseWriter, r *http.Request) {
	dealID, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid deal ID")
		return
	}

	var req domain.CreateInstallationRequest
	if !h.decode(w, r, &req) {
		return
	}

	inst, err := h.wipService.CreateInstallation(r.Context(), dealID, &req)
	if err != nil {
		h.handleWipError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, inst)
}

// AddUpdate handles POST /wip/{id}/updates
func (h *WipHandler) AddUpdate(w http.ResponseWriter, r *http.Request) {
	wipID, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid WIP ID")
		return
	}

	var req domain.CreateWipUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	update, err := h.wipService.AddUpdate(r.Context(), wipID, &req)
	if err != nil {
		h.handleWipError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, update)
}

// RecognizeRevenue handles POST /wip/{id}/revenue
func (h *WipHandler) RecognizeRevenue(w http.ResponseWriter, r *http.Request) {
	wipID, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid WIP ID")
		return
	}

	var req domain.RecognizeRevenueRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.wipService.RecognizeRevenue(r.Context(), wipID, &req)
	if err != nil {
		h.handleWipError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (h *WipHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := decodeJSON(w, r, req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: malformed JSON")
		return false
	}
	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return false
	}
	return true
}

func (h *WipHandler) handleWipError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrDealNotFound):
		respondWithError(w, http.StatusNotFound, "Deal not found")
	case errors.Is(err, service.ErrWipNotFound):
		respondWithError(w, http.StatusNotFound, "WIP record not found")
	case errors.Is(err, service.ErrInvalidInput):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("wip handler error", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
