package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/straye-as/sales-pipeline-api/internal/auth"
	"github.com/straye-as/sales-pipeline-api/internal/domain"
	"github.com/straye-as/sales-pipeline-api/internal/service"
	"go.uber.org/zap"
)

type DealHandler struct {
	dealService *service.DealService
	logger      *zap.Logger
}

func NewDealHandler(dealService *service.DealService, logger *zap.Logger) *DealHandler {
	return &DealHandler{
		dealService: dealService,
		logger:      logger,
	}
}

// Create handles POST /deals
func (h *DealHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: malformed JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	deal, err := h.dealService.Create(r.Context(), &req)
	if err != nil {
		h.handleDealError(w, err, "create")
		return
	}

	w.Header().Set("Location", "/api/v1/deals/"+strconv.FormatInt(deal.ID, 10))
	respondJSON(w, http.StatusCreated, deal)
}

// GetByID handles GET /deals/{id}
func (h *DealHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid deal ID")
		return
	}

	deal, err := h.dealService.GetByID(r.Context(), id)
	if err != nil {
		h.handleDealError(w, err, "get")
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

// Update handles PATCH /deals/{id}. Omitted fields keep their stored values.
func (h *DealHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid deal ID")
		return
	}

	var req domain.UpdateDealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: malformed JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	deal, err := h.dealService.Update(r.Context(), id, &req)
	if err != nil {
		h.handleDealError(w, err, "update")
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

// UpdateStage handles PUT /deals/{id}/stage
func (h *DealHandler) UpdateStage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid deal ID")
		return
	}

	var req domain.UpdateDealStageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: malformed JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	deal, err := h.dealService.TransitionStage(r.Context(), id, req.Stage)
	if err != nil {
		h.handleDealError(w, err, "transition")
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

// Delete handles DELETE /deals/{id}. The role check happens in the service.
func (h *DealHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid deal ID")
		return
	}

	result, err := h.dealService.Delete(r.Context(), id, auth.RoleFromContext(r.Context()))
	if err != nil {
		h.handleDealError(w, err, "delete")
		return
	}

	respondJSON(w, http.StatusOK, domain.DeleteDealResponse{
		Deleted:  result.Deleted,
		Path:     string(result.Path),
		Residual: result.Residual,
	})
}

// ListActivities handles GET /deals/{id}/activities?limit=n
func (h *DealHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid deal ID")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	activities, err := h.dealService.ListActivities(r.Context(), id, limit)
	if err != nil {
		h.handleDealError(w, err, "list activities")
		return
	}
	respondJSON(w, http.StatusOK, activities)
}

func (h *DealHandler) handleDealError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		respondWithError(w, http.StatusForbidden, "Only administrators can delete deals")
	case errors.Is(err, service.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Deal not found")
	case errors.Is(err, service.ErrInvalidStage):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrDeletionFailed):
		// diagnostic detail was logged by the service
		respondWithError(w, http.StatusInternalServerError, "Deal could not be deleted")
	default:
		h.logger.Error("deal handler error", zap.String("operation", op), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
