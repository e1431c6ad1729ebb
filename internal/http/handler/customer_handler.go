package handler

import (
	"errors"
	"net/http"

	"github.com/straye-as/sales-pipeline-api/internal/auth"
	"github.com/straye-as/sales-pipeline-api/internal/service"
	"go.uber.org/zap"
)

type CustomerHandler struct {
	customerService *service.CustomerService
	logger          *zap.Logger
}

func NewCustomerHandler(customerService *service.CustomerService, logger *zap.Logger) *CustomerHandler {
	return &CustomerHandler{
		customerService: customerService,
		logger:          logger,
	}
}

// List handles GET /customers
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	customers, err := h.customerService.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list customers", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to list customers")
		return
	}
	respondJSON(w, http.StatusOK, customers)
}

// Delete handles DELETE /customers/{id}. Refused while deals reference the customer.
func (h *CustomerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid customer ID")
		return
	}

	err = h.customerService.Delete(r.Context(), id, auth.RoleFromContext(r.Context()))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, service.ErrForbidden):
		respondWithError(w, http.StatusForbidden, "Only administrators can delete customers")
	case errors.Is(err, service.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Customer not found")
	case errors.Is(err, service.ErrCustomerHasDeals):
		respondWithError(w, http.StatusConflict, "Customer still has deals; delete them first")
	default:
		h.logger.Error("failed to delete customer", zap.Int64("customer_id", id), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to delete customer")
	}
}
