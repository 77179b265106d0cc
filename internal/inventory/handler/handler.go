package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/auth"
	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	"github.com/fekuna/omnipos-reservation-service/internal/inventory/dto"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/response"
	"go.uber.org/zap"
)

type InventoryHandler struct {
	uc     inventory.UseCase
	logger logger.ZapLogger
}

func NewInventoryHandler(uc inventory.UseCase, log logger.ZapLogger) *InventoryHandler {
	return &InventoryHandler{
		uc:     uc,
		logger: log,
	}
}

func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /internal/products/{product_id}/stock", h.GetStock)
	mux.HandleFunc("PUT /internal/products/{product_id}/stock", h.SetStock)
	mux.HandleFunc("DELETE /internal/products/{product_id}/stock", h.RemoveStock)
	mux.HandleFunc("GET /internal/products/{product_id}/movements", h.ListMovements)
}

type StockResponse struct {
	ProductID      string `json:"product_id"`
	TotalStock     int64  `json:"total_stock"`
	ReservedStock  int64  `json:"reserved_stock"`
	AvailableStock int64  `json:"available_stock"`
}

type SetStockRequest struct {
	TotalStock *int64 `json:"total_stock"`
	Reason     string `json:"reason"`
}

type MovementsResponse struct {
	Movements []model.InventoryMovement `json:"movements"`
	Total     int                       `json:"total"`
}

func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	s, err := h.uc.GetStock(r.Context(), r.PathValue("product_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, mapStockToResponse(s))
}

func (h *InventoryHandler) SetStock(w http.ResponseWriter, r *http.Request) {
	var req SetStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, "malformed request body")
		return
	}
	if req.TotalStock == nil {
		response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, "total_stock is required")
		return
	}

	s, err := h.uc.SetTotalStock(r.Context(), &dto.SetStockInput{
		ProductID:  r.PathValue("product_id"),
		TotalStock: *req.TotalStock,
		Reason:     req.Reason,
		UserID:     auth.GetUserID(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, mapStockToResponse(s))
}

func (h *InventoryHandler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	if err := h.uc.RemoveStock(r.Context(), r.PathValue("product_id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := &dto.MovementFilters{
		ProductID:    r.PathValue("product_id"),
		MovementType: q.Get("movement_type"),
		Page:         atoiDefault(q.Get("page"), 1),
		PageSize:     atoiDefault(q.Get("page_size"), 50),
	}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, "start_date must be RFC3339")
			return
		}
		filters.StartDate = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, "end_date must be RFC3339")
			return
		}
		filters.EndDate = &t
	}

	mvs, count, err := h.uc.ListMovements(r.Context(), filters)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, MovementsResponse{Movements: mvs, Total: count})
}

func (h *InventoryHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrProductIDRequired), errors.Is(err, inventory.ErrInvalidQuantity):
		response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, err.Error())
	case errors.Is(err, inventory.ErrStockBelowReserved), errors.Is(err, inventory.ErrOpenReservations):
		response.Error(w, http.StatusConflict, response.TypeConflict, err.Error())
	case errors.Is(err, inventory.ErrStorageUnavailable):
		h.logger.Warn("stock request hit unavailable storage", zap.String("path", r.URL.Path), zap.Error(err))
		response.Error(w, http.StatusServiceUnavailable, response.TypeServiceUnavailable, "storage unavailable, retry later")
	default:
		h.logger.Error("stock request failed",
			zap.String("path", r.URL.Path),
			zap.String("caller", auth.GetServiceName(r.Context())),
			zap.Error(err),
		)
		response.Error(w, http.StatusInternalServerError, response.TypeInternal, "internal error")
	}
}

func mapStockToResponse(s *model.Stock) StockResponse {
	return StockResponse{
		ProductID:      s.ProductID,
		TotalStock:     s.TotalStock,
		ReservedStock:  s.ReservedStock,
		AvailableStock: s.Available(),
	}
}

func atoiDefault(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
