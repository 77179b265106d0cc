package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/auth"
	"github.com/fekuna/omnipos-reservation-service/internal/model"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/response"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/dto"
	"go.uber.org/zap"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type ReservationHandler struct {
	uc     reservation.UseCase
	logger logger.ZapLogger
}

func NewReservationHandler(uc reservation.UseCase, log logger.ZapLogger) *ReservationHandler {
	return &ReservationHandler{
		uc:     uc,
		logger: log,
	}
}

func (h *ReservationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/products/reserve", h.Reserve)
	mux.HandleFunc("POST /internal/products/confirm-reserve", h.Confirm)
	mux.HandleFunc("POST /internal/products/cancel-reserve", h.Cancel)
	mux.HandleFunc("GET /internal/reservations/{reservation_id}", h.Get)
}

type ReserveRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Items          []dto.LineInput `json:"items"`
}

type ReservationIDRequest struct {
	ReservationID string `json:"reservation_id"`
}

type ReservationResponse struct {
	Success       bool                   `json:"success"`
	ReservationID string                 `json:"reservation_id"`
	State         model.ReservationState `json:"state"`
	ExpiresAt     time.Time              `json:"expires_at"`
	ReservedItems []dto.LineInput        `json:"reserved_items"`
	Errors        []string               `json:"errors"`
}

func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, "malformed request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(HeaderIdempotencyKey)
	}

	result, err := h.uc.Reserve(r.Context(), &dto.ReserveInput{
		IdempotencyKey: req.IdempotencyKey,
		Lines:          req.Items,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	response.JSON(w, status, mapReservationToResponse(result.Reservation))
}

func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeReservationID(w, r)
	if !ok {
		return
	}
	res, err := h.uc.Confirm(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, mapReservationToResponse(res))
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeReservationID(w, r)
	if !ok {
		return
	}
	res, err := h.uc.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, mapReservationToResponse(res))
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.uc.Get(r.Context(), r.PathValue("reservation_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, mapReservationToResponse(res))
}

func decodeReservationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ReservationIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, "malformed request body")
		return "", false
	}
	if req.ReservationID == "" {
		response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, "reservation_id is required")
		return "", false
	}
	return req.ReservationID, true
}

func (h *ReservationHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr         *reservation.ValidationError
		insufficient *reservation.InsufficientStockError
	)
	switch {
	case errors.Is(err, reservation.ErrIdempotencyKeyReused) && errors.As(err, &verr):
		response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, reservation.ErrIdempotencyKeyReused.Error(), verr.Problems...)
	case errors.As(err, &verr):
		response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, "invalid reservation request", verr.Problems...)
	case errors.Is(err, reservation.ErrValidation):
		response.Error(w, http.StatusUnprocessableEntity, response.TypeValidation, err.Error())
	case errors.As(err, &insufficient):
		response.Error(w, http.StatusConflict, response.TypeConflict, insufficient.Error())
	case errors.Is(err, reservation.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, response.TypeConflict, err.Error())
	case errors.Is(err, reservation.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.TypeNotFound, "reservation not found")
	case errors.Is(err, reservation.ErrStorageUnavailable):
		h.logger.Warn("reservation request hit unavailable storage", zap.String("path", r.URL.Path), zap.Error(err))
		response.Error(w, http.StatusServiceUnavailable, response.TypeServiceUnavailable, "storage unavailable, retry later")
	default:
		h.logger.Error("reservation request failed",
			zap.String("path", r.URL.Path),
			zap.String("caller", auth.GetServiceName(r.Context())),
			zap.Error(err),
		)
		response.Error(w, http.StatusInternalServerError, response.TypeInternal, "internal error")
	}
}

func mapReservationToResponse(r *model.Reservation) ReservationResponse {
	items := make([]dto.LineInput, len(r.Lines))
	for i, l := range r.Lines {
		items[i] = dto.LineInput{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return ReservationResponse{
		Success:       true,
		ReservationID: r.ID,
		State:         r.State,
		ExpiresAt:     r.ExpiresAt,
		ReservedItems: items,
		Errors:        []string{},
	}
}
