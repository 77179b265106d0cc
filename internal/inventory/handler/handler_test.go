package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fekuna/omnipos-reservation-service/internal/auth"
	"github.com/fekuna/omnipos-reservation-service/internal/inventory/usecase"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/response"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (http.Handler, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	uc := usecase.NewInventoryUseCase(store, nil, nil, nil, logger.NewNop())
	mux := http.NewServeMux()
	NewInventoryHandler(uc, logger.NewNop()).RegisterRoutes(mux)
	return auth.Middleware(mux), store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(auth.HeaderUserID, "admin-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetStock(t *testing.T) {
	h, store := newServer(t)
	store.SeedStock("P", 10, 4)

	rec := do(t, h, http.MethodGet, "/internal/products/P/stock", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got StockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, StockResponse{ProductID: "P", TotalStock: 10, ReservedStock: 4, AvailableStock: 6}, got)

	rec = do(t, h, http.MethodGet, "/internal/products/unknown/stock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Zero(t, got.AvailableStock)
}

func TestSetStock(t *testing.T) {
	h, store := newServer(t)
	store.SeedStock("P", 10, 4)

	tests := []struct {
		name      string
		body      string
		status    int
		errorType string
	}{
		{"raise total", `{"total_stock": 20, "reason": "restock"}`, http.StatusOK, ""},
		{"below reserved", `{"total_stock": 3}`, http.StatusConflict, response.TypeConflict},
		{"negative", `{"total_stock": -1}`, http.StatusUnprocessableEntity, response.TypeValidation},
		{"missing field", `{}`, http.StatusUnprocessableEntity, response.TypeValidation},
		{"malformed", `{`, http.StatusUnprocessableEntity, response.TypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, "/internal/products/P/stock", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.errorType != "" {
				var body response.ErrorBody
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.errorType, body.ErrorType)
			}
		})
	}

	s, err := store.GetStock(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, int64(20), s.TotalStock)
	assert.Equal(t, int64(4), s.ReservedStock)

	rec := do(t, h, http.MethodGet, "/internal/products/P/movements?movement_type=adjustment", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var mvs MovementsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mvs))
	require.Equal(t, 1, mvs.Total)
	assert.Equal(t, int64(10), mvs.Movements[0].TotalChange)
	assert.Equal(t, "restock", mvs.Movements[0].Notes)
	require.NotNil(t, mvs.Movements[0].ReferenceID)
	assert.Equal(t, "admin-1", *mvs.Movements[0].ReferenceID)
}

func TestRemoveStock(t *testing.T) {
	h, store := newServer(t)
	store.SeedStock("held", 10, 1)
	store.SeedStock("free", 10, 0)

	rec := do(t, h, http.MethodDelete, "/internal/products/held/stock", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodDelete, "/internal/products/free/stock", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	s, err := store.GetStock(context.Background(), "free")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestListMovements_BadDate(t *testing.T) {
	h, _ := newServer(t)

	rec := do(t, h, http.MethodGet, "/internal/products/P/movements?start_date=yesterday", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
