package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/application"
	"bazaar/internal/service/reservation/domain"
	"bazaar/internal/service/reservation/domain/port"
)

const serviceName = "reservation-service"

// ReservationHandler 暴露预占与下单的 HTTP 接口。
type ReservationHandler struct {
	reservations *application.ReservationManager
	checkout     *application.CheckoutService
	cache        port.StockCache

	defaultCartTTL time.Duration
	limiter        *RateLimiter
}

func NewReservationHandler(
	reservations *application.ReservationManager,
	checkout *application.CheckoutService,
	cache port.StockCache,
	defaultCartTTL time.Duration,
	limiter *RateLimiter,
) *ReservationHandler {
	return &ReservationHandler{
		reservations:   reservations,
		checkout:       checkout,
		cache:          cache,
		defaultCartTTL: defaultCartTTL,
		limiter:        limiter,
	}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *ReservationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/reservations", h.limiter.Wrap(h.createReservation))
	mux.HandleFunc("GET /api/stock/{itemId}", h.getStock)
	mux.HandleFunc("PATCH /api/reservations/{id}/extend", h.extendReservation)
	mux.HandleFunc("DELETE /api/reservations/{id}", h.releaseReservation)
	mux.HandleFunc("DELETE /api/carts/{cartId}/reservations", h.releaseCart)
	mux.HandleFunc("POST /api/checkout", h.limiter.Wrap(h.checkoutHandler))
}

func (h *ReservationHandler) createReservation(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	var req application.CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation)
		return
	}

	ttl := h.defaultCartTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}

	reservation, remaining, err := h.reservations.Create(ctx, req.StoreID, req.CartID, req.ItemID, req.CustomerID, req.Quantity, ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, application.CreateReservationResponse{
		ReservationID:      reservation.ID,
		Status:             string(reservation.Status),
		ExpiresAt:          reservation.ExpiresAt.Format(time.RFC3339),
		RemainingAvailable: remaining,
	})
}

// getStock 是唯一允许走缓存的端点。缓存未命中回源并回填。
func (h *ReservationHandler) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	itemID := r.PathValue("itemId")
	storeID := r.URL.Query().Get("storeId")
	if itemID == "" || storeID == "" {
		writeError(w, r, domain.ErrValidation)
		return
	}

	if available, ok := h.cache.Get(ctx, storeID, itemID); ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"itemId": itemID, "available": available, "cached": true})
		return
	}

	available, err := h.reservations.AvailableStock(ctx, storeID, itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cache.Set(ctx, storeID, itemID, available)

	writeJSON(w, http.StatusOK, map[string]interface{}{"itemId": itemID, "available": available, "cached": false})
}

func (h *ReservationHandler) extendReservation(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	var req struct {
		AdditionalMinutes int `json:"additionalMinutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AdditionalMinutes <= 0 {
		writeError(w, r, domain.ErrValidation)
		return
	}

	reservation, err := h.reservations.Extend(ctx, r.PathValue("id"), time.Duration(req.AdditionalMinutes)*time.Minute)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reservationId": reservation.ID,
		"status":        string(reservation.Status),
		"expiresAt":     reservation.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *ReservationHandler) releaseReservation(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	reservation, err := h.reservations.Release(ctx, r.PathValue("id"), domain.ReleaseReasonManual)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reservationId": reservation.ID,
		"status":        string(reservation.Status),
	})
}

func (h *ReservationHandler) releaseCart(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	released, errs := h.reservations.ReleaseAllForCart(ctx, r.PathValue("cartId"))
	if len(errs) > 0 {
		logger.Ctx(ctx).Warn().Int("errors", len(errs)).Msg("partial failure releasing cart reservations")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"released": released,
		"failed":   len(errs),
	})
}

func (h *ReservationHandler) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	var req application.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation)
		return
	}

	resp, err := h.checkout.Checkout(ctx, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func extractTraceContext(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError 把领域错误映射到 HTTP 状态码，响应体保持稳定结构。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var insufficient *domain.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "insufficient_stock",
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		})
		return
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrReservationConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidStateChange):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrReservationExpired):
		status = http.StatusGone
	case errors.Is(err, domain.ErrExternalService):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}
