package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/farmmarket/go-farm-orders/internal/orders"
	"github.com/farmmarket/go-farm-orders/internal/redisx"
)

// OrderService is the slice of the order core this handler drives.
type OrderService interface {
	PlaceOrder(ctx context.Context, buyerID, externalID string, lines []orders.LineRequest, addr orders.ShippingAddress, method orders.PaymentMethod) (*orders.Order, bool, error)
	Order(ctx context.Context, id string) (*orders.Order, error)
	ListByBuyer(ctx context.Context, buyerID string, f orders.ListFilter) ([]orders.Order, int, error)
	ListBySeller(ctx context.Context, sellerID string, f orders.ListFilter) ([]orders.Order, int, error)
	UpdateStatus(ctx context.Context, id string, to orders.Status, notes, trackingNumber string) (*orders.Order, error)
	Cancel(ctx context.Context, id, reason string) (*orders.Order, error)
}

type OrdersHandler struct {
	Service OrderService
	Redis   *redis.Client // optional fast paths; Postgres stays the truth
	Log     *logrus.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders", h.listBuyerOrders)
	r.Get("/orders/seller", h.listSellerOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Patch("/orders/{id}/cancel", h.cancelOrder)
}

// Authentication happens upstream; the gateway forwards the verified
// identity in headers.
func caller(r *http.Request) (id, role string) {
	return r.Header.Get("X-User-Id"), r.Header.Get("X-User-Role")
}

func listFilter(r *http.Request) orders.ListFilter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return orders.ListFilter{Status: orders.Status(q.Get("status")), Page: page, Limit: limit}
}

type placeOrderReq struct {
	ExternalID      string                 `json:"external_id,omitempty"`
	Items           []orders.LineRequest   `json:"items"`
	ShippingAddress orders.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method"`
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	buyerID, _ := caller(r)
	if buyerID == "" {
		writeFail(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Idempotency fast path. The unique index on external_id is the real
	// guard; Redis just short-circuits obvious retries.
	if req.ExternalID != "" && h.Redis != nil {
		idemKey := fmt.Sprintf(redisx.KeyIdemOrderPlace, req.ExternalID)
		if orderID, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && orderID != "" {
			if o, err := h.Service.Order(ctx, orderID); err == nil {
				writeData(w, http.StatusOK, "Order already placed", o)
				return
			}
		}
	}

	o, existed, err := h.Service.PlaceOrder(ctx, buyerID, req.ExternalID,
		req.Items, req.ShippingAddress, orders.PaymentMethod(req.PaymentMethod))
	if err != nil {
		h.Log.WithError(err).WithField("buyer", buyerID).Warn("place order rejected")
		writeError(w, err)
		return
	}

	if h.Redis != nil {
		if req.ExternalID != "" {
			idemKey := fmt.Sprintf(redisx.KeyIdemOrderPlace, req.ExternalID)
			_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
		}
		h.cacheStatus(ctx, o)
	}

	if existed {
		writeData(w, http.StatusOK, "Order already placed", o)
		return
	}
	writeData(w, http.StatusCreated, "Order created successfully", o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	callerID, role := caller(r)
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.Order(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if o.BuyerID != callerID && role != "admin" {
		writeFail(w, http.StatusForbidden, "not allowed to view this order")
		return
	}
	writeData(w, http.StatusOK, "", o)
}

// statusCache is the cached shape for the polling endpoint. It keeps the
// buyer id so the ownership check holds on cache hits too.
type statusCache struct {
	Status  orders.Status `json:"status"`
	BuyerID string        `json:"buyer_id"`
}

// getOrderStatus serves the status-only polling endpoint from Redis when
// it can, falling back to the ledger. Same ownership rule as getOrder.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	callerID, role := caller(r)
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			var sc statusCache
			if json.Unmarshal([]byte(s), &sc) == nil && sc.BuyerID != "" {
				if sc.BuyerID != callerID && role != "admin" {
					writeFail(w, http.StatusForbidden, "not allowed to view this order")
					return
				}
				writeData(w, http.StatusOK, "", map[string]any{"status": sc.Status})
				return
			}
		}
	}

	o, err := h.Service.Order(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if o.BuyerID != callerID && role != "admin" {
		writeFail(w, http.StatusForbidden, "not allowed to view this order")
		return
	}
	h.cacheStatus(ctx, o)
	writeData(w, http.StatusOK, "", map[string]any{"status": o.Status})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	body, _ := json.Marshal(statusCache{Status: o.Status, BuyerID: o.BuyerID})
	_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
}

func (h *OrdersHandler) listBuyerOrders(w http.ResponseWriter, r *http.Request) {
	buyerID, _ := caller(r)
	if buyerID == "" {
		writeFail(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	f := listFilter(r)
	list, total, err := h.Service.ListByBuyer(ctx, buyerID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]any{
		"orders":     list,
		"pagination": paginate(f.Page, f.Limit, total),
	})
}

func (h *OrdersHandler) listSellerOrders(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := caller(r)
	if sellerID == "" {
		writeFail(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	f := listFilter(r)
	list, total, err := h.Service.ListBySeller(ctx, sellerID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]any{
		"orders":     list,
		"pagination": paginate(f.Page, f.Limit, total),
	})
}

type updateStatusReq struct {
	Status         string `json:"status"`
	Notes          string `json:"notes,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.UpdateStatus(ctx, chi.URLParam(r, "id"),
		orders.Status(req.Status), req.Notes, req.TrackingNumber)
	if err != nil {
		h.Log.WithError(err).WithField("order", chi.URLParam(r, "id")).Warn("status update rejected")
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeData(w, http.StatusOK, "Order status updated successfully", o)
}

type cancelOrderReq struct {
	Reason string `json:"reason,omitempty"`
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.Cancel(ctx, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.Log.WithError(err).WithField("order", chi.URLParam(r, "id")).Warn("cancel rejected")
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeData(w, http.StatusOK, "Order cancelled successfully", o)
}
