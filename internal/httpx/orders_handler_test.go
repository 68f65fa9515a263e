package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmmarket/go-farm-orders/internal/orders"
)

type stubOrderService struct {
	placeOrder   func(buyerID, externalID string, lines []orders.LineRequest) (*orders.Order, bool, error)
	order        func(id string) (*orders.Order, error)
	updateStatus func(id string, to orders.Status) (*orders.Order, error)
	cancel       func(id, reason string) (*orders.Order, error)
}

func (s *stubOrderService) PlaceOrder(_ context.Context, buyerID, externalID string, lines []orders.LineRequest, _ orders.ShippingAddress, _ orders.PaymentMethod) (*orders.Order, bool, error) {
	return s.placeOrder(buyerID, externalID, lines)
}

func (s *stubOrderService) Order(_ context.Context, id string) (*orders.Order, error) {
	return s.order(id)
}

func (s *stubOrderService) ListByBuyer(_ context.Context, buyerID string, _ orders.ListFilter) ([]orders.Order, int, error) {
	return []orders.Order{{ID: "o-1", BuyerID: buyerID}}, 1, nil
}

func (s *stubOrderService) ListBySeller(_ context.Context, _ string, _ orders.ListFilter) ([]orders.Order, int, error) {
	return nil, 0, nil
}

func (s *stubOrderService) UpdateStatus(_ context.Context, id string, to orders.Status, _, _ string) (*orders.Order, error) {
	return s.updateStatus(id, to)
}

func (s *stubOrderService) Cancel(_ context.Context, id, reason string) (*orders.Order, error) {
	return s.cancel(id, reason)
}

func newTestServer(stub *stubOrderService) *httptest.Server {
	r := NewRouter()
	h := &OrdersHandler{Service: stub, Log: logrus.StandardLogger()}
	h.Register(r)
	return httptest.NewServer(r)
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func TestPlaceOrderEndpoint(t *testing.T) {
	stub := &stubOrderService{}
	srv := newTestServer(stub)
	defer srv.Close()

	body := map[string]any{
		"items":          []map[string]any{{"product_id": "p-1", "quantity": 2}},
		"payment_method": "card",
		"shipping_address": map[string]any{
			"full_name": "Rahim Uddin", "address": "Village Road 4",
		},
	}

	t.Run("created", func(t *testing.T) {
		stub.placeOrder = func(buyerID, _ string, lines []orders.LineRequest) (*orders.Order, bool, error) {
			require.Equal(t, "buyer-1", buyerID)
			require.Len(t, lines, 1)
			assert.Equal(t, 2, lines[0].Qty)
			return &orders.Order{ID: "o-1", BuyerID: buyerID, Status: orders.StatusPending}, false, nil
		}
		resp, env := doJSON(t, http.MethodPost, srv.URL+"/orders", body,
			map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.True(t, env.Success)
		assert.Equal(t, "Order created successfully", env.Message)
	})

	t.Run("idempotent replay", func(t *testing.T) {
		stub.placeOrder = func(_, _ string, _ []orders.LineRequest) (*orders.Order, bool, error) {
			return &orders.Order{ID: "o-1"}, true, nil
		}
		resp, env := doJSON(t, http.MethodPost, srv.URL+"/orders", body,
			map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, env.Success)
	})

	t.Run("missing identity", func(t *testing.T) {
		resp, env := doJSON(t, http.MethodPost, srv.URL+"/orders", body, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.False(t, env.Success)
	})

	t.Run("empty items", func(t *testing.T) {
		stub.placeOrder = func(_, _ string, _ []orders.LineRequest) (*orders.Order, bool, error) {
			return nil, false, orders.ErrEmptyOrder
		}
		resp, env := doJSON(t, http.MethodPost, srv.URL+"/orders", body,
			map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.False(t, env.Success)
	})

	t.Run("unknown product", func(t *testing.T) {
		stub.placeOrder = func(_, _ string, _ []orders.LineRequest) (*orders.Order, bool, error) {
			return nil, false, &orders.ProductNotFoundError{ProductID: "p-404"}
		}
		resp, env := doJSON(t, http.MethodPost, srv.URL+"/orders", body,
			map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, env.Message, "p-404")
	})

	t.Run("insufficient stock", func(t *testing.T) {
		stub.placeOrder = func(_, _ string, _ []orders.LineRequest) (*orders.Order, bool, error) {
			return nil, false, &orders.InsufficientStockError{ProductID: "p-1", Requested: 2, Available: 1}
		}
		resp, env := doJSON(t, http.MethodPost, srv.URL+"/orders", body,
			map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.False(t, env.Success)
	})

	t.Run("storage contention is retryable", func(t *testing.T) {
		// Two placements deadlocking over the same products surface as
		// ErrConflict from the ledger, not as an opaque 500.
		stub.placeOrder = func(_, _ string, _ []orders.LineRequest) (*orders.Order, bool, error) {
			return nil, false, pkgerrors.Wrap(orders.ErrConflict, "lock product")
		}
		resp, env := doJSON(t, http.MethodPost, srv.URL+"/orders", body,
			map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.False(t, env.Success)
	})
}

func TestGetOrderEndpoint(t *testing.T) {
	stub := &stubOrderService{
		order: func(id string) (*orders.Order, error) {
			if id != "o-1" {
				return nil, orders.ErrOrderNotFound
			}
			return &orders.Order{ID: "o-1", BuyerID: "buyer-1"}, nil
		},
	}
	srv := newTestServer(stub)
	defer srv.Close()

	t.Run("buyer can view", func(t *testing.T) {
		resp, env := doJSON(t, http.MethodGet, srv.URL+"/orders/o-1", nil,
			map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, env.Success)
	})

	t.Run("admin can view", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/orders/o-1", nil,
			map[string]string{"X-User-Id": "someone-else", "X-User-Role": "admin"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("stranger gets 403", func(t *testing.T) {
		resp, env := doJSON(t, http.MethodGet, srv.URL+"/orders/o-1", nil,
			map[string]string{"X-User-Id": "someone-else"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.False(t, env.Success)
	})

	t.Run("missing order", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/orders/nope", nil,
			map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestGetOrderStatusEndpoint(t *testing.T) {
	stub := &stubOrderService{
		order: func(id string) (*orders.Order, error) {
			if id != "o-1" {
				return nil, orders.ErrOrderNotFound
			}
			return &orders.Order{ID: "o-1", BuyerID: "buyer-1", Status: orders.StatusShipped}, nil
		},
	}
	srv := newTestServer(stub)
	defer srv.Close()

	t.Run("buyer can poll", func(t *testing.T) {
		resp, env := doJSON(t, http.MethodGet, srv.URL+"/orders/o-1/status", nil,
			map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data, ok := env.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "shipped", data["status"])
	})

	t.Run("admin can poll", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/orders/o-1/status", nil,
			map[string]string{"X-User-Id": "ops-1", "X-User-Role": "admin"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("stranger gets 403", func(t *testing.T) {
		resp, env := doJSON(t, http.MethodGet, srv.URL+"/orders/o-1/status", nil,
			map[string]string{"X-User-Id": "someone-else"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.False(t, env.Success)
	})
}

func TestUpdateStatusEndpoint(t *testing.T) {
	stub := &stubOrderService{}
	srv := newTestServer(stub)
	defer srv.Close()

	t.Run("ok", func(t *testing.T) {
		stub.updateStatus = func(id string, to orders.Status) (*orders.Order, error) {
			assert.Equal(t, orders.StatusConfirmed, to)
			return &orders.Order{ID: id, Status: to}, nil
		}
		resp, env := doJSON(t, http.MethodPatch, srv.URL+"/orders/o-1/status",
			map[string]string{"status": "confirmed"}, map[string]string{"X-User-Id": "admin-1"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, env.Success)
	})

	t.Run("invalid status value", func(t *testing.T) {
		stub.updateStatus = func(id string, to orders.Status) (*orders.Order, error) {
			return nil, orders.ErrInvalidStatus
		}
		resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/orders/o-1/status",
			map[string]string{"status": "in_flight"}, map[string]string{"X-User-Id": "admin-1"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("illegal transition", func(t *testing.T) {
		stub.updateStatus = func(id string, to orders.Status) (*orders.Order, error) {
			return nil, &orders.InvalidTransitionError{From: orders.StatusPending, To: orders.StatusShipped}
		}
		resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/orders/o-1/status",
			map[string]string{"status": "shipped"}, map[string]string{"X-User-Id": "admin-1"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestCancelOrderEndpoint(t *testing.T) {
	stub := &stubOrderService{}
	srv := newTestServer(stub)
	defer srv.Close()

	t.Run("ok", func(t *testing.T) {
		stub.cancel = func(id, reason string) (*orders.Order, error) {
			assert.Equal(t, "changed my mind", reason)
			return &orders.Order{ID: id, Status: orders.StatusCancelled}, nil
		}
		resp, env := doJSON(t, http.MethodPatch, srv.URL+"/orders/o-1/cancel",
			map[string]string{"reason": "changed my mind"}, map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, env.Success)
	})

	t.Run("not cancellable", func(t *testing.T) {
		stub.cancel = func(id, reason string) (*orders.Order, error) {
			return nil, &orders.NotCancellableError{OrderID: id, Status: orders.StatusShipped}
		}
		resp, env := doJSON(t, http.MethodPatch, srv.URL+"/orders/o-1/cancel",
			map[string]string{}, map[string]string{"X-User-Id": "buyer-1"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Contains(t, env.Message, "shipped")
	})
}

func TestListOrdersEndpoint(t *testing.T) {
	stub := &stubOrderService{}
	srv := newTestServer(stub)
	defer srv.Close()

	resp, env := doJSON(t, http.MethodGet, srv.URL+"/orders?page=1&limit=20", nil,
		map[string]string{"X-User-Id": "buyer-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "orders")
	assert.Contains(t, data, "pagination")
}
