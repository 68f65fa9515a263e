package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/farmmarket/go-farm-orders/internal/catalog"
	"github.com/farmmarket/go-farm-orders/internal/orders"
)

// Envelope is the response shape shared by every endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type Pagination struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	Total       int `json:"total"`
	Limit       int `json:"limit"`
}

func paginate(page, limit, total int) Pagination {
	pages := total / limit
	if total%limit != 0 {
		pages++
	}
	return Pagination{CurrentPage: page, TotalPages: pages, Total: total, Limit: limit}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, Envelope{Success: true, Message: message, Data: data})
}

func writeFail(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, Envelope{Success: false, Message: message})
}

// writeError maps the domain error taxonomy to HTTP codes. Unexpected
// errors return a generic 500; details stay in the logs.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalidQty   *orders.InvalidQuantityError
		prodNotFound *orders.ProductNotFoundError
		noStock      *orders.InsufficientStockError
		notCancel    *orders.NotCancellableError
		badEdge      *orders.InvalidTransitionError
	)
	switch {
	case errors.Is(err, orders.ErrEmptyOrder),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, orders.ErrInvalidPayment),
		errors.Is(err, orders.ErrMissingShipping),
		errors.Is(err, catalog.ErrInvalidCategory),
		errors.As(err, &invalidQty):
		writeFail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.As(err, &prodNotFound):
		writeFail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrForbidden):
		writeFail(w, http.StatusForbidden, err.Error())
	case errors.Is(err, orders.ErrConflict),
		errors.Is(err, orders.ErrDuplicateExternalID),
		errors.Is(err, catalog.ErrInsufficientStock),
		errors.As(err, &noStock),
		errors.As(err, &notCancel),
		errors.As(err, &badEdge):
		writeFail(w, http.StatusConflict, err.Error())
	default:
		writeFail(w, http.StatusInternalServerError, "internal server error")
	}
}
