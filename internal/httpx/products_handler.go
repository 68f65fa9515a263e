package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/farmmarket/go-farm-orders/internal/catalog"
)

type ProductsHandler struct {
	Store *catalog.Store
	Log   *logrus.Logger
}

func (h *ProductsHandler) Register(r *chi.Mux) {
	r.Post("/products", h.createProduct)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Patch("/products/{id}/stock", h.adjustStock)
	r.Delete("/products/{id}", h.retireProduct)
}

type createProductReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	SKU         string `json:"sku,omitempty"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := caller(r)
	if sellerID == "" {
		writeFail(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req createProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" || req.PriceCents < 0 || req.Stock < 0 {
		writeFail(w, http.StatusBadRequest, "name required; price and stock must be non-negative")
		return
	}
	cat, err := catalog.ParseCategory(req.Category)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p := &catalog.Product{
		SellerID:    sellerID,
		Name:        req.Name,
		Description: req.Description,
		Category:    cat,
		SKU:         req.SKU,
		PriceCents:  req.PriceCents,
		Stock:       req.Stock,
	}
	if err := h.Store.Create(ctx, p); err != nil {
		h.Log.WithError(err).Error("create product")
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, "Product created successfully", p)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	f := catalog.ListFilter{
		Category: q.Get("category"),
		SellerID: q.Get("seller_id"),
		Page:     page,
		Limit:    limit,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, total, err := h.Store.List(ctx, f)
	if err != nil {
		h.Log.WithError(err).Error("list products")
		writeError(w, err)
		return
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	writeData(w, http.StatusOK, "", map[string]any{
		"products":   list,
		"pagination": paginate(f.Page, f.Limit, total),
	})
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Store.ByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", p)
}

type adjustStockReq struct {
	Delta int `json:"delta"`
}

func (h *ProductsHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := caller(r)
	if sellerID == "" {
		writeFail(w, http.StatusUnauthorized, "missing caller identity")
		return
	}
	var req adjustStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Store.AdjustStock(ctx, chi.URLParam(r, "id"), sellerID, req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, "Stock updated successfully", p)
}

func (h *ProductsHandler) retireProduct(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := caller(r)
	if sellerID == "" {
		writeFail(w, http.StatusUnauthorized, "missing caller identity")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Store.Retire(ctx, chi.URLParam(r, "id"), sellerID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, "Product retired successfully", nil)
}
