package catalog

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("product not found")
	ErrForbidden         = errors.New("product belongs to another seller")
	ErrInsufficientStock = errors.New("stock cannot go below zero")
	ErrInvalidCategory   = errors.New("invalid product category")
)

type Category string

const (
	CategorySeeds       Category = "seeds"
	CategoryFertilizers Category = "fertilizers"
	CategoryTools       Category = "tools"
	CategoryEquipment   Category = "equipment"
	CategoryPesticides  Category = "pesticides"
	CategoryOther       Category = "other"
)

func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategorySeeds, CategoryFertilizers, CategoryTools, CategoryEquipment, CategoryPesticides, CategoryOther:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

type Product struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"seller_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	SKU         string    `json:"sku,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Stock       int       `json:"stock"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
