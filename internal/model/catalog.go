package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Category groups products in the storefront.
type Category struct {
	ID          uuid.UUID
	Name        string
	Slug        string // unique
	Description string
	IsActive    bool
	SortOrder   int
	CreatedAt   time.Time
}

// Product is a sellable item. Stock is never negative.
type Product struct {
	ID          uuid.UUID
	SKU         string // unique
	Name        string
	Description string
	Price       int64  // minor units
	Unit        string // e.g. "kg", "pack"
	MinOrder    int
	Stock       int
	IsActive    bool
	IsFeatured  bool
	CategoryID  *uuid.UUID
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	CategoryID *uuid.UUID
	Search     string
	Featured   *bool
	ActiveOnly bool
	Offset     int
	Limit      int
}

// Cart is the single active cart of a user.
type Cart struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem references a product; prices are always read live.
type CartItem struct {
	ProductID uuid.UUID
	Quantity  int
	AddedAt   time.Time
}

// Find returns the line for a product, if present.
func (c *Cart) Find(productID uuid.UUID) (CartItem, bool) {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return CartItem{}, false
}

// ProductIDs lists the products referenced by the cart in line order.
func (c *Cart) ProductIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
