package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// CartService manages the per-user shopping cart.
type CartService interface {
	Get(ctx context.Context, userID uuid.UUID) (*CartView, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*CartView, error)
	UpdateItemQuantity(ctx context.Context, userID, productID uuid.UUID, qty int) (*CartView, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*CartView, error)
	Clear(ctx context.Context, userID uuid.UUID) error
	Validate(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// CartView is a cart priced against the live catalog.
type CartView struct {
	ID        uuid.UUID
	Lines     []CartLine
	Subtotal  int64
	ItemCount int
}

// CartLine is one cart line joined to its product. Missing products have Available=false and no price.
type CartLine struct {
	ProductID uuid.UUID
	Name      string
	SKU       string
	Unit      string
	ImageURL  string
	UnitPrice int64
	Quantity  int
	LineTotal int64
	Stock     int
	MinOrder  int
	Available bool
}

type CartServiceImpl struct {
	store repository.Store
}

var _ CartService = (*CartServiceImpl)(nil)

func NewCartService(store repository.Store) *CartServiceImpl {
	return &CartServiceImpl{store: store}
}

func (s *CartServiceImpl) Get(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	return s.view(ctx, s.store, userID)
}

// AddItem merges qty into the existing line and checks the cumulative quantity.
func (s *CartServiceImpl) AddItem(ctx context.Context, userID, productID uuid.UUID, qty int) (*CartView, error) {
	if qty < 1 {
		return nil, errs.ErrInvalidQuantity
	}
	var out *CartView
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		cart, err := tx.Carts().GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		total := qty
		if it, ok := cart.Find(productID); ok {
			total += it.Quantity
		}
		if err := s.setQuantity(ctx, tx, cart, productID, total); err != nil {
			return err
		}
		out, err = s.view(ctx, tx, userID)
		return err
	})
	return out, err
}

// UpdateItemQuantity replaces a line quantity; qty <= 0 removes the line.
func (s *CartServiceImpl) UpdateItemQuantity(ctx context.Context, userID, productID uuid.UUID, qty int) (*CartView, error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, userID, productID)
	}
	var out *CartView
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		cart, err := tx.Carts().GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.setQuantity(ctx, tx, cart, productID, qty); err != nil {
			return err
		}
		out, err = s.view(ctx, tx, userID)
		return err
	})
	return out, err
}

func (s *CartServiceImpl) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*CartView, error) {
	var out *CartView
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		cart, err := tx.Carts().GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.Carts().RemoveItem(ctx, cart.ID, productID); err != nil {
			return err
		}
		out, err = s.view(ctx, tx, userID)
		return err
	})
	return out, err
}

func (s *CartServiceImpl) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.store.InTx(ctx, func(tx repository.Store) error {
		cart, err := tx.Carts().GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		return tx.Carts().Clear(ctx, cart.ID)
	})
}

// Validate re-checks every line against the current catalog. An empty result means the cart can be ordered.
func (s *CartServiceImpl) Validate(ctx context.Context, userID uuid.UUID) ([]string, error) {
	cart, err := s.store.Carts().GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	products, err := s.store.Products().GetMany(ctx, cart.ProductIDs(), false)
	if err != nil {
		return nil, err
	}
	return validateLines(cart, products), nil
}

func (s *CartServiceImpl) setQuantity(ctx context.Context, tx repository.Store, cart *model.Cart, productID uuid.UUID, qty int) error {
	p, err := tx.Products().GetByID(ctx, productID)
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrProductNotFound
	}
	if err != nil {
		return err
	}
	if err := checkLine(p, qty); err != nil {
		return err
	}
	return tx.Carts().SetItemQuantity(ctx, cart.ID, productID, qty)
}

func (s *CartServiceImpl) view(ctx context.Context, st repository.Store, userID uuid.UUID) (*CartView, error) {
	cart, err := st.Carts().GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	products, err := st.Products().GetMany(ctx, cart.ProductIDs(), false)
	if err != nil {
		return nil, err
	}
	return buildView(cart, products), nil
}

// checkLine validates a requested quantity against a product.
func checkLine(p *model.Product, qty int) error {
	switch {
	case !p.IsActive:
		return errs.ErrProductUnavailable.WithMessage("%s is no longer available", p.Name)
	case qty < p.MinOrder:
		return errs.ErrMinOrderNotMet.WithMessage("%s: minimum order is %d", p.Name, p.MinOrder).
			WithDetails(map[string]int{"minOrder": p.MinOrder, "requested": qty})
	case qty > p.Stock:
		return errs.ErrInsufficientStock.WithMessage("%s: only %d left in stock", p.Name, p.Stock).
			WithDetails(map[string]int{"available": p.Stock, "requested": qty})
	}
	return nil
}

// validateLines reports one violation per offending line, in cart order.
func validateLines(cart *model.Cart, products map[uuid.UUID]*model.Product) []string {
	violations := []string{}
	for _, it := range cart.Items {
		p, ok := products[it.ProductID]
		if !ok {
			violations = append(violations, fmt.Sprintf("product %s no longer exists", it.ProductID))
			continue
		}
		if err := checkLine(p, it.Quantity); err != nil {
			e, _ := errs.As(err)
			violations = append(violations, e.Message)
		}
	}
	return violations
}

func buildView(cart *model.Cart, products map[uuid.UUID]*model.Product) *CartView {
	v := &CartView{ID: cart.ID, Lines: make([]CartLine, 0, len(cart.Items))}
	for _, it := range cart.Items {
		line := CartLine{ProductID: it.ProductID, Quantity: it.Quantity}
		if p, ok := products[it.ProductID]; ok {
			line.Name, line.SKU, line.Unit, line.ImageURL = p.Name, p.SKU, p.Unit, p.ImageURL
			line.UnitPrice = p.Price
			line.LineTotal = p.Price * int64(it.Quantity)
			line.Stock, line.MinOrder = p.Stock, p.MinOrder
			line.Available = p.IsActive
			v.Subtotal += line.LineTotal
		}
		v.ItemCount += it.Quantity
		v.Lines = append(v.Lines, line)
	}
	return v
}
