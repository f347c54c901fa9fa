package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

type categoryRepo struct{ s *Store }

func (r categoryRepo) List(_ context.Context, activeOnly bool) (out []model.Category, err error) {
	r.s.lock(func(st *state) {
		for _, c := range st.categories {
			if activeOnly && !c.IsActive {
				continue
			}
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r categoryRepo) GetByID(_ context.Context, id uuid.UUID) (out *model.Category, err error) {
	r.s.lock(func(st *state) {
		c, ok := st.categories[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		out = &c
	})
	return out, err
}

func slugTaken(st *state, slug string, self uuid.UUID) bool {
	for id, c := range st.categories {
		if id != self && c.Slug == slug {
			return true
		}
	}
	return false
}

func (r categoryRepo) Create(_ context.Context, c *model.Category) (err error) {
	r.s.lock(func(st *state) {
		if slugTaken(st, c.Slug, c.ID) {
			err = errs.ErrAlreadyExists
			return
		}
		c.CreatedAt = r.s.now()
		st.categories[c.ID] = *c
	})
	return err
}

func (r categoryRepo) Update(_ context.Context, c *model.Category) (err error) {
	r.s.lock(func(st *state) {
		old, ok := st.categories[c.ID]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		if slugTaken(st, c.Slug, c.ID) {
			err = errs.ErrAlreadyExists
			return
		}
		c.CreatedAt = old.CreatedAt
		st.categories[c.ID] = *c
	})
	return err
}

func (r categoryRepo) Delete(_ context.Context, id uuid.UUID) (err error) {
	r.s.lock(func(st *state) {
		if _, ok := st.categories[id]; !ok {
			err = errs.ErrNotFound
			return
		}
		delete(st.categories, id)
		for pid, p := range st.products {
			if p.CategoryID != nil && *p.CategoryID == id {
				p.CategoryID = nil
				st.products[pid] = p
			}
		}
	})
	return err
}

type productRepo struct{ s *Store }

func (r productRepo) List(_ context.Context, f model.ProductFilter) (out []model.Product, err error) {
	search := strings.ToLower(f.Search)
	r.s.lock(func(st *state) {
		for _, p := range st.products {
			switch {
			case f.ActiveOnly && !p.IsActive:
				continue
			case f.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *f.CategoryID):
				continue
			case f.Featured != nil && p.IsFeatured != *f.Featured:
				continue
			case search != "" && !strings.Contains(strings.ToLower(p.Name), search) &&
				!strings.Contains(strings.ToLower(p.SKU), search):
				continue
			}
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return page(out, f.Offset, f.Limit), nil
}

func page[T any](in []T, offset, limit int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func (r productRepo) GetByID(_ context.Context, id uuid.UUID) (out *model.Product, err error) {
	r.s.lock(func(st *state) {
		p, ok := st.products[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		out = &p
	})
	return out, err
}

func (r productRepo) GetMany(_ context.Context, ids []uuid.UUID, _ bool) (map[uuid.UUID]*model.Product, error) {
	out := make(map[uuid.UUID]*model.Product, len(ids))
	r.s.lock(func(st *state) {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				out[id] = &p
			}
		}
	})
	return out, nil
}

func skuTaken(st *state, sku string, self uuid.UUID) bool {
	for id, p := range st.products {
		if id != self && p.SKU == sku {
			return true
		}
	}
	return false
}

func (r productRepo) Create(_ context.Context, p *model.Product) (err error) {
	r.s.lock(func(st *state) {
		if skuTaken(st, p.SKU, p.ID) {
			err = errs.ErrAlreadyExists
			return
		}
		now := r.s.now()
		p.CreatedAt, p.UpdatedAt = now, now
		st.products[p.ID] = *p
	})
	return err
}

func (r productRepo) Update(_ context.Context, p *model.Product) (err error) {
	r.s.lock(func(st *state) {
		old, ok := st.products[p.ID]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		if skuTaken(st, p.SKU, p.ID) {
			err = errs.ErrAlreadyExists
			return
		}
		p.Stock = old.Stock
		p.ImageURL = old.ImageURL
		p.CreatedAt = old.CreatedAt
		p.UpdatedAt = r.s.now()
		st.products[p.ID] = *p
	})
	return err
}

func (r productRepo) AdjustStock(_ context.Context, id uuid.UUID, delta int) (stock int, err error) {
	r.s.lock(func(st *state) {
		p, ok := st.products[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		if p.Stock+delta < 0 {
			err = errs.ErrInsufficientStock
			return
		}
		p.Stock += delta
		p.UpdatedAt = r.s.now()
		st.products[id] = p
		stock = p.Stock
	})
	return stock, err
}

func (r productRepo) SetImageURL(_ context.Context, id uuid.UUID, url string) (err error) {
	r.s.lock(func(st *state) {
		p, ok := st.products[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		p.ImageURL = url
		st.products[id] = p
	})
	return err
}

type cartRepo struct{ s *Store }

func (r cartRepo) GetOrCreate(_ context.Context, userID uuid.UUID) (out *model.Cart, err error) {
	r.s.lock(func(st *state) {
		c, ok := st.carts[userID]
		if !ok {
			c = model.Cart{ID: uuid.Must(uuid.NewV4()), UserID: userID, UpdatedAt: r.s.now()}
			st.carts[userID] = c
		}
		c = cloneCart(c)
		out = &c
	})
	return out, nil
}

// cartByID finds the owning user key of a cart.
func cartByID(st *state, cartID uuid.UUID) (uuid.UUID, model.Cart, bool) {
	for uid, c := range st.carts {
		if c.ID == cartID {
			return uid, c, true
		}
	}
	return uuid.Nil, model.Cart{}, false
}

func (r cartRepo) SetItemQuantity(_ context.Context, cartID, productID uuid.UUID, qty int) (err error) {
	r.s.lock(func(st *state) {
		uid, c, ok := cartByID(st, cartID)
		if !ok {
			err = errs.ErrNotFound
			return
		}
		c = cloneCart(c)
		now := r.s.now()
		replaced := false
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items[i].Quantity = qty
				replaced = true
			}
		}
		if !replaced {
			c.Items = append(c.Items, model.CartItem{ProductID: productID, Quantity: qty, AddedAt: now})
		}
		c.UpdatedAt = now
		st.carts[uid] = c
	})
	return err
}

func (r cartRepo) RemoveItem(_ context.Context, cartID, productID uuid.UUID) error {
	r.s.lock(func(st *state) {
		uid, c, ok := cartByID(st, cartID)
		if !ok {
			return
		}
		kept := make([]model.CartItem, 0, len(c.Items))
		for _, it := range c.Items {
			if it.ProductID != productID {
				kept = append(kept, it)
			}
		}
		c.Items = kept
		c.UpdatedAt = r.s.now()
		st.carts[uid] = c
	})
	return nil
}

func (r cartRepo) Clear(_ context.Context, cartID uuid.UUID) error {
	r.s.lock(func(st *state) {
		uid, c, ok := cartByID(st, cartID)
		if !ok {
			return
		}
		c.Items = nil
		c.UpdatedAt = r.s.now()
		st.carts[uid] = c
	})
	return nil
}
