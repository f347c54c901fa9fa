package memory

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/gofrs/uuid/v5"
)

type orderRepo struct{ s *Store }

func (r orderRepo) Create(_ context.Context, o *model.Order) (err error) {
	r.s.lock(func(st *state) {
		for _, existing := range st.orders {
			if existing.OrderNumber == o.OrderNumber {
				err = errs.ErrAlreadyExists
				return
			}
		}
		now := r.s.now()
		o.CreatedAt, o.UpdatedAt = now, now
		for i := range o.Items {
			o.Items[i].OrderID = o.ID
		}
		st.orders[o.ID] = cloneOrder(*o)
	})
	return err
}

func (r orderRepo) GetByID(_ context.Context, id uuid.UUID) (out *model.Order, err error) {
	r.s.lock(func(st *state) {
		o, ok := st.orders[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		o = cloneOrder(o)
		out = &o
	})
	return out, err
}

func (r orderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.GetByID(ctx, id)
}

func (r orderRepo) List(_ context.Context, f model.OrderFilter) (out []model.Order, total int, err error) {
	r.s.lock(func(st *state) {
		for _, o := range st.orders {
			switch {
			case f.UserID != nil && o.UserID != *f.UserID:
				continue
			case f.Status != "" && o.Status != f.Status:
				continue
			case f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus:
				continue
			case f.From != nil && o.CreatedAt.Before(*f.From):
				continue
			case f.To != nil && !o.CreatedAt.Before(*f.To):
				continue
			}
			o.Items = nil
			out = append(out, o)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID.Bytes(), out[j].ID.Bytes()) > 0
	})
	return page(out, f.Offset, f.Limit), len(out), nil
}

func (r orderRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.OrderStatus, at time.Time) (err error) {
	r.s.lock(func(st *state) {
		o, ok := st.orders[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		o.Status = status
		o.UpdatedAt = at
		switch status {
		case model.OrderDelivered:
			o.DeliveredAt = &at
		case model.OrderCancelled:
			o.CancelledAt = &at
		}
		st.orders[id] = o
	})
	return err
}

func (r orderRepo) SetPaymentStatus(_ context.Context, id uuid.UUID, status model.PaymentStatus) (err error) {
	r.s.lock(func(st *state) {
		o, ok := st.orders[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		o.PaymentStatus = status
		o.UpdatedAt = r.s.now()
		st.orders[id] = o
	})
	return err
}

func (r orderRepo) AppendTracking(_ context.Context, e *model.TrackingEntry) error {
	r.s.lock(func(st *state) {
		st.seq++
		e.ID = st.seq
		e.CreatedAt = r.s.now()
		st.tracking = append(st.tracking, *e)
	})
	return nil
}

func (r orderRepo) Tracking(_ context.Context, orderID uuid.UUID) (out []model.TrackingEntry, err error) {
	r.s.lock(func(st *state) {
		for i := len(st.tracking) - 1; i >= 0; i-- {
			if st.tracking[i].OrderID == orderID {
				out = append(out, st.tracking[i])
			}
		}
	})
	return out, nil
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) Create(_ context.Context, p *model.Payment) (err error) {
	r.s.lock(func(st *state) {
		if p.ProviderRef != "" && refTaken(st, p.ProviderRef, p.ID) {
			err = errs.ErrAlreadyExists
			return
		}
		st.seq++
		now := r.s.now()
		// seq keeps creation order total even when the clock does not advance
		p.CreatedAt = now.Add(time.Duration(st.seq))
		p.UpdatedAt = now
		st.payments[p.ID] = clonePayment(*p)
	})
	return err
}

func refTaken(st *state, ref string, self uuid.UUID) bool {
	for id, p := range st.payments {
		if id != self && p.ProviderRef == ref {
			return true
		}
	}
	return false
}

func (r paymentRepo) LatestForOrder(_ context.Context, orderID uuid.UUID) (out *model.Payment, err error) {
	r.s.lock(func(st *state) {
		for _, p := range st.payments {
			if p.OrderID != orderID {
				continue
			}
			if out == nil || p.CreatedAt.After(out.CreatedAt) ||
				(p.CreatedAt.Equal(out.CreatedAt) && bytes.Compare(p.ID.Bytes(), out.ID.Bytes()) > 0) {
				cp := clonePayment(p)
				out = &cp
			}
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

func (r paymentRepo) GetByProviderRefForUpdate(_ context.Context, ref string) (out *model.Payment, err error) {
	r.s.lock(func(st *state) {
		for _, p := range st.payments {
			if p.ProviderRef == ref && ref != "" {
				cp := clonePayment(p)
				out = &cp
				return
			}
		}
		err = errs.ErrNotFound
	})
	return out, err
}

func (r paymentRepo) AttachProviderRef(_ context.Context, id uuid.UUID, ref string, status model.PaymentStatus) (err error) {
	r.s.lock(func(st *state) {
		p, ok := st.payments[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		if refTaken(st, ref, id) {
			err = errs.ErrAlreadyExists
			return
		}
		p.ProviderRef = ref
		p.Status = status
		p.UpdatedAt = r.s.now()
		st.payments[id] = p
	})
	return err
}

func (r paymentRepo) UpdateStatus(_ context.Context, id uuid.UUID, u model.PaymentUpdate) (err error) {
	r.s.lock(func(st *state) {
		p, ok := st.payments[id]
		if !ok {
			err = errs.ErrNotFound
			return
		}
		p.Status = u.Status
		if u.PaidAt != nil {
			p.PaidAt = u.PaidAt
		}
		p.FailureReason = u.FailureReason
		if len(u.Payload) > 0 {
			p.ProviderPayload = append([]byte(nil), u.Payload...)
		}
		p.UpdatedAt = r.s.now()
		st.payments[id] = p
	})
	return err
}
