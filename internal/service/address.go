package service

import (
	"context"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/and161185/apinlero/internal/sanitize"
	"github.com/gofrs/uuid/v5"
)

// AddressService manages a user's delivery addresses.
type AddressService interface {
	List(ctx context.Context, userID uuid.UUID) ([]model.Address, error)
	Create(ctx context.Context, userID uuid.UUID, in AddressInput) (*model.Address, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

type AddressInput struct {
	Label     string
	Line1     string
	Line2     string
	City      string
	Region    string
	Postcode  string
	Phone     string
	IsDefault bool
}

type AddressServiceImpl struct {
	store repository.Store
}

var _ AddressService = (*AddressServiceImpl)(nil)

func NewAddressService(store repository.Store) *AddressServiceImpl {
	return &AddressServiceImpl{store: store}
}

func (s *AddressServiceImpl) List(ctx context.Context, userID uuid.UUID) ([]model.Address, error) {
	return s.store.Addresses().ListByUser(ctx, userID)
}

// Create stores a sanitized address. The first address, or one flagged default, becomes the default.
func (s *AddressServiceImpl) Create(ctx context.Context, userID uuid.UUID, in AddressInput) (*model.Address, error) {
	a := &model.Address{
		UserID:    userID,
		Label:     sanitize.Name(in.Label),
		Line1:     sanitize.AddressLine(in.Line1),
		Line2:     sanitize.AddressLine(in.Line2),
		City:      sanitize.AddressLine(in.City),
		Region:    sanitize.AddressLine(in.Region),
		Postcode:  sanitize.Postcode(in.Postcode),
		Phone:     sanitize.Phone(in.Phone),
		IsDefault: in.IsDefault,
	}
	var bad []errs.FieldError
	for field, v := range map[string]string{"line1": a.Line1, "city": a.City, "postcode": a.Postcode} {
		if v == "" {
			bad = append(bad, errs.FieldError{Field: field, Message: "is required"})
		}
	}
	if len(bad) > 0 {
		sortFieldErrors(bad)
		return nil, errs.ErrValidation.WithDetails(bad)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	a.ID = id

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		existing, err := tx.Addresses().ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			a.IsDefault = true
		}
		if a.IsDefault {
			if err := tx.Addresses().ClearDefault(ctx, userID); err != nil {
				return err
			}
		}
		return tx.Addresses().Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AddressServiceImpl) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.store.Addresses().Delete(ctx, userID, id)
}
