package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/and161185/apinlero/internal/sanitize"
	"github.com/and161185/apinlero/internal/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

const maxPageSize = 100

// CatalogService exposes the storefront catalog and its admin operations.
type CatalogService interface {
	ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error)
	CreateCategory(ctx context.Context, in CategoryInput) (*model.Category, error)
	UpdateCategory(ctx context.Context, id uuid.UUID, in CategoryPatch) (*model.Category, error)
	DeleteCategory(ctx context.Context, id uuid.UUID) error

	ListProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID, includeInactive bool) (*model.Product, error)
	CreateProduct(ctx context.Context, in ProductInput) (*model.Product, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, in ProductPatch) (*model.Product, error)
	DeactivateProduct(ctx context.Context, id uuid.UUID) error
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error)
	UploadImage(ctx context.Context, productID uuid.UUID, r io.Reader) (string, error)
}

type CategoryInput struct {
	Name        string
	Description string
	IsActive    bool
	SortOrder   int
}

// CategoryPatch updates only the non-nil fields.
type CategoryPatch struct {
	Name        *string
	Description *string
	IsActive    *bool
	SortOrder   *int
}

type ProductInput struct {
	SKU         string
	Name        string
	Description string
	Price       int64
	Unit        string
	MinOrder    int
	Stock       int
	IsActive    bool
	IsFeatured  bool
	CategoryID  *uuid.UUID
}

// ProductPatch updates only the non-nil fields. Stock changes go through AdjustStock.
type ProductPatch struct {
	SKU           *string
	Name          *string
	Description   *string
	Price         *int64
	Unit          *string
	MinOrder      *int
	IsActive      *bool
	IsFeatured    *bool
	CategoryID    *uuid.UUID
	ClearCategory bool
}

// allowedImages maps sniffed MIME types to the stored extension.
var allowedImages = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

type CatalogServiceImpl struct {
	store    repository.Store
	objects  storage.ObjectStorage
	maxBytes int64
	log      *zap.Logger
}

var _ CatalogService = (*CatalogServiceImpl)(nil)

func NewCatalogService(store repository.Store, objects storage.ObjectStorage, maxUploadBytes int64, log *zap.Logger) *CatalogServiceImpl {
	return &CatalogServiceImpl{store: store, objects: objects, maxBytes: maxUploadBytes, log: log}
}

// Slugify lowercases, folds accents and joins words with hyphens: "Ẹ̀fọ́ Rírò" -> "efo-riro".
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFD.String(strings.ToLower(s)) {
		switch {
		case unicode.Is(unicode.Mn, r):
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	return b.String()
}

func (s *CatalogServiceImpl) ListCategories(ctx context.Context, activeOnly bool) ([]model.Category, error) {
	return s.store.Categories().List(ctx, activeOnly)
}

func (s *CatalogServiceImpl) CreateCategory(ctx context.Context, in CategoryInput) (*model.Category, error) {
	name := sanitize.FreeText(in.Name)
	if err := requireName(name); err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	c := &model.Category{
		ID:          id,
		Name:        name,
		Slug:        Slugify(name),
		Description: sanitize.FreeText(in.Description),
		IsActive:    in.IsActive,
		SortOrder:   in.SortOrder,
	}
	if err := s.store.Categories().Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CatalogServiceImpl) UpdateCategory(ctx context.Context, id uuid.UUID, in CategoryPatch) (*model.Category, error) {
	var out *model.Category
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		c, err := tx.Categories().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			name := sanitize.FreeText(*in.Name)
			if err := requireName(name); err != nil {
				return err
			}
			c.Name, c.Slug = name, Slugify(name)
		}
		if in.Description != nil {
			c.Description = sanitize.FreeText(*in.Description)
		}
		if in.IsActive != nil {
			c.IsActive = *in.IsActive
		}
		if in.SortOrder != nil {
			c.SortOrder = *in.SortOrder
		}
		out = c
		return tx.Categories().Update(ctx, c)
	})
	return out, err
}

// DeleteCategory removes the category; its products stay, uncategorised.
func (s *CatalogServiceImpl) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return s.store.Categories().Delete(ctx, id)
}

func (s *CatalogServiceImpl) ListProducts(ctx context.Context, f model.ProductFilter) ([]model.Product, error) {
	f.Search = sanitize.Search(f.Search)
	f.Offset, f.Limit = clampPage(f.Offset, f.Limit)
	return s.store.Products().List(ctx, f)
}

// GetProduct hides inactive products unless includeInactive is set.
func (s *CatalogServiceImpl) GetProduct(ctx context.Context, id uuid.UUID, includeInactive bool) (*model.Product, error) {
	p, err := s.store.Products().GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) || (err == nil && !p.IsActive && !includeInactive) {
		return nil, errs.ErrProductNotFound
	}
	return p, err
}

func (s *CatalogServiceImpl) CreateProduct(ctx context.Context, in ProductInput) (*model.Product, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	p := &model.Product{
		ID:          id,
		SKU:         strings.ToUpper(strings.TrimSpace(in.SKU)),
		Name:        sanitize.FreeText(in.Name),
		Description: sanitize.FreeText(in.Description),
		Price:       in.Price,
		Unit:        sanitize.Name(in.Unit),
		MinOrder:    in.MinOrder,
		Stock:       in.Stock,
		IsActive:    in.IsActive,
		IsFeatured:  in.IsFeatured,
		CategoryID:  in.CategoryID,
	}
	if p.MinOrder == 0 {
		p.MinOrder = 1
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		if err := s.checkCategory(ctx, tx, p.CategoryID); err != nil {
			return err
		}
		return tx.Products().Create(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *CatalogServiceImpl) UpdateProduct(ctx context.Context, id uuid.UUID, in ProductPatch) (*model.Product, error) {
	var out *model.Product
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		p, err := tx.Products().GetByID(ctx, id)
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrProductNotFound
		}
		if err != nil {
			return err
		}
		if in.SKU != nil {
			p.SKU = strings.ToUpper(strings.TrimSpace(*in.SKU))
		}
		if in.Name != nil {
			p.Name = sanitize.FreeText(*in.Name)
		}
		if in.Description != nil {
			p.Description = sanitize.FreeText(*in.Description)
		}
		if in.Price != nil {
			p.Price = *in.Price
		}
		if in.Unit != nil {
			p.Unit = sanitize.Name(*in.Unit)
		}
		if in.MinOrder != nil {
			p.MinOrder = *in.MinOrder
		}
		if in.IsActive != nil {
			p.IsActive = *in.IsActive
		}
		if in.IsFeatured != nil {
			p.IsFeatured = *in.IsFeatured
		}
		switch {
		case in.ClearCategory:
			p.CategoryID = nil
		case in.CategoryID != nil:
			if err := s.checkCategory(ctx, tx, in.CategoryID); err != nil {
				return err
			}
			p.CategoryID = in.CategoryID
		}
		if err := validateProduct(p); err != nil {
			return err
		}
		out = p
		return tx.Products().Update(ctx, p)
	})
	return out, err
}

// DeactivateProduct hides the product from the storefront. Orders keep their snapshots.
func (s *CatalogServiceImpl) DeactivateProduct(ctx context.Context, id uuid.UUID) error {
	off := false
	_, err := s.UpdateProduct(ctx, id, ProductPatch{IsActive: &off})
	return err
}

// AdjustStock applies a relative stock change; the result never goes below zero.
func (s *CatalogServiceImpl) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	n, err := s.store.Products().AdjustStock(ctx, id, delta)
	if errors.Is(err, errs.ErrNotFound) {
		return 0, errs.ErrProductNotFound
	}
	return n, err
}

// UploadImage sniffs the content type, stores the image under products/<id>/ and records its URL.
func (s *CatalogServiceImpl) UploadImage(ctx context.Context, productID uuid.UUID, r io.Reader) (string, error) {
	if _, err := s.store.Products().GetByID(ctx, productID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", errs.ErrProductNotFound
		}
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", errs.ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return "", errs.ErrFileTooLarge.WithMessage("file exceeds the %d byte limit", s.maxBytes)
	}
	mt := mimetype.Detect(data).String()
	ext, ok := allowedImages[mt]
	if !ok {
		return "", errs.ErrUnsupportedType.WithMessage("file type %s is not allowed", mt)
	}

	name, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("products/%s/%s.%s", productID, name, ext)
	url, err := s.objects.Put(ctx, key, mt, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	if err := s.store.Products().SetImageURL(ctx, productID, url); err != nil {
		if derr := s.objects.Delete(ctx, key); derr != nil {
			s.log.Warn("orphaned upload", zap.String("key", key), zap.Error(derr))
		}
		return "", err
	}
	return url, nil
}

func (s *CatalogServiceImpl) checkCategory(ctx context.Context, tx repository.Store, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	if _, err := tx.Categories().GetByID(ctx, *id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrValidation.WithDetails([]errs.FieldError{{Field: "categoryId", Message: "unknown category"}})
		}
		return err
	}
	return nil
}

func requireName(name string) error {
	if name == "" {
		return errs.ErrValidation.WithDetails([]errs.FieldError{{Field: "name", Message: "is required"}})
	}
	return nil
}

func validateProduct(p *model.Product) error {
	var bad []errs.FieldError
	if p.SKU == "" {
		bad = append(bad, errs.FieldError{Field: "sku", Message: "is required"})
	}
	if p.Name == "" {
		bad = append(bad, errs.FieldError{Field: "name", Message: "is required"})
	}
	if p.Price <= 0 {
		bad = append(bad, errs.FieldError{Field: "price", Message: "must be greater than 0"})
	}
	if p.MinOrder < 1 {
		bad = append(bad, errs.FieldError{Field: "minOrder", Message: "must be at least 1"})
	}
	if p.Stock < 0 {
		bad = append(bad, errs.FieldError{Field: "stock", Message: "must not be negative"})
	}
	if len(bad) > 0 {
		return errs.ErrValidation.WithDetails(bad)
	}
	return nil
}

func sortFieldErrors(fe []errs.FieldError) {
	sort.Slice(fe, func(i, j int) bool { return fe[i].Field < fe[j].Field })
}

func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return offset, limit
}
