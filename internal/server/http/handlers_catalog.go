package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/money"
	"github.com/and161185/apinlero/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
)

type categoryRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	IsActive    *bool  `json:"isActive"`
	SortOrder   int    `json:"sortOrder"`
}

type categoryPatchRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
	SortOrder   *int    `json:"sortOrder"`
}

type productRequest struct {
	SKU         string  `json:"sku" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Price       string  `json:"price" binding:"required"`
	Unit        string  `json:"unit"`
	MinOrder    int     `json:"minOrder" binding:"gte=0"`
	Stock       int     `json:"stock" binding:"gte=0"`
	IsActive    *bool   `json:"isActive"`
	IsFeatured  bool    `json:"isFeatured"`
	CategoryID  *string `json:"categoryId" binding:"omitempty,uuid"`
}

type productPatchRequest struct {
	SKU           *string `json:"sku"`
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	Price         *string `json:"price"`
	Unit          *string `json:"unit"`
	MinOrder      *int    `json:"minOrder"`
	IsActive      *bool   `json:"isActive"`
	IsFeatured    *bool   `json:"isFeatured"`
	CategoryID    *string `json:"categoryId" binding:"omitempty,uuid"`
	ClearCategory bool    `json:"clearCategory"`
}

type stockRequest struct {
	Delta int `json:"delta" binding:"required"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func uuidPtr(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id := uuid.FromStringOrNil(*s)
	return &id
}

func priceField(s string) (int64, error) {
	v, err := money.Parse(s)
	if err != nil {
		return 0, errs.ErrValidation.WithDetails([]errs.FieldError{{Field: "price", Message: "must be a decimal amount"}})
	}
	return v, nil
}

func (s *Server) listCategories(c *gin.Context) {
	list, err := s.catalog.ListCategories(c.Request.Context(), true)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]categoryDTO, 0, len(list))
	for i := range list {
		out = append(out, toCategory(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"categories": out})
}

// productFilter reads category, search, featured, offset and limit query parameters.
func productFilter(c *gin.Context) (model.ProductFilter, error) {
	f := model.ProductFilter{Search: c.Query("search"), ActiveOnly: true}
	var bad []errs.FieldError
	if v := c.Query("category"); v != "" {
		id, err := uuid.FromString(v)
		if err != nil {
			bad = append(bad, errs.FieldError{Field: "category", Message: "must be a UUID"})
		} else {
			f.CategoryID = &id
		}
	}
	if v := c.Query("featured"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			bad = append(bad, errs.FieldError{Field: "featured", Message: "must be a boolean"})
		} else {
			f.Featured = &b
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		} else {
			bad = append(bad, errs.FieldError{Field: "offset", Message: "must be a non-negative integer"})
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Limit = n
		} else {
			bad = append(bad, errs.FieldError{Field: "limit", Message: "must be a non-negative integer"})
		}
	}
	if len(bad) > 0 {
		return f, errs.ErrValidation.WithDetails(bad)
	}
	return f, nil
}

func (s *Server) listProducts(c *gin.Context) {
	f, err := productFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	list, err := s.catalog.ListProducts(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]productDTO, 0, len(list))
	for i := range list {
		out = append(out, toProduct(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"products": out})
}

func (s *Server) getProduct(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	p, err := s.catalog.GetProduct(c.Request.Context(), id, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toProduct(p))
}

func (s *Server) adminCreateCategory(c *gin.Context) {
	var req categoryRequest
	if !s.bindJSON(c, &req) {
		return
	}
	cat, err := s.catalog.CreateCategory(c.Request.Context(), service.CategoryInput{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    boolOr(req.IsActive, true),
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCategory(cat))
}

func (s *Server) adminUpdateCategory(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	var req categoryPatchRequest
	if !s.bindJSON(c, &req) {
		return
	}
	cat, err := s.catalog.UpdateCategory(c.Request.Context(), id, service.CategoryPatch{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCategory(cat))
}

func (s *Server) adminDeleteCategory(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	if err := s.catalog.DeleteCategory(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) adminCreateProduct(c *gin.Context) {
	var req productRequest
	if !s.bindJSON(c, &req) {
		return
	}
	price, err := priceField(req.Price)
	if err != nil {
		s.fail(c, err)
		return
	}
	p, err := s.catalog.CreateProduct(c.Request.Context(), service.ProductInput{
		SKU:         req.SKU,
		Name:        req.Name,
		Description: req.Description,
		Price:       price,
		Unit:        req.Unit,
		MinOrder:    req.MinOrder,
		Stock:       req.Stock,
		IsActive:    boolOr(req.IsActive, true),
		IsFeatured:  req.IsFeatured,
		CategoryID:  uuidPtr(req.CategoryID),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProduct(p))
}

func (s *Server) adminUpdateProduct(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	var req productPatchRequest
	if !s.bindJSON(c, &req) {
		return
	}
	patch := service.ProductPatch{
		SKU:           req.SKU,
		Name:          req.Name,
		Description:   req.Description,
		Unit:          req.Unit,
		MinOrder:      req.MinOrder,
		IsActive:      req.IsActive,
		IsFeatured:    req.IsFeatured,
		CategoryID:    uuidPtr(req.CategoryID),
		ClearCategory: req.ClearCategory,
	}
	if req.Price != nil {
		price, err := priceField(*req.Price)
		if err != nil {
			s.fail(c, err)
			return
		}
		patch.Price = &price
	}
	p, err := s.catalog.UpdateProduct(c.Request.Context(), id, patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toProduct(p))
}

func (s *Server) adminDeactivateProduct(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	if err := s.catalog.DeactivateProduct(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) adminAdjustStock(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	var req stockRequest
	if !s.bindJSON(c, &req) {
		return
	}
	stock, err := s.catalog.AdjustStock(c.Request.Context(), id, req.Delta)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"productId": id.String(), "stock": stock})
}

// adminUploadImage accepts a multipart form with an "image" file part.
func (s *Server) adminUploadImage(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	// Room for multipart framing on top of the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+64<<10)
	fh, err := c.FormFile("image")
	if err != nil {
		var me *http.MaxBytesError
		if errors.As(err, &me) {
			s.fail(c, errs.ErrFileTooLarge)
			return
		}
		s.fail(c, errs.ErrValidation.WithDetails([]errs.FieldError{{Field: "image", Message: "file part is required"}}))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()

	url, err := s.catalog.UploadImage(c.Request.Context(), id, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"productId": id.String(), "imageUrl": url})
}
