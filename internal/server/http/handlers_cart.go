package httpserver

import (
	"net/http"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
)

type addItemRequest struct {
	ProductID string `json:"productId" binding:"required,uuid"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type addressRequest struct {
	Label     string `json:"label"`
	Line1     string `json:"line1" binding:"required"`
	Line2     string `json:"line2"`
	City      string `json:"city" binding:"required"`
	Region    string `json:"region"`
	Postcode  string `json:"postcode" binding:"required"`
	Phone     string `json:"phone"`
	IsDefault bool   `json:"isDefault"`
}

// pathID parses a UUID path parameter, answering 400 when it is malformed.
func (s *Server) pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param(name))
	if err != nil {
		s.fail(c, errs.ErrValidation.WithDetails([]errs.FieldError{{Field: name, Message: "must be a UUID"}}))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) getCart(c *gin.Context) {
	v, err := s.carts.Get(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCart(v))
}

func (s *Server) clearCart(c *gin.Context) {
	if err := s.carts.Clear(c.Request.Context(), userID(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) addCartItem(c *gin.Context) {
	var req addItemRequest
	if !s.bindJSON(c, &req) {
		return
	}
	pid := uuid.FromStringOrNil(req.ProductID)
	v, err := s.carts.AddItem(c.Request.Context(), userID(c), pid, req.Quantity)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCart(v))
}

func (s *Server) updateCartItem(c *gin.Context) {
	pid, ok := s.pathID(c, "productId")
	if !ok {
		return
	}
	var req updateItemRequest
	if !s.bindJSON(c, &req) {
		return
	}
	v, err := s.carts.UpdateItemQuantity(c.Request.Context(), userID(c), pid, *req.Quantity)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCart(v))
}

func (s *Server) removeCartItem(c *gin.Context) {
	pid, ok := s.pathID(c, "productId")
	if !ok {
		return
	}
	v, err := s.carts.RemoveItem(c.Request.Context(), userID(c), pid)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCart(v))
}

func (s *Server) validateCart(c *gin.Context) {
	problems, err := s.carts.Validate(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if problems == nil {
		problems = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"valid": len(problems) == 0, "violations": problems})
}

func (s *Server) listAddresses(c *gin.Context) {
	list, err := s.addresses.List(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]addressDTO, 0, len(list))
	for i := range list {
		out = append(out, toAddress(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"addresses": out})
}

func (s *Server) createAddress(c *gin.Context) {
	var req addressRequest
	if !s.bindJSON(c, &req) {
		return
	}
	a, err := s.addresses.Create(c.Request.Context(), userID(c), service.AddressInput{
		Label:     req.Label,
		Line1:     req.Line1,
		Line2:     req.Line2,
		City:      req.City,
		Region:    req.Region,
		Postcode:  req.Postcode,
		Phone:     req.Phone,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAddress(a))
}

func (s *Server) deleteAddress(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	if err := s.addresses.Delete(c.Request.Context(), userID(c), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
