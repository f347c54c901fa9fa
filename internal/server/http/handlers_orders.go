package httpserver

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/money"
	"github.com/and161185/apinlero/internal/payment"
	"github.com/and161185/apinlero/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

type createOrderRequest struct {
	AddressID     string `json:"addressId" binding:"required,uuid"`
	PaymentMethod string `json:"paymentMethod" binding:"required,oneof=CARD CASH_ON_DELIVERY BANK_TRANSFER"`
	Notes         string `json:"notes"`
	ExpectedTotal string `json:"expectedTotal" binding:"required"`
}

type updateStatusRequest struct {
	Status      string `json:"status" binding:"required"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type initPaymentRequest struct {
	OrderID     string `json:"orderId" binding:"required,uuid"`
	ClientTotal string `json:"clientTotal" binding:"required"`
}

// amountField parses a client-asserted decimal total.
func amountField(field, s string) (*int64, error) {
	v, err := money.Parse(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return nil, errs.ErrValidation.WithDetails([]errs.FieldError{{Field: field, Message: "must be a decimal amount"}})
	}
	return &v, nil
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if !s.bindJSON(c, &req) {
		return
	}
	expected, err := amountField("expectedTotal", req.ExpectedTotal)
	if err != nil {
		s.fail(c, err)
		return
	}
	o, err := s.orders.Create(c.Request.Context(), service.CreateOrderInput{
		UserID:        userID(c),
		AddressID:     uuid.FromStringOrNil(req.AddressID),
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		Notes:         req.Notes,
		ExpectedTotal: expected,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrder(o))
}

// orderFilter reads status, paymentStatus, from, to, offset and limit query parameters.
func orderFilter(c *gin.Context) (model.OrderFilter, error) {
	f := model.OrderFilter{
		Status:        model.OrderStatus(strings.ToUpper(c.Query("status"))),
		PaymentStatus: model.PaymentStatus(strings.ToUpper(c.Query("paymentStatus"))),
	}
	var bad []errs.FieldError
	for _, q := range []struct {
		name string
		dst  *int
	}{{"offset", &f.Offset}, {"limit", &f.Limit}} {
		if v := c.Query(q.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				bad = append(bad, errs.FieldError{Field: q.name, Message: "must be a non-negative integer"})
				continue
			}
			*q.dst = n
		}
	}
	for _, q := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := c.Query(q.name); v != "" {
			t, err := parseTime(v)
			if err != nil {
				bad = append(bad, errs.FieldError{Field: q.name, Message: "must be RFC 3339 or YYYY-MM-DD"})
				continue
			}
			*q.dst = &t
		}
	}
	if len(bad) > 0 {
		return f, errs.ErrValidation.WithDetails(bad)
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func (s *Server) writeOrders(c *gin.Context, f model.OrderFilter) {
	list, total, err := s.orders.List(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]orderDTO, 0, len(list))
	for i := range list {
		out = append(out, toOrder(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out, "total": total})
}

func (s *Server) listOrders(c *gin.Context) {
	f, err := orderFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	uid := userID(c)
	f.UserID = &uid
	s.writeOrders(c, f)
}

func (s *Server) getOrder(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	o, err := s.orders.Get(c.Request.Context(), id, userID(c), isAdmin(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(o))
}

func (s *Server) orderTracking(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	entries, err := s.orders.Tracking(c.Request.Context(), id, userID(c), isAdmin(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking": toTracking(entries)})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	o, err := s.orders.Cancel(c.Request.Context(), id, userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(o))
}

func (s *Server) adminListOrders(c *gin.Context) {
	f, err := orderFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.writeOrders(c, f)
}

func (s *Server) adminUpdateStatus(c *gin.Context) {
	id, ok := s.pathID(c, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if !s.bindJSON(c, &req) {
		return
	}
	o, err := s.orders.UpdateStatus(c.Request.Context(), id, service.UpdateStatusInput{
		Status:      model.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
		Description: req.Description,
		Location:    req.Location,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrder(o))
}

func (s *Server) initPayment(c *gin.Context) {
	var req initPaymentRequest
	if !s.bindJSON(c, &req) {
		return
	}
	clientTotal, err := amountField("clientTotal", req.ClientTotal)
	if err != nil {
		s.fail(c, err)
		return
	}
	res, err := s.payments.Initialize(c.Request.Context(), service.InitInput{
		OrderID:     uuid.FromStringOrNil(req.OrderID),
		UserID:      userID(c),
		ClientTotal: clientTotal,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"paymentId":    res.PaymentID.String(),
		"providerRef":  res.ProviderRef,
		"clientSecret": res.ClientSecret,
		"amount":       money.Format(res.Amount),
		"currency":     res.Currency,
		"status":       res.Status,
	})
}

func (s *Server) paymentStatus(c *gin.Context) {
	id, ok := s.pathID(c, "orderId")
	if !ok {
		return
	}
	v, err := s.payments.Status(c.Request.Context(), id, userID(c), isAdmin(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentStatus(v))
}

// webhook verifies the raw body before anything parses it. Every verified event is
// acknowledged with 200, including ones that change nothing.
func (s *Server) webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		s.fail(c, bindingError(err))
		return
	}
	outcome, err := s.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader(payment.SignatureHeader))
	if err != nil {
		if StatusFor(err) < http.StatusInternalServerError {
			s.log.Warn("webhook rejected", zap.String("request_id", requestIDFrom(c)), zap.Error(err))
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}
