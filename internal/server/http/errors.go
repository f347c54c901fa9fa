package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/and161185/apinlero/internal/errs"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var statusByCode = map[string]int{
	errs.ErrValidation.Code:         http.StatusBadRequest,
	errs.ErrCartEmpty.Code:          http.StatusBadRequest,
	errs.ErrCartInvalid.Code:        http.StatusBadRequest,
	errs.ErrMinOrderNotMet.Code:     http.StatusBadRequest,
	errs.ErrInsufficientStock.Code:  http.StatusBadRequest,
	errs.ErrInvalidQuantity.Code:    http.StatusBadRequest,
	errs.ErrInvalidAddress.Code:     http.StatusBadRequest,
	errs.ErrPriceMismatch.Code:      http.StatusBadRequest,
	errs.ErrInvalidTransition.Code:  http.StatusBadRequest,
	errs.ErrPasswordUnchanged.Code:  http.StatusBadRequest,
	errs.ErrWeakPassword.Code:       http.StatusBadRequest,
	errs.ErrInvalidSignature.Code:   http.StatusBadRequest,
	errs.ErrUnsupportedPayment.Code: http.StatusBadRequest,
	errs.ErrEmptyFile.Code:          http.StatusBadRequest,
	errs.ErrFileTooLarge.Code:       http.StatusRequestEntityTooLarge,
	errs.ErrUnsupportedType.Code:    http.StatusUnsupportedMediaType,

	errs.ErrInvalidCredentials.Code: http.StatusUnauthorized,
	errs.ErrInvalidToken.Code:       http.StatusUnauthorized,
	errs.ErrTokenExpired.Code:       http.StatusUnauthorized,
	errs.ErrTokenRevoked.Code:       http.StatusUnauthorized,
	errs.ErrUnauthenticated.Code:    http.StatusUnauthorized,

	errs.ErrAccountInactive.Code:  http.StatusForbidden,
	errs.ErrForbidden.Code:        http.StatusForbidden,
	errs.ErrOriginNotAllowed.Code: http.StatusForbidden,

	errs.ErrNotFound.Code:        http.StatusNotFound,
	errs.ErrProductNotFound.Code: http.StatusNotFound,
	errs.ErrOrderNotFound.Code:   http.StatusNotFound,
	errs.ErrPaymentNotFound.Code: http.StatusNotFound,

	errs.ErrUserExists.Code:         http.StatusConflict,
	errs.ErrAlreadyExists.Code:      http.StatusConflict,
	errs.ErrConflict.Code:           http.StatusConflict,
	errs.ErrCannotCancel.Code:       http.StatusConflict,
	errs.ErrAlreadyPaid.Code:        http.StatusConflict,
	errs.ErrProductUnavailable.Code: http.StatusConflict,

	errs.ErrAccountLocked.Code: http.StatusLocked,
	errs.ErrRateLimited.Code:   http.StatusTooManyRequests,
	errs.ErrGateway.Code:       http.StatusBadGateway,
}

// StatusFor maps an error to its HTTP status. Errors outside the taxonomy are 500.
func StatusFor(err error) int {
	if e, ok := errs.As(err); ok {
		if st, ok := statusByCode[e.Code]; ok {
			return st
		}
	}
	return http.StatusInternalServerError
}

// body renders the error envelope. Field errors go under "fields", string lists under
// "violations", and flat maps are merged into the error object.
func body(e *errs.Error) gin.H {
	out := gin.H{"code": e.Code, "message": e.Message}
	switch d := e.Details.(type) {
	case nil:
	case []errs.FieldError:
		out["fields"] = d
	case []string:
		out["violations"] = d
	case map[string]int:
		for k, v := range d {
			out[k] = v
		}
	case map[string]string:
		for k, v := range d {
			out[k] = v
		}
	default:
		out["details"] = d
	}
	return gin.H{"error": out}
}

// fail aborts the request with the mapped error response.
func (s *Server) fail(c *gin.Context, err error) {
	st := StatusFor(err)
	e, ok := errs.As(err)
	if !ok || st == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("request_id", requestIDFrom(c)),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			gin.H{"error": gin.H{"code": "INTERNAL", "message": "internal error"}})
		return
	}
	c.AbortWithStatusJSON(st, body(e))
}

// bindJSON decodes the body into dst and translates binding failures into VALIDATION_FAILED.
func (s *Server) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.fail(c, bindingError(err))
		return false
	}
	return true
}

func bindingError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make([]errs.FieldError, 0, len(ve))
		for _, fe := range ve {
			fields = append(fields, errs.FieldError{Field: fe.Field(), Message: ruleMessage(fe)})
		}
		return errs.ErrValidation.WithDetails(fields)
	}
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return errs.ErrValidation.WithMessage("request body is required")
	case errors.As(err, &typ):
		return errs.ErrValidation.WithDetails([]errs.FieldError{{Field: typ.Field, Message: "has the wrong type"}})
	case errors.As(err, &syn):
		return errs.ErrValidation.WithMessage("malformed JSON")
	}
	var me *http.MaxBytesError
	if errors.As(err, &me) {
		return errs.ErrFileTooLarge.WithMessage("request body too large")
	}
	return errs.ErrValidation.WithMessage("invalid request body")
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "uuid", "uuid4":
		return "must be a UUID"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return "is invalid"
}
