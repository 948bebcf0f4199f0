/*
errors.go - Error taxonomy → HTTP mapping

STATUS CLASSES:
  ValidationError, malformed body    400  VALIDATION_ERROR / BAD_REQUEST
  missing or bad bearer token        401  UNAUTHORIZED
  capability denied                  403  FORBIDDEN
  NotFoundError                      404  RESOURCE_NOT_FOUND
  ConflictError                      409  CONFLICT
  NegativeStockError                 409  NEGATIVE_STOCK
  NegativeBalanceError               409  NEGATIVE_BALANCE
  TransientStoreError                503  SERVICE_UNAVAILABLE + Retry-After: 1
  anything else                      500  INTERNAL_ERROR

BODY:
  {"error": "<kind>", "code": "<CODE>", "details": "<message>"}
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/backoffice/ledger"
)

const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "RESOURCE_NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeNegativeStock   = "NEGATIVE_STOCK"
	CodeNegativeBalance = "NEGATIVE_BALANCE"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// errUnauthorized marks authentication failures raised by the api itself.
var errUnauthorized = errors.New("unauthorized")

// errBadRequest marks bodies that could not be decoded.
var errBadRequest = errors.New("bad request")

// classify returns status, error kind and code for err.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request", CodeBadRequest
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest, "validation", CodeValidation
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "unauthorized", CodeUnauthorized
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden, "forbidden", CodeForbidden
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found", CodeNotFound
	case errors.Is(err, ledger.ErrNegativeStock):
		return http.StatusConflict, "negative_stock", CodeNegativeStock
	case errors.Is(err, ledger.ErrNegativeBalance):
		return http.StatusConflict, "negative_balance", CodeNegativeBalance
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict, "conflict", CodeConflict
	case errors.Is(err, ledger.ErrTransient):
		return http.StatusServiceUnavailable, "transient", CodeUnavailable
	}
	return http.StatusInternalServerError, "internal", CodeInternal
}

// fail writes err with its mapped status. op labels logs and the
// transient-error metric.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, kind, code := classify(err)

	entry := h.Logger.WithFields(logrus.Fields{"op": op, "status": status, "path": r.URL.Path}).WithError(err)
	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		h.Metrics.RecordTransientError(op)
		entry.Warn("transient store error")
	case status >= 500:
		entry.Error("request failed")
	default:
		entry.Debug("request rejected")
	}

	details := err.Error()
	if status >= 500 && status != http.StatusServiceUnavailable {
		details = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Code: code, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode reads a JSON body into dst and runs its validate tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError turns validator output into a ledger.ValidationError on
// the first failing field.
func validationError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return ledger.Invalid("body", "%v", err)
	}
	f := fields[0]
	rule := f.Tag()
	if f.Param() != "" {
		rule += "=" + f.Param()
	}
	return ledger.Invalid(fieldPath(f.Namespace()), "failed %q", rule)
}

// fieldPath drops the root struct name: "CreateSaleRequest.lines[0].quantity"
// becomes "lines[0].quantity".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
