package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/bookstore/internal/core/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func classify(err error) (int, codes.Code, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, codes.InvalidArgument, "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codes.NotFound, "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, codes.FailedPrecondition, "insufficient_stock"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, codes.Aborted, "conflict"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, codes.Unavailable, "unavailable"
	}
	return http.StatusInternalServerError, codes.Internal, "internal"
}

// publicMessage hides storage details from callers.
func publicMessage(err error) string {
	if errors.Is(err, domain.ErrUnavailable) || !domain.IsDomainError(err) {
		return "service temporarily unavailable"
	}
	return err.Error()
}

// orderStatus maps a checkout outcome onto an HTTP status.
func orderStatus(result *domain.OrderResult) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Reason {
	case domain.ReasonInsufficientStock, domain.ReasonConflict:
		return http.StatusConflict
	}
	return http.StatusBadRequest
}
