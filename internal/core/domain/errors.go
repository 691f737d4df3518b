package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("concurrent modification")
	ErrUnavailable       = errors.New("storage unavailable")
)

// StockChangeError reports which book stopped a multi-record stock write.
type StockChangeError struct {
	BookID string
	Err    error
}

func (e *StockChangeError) Error() string {
	return fmt.Sprintf("stock change for book %s: %v", e.BookID, e.Err)
}

func (e *StockChangeError) Unwrap() error {
	return e.Err
}

// IsDomainError reports whether err carries one of the sentinel errors above.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnavailable)
}
