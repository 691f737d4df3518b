package service

import (
	"fmt"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// storageErr wraps err with op, classifying anything outside the domain
// taxonomy as domain.ErrUnavailable.
func storageErr(op string, err error) error {
	if domain.IsDomainError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrUnavailable, err)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrInvalidArgument)
}
