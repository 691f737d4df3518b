package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
)

type CartRepository interface {
	// GetOrCreateCart returns the cart header, creating an empty one on first use
	GetOrCreateCart(ctx context.Context, userID string) (*domain.CartHeader, error)

	// ListLines returns a user's lines in insertion order
	ListLines(ctx context.Context, userID string) ([]domain.CartLine, error)

	// AddLine inserts the line, or atomically adds its quantity to the existing
	// (user, book) line without touching that line's price snapshot
	AddLine(ctx context.Context, line domain.CartLine) (*domain.CartLine, error)

	// SetLineQuantity returns domain.ErrNotFound when the user has no such line
	SetLineQuantity(ctx context.Context, userID, lineID string, quantity int) error

	// DeleteLine is idempotent
	DeleteLine(ctx context.Context, userID, lineID string) error

	// ClearCart deletes every line and zeroes the cached total
	ClearCart(ctx context.Context, userID string) error

	SaveTotal(ctx context.Context, userID string, total decimal.Decimal) error
}
