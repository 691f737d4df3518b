package port

import (
	"context"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// BookReader resolves catalog items by id.
type BookReader interface {
	// GetItem returns domain.ErrNotFound when the book or its stock record is absent
	GetItem(ctx context.Context, bookID string) (*domain.CatalogItem, error)
}

type CatalogRepository interface {
	BookReader

	ListItems(ctx context.Context) ([]domain.CatalogItem, error)

	// CreateItem stores the metadata and the stock/price record; ID is assigned when empty
	CreateItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error)

	// UpdateItem replaces metadata and price, leaving stock untouched
	UpdateItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error)

	DeleteItem(ctx context.Context, bookID string) error

	// UpdateStock overwrites stock; only safe under a single writer
	UpdateStock(ctx context.Context, bookID string, quantity int) (*domain.CatalogItem, error)

	// CompareAndSwapStock writes quantity only if stock still equals expected,
	// otherwise returns domain.ErrConflict
	CompareAndSwapStock(ctx context.Context, bookID string, expected, quantity int) (*domain.CatalogItem, error)

	// AdjustStock atomically adds delta, failing with domain.ErrInsufficientStock
	// instead of going below zero
	AdjustStock(ctx context.Context, bookID string, delta int) (*domain.CatalogItem, error)
}

// BatchStockWriter is implemented by stores that can apply several
// conditional decrements as one all-or-nothing write. Failures are
// *domain.StockChangeError.
type BatchStockWriter interface {
	ApplyStockChanges(ctx context.Context, changes []domain.StockChange) error
}

// CacheInvalidator drops cached catalog reads after a catalog write.
type CacheInvalidator interface {
	Invalidate(bookID string)
}
