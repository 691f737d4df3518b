package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

// CatalogService is the catalog CRUD side: it owns validation and keeps the
// display cache coherent with writes.
type CatalogService struct {
	catalog port.CatalogRepository
	cache   port.CacheInvalidator
	log     zerolog.Logger
}

func NewCatalogService(catalog port.CatalogRepository, cache port.CacheInvalidator, logger zerolog.Logger) *CatalogService {
	return &CatalogService{
		catalog: catalog,
		cache:   cache,
		log:     logger.With().Str("component", "catalog").Logger(),
	}
}

func (s *CatalogService) List(ctx context.Context) ([]domain.CatalogItem, error) {
	items, err := s.catalog.ListItems(ctx)
	if err != nil {
		return nil, storageErr("list books", err)
	}
	return items, nil
}

func (s *CatalogService) Get(ctx context.Context, bookID string) (*domain.CatalogItem, error) {
	item, err := s.catalog.GetItem(ctx, bookID)
	if err != nil {
		return nil, storageErr("get book "+bookID, err)
	}
	return item, nil
}

func (s *CatalogService) Create(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}
	if item.Stock < 0 {
		return nil, invalidArgument("initial stock cannot be negative")
	}
	created, err := s.catalog.CreateItem(ctx, item)
	if err != nil {
		return nil, storageErr("create book", err)
	}
	s.log.Info().Str("book_id", created.ID).Str("title", created.Title).Int("stock", created.Stock).Msg("book created")
	return created, nil
}

// Update replaces metadata and price. Lines already in carts keep their
// price snapshot.
func (s *CatalogService) Update(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	if item.ID == "" {
		return nil, invalidArgument("book id required")
	}
	if err := validateItem(item); err != nil {
		return nil, err
	}
	updated, err := s.catalog.UpdateItem(ctx, item)
	if err != nil {
		return nil, storageErr("update book "+item.ID, err)
	}
	s.invalidate(item.ID)
	return updated, nil
}

func (s *CatalogService) UpdateStock(ctx context.Context, bookID string, quantity int) (*domain.CatalogItem, error) {
	if quantity < 0 {
		return nil, invalidArgument("stock cannot be negative, got %d", quantity)
	}
	item, err := s.catalog.UpdateStock(ctx, bookID, quantity)
	if err != nil {
		return nil, storageErr("update stock for book "+bookID, err)
	}
	s.invalidate(bookID)
	s.log.Info().Str("book_id", bookID).Int("stock", quantity).Msg("stock overwritten")
	return item, nil
}

func (s *CatalogService) Delete(ctx context.Context, bookID string) error {
	if err := s.catalog.DeleteItem(ctx, bookID); err != nil {
		return storageErr("delete book "+bookID, err)
	}
	s.invalidate(bookID)
	s.log.Info().Str("book_id", bookID).Msg("book deleted")
	return nil
}

// ResetCatalog deletes every book and stores the initial selection.
func (s *CatalogService) ResetCatalog(ctx context.Context) ([]domain.CatalogItem, error) {
	existing, err := s.catalog.ListItems(ctx)
	if err != nil {
		return nil, storageErr("list books", err)
	}
	for _, item := range existing {
		if err := s.Delete(ctx, item.ID); err != nil {
			return nil, err
		}
	}
	return s.Seed(ctx)
}

// Seed stores the initial selection without touching existing books.
func (s *CatalogService) Seed(ctx context.Context) ([]domain.CatalogItem, error) {
	books := InitialBooks()
	out := make([]domain.CatalogItem, 0, len(books))
	for _, b := range books {
		created, err := s.Create(ctx, b)
		if err != nil {
			return nil, err
		}
		out = append(out, *created)
	}
	return out, nil
}

func (s *CatalogService) invalidate(bookID string) {
	if s.cache != nil {
		s.cache.Invalidate(bookID)
	}
}

// priceScale matches the DECIMAL(12,2) price columns.
const priceScale = 2

func validateItem(item domain.CatalogItem) error {
	if strings.TrimSpace(item.Title) == "" {
		return invalidArgument("title required")
	}
	if strings.TrimSpace(item.Author) == "" {
		return invalidArgument("author required")
	}
	if !item.Category.Valid() {
		return invalidArgument("unknown category %q", item.Category)
	}
	if item.Price.IsNegative() {
		return invalidArgument("price cannot be negative")
	}
	if !item.Price.Equal(item.Price.Truncate(priceScale)) {
		return invalidArgument("price %s has more than %d decimal places", item.Price, priceScale)
	}
	return nil
}

func InitialBooks() []domain.CatalogItem {
	return []domain.CatalogItem{
		{
			Title:         "A Brief History of Time",
			Description:   "An exploration of cosmology by Stephen Hawking, covering the Big Bang, black holes, and the nature of time.",
			Author:        "Stephen Hawking",
			Category:      domain.CategoryPhysics,
			ISBN:          "978-0553380163",
			Publisher:     "Bantam",
			PublishedYear: 1988,
			Stock:         10,
			Price:         decimal.RequireFromString("29.99"),
		},
		{
			Title:         "Organic Chemistry",
			Description:   "A comprehensive guide to organic chemistry principles and reactions.",
			Author:        "John McMurry",
			Category:      domain.CategoryChemistry,
			ISBN:          "978-1305080485",
			Publisher:     "Cengage Learning",
			PublishedYear: 2015,
			Stock:         15,
			Price:         decimal.RequireFromString("49.99"),
		},
		{
			Title:         "Campbell Biology",
			Description:   "A detailed exploration of biological concepts and principles.",
			Author:        "Lisa Urry",
			Category:      domain.CategoryBiology,
			ISBN:          "978-0134093413",
			Publisher:     "Pearson",
			PublishedYear: 2016,
			Stock:         12,
			Price:         decimal.RequireFromString("54.99"),
		},
		{
			Title:         "Advanced Calculus",
			Description:   "An in-depth study of calculus concepts and applications.",
			Author:        "Michael Spivak",
			Category:      domain.CategoryMathematics,
			ISBN:          "978-0914098911",
			Publisher:     "Cambridge University Press",
			PublishedYear: 2008,
			Stock:         8,
			Price:         decimal.RequireFromString("44.99"),
		},
	}
}
