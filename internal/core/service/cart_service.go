package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

type CartService struct {
	carts   port.CartRepository
	catalog port.BookReader
	views   port.BookReader
	orphans domain.OrphanPolicy
	log     zerolog.Logger
}

// NewCartService builds the cart manager. catalog is read live when pricing a
// new line; views serves the display projection on cart reads and may be a
// cache in front of catalog.
func NewCartService(carts port.CartRepository, catalog, views port.BookReader, orphans domain.OrphanPolicy, logger zerolog.Logger) *CartService {
	if views == nil {
		views = catalog
	}
	if !orphans.Valid() {
		orphans = domain.OrphanPurge
	}
	return &CartService{
		carts:   carts,
		catalog: catalog,
		views:   views,
		orphans: orphans,
		log:     logger.With().Str("component", "cart").Logger(),
	}
}

func (s *CartService) AddLine(ctx context.Context, userID, bookID string, quantity int) (*domain.Cart, error) {
	if userID == "" {
		return nil, invalidArgument("user id required")
	}
	if quantity <= 0 {
		return nil, invalidArgument("quantity must be positive, got %d", quantity)
	}

	item, err := s.catalog.GetItem(ctx, bookID)
	if err != nil {
		return nil, storageErr("resolve book "+bookID, err)
	}

	now := time.Now()
	line, err := s.carts.AddLine(ctx, domain.CartLine{
		ID:            uuid.NewString(),
		UserID:        userID,
		BookID:        item.ID,
		Quantity:      quantity,
		PriceSnapshot: item.Price,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, storageErr("add cart line", err)
	}

	s.log.Debug().
		Str("user_id", userID).
		Str("book_id", bookID).
		Int("quantity", line.Quantity).
		Str("price", line.PriceSnapshot.String()).
		Msg("cart line added")

	return s.GetCart(ctx, userID)
}

// SetLineQuantity sets an absolute quantity; zero removes the line.
func (s *CartService) SetLineQuantity(ctx context.Context, userID, lineID string, quantity int) (*domain.Cart, error) {
	if userID == "" {
		return nil, invalidArgument("user id required")
	}
	if quantity < 0 {
		return nil, invalidArgument("quantity cannot be negative, got %d", quantity)
	}
	if quantity == 0 {
		return s.RemoveLine(ctx, userID, lineID)
	}

	if err := s.carts.SetLineQuantity(ctx, userID, lineID, quantity); err != nil {
		return nil, storageErr("update cart line "+lineID, err)
	}
	return s.GetCart(ctx, userID)
}

func (s *CartService) RemoveLine(ctx context.Context, userID, lineID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, invalidArgument("user id required")
	}
	if err := s.carts.DeleteLine(ctx, userID, lineID); err != nil {
		return nil, storageErr("remove cart line "+lineID, err)
	}
	return s.GetCart(ctx, userID)
}

func (s *CartService) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return invalidArgument("user id required")
	}
	if err := s.carts.ClearCart(ctx, userID); err != nil {
		return storageErr("clear cart", err)
	}
	return nil
}

// GetCart recomputes the cart from its lines. Lines whose book has left the
// catalog are excluded from the result and handled per the orphan policy.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, invalidArgument("user id required")
	}

	header, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, storageErr("load cart", err)
	}
	lines, err := s.carts.ListLines(ctx, userID)
	if err != nil {
		return nil, storageErr("load cart lines", err)
	}

	cart := &domain.Cart{
		UserID:    userID,
		Items:     make([]domain.CartItem, 0, len(lines)),
		CreatedAt: header.CreatedAt,
		UpdatedAt: header.UpdatedAt,
	}
	visible := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		book, err := s.views.GetItem(ctx, line.BookID)
		if errors.Is(err, domain.ErrNotFound) {
			s.handleOrphan(ctx, line)
			continue
		}
		if err != nil {
			return nil, storageErr("resolve book "+line.BookID, err)
		}
		cart.Items = append(cart.Items, domain.CartItem{CartLine: line, Book: book.View()})
		visible = append(visible, line)
	}
	cart.Total = domain.LinesTotal(visible)

	if !cart.Total.Equal(header.Total) {
		if err := s.carts.SaveTotal(ctx, userID, cart.Total); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("persist cart total")
		}
	}
	return cart, nil
}

func (s *CartService) handleOrphan(ctx context.Context, line domain.CartLine) {
	logger := s.log.With().
		Str("user_id", line.UserID).
		Str("line_id", line.ID).
		Str("book_id", line.BookID).
		Logger()

	if s.orphans != domain.OrphanPurge {
		logger.Debug().Msg("orphaned cart line left in place")
		return
	}
	if err := s.carts.DeleteLine(ctx, line.UserID, line.ID); err != nil {
		logger.Warn().Err(err).Msg("purge orphaned cart line")
		return
	}
	logger.Info().Msg("purged orphaned cart line")
}
