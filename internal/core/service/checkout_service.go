package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

const defaultMaxAttempts = 3

type CheckoutConfig struct {
	// MaxAttempts bounds verify/commit rounds lost to concurrent stock writes
	MaxAttempts int
	// QueueSize is the OrderPlaced buffer; zero disables events
	QueueSize int
}

type CheckoutService struct {
	carts       port.CartRepository
	catalog     port.CatalogRepository
	guard       port.CheckoutGuard
	maxAttempts int
	log         zerolog.Logger

	// queueMu guards orderQueue against sends after Close
	queueMu    sync.RWMutex
	closed     bool
	orderQueue chan domain.OrderPlaced
}

func NewCheckoutService(carts port.CartRepository, catalog port.CatalogRepository, guard port.CheckoutGuard, cfg CheckoutConfig, logger zerolog.Logger) *CheckoutService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	s := &CheckoutService{
		carts:       carts,
		catalog:     catalog,
		guard:       guard,
		maxAttempts: cfg.MaxAttempts,
		log:         logger.With().Str("component", "checkout").Logger(),
	}
	if cfg.QueueSize > 0 {
		s.orderQueue = make(chan domain.OrderPlaced, cfg.QueueSize)
	}
	return s
}

type plannedLine struct {
	line   domain.CartLine
	title  string
	change domain.StockChange
}

// PlaceOrder converts the user's cart into committed stock decrements.
//
// Every line is verified before any stock is written. The decrements are then
// applied all-or-nothing: in one batch when the catalog supports it, otherwise
// as per-line compare-and-swap writes with compensation on a late failure. A
// lost compare-and-swap restarts verification, up to MaxAttempts rounds.
//
// Business failures come back as an unsuccessful OrderResult; the returned
// error is reserved for storage failures (domain.ErrUnavailable).
func (s *CheckoutService) PlaceOrder(ctx context.Context, userID string) (*domain.OrderResult, error) {
	if userID == "" {
		return nil, invalidArgument("user id required")
	}
	// Once started, a checkout runs to completion even if the caller leaves.
	ctx = context.WithoutCancel(ctx)
	logger := s.log.With().Str("user_id", userID).Logger()

	release, err := s.guard.Acquire(ctx, userID)
	if errors.Is(err, domain.ErrConflict) {
		logger.Info().Msg("checkout rejected, another one is in flight")
		return domain.CheckoutFailure(domain.ReasonConflict, "", domain.MessageInProgress), nil
	}
	if err != nil {
		return nil, storageErr("acquire checkout guard", err)
	}
	defer release()
	stateEvent(logger, domain.CheckoutStarted).Msg("checkout started")

	lines, err := s.carts.ListLines(ctx, userID)
	if err != nil {
		return nil, storageErr("load cart lines", err)
	}
	if len(lines) == 0 {
		return domain.CheckoutFailure(domain.ReasonEmptyCart, "", domain.MessageCartEmpty), nil
	}

	var contended plannedLine
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		stateEvent(logger, domain.CheckoutVerifying).Int("attempt", attempt).Msg("verifying stock")

		plan, failure, err := s.verify(ctx, lines)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			s.logAborted(logger, failure)
			return failure, nil
		}

		stateEvent(logger, domain.CheckoutDecrementing).Int("attempt", attempt).Msg("committing stock")
		err = s.commit(ctx, plan)
		if err == nil {
			return s.complete(ctx, userID, plan, logger), nil
		}

		var sce *domain.StockChangeError
		if !errors.As(err, &sce) {
			return nil, storageErr("commit stock", err)
		}
		switch {
		case errors.Is(sce.Err, domain.ErrConflict), errors.Is(sce.Err, domain.ErrInsufficientStock):
			contended = findPlanned(plan, sce.BookID)
			logger.Debug().Int("attempt", attempt).Str("book_id", sce.BookID).Msg("stock changed during checkout, retrying")
		case errors.Is(sce.Err, domain.ErrNotFound):
			failure := domain.CheckoutFailure(domain.ReasonBookNotFound, sce.BookID, bookNotFoundMessage(sce.BookID))
			s.logAborted(logger, failure)
			return failure, nil
		default:
			return nil, storageErr("commit stock", err)
		}
	}

	failure := domain.CheckoutFailure(domain.ReasonConflict, contended.change.BookID,
		fmt.Sprintf("Stock changed concurrently for book: %s", contended.title))
	s.logAborted(logger, failure)
	return failure, nil
}

// verify reads live stock for every line without writing anything.
func (s *CheckoutService) verify(ctx context.Context, lines []domain.CartLine) ([]plannedLine, *domain.OrderResult, error) {
	plan := make([]plannedLine, 0, len(lines))
	for _, line := range lines {
		item, err := s.catalog.GetItem(ctx, line.BookID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.CheckoutFailure(domain.ReasonBookNotFound, line.BookID, bookNotFoundMessage(line.BookID)), nil
		}
		if err != nil {
			return nil, nil, storageErr("verify stock for book "+line.BookID, err)
		}
		if item.Stock < line.Quantity {
			return nil, domain.CheckoutFailure(domain.ReasonInsufficientStock, line.BookID,
				fmt.Sprintf("Insufficient stock for book: %s", item.Title)), nil
		}
		plan = append(plan, plannedLine{
			line:  line,
			title: item.Title,
			change: domain.StockChange{
				BookID:   line.BookID,
				Expected: item.Stock,
				Quantity: line.Quantity,
			},
		})
	}
	return plan, nil, nil
}

func (s *CheckoutService) commit(ctx context.Context, plan []plannedLine) error {
	changes := make([]domain.StockChange, len(plan))
	for i, p := range plan {
		changes[i] = p.change
	}
	if batch, ok := s.catalog.(port.BatchStockWriter); ok {
		return batch.ApplyStockChanges(ctx, changes)
	}
	return s.commitEach(ctx, changes)
}

// commitEach applies the changes one compare-and-swap at a time and undoes
// the applied ones when a later change fails.
func (s *CheckoutService) commitEach(ctx context.Context, changes []domain.StockChange) error {
	applied := make([]domain.StockChange, 0, len(changes))
	for _, ch := range changes {
		_, err := s.catalog.CompareAndSwapStock(ctx, ch.BookID, ch.Expected, ch.Expected-ch.Quantity)
		if err != nil {
			s.compensate(ctx, applied)
			return &domain.StockChangeError{BookID: ch.BookID, Err: err}
		}
		applied = append(applied, ch)
	}
	return nil
}

func (s *CheckoutService) compensate(ctx context.Context, applied []domain.StockChange) {
	for i := len(applied) - 1; i >= 0; i-- {
		ch := applied[i]
		if _, err := s.catalog.AdjustStock(ctx, ch.BookID, ch.Quantity); err != nil {
			s.log.Error().Err(err).
				Str("book_id", ch.BookID).
				Int("quantity", ch.Quantity).
				Msg("CRITICAL: stock compensation failed")
			continue
		}
		s.log.Warn().Str("book_id", ch.BookID).Int("quantity", ch.Quantity).Msg("compensated stock decrement")
	}
}

func (s *CheckoutService) complete(ctx context.Context, userID string, plan []plannedLine, logger zerolog.Logger) *domain.OrderResult {
	items := make([]domain.OrderedItem, 0, len(plan))
	total := decimal.Zero
	for _, p := range plan {
		items = append(items, domain.OrderedItem{
			BookID:   p.line.BookID,
			Quantity: p.line.Quantity,
			Price:    p.line.PriceSnapshot,
		})
		total = total.Add(p.line.Subtotal())
	}

	// Stock is committed at this point; a failed clear is logged, not undone.
	if err := s.carts.ClearCart(ctx, userID); err != nil {
		logger.Error().Err(err).Msg("clear cart after committed checkout")
	}

	result := &domain.OrderResult{
		Success:      true,
		Message:      domain.MessageOrderPlaced,
		OrderID:      uuid.NewString(),
		OrderedItems: items,
		Total:        total,
	}
	stateEvent(logger, domain.CheckoutCommitted).
		Str("order_id", result.OrderID).
		Int("lines", len(items)).
		Str("total", total.StringFixed(2)).
		Msg("order placed")

	s.enqueue(domain.OrderPlaced{
		OrderID:  result.OrderID,
		UserID:   userID,
		Items:    items,
		Total:    total,
		PlacedAt: time.Now(),
	})
	return result
}

func (s *CheckoutService) enqueue(event domain.OrderPlaced) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.orderQueue == nil {
		return
	}
	if s.closed {
		s.log.Warn().Str("order_id", event.OrderID).Msg("order event queue closed, dropping event")
		return
	}
	select {
	case s.orderQueue <- event:
	default:
		s.log.Warn().Str("order_id", event.OrderID).Msg("order event queue full, dropping event")
	}
}

func (s *CheckoutService) logAborted(logger zerolog.Logger, failure *domain.OrderResult) {
	stateEvent(logger, domain.CheckoutAborted).
		Str("reason", string(failure.Reason)).
		Str("book_id", failure.BookID).
		Msg(failure.Message)
}

// stateEvent logs terminal states at info and the steps between at debug.
func stateEvent(logger zerolog.Logger, state domain.CheckoutState) *zerolog.Event {
	event := logger.Debug()
	if state.IsTerminal() {
		event = logger.Info()
	}
	return event.Str("state", string(state))
}

// GetOrderQueue returns the OrderPlaced events of committed checkouts, or nil
// when events are disabled.
func (s *CheckoutService) GetOrderQueue() <-chan domain.OrderPlaced {
	return s.orderQueue
}

// Close stops event delivery. Checkouts still running complete normally and
// their events are dropped.
func (s *CheckoutService) Close() {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.orderQueue != nil {
		close(s.orderQueue)
	}
}

func findPlanned(plan []plannedLine, bookID string) plannedLine {
	for _, p := range plan {
		if p.change.BookID == bookID {
			return p
		}
	}
	return plannedLine{change: domain.StockChange{BookID: bookID}, title: bookID}
}

func bookNotFoundMessage(bookID string) string {
	return fmt.Sprintf("Book not found for item %s", bookID)
}
