package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// mockCatalog is an in-memory CatalogRepository with per-line
// compare-and-swap only.
type mockCatalog struct {
	mu    sync.Mutex
	items map[string]domain.CatalogItem

	getErr error
	// afterGet runs outside the lock after every successful GetItem
	afterGet func(bookID string)
	// casErr forces CompareAndSwapStock to fail for a book
	casErr   map[string]error
	adjusted []string
}

func newMockCatalog(items ...domain.CatalogItem) *mockCatalog {
	m := &mockCatalog{items: map[string]domain.CatalogItem{}, casErr: map[string]error{}}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func book(id string, stock int, price string) domain.CatalogItem {
	return domain.CatalogItem{
		ID:       id,
		Title:    "Title " + id,
		Author:   "Author " + id,
		Category: domain.CategoryPhysics,
		Stock:    stock,
		Price:    decimal.RequireFromString(price),
	}
}

func (m *mockCatalog) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Stock
}

func (m *mockCatalog) setStock(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.items[id]
	it.Stock = n
	m.items[id] = it
}

func (m *mockCatalog) setPrice(id, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.items[id]
	it.Price = decimal.RequireFromString(price)
	m.items[id] = it
}

func (m *mockCatalog) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
}

func (m *mockCatalog) GetItem(ctx context.Context, bookID string) (*domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.getErr != nil {
		m.mu.Unlock()
		return nil, m.getErr
	}
	it, ok := m.items[bookID]
	hook := m.afterGet
	m.mu.Unlock()

	if !ok {
		return nil, domain.ErrNotFound
	}
	if hook != nil {
		hook(bookID)
	}
	return &it, nil
}

func (m *mockCatalog) ListItems(_ context.Context) ([]domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CatalogItem, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	return out, nil
}

func (m *mockCatalog) CreateItem(_ context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	m.items[item.ID] = item
	return &item, nil
}

func (m *mockCatalog) UpdateItem(_ context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[item.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	item.Stock = cur.Stock
	m.items[item.ID] = item
	return &item, nil
}

func (m *mockCatalog) DeleteItem(_ context.Context, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[bookID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.items, bookID)
	return nil
}

func (m *mockCatalog) UpdateStock(_ context.Context, bookID string, quantity int) (*domain.CatalogItem, error) {
	if quantity < 0 {
		return nil, domain.ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[bookID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	it.Stock = quantity
	it.Version++
	m.items[bookID] = it
	return &it, nil
}

func (m *mockCatalog) CompareAndSwapStock(_ context.Context, bookID string, expected, quantity int) (*domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.casErr[bookID]; err != nil {
		return nil, err
	}
	it, ok := m.items[bookID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if it.Stock != expected {
		return nil, domain.ErrConflict
	}
	it.Stock = quantity
	it.Version++
	m.items[bookID] = it
	return &it, nil
}

func (m *mockCatalog) AdjustStock(_ context.Context, bookID string, delta int) (*domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[bookID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if it.Stock+delta < 0 {
		return nil, domain.ErrInsufficientStock
	}
	it.Stock += delta
	it.Version++
	m.items[bookID] = it
	m.adjusted = append(m.adjusted, bookID)
	return &it, nil
}

// batchCatalog adds an all-or-nothing multi-book write.
type batchCatalog struct {
	*mockCatalog
	batches int
}

func (b *batchCatalog) ApplyStockChanges(_ context.Context, changes []domain.StockChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches++

	for _, c := range changes {
		if err := b.casErr[c.BookID]; err != nil {
			return &domain.StockChangeError{BookID: c.BookID, Err: err}
		}
		it, ok := b.items[c.BookID]
		if !ok {
			return &domain.StockChangeError{BookID: c.BookID, Err: domain.ErrNotFound}
		}
		if it.Stock != c.Expected {
			return &domain.StockChangeError{BookID: c.BookID, Err: domain.ErrConflict}
		}
	}
	for _, c := range changes {
		it := b.items[c.BookID]
		it.Stock -= c.Quantity
		it.Version++
		b.items[c.BookID] = it
	}
	return nil
}

// mockCarts is an in-memory CartRepository.
type mockCarts struct {
	mu      sync.Mutex
	headers map[string]domain.CartHeader
	lines   map[string][]domain.CartLine

	listErr  error
	clearErr error
	saves    int
}

func newMockCarts() *mockCarts {
	return &mockCarts{headers: map[string]domain.CartHeader{}, lines: map[string][]domain.CartLine{}}
}

func (m *mockCarts) GetOrCreateCart(_ context.Context, userID string) (*domain.CartHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.headers[userID]
	if !ok {
		h = domain.CartHeader{UserID: userID, Total: decimal.Zero}
		m.headers[userID] = h
	}
	return &h, nil
}

func (m *mockCarts) ListLines(_ context.Context, userID string) ([]domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.CartLine(nil), m.lines[userID]...), nil
}

func (m *mockCarts) AddLine(_ context.Context, line domain.CartLine) (*domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.lines[line.UserID]
	for i := range lines {
		if lines[i].BookID == line.BookID {
			lines[i].Quantity += line.Quantity
			out := lines[i]
			return &out, nil
		}
	}
	m.lines[line.UserID] = append(lines, line)
	return &line, nil
}

func (m *mockCarts) SetLineQuantity(_ context.Context, userID, lineID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.lines[userID]
	for i := range lines {
		if lines[i].ID == lineID {
			lines[i].Quantity = quantity
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockCarts) DeleteLine(_ context.Context, userID, lineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.lines[userID]
	for i := range lines {
		if lines[i].ID == lineID {
			m.lines[userID] = append(lines[:i:i], lines[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockCarts) ClearCart(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.lines, userID)
	h := m.headers[userID]
	h.Total = decimal.Zero
	m.headers[userID] = h
	return nil
}

func (m *mockCarts) SaveTotal(_ context.Context, userID string, total decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	h := m.headers[userID]
	h.Total = total
	m.headers[userID] = h
	return nil
}

func (m *mockCarts) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines[userID])
}

func (m *mockCarts) put(userID, bookID string, quantity int, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[userID] = append(m.lines[userID], domain.CartLine{
		ID:            uuid.NewString(),
		UserID:        userID,
		BookID:        bookID,
		Quantity:      quantity,
		PriceSnapshot: decimal.RequireFromString(price),
	})
}

// localGuard mirrors the in-memory checkout guard.
type localGuard struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newLocalGuard() *localGuard {
	return &localGuard{held: map[string]bool{}}
}

func (g *localGuard) Acquire(_ context.Context, userID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	if g.held[userID] {
		return nil, domain.ErrConflict
	}
	g.held[userID] = true
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.held, userID)
	}, nil
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(bookID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, bookID)
}

var errBackend = errors.New("connection reset by peer")
