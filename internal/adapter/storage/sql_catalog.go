package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
)

const selectItem = `
	SELECT b.id, b.title, b.description, b.author, b.category, b.image_url, b.isbn,
		b.publisher, b.published_year, s.quantity, s.price, s.version, b.created_at, b.updated_at
	FROM books b JOIN book_stocks s ON s.book_id = b.id`

func scanItem(row rowScanner) (*domain.CatalogItem, error) {
	var (
		item             domain.CatalogItem
		price            string
		created, updated int64
	)
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.Author, &item.Category, &item.ImageURL, &item.ISBN,
		&item.Publisher, &item.PublishedYear, &item.Stock, &price, &item.Version, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	item.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price of book %s: %w", item.ID, err)
	}
	item.CreatedAt = time.UnixMilli(created)
	item.UpdatedAt = time.UnixMilli(updated)
	return &item, nil
}

func (s *SQLStore) GetItem(ctx context.Context, bookID string) (*domain.CatalogItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, selectItem+` WHERE b.id = ?`, bookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query book: %w", err)
	}
	return item, nil
}

func (s *SQLStore) ListItems(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, selectItem+` ORDER BY b.created_at, b.id`)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	items := []domain.CatalogItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return items, nil
}

func (s *SQLStore) CreateItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO books (id, title, description, author, category, image_url, isbn, publisher, published_year, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Title, item.Description, item.Author, string(item.Category), item.ImageURL, item.ISBN,
		item.Publisher, item.PublishedYear, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO book_stocks (book_id, quantity, price, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)`,
		item.ID, item.Stock, item.Price.String(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	item.Version = 0
	item.CreatedAt = time.UnixMilli(now)
	item.UpdatedAt = item.CreatedAt
	return &item, nil
}

func (s *SQLStore) UpdateItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE books
		SET title = ?, description = ?, author = ?, category = ?, image_url = ?, isbn = ?,
			publisher = ?, published_year = ?, updated_at = ?
		WHERE id = ?`,
		item.Title, item.Description, item.Author, string(item.Category), item.ImageURL, item.ISBN,
		item.Publisher, item.PublishedYear, now, item.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update book: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, domain.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE book_stocks SET price = ?, updated_at = ? WHERE book_id = ?`,
		item.Price.String(), now, item.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update price: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetItem(ctx, item.ID)
}

func (s *SQLStore) DeleteItem(ctx context.Context, bookID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM book_stocks WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("delete stock: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, bookID)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateStock(ctx context.Context, bookID string, quantity int) (*domain.CatalogItem, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("stock %d: %w", quantity, domain.ErrInvalidArgument)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE book_stocks SET quantity = ?, version = version + 1, updated_at = ? WHERE book_id = ?`,
		quantity, s.timestamp(), bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("update stock: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetItem(ctx, bookID)
}

func (s *SQLStore) CompareAndSwapStock(ctx context.Context, bookID string, expected, quantity int) (*domain.CatalogItem, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("stock %d: %w", quantity, domain.ErrInvalidArgument)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE book_stocks SET quantity = ?, version = version + 1, updated_at = ?
		WHERE book_id = ? AND quantity = ?`,
		quantity, s.timestamp(), bookID, expected,
	)
	if err != nil {
		return nil, fmt.Errorf("swap stock: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, s.missingOr(ctx, s.db, bookID, domain.ErrConflict)
	}
	return s.GetItem(ctx, bookID)
}

func (s *SQLStore) AdjustStock(ctx context.Context, bookID string, delta int) (*domain.CatalogItem, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE book_stocks SET quantity = quantity + ?, version = version + 1, updated_at = ?
		WHERE book_id = ? AND quantity + ? >= 0`,
		delta, s.timestamp(), bookID, delta,
	)
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, s.missingOr(ctx, s.db, bookID, domain.ErrInsufficientStock)
	}
	return s.GetItem(ctx, bookID)
}

// ApplyStockChanges decrements every book in one transaction. Rows are
// touched in book id order so concurrent batches lock in the same order.
func (s *SQLStore) ApplyStockChanges(ctx context.Context, changes []domain.StockChange) error {
	ordered := make([]domain.StockChange, len(changes))
	copy(ordered, changes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].BookID < ordered[j].BookID })

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	for _, c := range ordered {
		if c.Quantity <= 0 || c.Quantity > c.Expected {
			return &domain.StockChangeError{BookID: c.BookID, Err: domain.ErrInsufficientStock}
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE book_stocks SET quantity = quantity - ?, version = version + 1, updated_at = ?
			WHERE book_id = ? AND quantity = ?`,
			c.Quantity, now, c.BookID, c.Expected,
		)
		if err != nil {
			return fmt.Errorf("decrement stock of book %s: %w", c.BookID, err)
		}
		rows, err := affected(result)
		if err != nil {
			return err
		}
		if rows == 0 {
			return &domain.StockChangeError{
				BookID: c.BookID,
				Err:    s.missingOr(ctx, tx, c.BookID, domain.ErrConflict),
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// missingOr returns domain.ErrNotFound when the stock record is gone and
// fallback otherwise.
func (s *SQLStore) missingOr(ctx context.Context, q rowQuerier, bookID string, fallback error) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM book_stocks WHERE book_id = ?`, bookID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query stock: %w", err)
	}
	return fallback
}
