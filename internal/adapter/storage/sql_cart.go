package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
)

const selectLine = `
	SELECT id, user_id, book_id, quantity, price_snapshot, created_at, updated_at
	FROM cart_lines`

func scanLine(row rowScanner) (*domain.CartLine, error) {
	var (
		line             domain.CartLine
		price            string
		created, updated int64
	)
	err := row.Scan(&line.ID, &line.UserID, &line.BookID, &line.Quantity, &price, &created, &updated)
	if err != nil {
		return nil, err
	}

	line.PriceSnapshot, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price snapshot of line %s: %w", line.ID, err)
	}
	line.CreatedAt = time.UnixMilli(created)
	line.UpdatedAt = time.UnixMilli(updated)
	return &line, nil
}

func (s *SQLStore) GetOrCreateCart(ctx context.Context, userID string) (*domain.CartHeader, error) {
	now := s.timestamp()
	if _, err := s.db.ExecContext(ctx, s.dialect.insertCart, userID, decimal.Zero.String(), now, now); err != nil {
		return nil, fmt.Errorf("insert cart: %w", err)
	}

	var (
		header           domain.CartHeader
		total            string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, total, created_at, updated_at FROM carts WHERE user_id = ?`, userID,
	).Scan(&header.UserID, &total, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	header.Total, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse cart total: %w", err)
	}
	header.CreatedAt = time.UnixMilli(created)
	header.UpdatedAt = time.UnixMilli(updated)
	return &header, nil
}

func (s *SQLStore) ListLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	rows, err := s.db.QueryContext(ctx, selectLine+` WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	lines := []domain.CartLine{}
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, *line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

func (s *SQLStore) AddLine(ctx context.Context, line domain.CartLine) (*domain.CartLine, error) {
	if line.Quantity <= 0 {
		return nil, fmt.Errorf("quantity %d: %w", line.Quantity, domain.ErrInvalidArgument)
	}

	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, s.dialect.upsertLine,
		line.ID, line.UserID, line.BookID, line.Quantity, line.PriceSnapshot.String(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert cart line: %w", err)
	}

	stored, err := scanLine(s.db.QueryRowContext(ctx,
		selectLine+` WHERE user_id = ? AND book_id = ?`, line.UserID, line.BookID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		// removed by a concurrent request between the two statements
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("query cart line: %w", err)
	}
	return stored, nil
}

func (s *SQLStore) SetLineQuantity(ctx context.Context, userID, lineID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity %d: %w", quantity, domain.ErrInvalidArgument)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE cart_lines SET quantity = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		quantity, s.timestamp(), lineID, userID,
	)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	rows, err := affected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteLine(ctx context.Context, userID, lineID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = ? AND user_id = ?`, lineID, userID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

func (s *SQLStore) ClearCart(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete cart lines: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE carts SET total = ?, updated_at = ? WHERE user_id = ?`,
		decimal.Zero.String(), s.timestamp(), userID,
	)
	if err != nil {
		return fmt.Errorf("reset cart total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveTotal(ctx context.Context, userID string, total decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `UPDATE carts SET total = ?, updated_at = ? WHERE user_id = ?`,
		total.String(), s.timestamp(), userID,
	)
	if err != nil {
		return fmt.Errorf("update cart total: %w", err)
	}
	return nil
}
