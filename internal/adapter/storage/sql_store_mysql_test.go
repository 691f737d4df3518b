package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/bookstore/internal/core/domain"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSQLStore(db, MySQL), mock
}

func TestNormalizeMySQLDSN(t *testing.T) {
	dsn, err := NormalizeMySQLDSN("root:root@tcp(localhost:3306)/bookstore")
	require.NoError(t, err)

	assert.Contains(t, dsn, "clientFoundRows=true")
	assert.Contains(t, dsn, "multiStatements=true")
	assert.Contains(t, dsn, "parseTime=true")
	assert.True(t, strings.HasPrefix(dsn, "root:root@tcp(localhost:3306)/bookstore?"))

	_, err = NormalizeMySQLDSN("not a dsn")
	assert.Error(t, err)
}

func TestMySQLStore_AddLineUsesDuplicateKeyUpsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity)")).
		WithArgs("line-1", "user-1", "book-1", 2, "10", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_lines WHERE user_id = ? AND book_id = ?")).
		WithArgs("user-1", "book-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "book_id", "quantity", "price_snapshot", "created_at", "updated_at"}).
			AddRow("line-1", "user-1", "book-1", 2, "10.00", int64(1700000000000), int64(1700000000000)))

	line, err := store.AddLine(context.Background(), domain.CartLine{
		ID: "line-1", UserID: "user-1", BookID: "book-1", Quantity: 2,
		PriceSnapshot: decimal.RequireFromString("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, line.Quantity)
	assert.True(t, decimal.RequireFromString("10").Equal(line.PriceSnapshot))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_GetOrCreateCartInsertIgnore(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO carts")).
		WithArgs("user-1", "0", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, total, created_at, updated_at FROM carts")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "total", "created_at", "updated_at"}).
			AddRow("user-1", "25.00", int64(1), int64(2)))

	header, err := store.GetOrCreateCart(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("25").Equal(header.Total))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CompareAndSwapConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE book_id = ? AND quantity = ?")).
		WithArgs(2, sqlmock.AnyArg(), "book-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM book_stocks WHERE book_id = ?")).
		WithArgs("book-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	_, err := store.CompareAndSwapStock(context.Background(), "book-1", 3, 2)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CompareAndSwapMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE book_id = ? AND quantity = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM book_stocks WHERE book_id = ?")).
		WillReturnError(sql.ErrNoRows)

	_, err := store.CompareAndSwapStock(context.Background(), "book-1", 3, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_ApplyStockChangesRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET quantity = quantity - ?")).
		WithArgs(2, sqlmock.AnyArg(), "a", 10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET quantity = quantity - ?")).
		WithArgs(1, sqlmock.AnyArg(), "b", 4).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM book_stocks WHERE book_id = ?")).
		WithArgs("b").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()

	// passed out of order; rows are locked in book id order
	err := store.ApplyStockChanges(context.Background(), []domain.StockChange{
		{BookID: "b", Expected: 4, Quantity: 1},
		{BookID: "a", Expected: 10, Quantity: 2},
	})
	var sce *domain.StockChangeError
	require.True(t, errors.As(err, &sce))
	assert.Equal(t, "b", sce.BookID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_StorageErrorIsWrapped(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection refused")

	mock.ExpectQuery(regexp.QuoteMeta("FROM books b JOIN book_stocks s")).WillReturnError(boom)

	_, err := store.GetItem(context.Background(), "book-1")
	assert.ErrorIs(t, err, boom)
	assert.False(t, domain.IsDomainError(err))
}

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}

	db, err := OpenMySQL(context.Background(), dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMySQLStore_Integration(t *testing.T) {
	db := getMySQLDB(t)
	require.NoError(t, Migrate(db, MySQL))

	store := NewSQLStore(db, MySQL)
	ctx := context.Background()

	// Cleanup from earlier runs
	db.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = 'it-user'`)
	store.DeleteItem(ctx, "it-book")

	seedBook(t, store, "it-book", 3, "10.00")
	t.Cleanup(func() { store.DeleteItem(context.Background(), "it-book") })

	// same quantity written twice still reports a matched row
	_, err := store.UpdateStock(ctx, "it-book", 3)
	require.NoError(t, err)

	require.NoError(t, store.ApplyStockChanges(ctx, []domain.StockChange{{BookID: "it-book", Expected: 3, Quantity: 1}}))
	item, err := store.GetItem(ctx, "it-book")
	require.NoError(t, err)
	assert.Equal(t, 2, item.Stock)

	_, err = store.AddLine(ctx, domain.CartLine{
		ID: "it-line", UserID: "it-user", BookID: "it-book", Quantity: 1,
		PriceSnapshot: decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	require.NoError(t, store.SetLineQuantity(ctx, "it-user", "it-line", 1))
	require.NoError(t, store.ClearCart(ctx, "it-user"))
}
