package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// Every catalog key carries the {catalog} hash tag, so the multi-key stock
// scripts and transactions stay in one slot on Redis Cluster.
const (
	bookKeyPrefix  = "{catalog}:book:"
	stockKeyPrefix = "{catalog}:stock:"
	bookIndexKey   = "{catalog}:books"
)

// Script results shared by the stock scripts.
const (
	scriptMissing  = -1
	scriptRejected = 0
	scriptApplied  = 1
)

var setStockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[1], 'quantity', ARGV[1], 'updated_at', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 1
`)

var swapStockScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'quantity')
if not current then
	return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'quantity', ARGV[2], 'updated_at', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 1
`)

var adjustStockScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'quantity')
if not current then
	return -1
end
local updated = tonumber(current) + tonumber(ARGV[1])
if updated < 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'quantity', updated, 'updated_at', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 1
`)

// KEYS are stock keys; ARGV[1] is the timestamp followed by an
// (expected, quantity) pair per key. Nothing is written unless every key
// still holds its expected quantity.
var applyStockScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	local current = redis.call('HGET', key, 'quantity')
	if not current then
		return {-1, i}
	end
	if tonumber(current) ~= tonumber(ARGV[i * 2]) then
		return {0, i}
	end
end
for i, key in ipairs(KEYS) do
	redis.call('HINCRBY', key, 'quantity', -tonumber(ARGV[i * 2 + 1]))
	redis.call('HSET', key, 'updated_at', ARGV[1])
	redis.call('HINCRBY', key, 'version', 1)
end
return {1, 0}
`)

// RedisCatalog keeps book metadata and stock in Redis hashes. Every stock
// write runs as a Lua script, so it is atomic without client-side locking.
type RedisCatalog struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisCatalog(client redis.UniversalClient) *RedisCatalog {
	return &RedisCatalog{client: client, now: time.Now}
}

func bookKey(id string) string  { return bookKeyPrefix + id }
func stockKey(id string) string { return stockKeyPrefix + id }

func (r *RedisCatalog) timestamp() int64 {
	return r.now().UnixMilli()
}

func (r *RedisCatalog) GetItem(ctx context.Context, bookID string) (*domain.CatalogItem, error) {
	pipe := r.client.Pipeline()
	meta := pipe.HGetAll(ctx, bookKey(bookID))
	stock := pipe.HGetAll(ctx, stockKey(bookID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read book: %w", err)
	}

	if len(meta.Val()) == 0 || len(stock.Val()) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodeItem(bookID, meta.Val(), stock.Val())
}

func decodeItem(id string, meta, stock map[string]string) (*domain.CatalogItem, error) {
	item := domain.CatalogItem{
		ID:          id,
		Title:       meta["title"],
		Description: meta["description"],
		Author:      meta["author"],
		Category:    domain.Category(meta["category"]),
		ImageURL:    meta["image_url"],
		ISBN:        meta["isbn"],
		Publisher:   meta["publisher"],
	}

	var err error
	if item.PublishedYear, err = atoiField(meta, "published_year"); err != nil {
		return nil, err
	}
	if item.Stock, err = atoiField(stock, "quantity"); err != nil {
		return nil, err
	}
	if item.Version, err = atoiField(stock, "version"); err != nil {
		return nil, err
	}
	if item.Price, err = decimal.NewFromString(stock["price"]); err != nil {
		return nil, fmt.Errorf("parse price of book %s: %w", id, err)
	}

	created, err := atoiField(meta, "created_at")
	if err != nil {
		return nil, err
	}
	updated, err := atoiField(meta, "updated_at")
	if err != nil {
		return nil, err
	}
	if stockUpdated, err := atoiField(stock, "updated_at"); err == nil && stockUpdated > updated {
		updated = stockUpdated
	}
	item.CreatedAt = time.UnixMilli(int64(created))
	item.UpdatedAt = time.UnixMilli(int64(updated))
	return &item, nil
}

func atoiField(fields map[string]string, name string) (int, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func (r *RedisCatalog) ListItems(ctx context.Context) ([]domain.CatalogItem, error) {
	ids, err := r.client.SMembers(ctx, bookIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}

	items := make([]domain.CatalogItem, 0, len(ids))
	for _, id := range ids {
		item, err := r.GetItem(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func metadataFields(item domain.CatalogItem, updated int64) map[string]any {
	return map[string]any{
		"title":          item.Title,
		"description":    item.Description,
		"author":         item.Author,
		"category":       string(item.Category),
		"image_url":      item.ImageURL,
		"isbn":           item.ISBN,
		"publisher":      item.Publisher,
		"published_year": item.PublishedYear,
		"updated_at":     updated,
	}
}

func (r *RedisCatalog) CreateItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := r.timestamp()

	meta := metadataFields(item, now)
	meta["created_at"] = now

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, bookKey(item.ID), meta)
		pipe.HSet(ctx, stockKey(item.ID), map[string]any{
			"quantity":   item.Stock,
			"price":      item.Price.String(),
			"version":    0,
			"updated_at": now,
		})
		pipe.SAdd(ctx, bookIndexKey, item.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}

	item.Version = 0
	item.CreatedAt = time.UnixMilli(now)
	item.UpdatedAt = item.CreatedAt
	return &item, nil
}

func (r *RedisCatalog) UpdateItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	bk, sk := bookKey(item.ID), stockKey(item.ID)
	now := r.timestamp()

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, bk, sk).Result()
		if err != nil {
			return err
		}
		if n != 2 {
			return domain.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, bk, metadataFields(item, now))
			pipe.HSet(ctx, sk, "price", item.Price.String(), "updated_at", now)
			return nil
		})
		return err
	}, bk, sk)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, err
	case errors.Is(err, redis.TxFailedErr):
		return nil, domain.ErrConflict
	case err != nil:
		return nil, fmt.Errorf("update book: %w", err)
	}
	return r.GetItem(ctx, item.ID)
}

func (r *RedisCatalog) DeleteItem(ctx context.Context, bookID string) error {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, bookKey(bookID), stockKey(bookID))
		pipe.SRem(ctx, bookIndexKey, bookID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if deleted.Val() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RedisCatalog) UpdateStock(ctx context.Context, bookID string, quantity int) (*domain.CatalogItem, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("stock %d: %w", quantity, domain.ErrInvalidArgument)
	}

	result, err := setStockScript.Run(ctx, r.client, []string{stockKey(bookID)}, quantity, r.timestamp()).Int()
	if err != nil {
		return nil, fmt.Errorf("set stock: %w", err)
	}
	if result == scriptMissing {
		return nil, domain.ErrNotFound
	}
	return r.GetItem(ctx, bookID)
}

func (r *RedisCatalog) CompareAndSwapStock(ctx context.Context, bookID string, expected, quantity int) (*domain.CatalogItem, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("stock %d: %w", quantity, domain.ErrInvalidArgument)
	}

	result, err := swapStockScript.Run(ctx, r.client, []string{stockKey(bookID)}, expected, quantity, r.timestamp()).Int()
	if err != nil {
		return nil, fmt.Errorf("swap stock: %w", err)
	}
	switch result {
	case scriptMissing:
		return nil, domain.ErrNotFound
	case scriptRejected:
		return nil, domain.ErrConflict
	}
	return r.GetItem(ctx, bookID)
}

func (r *RedisCatalog) AdjustStock(ctx context.Context, bookID string, delta int) (*domain.CatalogItem, error) {
	result, err := adjustStockScript.Run(ctx, r.client, []string{stockKey(bookID)}, delta, r.timestamp()).Int()
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	switch result {
	case scriptMissing:
		return nil, domain.ErrNotFound
	case scriptRejected:
		return nil, domain.ErrInsufficientStock
	}
	return r.GetItem(ctx, bookID)
}

func (r *RedisCatalog) ApplyStockChanges(ctx context.Context, changes []domain.StockChange) error {
	if len(changes) == 0 {
		return nil
	}

	keys := make([]string, len(changes))
	args := make([]any, 0, 1+2*len(changes))
	args = append(args, r.timestamp())
	for i, c := range changes {
		if c.Quantity <= 0 || c.Quantity > c.Expected {
			return &domain.StockChangeError{BookID: c.BookID, Err: domain.ErrInsufficientStock}
		}
		keys[i] = stockKey(c.BookID)
		args = append(args, c.Expected, c.Quantity)
	}

	reply, err := applyStockScript.Run(ctx, r.client, keys, args...).Int64Slice()
	if err != nil {
		return fmt.Errorf("apply stock changes: %w", err)
	}
	if len(reply) != 2 {
		return fmt.Errorf("apply stock changes: unexpected reply %v", reply)
	}

	status, index := reply[0], int(reply[1])
	if status == scriptApplied {
		return nil
	}
	if index < 1 || index > len(changes) {
		return fmt.Errorf("apply stock changes: reply index %d out of range", index)
	}

	bookID := changes[index-1].BookID
	if status == scriptMissing {
		return &domain.StockChangeError{BookID: bookID, Err: domain.ErrNotFound}
	}
	return &domain.StockChangeError{BookID: bookID, Err: domain.ErrConflict}
}
