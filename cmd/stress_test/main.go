package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore/internal/adapter/storage"
	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/core/service"
	"github.com/rl1809/bookstore/internal/logging"
)

const (
	bookID        = "last-copies"
	initialStock  = 20
	totalRequests = 50
	queueSize     = 100
)

func main() {
	ctx := context.Background()
	logger := logging.New("warn", "console")

	dir, err := os.MkdirTemp("", "bookstore-stress")
	if err != nil {
		logger.Fatal().Err(err).Msg("create temp dir")
	}
	defer os.RemoveAll(dir)

	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "stress.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("open sqlite")
	}
	defer db.Close()
	if err := storage.Migrate(db, storage.SQLite); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	store := storage.NewSQLStore(db, storage.SQLite)

	_, err = store.CreateItem(ctx, domain.CatalogItem{
		ID:       bookID,
		Title:    "The Feynman Lectures on Physics",
		Author:   "Richard Feynman",
		Category: domain.CategoryPhysics,
		Stock:    initialStock,
		Price:    decimal.RequireFromString("99.00"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create book")
	}

	carts := service.NewCartService(store, store, nil, domain.OrphanPurge, logger)
	checkout := service.NewCheckoutService(store, store, storage.NewMemoryCheckoutGuard(),
		service.CheckoutConfig{QueueSize: queueSize}, logger)
	defer checkout.Close()

	// Drain the order queue in background
	go func() {
		for range checkout.GetOrderQueue() {
		}
	}()

	for i := 0; i < totalRequests; i++ {
		if _, err := carts.AddLine(ctx, userID(i), bookID, 1); err != nil {
			logger.Fatal().Err(err).Msg("fill cart")
		}
	}

	var successCount, soldOutCount, conflictCount, errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			result, err := checkout.PlaceOrder(ctx, id)
			switch {
			case err != nil:
				errorCount.Add(1)
			case result.Success:
				successCount.Add(1)
			case result.Reason == domain.ReasonInsufficientStock:
				soldOutCount.Add(1)
			default:
				conflictCount.Add(1)
			}
		}(userID(i))
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Checkouts:  %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Conflicts:        %d\n", conflictCount.Load())
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	item, err := store.GetItem(ctx, bookID)
	if err != nil {
		logger.Fatal().Err(err).Msg("read final stock")
	}
	fmt.Printf("Final Stock:      %d\n", item.Stock)

	if item.Stock >= 0 && int(success)+item.Stock == initialStock {
		fmt.Printf("PASS: %d sold + %d left = %d\n", success, item.Stock, initialStock)
	} else {
		fmt.Printf("FAIL: %d sold + %d left != %d\n", success, item.Stock, initialStock)
	}
	if success > initialStock {
		fmt.Printf("FAIL: oversold by %d\n", int(success)-initialStock)
	}
}

func userID(i int) string {
	return fmt.Sprintf("user-%d", i)
}
