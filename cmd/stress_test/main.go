package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/adapter/storage"
	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/core/service"
)

const (
	packageID     = 990
	initialStock  = 20
	totalRequests = 50
	queueSize     = 100
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	// Initialize MySQL
	db, err := storage.Open(ctx, envOr("MYSQL_DSN", "root:root@tcp(localhost:3306)/topup?parseTime=true"))
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(ctx, db, logger); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: envOr("REDIS_ADDR", "localhost:6379"), PoolSize: 100})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	inventory := storage.NewMySQLInventory(db)
	packages := storage.NewMySQLPackages(db)
	purchases := storage.NewMySQLPurchases(db)
	wallets := storage.NewMySQLWallets(db)

	// Clear previous test data
	cleanup := func() {
		db.ExecContext(ctx, `DELETE FROM pins WHERE package_id = ?`, packageID)
		db.ExecContext(ctx, `DELETE FROM purchases WHERE package_id = ?`, packageID)
		db.ExecContext(ctx, `DELETE FROM wallet_credits WHERE user_id LIKE 'stress-user-%'`)
		db.ExecContext(ctx, `DELETE FROM wallets WHERE user_id LIKE 'stress-user-%'`)
	}
	cleanup()
	defer cleanup()

	if err := packages.Seed(ctx, []domain.Package{{
		ID: packageID, Name: "stress", Description: "stress test package",
		Price: decimal.RequireFromString("1.00"), Active: true,
	}}); err != nil {
		log.Fatalf("failed to seed package: %v", err)
	}

	codes := make([]string, initialStock)
	for i := range codes {
		codes[i] = fmt.Sprintf("STRESS%010d", i)
	}
	if _, err := inventory.BulkInsert(ctx, packageID, codes); err != nil {
		log.Fatalf("failed to insert pins: %v", err)
	}

	for i := 0; i < totalRequests; i++ {
		if _, err := wallets.Credit(ctx, fmt.Sprintf("stress-user-%d", i), decimal.RequireFromString("10.00"), domain.DefaultCreditRetention); err != nil {
			log.Fatalf("failed to credit wallet: %v", err)
		}
	}

	// Local stock only, so exactly initialStock requests can succeed
	allocator := service.NewAllocator(inventory, packages, nil, service.AllocatorConfig{FallbackEnabled: false}, logger)
	purchaseService := service.NewPurchaseService(allocator, packages, purchases, wallets, storage.NewRedisAdapter(rdb),
		service.PurchaseConfig{QueueSize: queueSize}, logger)
	defer purchaseService.Close()

	// Drain the event queue in background
	go func() {
		for range purchaseService.GetEventQueue() {
		}
	}()

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32
	var errCount atomic.Int32

	var mu sync.Mutex
	delivered := make(map[string]int)

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			res, err := purchaseService.Purchase(ctx, service.PurchaseRequest{
				RequestID: uuid.NewString(),
				UserID:    fmt.Sprintf("stress-user-%d", userID),
				PackageID: packageID,
				Quantity:  1,
			})
			switch {
			case err == nil:
				successCount.Add(1)
				mu.Lock()
				for _, code := range res.Allocation.Codes() {
					delivered[code]++
				}
				mu.Unlock()
			case errors.Is(err, service.ErrAllocationFailed):
				failCount.Add(1)
			default:
				errCount.Add(1)
				log.Printf("user %d: %v", userID, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold out:         %d\n", fail)
	fmt.Printf("Errors:           %d\n", errCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d purchases succeeded, %d sold out\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	duplicates := 0
	for code, n := range delivered {
		if n > 1 {
			duplicates++
			fmt.Printf("FAIL: pin %s delivered %d times\n", domain.MaskCode(code), n)
		}
	}
	if duplicates == 0 && len(delivered) == int(success) {
		fmt.Printf("PASS: %d distinct pins delivered\n", len(delivered))
	}

	// Verify remaining stock in MySQL
	remaining, err := inventory.Count(ctx, packageID)
	if err != nil {
		log.Fatalf("failed to count stock: %v", err)
	}
	fmt.Printf("Remaining Stock:  %d\n", remaining)

	if remaining == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", remaining)
	}
}
