package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/topup-pins/internal/adapter/events"
	"github.com/rl1809/topup-pins/internal/adapter/handler"
	"github.com/rl1809/topup-pins/internal/adapter/storage"
	"github.com/rl1809/topup-pins/internal/adapter/vendorapi"
	"github.com/rl1809/topup-pins/internal/config"
	"github.com/rl1809/topup-pins/internal/core/service"
	"github.com/rl1809/topup-pins/internal/port"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := storage.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		logger.Fatal("failed to connect mysql", zap.Error(err))
	}
	if err := storage.Migrate(ctx, db, logger); err != nil {
		logger.Fatal("failed to migrate mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	redisAdapter := storage.NewRedisAdapter(rdb)
	if err := redisAdapter.Ping(ctx); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	// Initialize NATS; events are only logged when it is not configured
	nc, err := events.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("failed to connect nats", zap.Error(err))
	}
	var publisher port.EventPublisher = events.NewLogPublisher(logger)
	if nc != nil {
		publisher = events.NewNATSPublisher(nc)
		logger.Info("connected to nats", zap.String("url", nc.ConnectedUrl()))
	}

	// Initialize adapters
	inventoryRepo := storage.NewMySQLInventory(db)
	packageRepo := storage.NewMySQLPackages(db)
	purchaseRepo := storage.NewMySQLPurchases(db)
	walletRepo := storage.NewMySQLWallets(db)

	// The vendor stays an untyped nil interface when disabled
	var (
		vendor       port.VendorClient
		vendorStatus handler.VendorStatus
	)
	if cfg.VendorEnabled() {
		client := vendorapi.New(cfg.Vendor, logger)
		vendor, vendorStatus = client, client
		logger.Info("vendor fallback configured",
			zap.String("base_url", cfg.Vendor.BaseURL), zap.Bool("fallback_enabled", cfg.FallbackEnabled))
	} else {
		logger.Warn("vendor not configured, selling local stock only")
	}

	// Initialize services
	catalogService := service.NewCatalogService(packageRepo, logger)
	if err := catalogService.Seed(ctx); err != nil {
		logger.Fatal("failed to seed packages", zap.Error(err))
	}

	allocator := service.NewAllocator(inventoryRepo, packageRepo, vendor,
		service.AllocatorConfig{FallbackEnabled: cfg.FallbackEnabled}, logger)
	inventoryService := service.NewInventoryService(inventoryRepo, packageRepo, cfg.DedupePolicy, logger)
	purchaseService := service.NewPurchaseService(allocator, packageRepo, purchaseRepo, walletRepo, redisAdapter,
		service.PurchaseConfig{Retention: cfg.PurchaseRetention, QueueSize: cfg.EventQueueSize}, logger)
	walletService := service.NewWalletService(walletRepo, cfg.CreditRetention, logger)

	// Start event workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.EventWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			events.WorkerLoop(id, purchaseService.GetEventQueue(), publisher, logger)
		}(i)
	}
	logger.Info("started event workers", zap.Int("count", cfg.EventWorkers))

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterPinServiceServer(grpcServer, handler.NewGRPCHandler(purchaseService, allocator, logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr()), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(purchaseService, allocator, catalogService, inventoryService, walletService,
		vendorStatus, redisAdapter, handler.HTTPConfig{AdminToken: cfg.AdminToken}, logger)
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, admin routes are open in dev")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr()))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// In-flight purchases may be waiting on a vendor call
	shutdownTimeout := 5 * time.Second
	if cfg.VendorEnabled() {
		shutdownTimeout += cfg.Vendor.Timeout
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	// Stop gRPC server, forcing it once the deadline passes
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.Warn("gRPC graceful stop timed out, forcing")
		grpcServer.Stop()
	}
	logger.Info("gRPC server stopped")

	// Close event queue and wait for workers; purchases still running drop
	// their events instead of sending on the closed queue
	purchaseService.Close()
	wg.Wait()
	logger.Info("workers stopped")

	// Close connections
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logger.Warn("nats drain", zap.Error(err))
		}
	}
	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}
