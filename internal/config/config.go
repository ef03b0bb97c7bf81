package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rl1809/topup-pins/internal/adapter/vendorapi"
	"github.com/rl1809/topup-pins/internal/core/domain"
)

type Config struct {
	AppEnv   string
	HTTPPort string
	GRPCPort string

	MySQLDSN  string
	RedisAddr string
	NATSURL   string

	Vendor vendorapi.Config

	FallbackEnabled   bool
	DedupePolicy      domain.DedupePolicy
	PurchaseRetention int
	CreditRetention   int
	EventWorkers      int
	EventQueueSize    int
	AdminToken        string
}

// New loads configuration from the environment, reading .env first when
// present. The vendor is optional: without VENDOR_BASE_URL only local stock
// is sold. ADMIN_TOKEN may only be left empty with APP_ENV=dev.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   envStr("APP_ENV", "prod"),
		HTTPPort: envStr("HTTP_PORT", "8080"),
		GRPCPort: envStr("GRPC_PORT", "50051"),

		MySQLDSN:  envStr("MYSQL_DSN", "root:root@tcp(localhost:3306)/topup?parseTime=true&loc=UTC"),
		RedisAddr: envStr("REDIS_ADDR", "localhost:6379"),
		NATSURL:   os.Getenv("NATS_URL"),

		Vendor: vendorapi.Config{
			BaseURL:   os.Getenv("VENDOR_BASE_URL"),
			User:      os.Getenv("VENDOR_USER"),
			Password:  os.Getenv("VENDOR_PASSWORD"),
			Type:      envStr("VENDOR_TYPE", vendorapi.DefaultType),
			Timeout:   envDur("VENDOR_TIMEOUT", vendorapi.DefaultTimeout),
			RateLimit: envFloat("VENDOR_RATE_LIMIT", 5),
			Burst:     envInt("VENDOR_RATE_BURST", 1),
		},

		FallbackEnabled:   envBool("FALLBACK_ENABLED", true),
		DedupePolicy:      domain.DedupePolicy(envStr("DEDUPE_POLICY", string(domain.KeepOldest))),
		PurchaseRetention: envInt("PURCHASE_RETENTION", domain.DefaultPurchaseRetention),
		CreditRetention:   envInt("CREDIT_RETENTION", domain.DefaultCreditRetention),
		EventWorkers:      envInt("EVENT_WORKERS", 4),
		EventQueueSize:    envInt("EVENT_QUEUE_SIZE", 10000),
		AdminToken:        os.Getenv("ADMIN_TOKEN"),
	}

	tiers, err := ParseTiers(os.Getenv("VENDOR_TIERS"))
	if err != nil {
		return nil, err
	}
	cfg.Vendor.Tiers = tiers

	if cfg.MySQLDSN == "" {
		return nil, fmt.Errorf("missing required env: MYSQL_DSN")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("missing required env: REDIS_ADDR")
	}
	if !cfg.DedupePolicy.Valid() {
		return nil, fmt.Errorf("invalid DEDUPE_POLICY %q, must be %q or %q", cfg.DedupePolicy, domain.KeepOldest, domain.KeepNewest)
	}
	if cfg.PurchaseRetention < 1 {
		return nil, fmt.Errorf("PURCHASE_RETENTION must be positive, got %d", cfg.PurchaseRetention)
	}
	if cfg.CreditRetention < 1 {
		return nil, fmt.Errorf("CREDIT_RETENTION must be positive, got %d", cfg.CreditRetention)
	}
	if cfg.EventWorkers < 1 {
		return nil, fmt.Errorf("EVENT_WORKERS must be positive, got %d", cfg.EventWorkers)
	}
	if cfg.EventQueueSize < 0 {
		return nil, fmt.Errorf("EVENT_QUEUE_SIZE must not be negative, got %d", cfg.EventQueueSize)
	}
	if cfg.AdminToken == "" && cfg.AppEnv != "dev" {
		return nil, fmt.Errorf("missing required env: ADMIN_TOKEN")
	}
	if cfg.VendorEnabled() && (cfg.Vendor.User == "" || cfg.Vendor.Password == "") {
		return nil, fmt.Errorf("missing required env for vendor: VENDOR_USER/VENDOR_PASSWORD")
	}

	return cfg, nil
}

func (c *Config) VendorEnabled() bool {
	return c.Vendor.BaseURL != ""
}

func (c *Config) HTTPAddr() string {
	return ":" + c.HTTPPort
}

func (c *Config) GRPCAddr() string {
	return ":" + c.GRPCPort
}

// NewLogger returns a development logger for APP_ENV=dev and a production
// one otherwise.
func (c *Config) NewLogger() (*zap.Logger, error) {
	if c.AppEnv == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// ParseTiers reads "package:tier" pairs, e.g. "1:1,2:2,7:10". An empty
// string yields the default identity mapping.
func ParseTiers(s string) (map[int]int, error) {
	if strings.TrimSpace(s) == "" {
		return vendorapi.DefaultTiers(), nil
	}

	tiers := make(map[int]int)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		pkg, tier, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid VENDOR_TIERS entry %q, want package:tier", pair)
		}
		p, err := strconv.Atoi(strings.TrimSpace(pkg))
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("invalid package id in VENDOR_TIERS entry %q", pair)
		}
		t, err := strconv.Atoi(strings.TrimSpace(tier))
		if err != nil || t <= 0 {
			return nil, fmt.Errorf("invalid tier in VENDOR_TIERS entry %q", pair)
		}
		tiers[p] = t
	}
	return tiers, nil
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
