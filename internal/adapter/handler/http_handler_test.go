package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/core/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePurchases struct {
	res     *service.PurchaseResult
	err     error
	got     service.PurchaseRequest
	history []domain.PurchaseRecord
}

func (f *fakePurchases) Purchase(ctx context.Context, req service.PurchaseRequest) (*service.PurchaseResult, error) {
	f.got = req
	return f.res, f.err
}

func (f *fakePurchases) History(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	return f.history, nil
}

type fakeAvailability struct {
	av  domain.Availability
	err error
}

func (f *fakeAvailability) CheckCombinedAvailability(ctx context.Context, packageID int) (domain.Availability, error) {
	f.av.PackageID = packageID
	return f.av, f.err
}

type fakeCatalog struct {
	pkgs []domain.Package
	err  error
}

func (f *fakeCatalog) List(ctx context.Context, activeOnly bool) ([]domain.Package, error) {
	return f.pkgs, nil
}

func (f *fakeCatalog) UpdatePrice(ctx context.Context, id int, price decimal.Decimal) (domain.Package, error) {
	if f.err != nil {
		return domain.Package{}, f.err
	}
	return domain.Package{ID: id, Price: price, Active: true}, nil
}

type fakeInventory struct {
	stock  map[int]int
	codes  []string
	text   string
	policy domain.DedupePolicy
	err    error
}

func (f *fakeInventory) Stock(ctx context.Context) (map[int]int, error) {
	return f.stock, nil
}

func (f *fakeInventory) AddPins(ctx context.Context, packageID int, codes []string) (int, error) {
	f.codes = codes
	return len(codes), f.err
}

func (f *fakeInventory) AddPinsText(ctx context.Context, packageID int, text string) (int, error) {
	f.text = text
	return 2, f.err
}

func (f *fakeInventory) RemoveDuplicates(ctx context.Context, policy domain.DedupePolicy) (int64, error) {
	f.policy = policy
	return 4, f.err
}

type fakeWallets struct {
	credited decimal.Decimal
	err      error
}

func (f *fakeWallets) Credit(ctx context.Context, userID string, amount decimal.Decimal) (domain.Wallet, error) {
	if f.err != nil {
		return domain.Wallet{}, f.err
	}
	f.credited = amount
	return domain.Wallet{UserID: userID, Balance: amount}, nil
}

func (f *fakeWallets) Summary(ctx context.Context, userID string) (service.WalletSummary, error) {
	return service.WalletSummary{
		Wallet:  domain.Wallet{UserID: userID, Balance: decimal.RequireFromString("7.5")},
		Credits: []domain.WalletCredit{},
	}, nil
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeVendor struct {
	pingErr error
}

func (f *fakeVendor) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeVendor) Balance(ctx context.Context) (string, error) { return "125.40", nil }

type fixture struct {
	purchases    *fakePurchases
	availability *fakeAvailability
	catalog      *fakeCatalog
	inventory    *fakeInventory
	wallets      *fakeWallets
	cache        *fakePinger
	router       *gin.Engine
}

func newFixture(t *testing.T, vendor VendorStatus, adminToken string) *fixture {
	f := &fixture{
		purchases:    &fakePurchases{},
		availability: &fakeAvailability{},
		catalog:      &fakeCatalog{pkgs: domain.DefaultPackages()},
		inventory:    &fakeInventory{stock: map[int]int{1: 3}},
		wallets:      &fakeWallets{},
		cache:        &fakePinger{},
	}
	h := NewHTTPHandler(f.purchases, f.availability, f.catalog, f.inventory, f.wallets, vendor, f.cache, HTTPConfig{AdminToken: adminToken}, zaptest.NewLogger(t))
	f.router = h.Router()
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) PurchaseHTTPResponse {
	t.Helper()
	var resp PurchaseHTTPResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func successResult() *service.PurchaseResult {
	return &service.PurchaseResult{
		Allocation: domain.Allocation{
			Status:    domain.StatusSuccess,
			PackageID: 1,
			Requested: 2,
			Pins: []domain.AllocatedPin{
				{Code: "AAAA1111BBBB", Source: domain.SourceLocalStock},
				{Code: "VEND12345678", Source: domain.SourceVendor},
			},
			Timestamp: time.Now(),
		},
		Record: &domain.PurchaseRecord{
			TransactionID: "FF-ABCDEF12",
			ControlNumber: "0123456789",
			Amount:        decimal.RequireFromString("-1.32"),
		},
	}
}

func TestPurchase_Success(t *testing.T) {
	f := newFixture(t, nil, "")
	f.purchases.res = successResult()

	w := f.do(http.MethodPost, "/api/purchase", `{"request_id":"req-1","user_id":"u1","package_id":1,"quantity":2}`)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "FF-ABCDEF12", resp.TransactionID)
	assert.Equal(t, "-1.32", resp.Amount)
	assert.Equal(t, 2, resp.Obtained)
	assert.Equal(t, domain.SourceVendor, resp.Pins[1].Source)
	assert.Equal(t, service.PurchaseRequest{RequestID: "req-1", UserID: "u1", PackageID: 1, Quantity: 2}, f.purchases.got)
}

func TestPurchase_GeneratesRequestID(t *testing.T) {
	f := newFixture(t, nil, "")
	f.purchases.res = successResult()

	w := f.do(http.MethodPost, "/api/purchase", `{"user_id":"u1","package_id":1,"quantity":1}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, f.purchases.got.RequestID)
	assert.Equal(t, f.purchases.got.RequestID, decode(t, w).RequestID)
}

func TestPurchase_ErrorMapping(t *testing.T) {
	failed := func(kind domain.ErrorKind) *service.PurchaseResult {
		return &service.PurchaseResult{Allocation: domain.Allocation{Status: domain.StatusFailure, Kind: kind, Pins: []domain.AllocatedPin{}}}
	}

	tests := []struct {
		name   string
		res    *service.PurchaseResult
		err    error
		status int
	}{
		{"duplicate", nil, service.ErrDuplicateRequest, http.StatusConflict},
		{"insufficient balance", nil, fmt.Errorf("%w: need 1.32", domain.ErrInsufficientBalance), http.StatusPaymentRequired},
		{"invalid", nil, service.ErrInvalidRequest, http.StatusBadRequest},
		{"unknown package", nil, fmt.Errorf("%w: %w", service.ErrInvalidRequest, domain.ErrPackageNotFound), http.StatusNotFound},
		{"sold out", failed(domain.KindNoStock), fmt.Errorf("%w: no_stock", service.ErrAllocationFailed), http.StatusGone},
		{"vendor down", failed(domain.KindNoStockNoAPI), fmt.Errorf("%w: no_stock_no_api", service.ErrAllocationFailed), http.StatusGone},
		{"vendor error", failed(domain.KindExternalAPIError), fmt.Errorf("%w: external_api_error", service.ErrAllocationFailed), http.StatusBadGateway},
		{"unexpected", failed(domain.KindUnexpected), fmt.Errorf("%w: unexpected", service.ErrAllocationFailed), http.StatusInternalServerError},
		{"redis down", nil, errors.New("idempotency check failed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, "")
			f.purchases.res = tt.res
			f.purchases.err = tt.err

			w := f.do(http.MethodPost, "/api/purchase", `{"request_id":"r","user_id":"u","package_id":1,"quantity":1}`)

			assert.Equal(t, tt.status, w.Code)
			resp := decode(t, w)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestPurchase_InvalidBody(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPost, "/api/purchase", `{"quantity":"many"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurchase_RecordFailureStillDelivers(t *testing.T) {
	f := newFixture(t, nil, "")
	res := successResult()
	res.Record = nil
	f.purchases.res = res
	f.purchases.err = errors.New("record purchase: deadlock")

	w := f.do(http.MethodPost, "/api/purchase", `{"request_id":"r","user_id":"u","package_id":1,"quantity":2}`)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Pins, 2)
	assert.NotEmpty(t, resp.Warning)
}

func TestAvailability(t *testing.T) {
	f := newFixture(t, nil, "")
	f.availability.av = domain.Availability{LocalStock: 3, Available: true}

	w := f.do(http.MethodGet, "/api/packages/2/availability", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var av domain.Availability
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &av))
	assert.Equal(t, 2, av.PackageID)
	assert.True(t, av.Available)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/packages/abc/availability", "").Code)

	f.availability.err = domain.ErrPackageNotFound
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/packages/99/availability", "").Code)
}

func TestListPackagesAndHistory(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodGet, "/api/packages", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Tarjeta mensual")

	w = f.do(http.MethodGet, "/api/users/u1/purchases", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"purchases":[]}`, w.Body.String())
}

func TestAdmin_TokenRequired(t *testing.T) {
	f := newFixture(t, nil, "s3cret")

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/admin/stock", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/admin/stock", "", "X-Admin-Token", "wrong").Code)

	w := f.do(http.MethodGet, "/api/admin/stock", "", "X-Admin-Token", "s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stock":{"1":3}}`, w.Body.String())
}

func TestAdmin_AddPins(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPost, "/api/admin/packages/1/pins", `{"pins":["AAAA1111BBBB","CCCC2222DDDD","EEEE3333FFFF"]}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"added":3}`, w.Body.String())

	w = f.do(http.MethodPost, "/api/admin/packages/1/pins", `{"text":"AAAA1111BBBB\nCCCC2222DDDD"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "AAAA1111BBBB\nCCCC2222DDDD", f.inventory.text)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/admin/packages/1/pins", `{}`).Code)

	f.inventory.err = domain.ErrPackageNotFound
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/admin/packages/42/pins", `{"pins":["X"]}`).Code)
}

func TestAdmin_UpdatePrice(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPut, "/api/admin/packages/1/price", `{"price":"0.70"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"price":"0.7"`)

	f.catalog.err = service.ErrInvalidPrice
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/admin/packages/1/price", `{"price":"-1"}`).Code)

	f.catalog.err = domain.ErrPackageNotFound
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPut, "/api/admin/packages/77/price", `{"price":"1"}`).Code)
}

func TestAdmin_RemoveDuplicates(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPost, "/api/admin/pins/dedupe", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":4}`, w.Body.String())
	assert.Equal(t, domain.DedupePolicy(""), f.inventory.policy)

	w = f.do(http.MethodPost, "/api/admin/pins/dedupe", `{"policy":"keep_newest"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.KeepNewest, f.inventory.policy)

	f.inventory.err = service.ErrInvalidPolicy
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/admin/pins/dedupe", `{"policy":"nope"}`).Code)
}

func TestWallet(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodGet, "/api/users/u1/wallet", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u1","balance":"7.5","updated_at":"0001-01-01T00:00:00Z","credits":[]}`, w.Body.String())
}

func TestAdmin_Credit(t *testing.T) {
	f := newFixture(t, nil, "s3cret")

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/admin/users/u1/credit", `{"amount":"10.00"}`).Code)

	w := f.do(http.MethodPost, "/api/admin/users/u1/credit", `{"amount":"10.00"}`, "X-Admin-Token", "s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.wallets.credited.Equal(decimal.RequireFromString("10")))
	assert.Contains(t, w.Body.String(), `"user_id":"u1"`)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/admin/users/u1/credit", `{"amount":"abc"}`, "X-Admin-Token", "s3cret").Code)

	f.wallets.err = service.ErrInvalidCredit
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/admin/users/u1/credit", `{"amount":"-1"}`, "X-Admin-Token", "s3cret").Code)

	f.wallets.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodPost, "/api/admin/users/u1/credit", `{"amount":"1"}`, "X-Admin-Token", "s3cret").Code)
}

func TestVendorHealth(t *testing.T) {
	w := newFixture(t, nil, "").do(http.MethodGet, "/health/vendor", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"disabled"}`, w.Body.String())

	w = newFixture(t, &fakeVendor{}, "").do(http.MethodGet, "/health/vendor", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","balance":"125.40"}`, w.Body.String())

	w = newFixture(t, &fakeVendor{pingErr: errors.New("refused")}, "").do(http.MethodGet, "/health/vendor", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	f.cache.err = errors.New("dial tcp: connection refused")
	w = f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","redis":"unreachable"}`, w.Body.String())
	f.cache.err = nil

	w = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "topup_pins_http_requests_total")
}
