//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/repository"
)

const (
	testAdminKey = "integration-admin-key"
	testPepper   = "integration-pepper"
)

var (
	baseURL    string
	httpClient *http.Client
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func startContainer(ctx context.Context, req testcontainers.ContainerRequest, port string) (testcontainers.Container, string, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", err
	}
	host, err := c.Host(ctx)
	if err != nil {
		return c, "", err
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		return c, "", err
	}
	return c, fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, pgAddr, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "shop",
			"POSTGRES_PASSWORD": "shop",
			"POSTGRES_DB":       "shop",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}, "5432/tcp")
	if pg != nil {
		defer func() { _ = pg.Terminate(context.Background()) }()
	}
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	rd, redisAddr, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
	}, "6379/tcp")
	if rd != nil {
		defer func() { _ = rd.Terminate(context.Background()) }()
	}
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}

	cfg := &Config{
		DatabaseURL:  fmt.Sprintf("postgres://shop:shop@%s/shop?sslmode=disable", pgAddr),
		APIKeyPepper: testPepper,
		Redis: RedisConfig{
			Addr:      redisAddr,
			KeyPrefix: "storefront-test:",
			CacheTTL:  time.Minute,
		},
		RateLimit: RateLimitConfig{Max: 10000, Window: time.Minute},
	}

	lg := zap.NewNop()
	appCtx := zctx.Base(ctx, lg)
	srv, err := build(appCtx, lg, cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	defer srv.close()
	srv.health.SetReady(true)

	if err := seedAdminKey(ctx, cfg.DatabaseURL); err != nil {
		log.Fatalf("seed admin key: %v", err)
	}

	ts := httptest.NewServer(srv.handler)
	defer ts.Close()
	baseURL = ts.URL
	httpClient = &http.Client{Timeout: 10 * time.Second}

	return m.Run()
}

func seedAdminKey(ctx context.Context, databaseURL string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	return repository.NewAPIKeyRepository(pool).Upsert(ctx, auth.APIKeyInfo{
		ID:      "integration",
		KeyHash: auth.HashKey([]byte(testPepper), testAdminKey),
		Name:    "integration tests",
		Scopes:  []string{auth.ScopeAdmin},
	})
}

func do(t *testing.T, method, path string, body any, key string) (int, map[string]any) {
	t.Helper()

	status, out, err := send(method, path, body, key)
	require.NoError(t, err)
	return status, out
}

// send is safe to call from goroutines other than the test's own.
func send(method, path string, body any, key string) (int, map[string]any, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, r)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("api_key", key)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, out, nil
}

func createProduct(t *testing.T, name string, price int) float64 {
	t.Helper()

	status, body := do(t, http.MethodPost, "/api/admin/products", map[string]any{
		"name":  name,
		"price": price,
		"stock": 100,
	}, testAdminKey)
	require.Equal(t, http.StatusCreated, status, body)
	return body["product"].(map[string]any)["id"].(float64)
}

func createVoucher(t *testing.T, code string, discount, limit int) {
	t.Helper()

	now := time.Now().UTC()
	status, body := do(t, http.MethodPost, "/api/admin/vouchers", map[string]any{
		"code":            code,
		"discount_amount": discount,
		"valid_from":      now.Add(-time.Hour),
		"valid_to":        now.Add(24 * time.Hour),
		"usage_limit":     limit,
	}, testAdminKey)
	require.Equal(t, http.StatusCreated, status, body)
}

func orderBody(productID float64, qty int, code string) map[string]any {
	return map[string]any{
		"customer_name":    "Nguyen Van A",
		"customer_phone":   "0901234567",
		"customer_address": "12 Le Loi, District 1",
		"product_id":       productID,
		"color":            "black",
		"size":             "M",
		"quantity":         qty,
		"voucher_code":     code,
	}
}

func TestIntegration_Probes(t *testing.T) {
	resp, err := httpClient.Get(baseURL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_AdminAuth(t *testing.T) {
	status, body := do(t, http.MethodGet, "/api/admin/orders", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, false, body["success"])

	status, _ = do(t, http.MethodGet, "/api/admin/orders", nil, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, http.MethodGet, "/api/admin/orders", nil, testAdminKey)
	assert.Equal(t, http.StatusOK, status)
}

func TestIntegration_CatalogAndCache(t *testing.T) {
	id := createProduct(t, "Linen Shirt", 250000)
	path := fmt.Sprintf("/api/products/%d", int64(id))

	status, body := do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Linen Shirt", body["product"].(map[string]any)["name"])

	status, body = do(t, http.MethodGet, "/api/products", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["products"])

	// Deactivating through the admin API must evict the cached entry.
	status, _ = do(t, http.MethodDelete, fmt.Sprintf("/api/admin/products/%d", int64(id)), nil, testAdminKey)
	require.Equal(t, http.StatusOK, status)

	status, body = do(t, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Product not found", body["error"])
}

func TestIntegration_PlaceOrder(t *testing.T) {
	id := createProduct(t, "Canvas Tote", 100000)
	createVoucher(t, "TOTE30", 30000, 0)

	status, body := do(t, http.MethodPost, "/api/vouchers/validate", map[string]any{"code": "tote30"}, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "TOTE30", body["code"])

	status, body = do(t, http.MethodPost, "/api/orders", orderBody(id, 2, "tote30"), "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.InDelta(t, 30000, body["discount"], 0)
	assert.InDelta(t, 170000, body["total"], 0)
	code := body["order_code"].(string)
	require.NotEmpty(t, code)

	status, body = do(t, http.MethodGet, "/api/orders/"+code, nil, "")
	require.Equal(t, http.StatusOK, status)
	got := body["order"].(map[string]any)
	assert.Equal(t, code, got["order_code"])
	assert.Equal(t, "pending", got["status"])

	orderID := int64(got["id"].(float64))
	status, body = do(t, http.MethodPatch, fmt.Sprintf("/api/admin/orders/%d/status", orderID),
		map[string]any{"status": "confirmed"}, testAdminKey)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "confirmed", body["status"])

	status, body = do(t, http.MethodPost, "/api/orders", orderBody(id, 1, "NOPE0000"), "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_VOUCHER", body["error"])
}

func TestIntegration_VoucherLimitUnderContention(t *testing.T) {
	id := createProduct(t, "Wool Scarf", 90000)
	createVoucher(t, "SCARF3", 10000, 3)

	const attempts = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		limited int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, body, err := send(http.MethodPost, "/api/orders", orderBody(id, 1, "SCARF3"), "")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case status == http.StatusOK:
				success++
			case status == http.StatusBadRequest && body["error"] == "VOUCHER_LIMIT":
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, success)
	assert.Equal(t, attempts-3, limited)

	status, body := do(t, http.MethodPost, "/api/vouchers/validate", map[string]any{"code": "SCARF3"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VOUCHER_LIMIT", body["error"])
}
