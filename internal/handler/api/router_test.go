package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"CryptoAlert/internal/domain/models"
	"CryptoAlert/internal/repository"
	"CryptoAlert/internal/service/ratelimit"
	"CryptoAlert/internal/usecase"
	"CryptoAlert/pkg/cache"
	xhttp "CryptoAlert/pkg/http"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource map[string]decimal.Decimal

func (s staticSource) Fetch(_ context.Context, symbols []string, _ string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, sym := range symbols {
		if p, ok := s[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, string, string) error { return nil }

type fakeHistory struct {
	symbol   string
	from, to time.Time
	limit    int
}

func (f *fakeHistory) StoreBatch(context.Context, []models.PriceSample) error { return nil }

func (f *fakeHistory) Query(_ context.Context, symbol string, from, to time.Time, limit int) ([]models.PriceSample, error) {
	f.symbol, f.from, f.to, f.limit = symbol, from, to, limit
	return []models.PriceSample{{Symbol: symbol, Currency: "usd", Price: decimal.RequireFromString("1.5"), ObservedAt: to}}, nil
}

func (f *fakeHistory) Close() error { return nil }

type fixture struct {
	server  *xhttp.Server
	engine  *usecase.Engine
	cache   *cache.MemoryCache
	history *fakeHistory
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()
	store := repository.NewMemoryAlertStore()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	hist := &fakeHistory{}

	d := usecase.NewDispatcher(nopNotifier{}, "test")
	engine := usecase.NewEngine(usecase.EngineConfig{Interval: time.Hour, Currency: "usd"}, store,
		staticSource{"BTC": decimal.RequireFromString("70100")}, d, usecase.WithPriceCache(c))
	t.Cleanup(func() { _ = engine.Stop(context.Background()) })

	router := NewRouter(nil,
		NewAlertsEchoHandler(nil, usecase.NewAlertService(store, nil)),
		NewEngineEchoHandler(nil, engine),
		NewPricesEchoHandler(nil, c, hist, 48*time.Hour),
		limiter,
	)
	return &fixture{server: xhttp.NewServer(router), engine: engine, cache: c, history: hist}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestAlertRoutesMergeAndList(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodPut, "/api/users/42/alerts/btc/upper", `{"price":"70000"}`)
	require.Equal(t, http.StatusOK, code)
	code, body := f.do(t, http.MethodPut, "/api/users/42/alerts/BTC/lower", `{"price":60000}`)
	require.Equal(t, http.StatusOK, code)
	rule := body["data"].(map[string]any)
	assert.Equal(t, "BTC", rule["symbol"])
	assert.Equal(t, "NEUTRAL", rule["state"])

	code, body = f.do(t, http.MethodGet, "/api/users/42/alerts", "")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(1), data["total"])
	rows := data["rows"].([]any)
	first := rows[0].(map[string]any)
	assert.Equal(t, "70000", first["high"])
	assert.Equal(t, "60000", first["low"])
}

func TestAlertRoutesRejectInvalidRules(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodPut, "/api/users/42/alerts/BTC", `{"high":"100","low":"200"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPut, "/api/users/42/alerts/BTC", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPut, "/api/users/42/alerts/BTC/upper", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPut, "/api/users/42/alerts/BTC/upper", `{"price":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPut, "/api/users/42/alerts/BT$C", `{"high":"1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAlertRoutesRemove(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodPut, "/api/users/7/alerts/ETH", `{"high":"3500"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodDelete, "/api/users/7/alerts/eth", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["data"].(map[string]any)["removed"])

	code, body = f.do(t, http.MethodDelete, "/api/users/7/alerts/ETH", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["data"].(map[string]any)["removed"])
}

func TestEngineRoutes(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodPut, "/api/users/7/alerts/BTC", `{"high":"70000"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodGet, "/api/engine", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "IDLE", body["data"].(map[string]any)["state"])

	code, body = f.do(t, http.MethodPost, "/api/engine/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "POLLING", body["data"].(map[string]any)["state"])

	require.Eventually(t, func() bool { return f.engine.Status().LastTick != nil }, time.Second, 5*time.Millisecond)

	code, body = f.do(t, http.MethodPost, "/api/engine/stop", "")
	require.Equal(t, http.StatusOK, code)
	status := body["data"].(map[string]any)
	assert.Equal(t, "STOPPED", status["state"])
	assert.Equal(t, float64(1), status["last_tick"].(map[string]any)["events"])

	code, body = f.do(t, http.MethodGet, "/api/prices/btc", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "70100", body["data"].(map[string]any)["price"])
}

func TestPriceRoutes(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodGet, "/api/prices/SOL", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := f.do(t, http.MethodGet, "/api/prices/sol/history?from=2024-01-01T00:00:00Z&to=2024-01-10T00:00:00Z&limit=10", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["total"])
	assert.Equal(t, "SOL", f.history.symbol)
	assert.Equal(t, 10, f.history.limit)
	// the range is clamped to 48h ending at "to"
	assert.Equal(t, 48*time.Hour, f.history.to.Sub(f.history.from))

	code, _ = f.do(t, http.MethodGet, "/api/prices/sol/history?limit=20000", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUserRoutesAreRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.NewMemory(2, 0.001))

	for i := 0; i < 2; i++ {
		code, _ := f.do(t, http.MethodGet, "/api/users/9/alerts", "")
		require.Equal(t, http.StatusOK, code)
	}
	code, body := f.do(t, http.MethodGet, "/api/users/9/alerts", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, float64(http.StatusTooManyRequests), body["status"])

	// other users have their own bucket
	code, _ = f.do(t, http.MethodGet, "/api/users/10/alerts", "")
	assert.Equal(t, http.StatusOK, code)
}
