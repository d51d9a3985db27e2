package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"grid-trade-bot-go/internal/config"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	client := resty.New().SetBaseURL(server.URL)
	logger := zap.NewNop() // Use a no-op logger for tests

	rc := &RestClient{
		client:    client,
		apiKey:    "test_api_key",
		secretKey: "test_secret_key",
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
		backoff:   func(int) time.Duration { return time.Millisecond },
	}

	return rc, server
}

// assertSigned checks that raw carries a signature matching the rest of the payload.
func assertSigned(t *testing.T, rc *RestClient, raw string) url.Values {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	sig := values.Get("signature")
	require.NotEmpty(t, sig)
	unsigned := raw[:len(raw)-len("&signature=")-len(sig)]
	assert.Equal(t, rc.sign(unsigned), sig)
	assert.NotEmpty(t, values.Get("timestamp"))
	return values
}

func TestGetServerTime(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		expectedTime := time.Now().UnixMilli()
		mockResponse := fmt.Sprintf(`{"serverTime": %d}`, expectedTime)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/fapi/v1/time", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(mockResponse))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		serverTime, err := rc.GetServerTime(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, expectedTime, serverTime)
	})

	t.Run("APIError", func(t *testing.T) {
		var calls atomic.Int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code": -1001, "msg": "Internal error"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		serverTime, err := rc.GetServerTime(context.Background())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get server time")
		assert.Contains(t, err.Error(), "request failed")
		assert.Equal(t, int64(0), serverTime)
		assert.Equal(t, int32(maxRetries), calls.Load(), "server errors are retried")
	})
}

func TestDoRequest_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": -1121, "msg": "Invalid symbol."}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	_, err := rc.GetPrice(context.Background(), "NOPEUSDT")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid symbol")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoRequest_RateLimitedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"64000.5"}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	price, err := rc.GetPrice(context.Background(), "BTCUSDT")

	require.NoError(t, err)
	assert.Equal(t, 64000.5, price)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoRequest_ContextCancelled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()
	rc.backoff = func(int) time.Duration { return time.Hour }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := rc.GetServerTime(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetPrice(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/ticker/price", r.URL.Path)
		assert.Equal(t, "SUIUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"SUIUSDT","price":"1.2345","time":1700000000000}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	price, err := rc.GetPrice(context.Background(), "SUIUSDT")

	require.NoError(t, err)
	assert.Equal(t, 1.2345, price)
}

func TestGetBalance(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/balance", r.URL.Path)
		assert.Equal(t, "test_api_key", r.Header.Get("X-MBX-APIKEY"))
		assertSignedRequest(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"asset":"BNB","balance":"1.0","availableBalance":"1.0"},
			{"asset":"USDT","balance":"150.75","availableBalance":"120.25"}
		]`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	balance, err := rc.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 120.25, balance)

	missing, err := rc.GetBalance(context.Background(), "BUSD")
	require.NoError(t, err)
	assert.Zero(t, missing)
}

// assertSignedRequest verifies the query signature against the test secret.
func assertSignedRequest(t *testing.T, r *http.Request) {
	t.Helper()
	rc := &RestClient{secretKey: "test_secret_key"}
	assertSigned(t, rc, r.URL.RawQuery)
}

func TestCreateOrder(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		values := assertSigned(t, &RestClient{secretKey: "test_secret_key"}, string(body))
		assert.Equal(t, "BTCUSDT", values.Get("symbol"))
		assert.Equal(t, OrderSideSell, values.Get("side"))
		assert.Equal(t, OrderTypeMarket, values.Get("type"))
		assert.Equal(t, "0.0125", values.Get("quantity"))
		assert.Equal(t, "true", values.Get("reduceOnly"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":99,"status":"FILLED","executedQty":"0.0125","avgPrice":"64000","cumQuote":"800","side":"SELL","reduceOnly":true}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	order, err := rc.CreateOrder(context.Background(), "BTCUSDT", OrderSideSell, 0.0125, true)

	require.NoError(t, err)
	assert.Equal(t, int64(99), order.OrderID)
	assert.Equal(t, "0.0125", order.ExecutedQuantity)
	assert.True(t, order.ReduceOnly)
}

// orderServer simulates the order endpoint: the first POST answers postStatus,
// later POSTs fill. GET looks the order up and answers lookupStatus.
type orderServer struct {
	t            *testing.T
	postStatus   int
	lookupStatus int
	lookupBody   string
	posts        atomic.Int32
	lookups      atomic.Int32
	clientIDs    []string
}

func (s *orderServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(s.t, "/fapi/v1/order", r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		require.NoError(s.t, err)
		values, err := url.ParseQuery(string(body))
		require.NoError(s.t, err)
		s.clientIDs = append(s.clientIDs, values.Get("newClientOrderId"))

		if s.posts.Add(1) == 1 && s.postStatus != http.StatusOK {
			w.WriteHeader(s.postStatus)
			_, _ = w.Write([]byte(`{"code":-1001,"msg":"Internal error; unable to process your request."}`))
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":100,"status":"FILLED","executedQty":"0.01","avgPrice":"64000"}`))
	case http.MethodGet:
		s.lookups.Add(1)
		assert.NotEmpty(s.t, r.URL.Query().Get("origClientOrderId"))
		assertSignedRequest(s.t, r)
		w.WriteHeader(s.lookupStatus)
		_, _ = w.Write([]byte(s.lookupBody))
	}
}

func TestCreateOrder_UnknownStatusFoundIsNotResent(t *testing.T) {
	srv := &orderServer{
		t:            t,
		postStatus:   http.StatusServiceUnavailable,
		lookupStatus: http.StatusOK,
		lookupBody:   `{"symbol":"BTCUSDT","orderId":77,"status":"FILLED","executedQty":"0.01","avgPrice":"63990"}`,
	}
	rc, server := setupTestServer(srv)
	defer server.Close()

	order, err := rc.CreateOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0.01, false)

	require.NoError(t, err)
	assert.Equal(t, int64(77), order.OrderID)
	assert.Equal(t, int32(1), srv.posts.Load(), "an order that may have filled must not be sent twice")
	assert.Equal(t, int32(1), srv.lookups.Load())
	require.Len(t, srv.clientIDs, 1)
	assert.NotEmpty(t, srv.clientIDs[0])
}

func TestCreateOrder_UnknownStatusNotFoundIsResentWithSameID(t *testing.T) {
	srv := &orderServer{
		t:            t,
		postStatus:   http.StatusBadGateway,
		lookupStatus: http.StatusBadRequest,
		lookupBody:   `{"code":-2013,"msg":"Order does not exist."}`,
	}
	rc, server := setupTestServer(srv)
	defer server.Close()

	order, err := rc.CreateOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0.01, false)

	require.NoError(t, err)
	assert.Equal(t, int64(100), order.OrderID)
	assert.Equal(t, int32(2), srv.posts.Load())
	require.Len(t, srv.clientIDs, 2)
	assert.Equal(t, srv.clientIDs[0], srv.clientIDs[1])
}

func TestCreateOrder_UnknownStatusLookupFails(t *testing.T) {
	srv := &orderServer{
		t:            t,
		postStatus:   http.StatusServiceUnavailable,
		lookupStatus: http.StatusUnauthorized,
		lookupBody:   `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`,
	}
	rc, server := setupTestServer(srv)
	defer server.Close()

	_, err := rc.CreateOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0.01, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatusUnknown)
	assert.Equal(t, int32(1), srv.posts.Load())
}

func TestCreateOrder_RateLimitedIsResent(t *testing.T) {
	srv := &orderServer{t: t, postStatus: http.StatusTooManyRequests}
	rc, server := setupTestServer(srv)
	defer server.Close()

	order, err := rc.CreateOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0.01, false)

	require.NoError(t, err)
	assert.Equal(t, int64(100), order.OrderID)
	assert.Equal(t, int32(2), srv.posts.Load())
	assert.Zero(t, srv.lookups.Load(), "a rejected request needs no lookup")
}

func TestCreateOrder_ClientErrorIsNotResent(t *testing.T) {
	srv := &orderServer{t: t, postStatus: http.StatusBadRequest}
	rc, server := setupTestServer(srv)
	defer server.Close()

	_, err := rc.CreateOrder(context.Background(), "BTCUSDT", OrderSideBuy, 0.01, false)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStatusUnknown)
	assert.Equal(t, int32(1), srv.posts.Load())
	assert.Zero(t, srv.lookups.Load())
}

func TestIsOrderNotFound(t *testing.T) {
	assert.True(t, IsOrderNotFound(fmt.Errorf("wrapped: %w", &APIError{StatusCode: 400, Code: -2013})))
	assert.False(t, IsOrderNotFound(&APIError{StatusCode: 400, Code: -1121}))
	assert.False(t, IsOrderNotFound(context.Canceled))
}

func TestSetLeverage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/leverage", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		values, err := url.ParseQuery(string(body))
		require.NoError(t, err)
		assert.Equal(t, "5", values.Get("leverage"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"leverage":5,"symbol":"BTCUSDT"}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	assert.NoError(t, rc.SetLeverage(context.Background(), "BTCUSDT", 5))
	assert.Error(t, rc.SetLeverage(context.Background(), "BTCUSDT", 0))
}

func TestGetExchangeInfo_LotSize(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","filters":[
				{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
				{"filterType":"MARKET_LOT_SIZE","minQty":"0.002","maxQty":"120","stepSize":"0.001"}
			]},
			{"symbol":"SUIUSDT","status":"TRADING","filters":[
				{"filterType":"LOT_SIZE","minQty":"0.1","maxQty":"100000","stepSize":"0.1"}
			]}
		]}`))
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	info, err := rc.GetExchangeInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, info.Symbols, 2)

	lot, ok := info.Symbols[0].LotSize()
	assert.True(t, ok)
	assert.Equal(t, "MARKET_LOT_SIZE", lot.FilterType)

	lot, ok = info.Symbols[1].LotSize()
	assert.True(t, ok)
	assert.Equal(t, "0.1", lot.StepSize)

	_, ok = SymbolInfo{}.LotSize()
	assert.False(t, ok)
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Symbol("BTC/USDT"))
	assert.Equal(t, "SUIUSDT", Symbol("sui/usdt"))
}

func TestNewRestClient(t *testing.T) {
	t.Run("Testnet", func(t *testing.T) {
		cfg := &config.Binance{Testnet: true, ApiKey: "k", SecretKey: "s", RateLimit: 10, RateLimitBurst: 2}
		rc := NewRestClient(cfg, zap.NewNop())
		assert.NotNil(t, rc)
		assert.Equal(t, testnetBaseURL, rc.client.BaseURL)
		assert.Equal(t, cfg.ApiKey, rc.apiKey)
		assert.Equal(t, cfg.SecretKey, rc.secretKey)
	})

	t.Run("Production", func(t *testing.T) {
		cfg := &config.Binance{Testnet: false}
		rc := NewRestClient(cfg, zap.NewNop())
		assert.NotNil(t, rc)
		assert.Equal(t, baseURL, rc.client.BaseURL)
	})
}
