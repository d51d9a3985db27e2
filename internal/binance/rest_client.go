package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"grid-trade-bot-go/internal/config"
)

const (
	baseURL         = "https://fapi.binance.com"
	testnetBaseURL  = "https://testnet.binancefuture.com"
	recvWindow      = "5000" // How long a request is valid in milliseconds
	maxRetries      = 3
	OrderTypeMarket = "MARKET"
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"
)

// errCodeOrderNotFound is returned when queried order does not exist.
const errCodeOrderNotFound = -2013

// ErrStatusUnknown marks a request the exchange may or may not have executed,
// e.g. after a 5xx answer or a dropped connection.
var ErrStatusUnknown = errors.New("request status unknown")

// APIError is a non-2xx answer from the exchange.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

func newAPIError(resp *resty.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	_ = json.Unmarshal(resp.Body(), apiErr)
	return apiErr
}

// IsOrderNotFound reports whether err is the exchange saying the order does not exist.
func IsOrderNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == errCodeOrderNotFound
}

// RestClientInterface defines the interface for the Binance USDT-M futures REST API client.
type RestClientInterface interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context, asset string) (float64, error)
	GetExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	CreateOrder(ctx context.Context, symbol, side string, quantity float64, reduceOnly bool) (*CreateOrderResponse, error)
}

// RestClient is a client for the Binance futures REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
	backoff   func(attempt int) time.Duration
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance futures REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Futures Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Futures Production API")
	}

	client := resty.New().
		SetBaseURL(url).
		SetTimeout(20 * time.Second)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger.Named("binance"),
		limiter:   limiter,
		backoff:   exponentialBackoff,
	}
}

// Symbol converts a pair such as "BTC/USDT" to the exchange symbol "BTCUSDT".
func Symbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
}

// exponentialBackoff waits 1s, 2s, 4s...
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedQuery stamps params and appends the signature. The signature must
// cover the exact string that is sent.
func (c *RestClient) signedQuery(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	query := params.Encode()
	return query + "&signature=" + c.sign(query)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetResult(&ServerTimeResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// doRequest handles the actual request execution with rate limiting and retry logic.
// Use it for idempotent requests only.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	return c.execute(ctx, method, url, req, true)
}

// execute runs req with rate limiting. Rate-limit rejections (429/418) are
// always retried. Network errors and 5xx answers are retried only when
// retryUncertain is set; otherwise they are returned wrapped in
// ErrStatusUnknown, since the exchange may have acted on the request.
func (c *RestClient) execute(ctx context.Context, method, url string, req *resty.Request, retryUncertain bool) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	req.SetContext(ctx)

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		uncertain := false
		var retryAfter time.Duration

		if err != nil || resp == nil {
			// Network or other client-side errors
			shouldRetry, uncertain = true, true
			if err == nil {
				err = errors.New("empty response")
			}
		} else {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry, uncertain = true, true
			}
			err = newAPIError(resp)
		}

		if uncertain && !retryUncertain {
			return nil, fmt.Errorf("%w: %w", ErrStatusUnknown, err)
		}
		if !shouldRetry {
			return nil, err
		}

		if retryAfter == 0 {
			retryAfter = c.backoff(i)
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetPrice fetches the last traded price for a futures symbol.
func (c *RestClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&TickerPrice{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/ticker/price", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	result := resp.Result().(*TickerPrice)
	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price %q for %s: %w", result.Price, symbol, err)
	}
	return price, nil
}

// AssetBalance is one entry of the futures account balance response.
type AssetBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// GetBalance returns the available futures wallet balance for asset.
// An asset missing from the account is reported as zero.
func (c *RestClient) GetBalance(ctx context.Context, asset string) (float64, error) {
	var balances []AssetBalance

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetResult(&balances)

	// The signed query is passed raw so its parameter order is preserved.
	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/balance?"+c.signedQuery(url.Values{}), req)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	result := resp.Result().(*[]AssetBalance)
	for _, b := range *result {
		if !strings.EqualFold(b.Asset, asset) {
			continue
		}
		available, err := strconv.ParseFloat(b.AvailableBalance, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s balance %q: %w", asset, b.AvailableBalance, err)
		}
		return available, nil
	}

	c.logger.Warn("Asset not found in futures balance", zap.String("asset", asset))
	return 0, nil
}

// ExchangeInfoResponse represents the full response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol  string   `json:"symbol"`
	Status  string   `json:"status"`
	Filters []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol.
// Market orders are bounded by MARKET_LOT_SIZE, falling back to LOT_SIZE.
type Filter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty,omitempty"`
	MaxQty     string `json:"maxQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
	Notional   string `json:"notional,omitempty"`
}

// LotSize returns the quantity filter that applies to market orders.
func (s SymbolInfo) LotSize() (Filter, bool) {
	var lot Filter
	found := false
	for _, f := range s.Filters {
		switch f.FilterType {
		case "MARKET_LOT_SIZE":
			return f, true
		case "LOT_SIZE":
			lot, found = f, true
		}
	}
	return lot, found
}

// GetExchangeInfo fetches exchange trading rules and symbol information.
func (c *RestClient) GetExchangeInfo(ctx context.Context) (*ExchangeInfoResponse, error) {
	var exchangeInfo ExchangeInfoResponse

	req := c.client.R().
		SetResult(&exchangeInfo).
		SetHeader("Content-Type", "application/json")

	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

// SetLeverage sets the initial leverage used for new positions on symbol.
func (c *RestClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return errors.New("leverage must be at least 1")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(c.signedQuery(params))

	if _, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/leverage", req); err != nil {
		return fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}
	c.logger.Info("Leverage set", zap.String("symbol", symbol), zap.Int("leverage", leverage))
	return nil
}

// CreateOrderResponse represents the response from creating a new order.
type CreateOrderResponse struct {
	Symbol           string `json:"symbol"`
	OrderID          int64  `json:"orderId"`
	ClientOrderID    string `json:"clientOrderId"`
	UpdateTime       int64  `json:"updateTime"`
	Price            string `json:"price"`
	AvgPrice         string `json:"avgPrice"`
	OrigQuantity     string `json:"origQty"`
	ExecutedQuantity string `json:"executedQty"`
	CumQuote         string `json:"cumQuote"`
	Status           string `json:"status"`
	Type             string `json:"type"`
	Side             string `json:"side"`
	ReduceOnly       bool   `json:"reduceOnly"`
}

// CreateOrder places a new MARKET order. reduceOnly orders can only shrink
// an existing position.
//
// Every attempt carries the same client order id. When an attempt ends with
// an unknown status the order is looked up by that id, and it is resent only
// if the exchange confirms it does not exist.
func (c *RestClient) CreateOrder(ctx context.Context, symbol, side string, quantity float64, reduceOnly bool) (*CreateOrderResponse, error) {
	clientOrderID := uuid.NewString()
	l := c.logger.With(
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.String("client_order_id", clientOrderID),
	)

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("side", side)
		params.Set("type", OrderTypeMarket)
		params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
		params.Set("newClientOrderId", clientOrderID)
		if reduceOnly {
			params.Set("reduceOnly", "true")
		}

		req := c.client.R().
			SetHeader("X-MBX-APIKEY", c.apiKey).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetBody(c.signedQuery(params)).
			SetResult(&CreateOrderResponse{})

		var resp *resty.Response
		resp, err = c.execute(ctx, http.MethodPost, "/fapi/v1/order", req, false)
		if err == nil {
			result := resp.Result().(*CreateOrderResponse)
			l.Info("Successfully created order", zap.Any("order", result))
			return result, nil
		}
		if !errors.Is(err, ErrStatusUnknown) {
			l.Error("Order rejected", zap.Error(err))
			return nil, fmt.Errorf("failed to create order: %w", err)
		}

		l.Warn("Order status unknown, looking it up before resending", zap.Error(err))
		order, qerr := c.QueryOrder(ctx, symbol, clientOrderID)
		if qerr == nil {
			l.Info("Order found after unknown status", zap.Any("order", order))
			return order, nil
		}
		if !IsOrderNotFound(qerr) {
			l.Error("Could not confirm order status", zap.Error(qerr))
			return nil, fmt.Errorf("failed to create order %s: %w (lookup failed: %v)", clientOrderID, err, qerr)
		}

		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.Error("Failed to create order after multiple attempts", zap.Error(err))
	return nil, fmt.Errorf("failed to create order after %d attempts: %w", maxRetries, err)
}

// QueryOrder looks an order up by the client order id it was sent with.
func (c *RestClient) QueryOrder(ctx context.Context, symbol, clientOrderID string) (*CreateOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetResult(&CreateOrderResponse{})

	// The signed query is passed raw so its parameter order is preserved.
	resp, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/order?"+c.signedQuery(params), req)
	if err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", clientOrderID, err)
	}
	return resp.Result().(*CreateOrderResponse), nil
}
