package trader

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"grid-trade-bot-go/internal/binance"
	"grid-trade-bot-go/internal/config"
	"grid-trade-bot-go/internal/database"
	"grid-trade-bot-go/internal/models"
)

// MockRestClient is a mock implementation of the RestClientInterface.
type MockRestClient struct {
	mock.Mock
}

func (m *MockRestClient) GetServerTime(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRestClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockRestClient) GetBalance(ctx context.Context, asset string) (float64, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockRestClient) GetExchangeInfo(ctx context.Context) (*binance.ExchangeInfoResponse, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(*binance.ExchangeInfoResponse)
	return info, args.Error(1)
}

func (m *MockRestClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	args := m.Called(ctx, symbol, leverage)
	return args.Error(0)
}

func (m *MockRestClient) CreateOrder(ctx context.Context, symbol, side string, quantity float64, reduceOnly bool) (*binance.CreateOrderResponse, error) {
	args := m.Called(ctx, symbol, side, quantity, reduceOnly)
	resp, _ := args.Get(0).(*binance.CreateOrderResponse)
	return resp, args.Error(1)
}

// recordingNotifier keeps every message it is asked to deliver.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return n.err
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

var btcRule = binance.SymbolInfo{
	Symbol: "BTCUSDT",
	Status: "TRADING",
	Filters: []binance.Filter{
		{FilterType: "LOT_SIZE", MinQty: "0.001", MaxQty: "1000", StepSize: "0.001"},
	},
}

// testConfig sizes a BTC grid of 4 levels around 100 with 2.5 BTC per level.
func testConfig() *config.Config {
	return &config.Config{
		Trading: config.Trading{
			Quote:          "USDT",
			Pairs:          []string{"BTC/USDT"},
			DryRun:         true,
			TickInterval:   1,
			MinOrderUSDT:   5,
			AssumedBalance: 1000,
			Strategy:       "grid",
		},
		Grid: config.Grid{Levels: 4, RangePct: 0.01, CapitalPct: 100, Leverage: 1},
	}
}

// setupTest creates a full test environment with a mock client and in-memory DB.
func setupTest(t *testing.T) (StrategyContext, *MockRestClient, *recordingNotifier) {
	t.Helper()

	db, err := database.NewDatabase(":memory:")
	require.NoError(t, err)

	mockClient := new(MockRestClient)
	notifier := &recordingNotifier{}

	sctx := StrategyContext{
		Logger:        zap.NewNop(),
		Cfg:           testConfig(),
		RestClient:    mockClient,
		DB:            db,
		ExchangeRules: map[string]binance.SymbolInfo{"BTCUSDT": btcRule},
		Notifier:      notifier,
		Positions:     NewPositionBook(),
		DryRun:        true,
	}
	return sctx, mockClient, notifier
}

func tradeCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Trade{}).Count(&n).Error)
	return n
}
