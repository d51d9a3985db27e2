package trader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grid-trade-bot-go/internal/models"
)

func newTestGridStrategy(t *testing.T, sctx StrategyContext) *GridStrategy {
	t.Helper()
	s, err := NewGridStrategy(sctx.Cfg.Grid.Params())
	require.NoError(t, err)
	return s
}

func TestNewStrategy(t *testing.T) {
	cfg := testConfig()
	s, err := NewStrategy(cfg)
	require.NoError(t, err)
	assert.Equal(t, "Grid", s.Name())

	cfg.Trading.Strategy = "scout"
	_, err = NewStrategy(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Grid.Levels = 0
	_, err = NewStrategy(cfg)
	assert.Error(t, err)
}

func TestGridStrategy_Initialize(t *testing.T) {
	sctx, _, _ := setupTest(t)
	s := newTestGridStrategy(t, sctx)
	require.NoError(t, s.Initialize(context.Background(), sctx))

	sctx.Cfg.Trading.Pairs = []string{"BTC/USDT", "DOGE/USDT"}
	assert.ErrorContains(t, s.Initialize(context.Background(), sctx), "DOGEUSDT")
}

func TestGridStrategy_TickOpensAndClosesLevels(t *testing.T) {
	sctx, mockClient, notifier := setupTest(t)
	s := newTestGridStrategy(t, sctx)
	ctx := context.Background()

	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(100.0, nil).Once()
	require.NoError(t, s.Tick(ctx, sctx))
	assert.Empty(t, notifier.Messages(), "the first price only builds the grid")

	grids := s.Grids()
	require.Len(t, grids, 1)
	assert.Equal(t, 100.0, grids[0].Center)
	assert.Equal(t, 2.5, grids[0].AmountPerLevel)

	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(99.0, nil).Once()
	require.NoError(t, s.Tick(ctx, sctx))
	assert.Len(t, notifier.Messages(), 3)
	assert.Equal(t, int64(3), tradeCount(t, sctx.DB))

	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(99.5, nil).Once()
	require.NoError(t, s.Tick(ctx, sctx))

	var closes []models.Trade
	require.NoError(t, sctx.DB.Where("action = ?", "close").Find(&closes).Error)
	require.Len(t, closes, 1)
	assert.InDelta(t, 99.0, closes[0].LevelPrice, 1e-9)
	assert.InDelta(t, 1.25, closes[0].Profit, 1e-9)

	g := s.Grids()[0]
	assert.Equal(t, 2, g.OpenLevels())
	mockClient.AssertExpectations(t)
}

func TestGridStrategy_TickerErrorSkipsPair(t *testing.T) {
	sctx, mockClient, notifier := setupTest(t)
	sctx.Cfg.Trading.Pairs = []string{"BTC/USDT", "SUI/USDT"}
	s := newTestGridStrategy(t, sctx)

	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(0.0, errors.New("timeout"))
	mockClient.On("GetPrice", mock.Anything, "SUIUSDT").Return(3.5, nil)

	require.NoError(t, s.Tick(context.Background(), sctx))

	msgs := notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "BTC/USDT")
	assert.Contains(t, msgs[0], "ticker error")

	grids := s.Grids()
	require.Len(t, grids, 1)
	assert.Equal(t, "SUI/USDT", grids[0].Pair)
}

func TestGridStrategy_UsesExchangeBalanceWithoutAssumedBalance(t *testing.T) {
	sctx, mockClient, notifier := setupTest(t)
	sctx.Cfg.Trading.AssumedBalance = 0
	s := newTestGridStrategy(t, sctx)

	mockClient.On("GetBalance", mock.Anything, "USDT").Return(0.0, errors.New("invalid api key")).Once()
	err := s.Tick(context.Background(), sctx)
	assert.ErrorContains(t, err, "invalid api key")
	assert.Len(t, notifier.Messages(), 1)

	mockClient.On("GetBalance", mock.Anything, "USDT").Return(400.0, nil).Once()
	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(100.0, nil).Once()
	require.NoError(t, s.Tick(context.Background(), sctx))
	assert.Equal(t, 1.0, s.Grids()[0].AmountPerLevel)
	mockClient.AssertExpectations(t)
}

func TestGridStrategy_NotifierFailureDoesNotStopTick(t *testing.T) {
	sctx, mockClient, notifier := setupTest(t)
	notifier.err = errors.New("telegram down")
	s := newTestGridStrategy(t, sctx)

	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(100.0, nil).Once()
	mockClient.On("GetPrice", mock.Anything, "BTCUSDT").Return(99.0, nil).Once()
	require.NoError(t, s.Tick(context.Background(), sctx))
	require.NoError(t, s.Tick(context.Background(), sctx))
	assert.Equal(t, int64(3), tradeCount(t, sctx.DB))
}
