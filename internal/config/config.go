package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"grid-trade-bot-go/internal/grid"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Telegram Telegram `mapstructure:"telegram"`
	Trading  Trading  `mapstructure:"trading"`
	Grid     Grid     `mapstructure:"grid"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	API      API      `mapstructure:"api"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance futures API.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Telegram holds the chat-bot credentials.
type Telegram struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Server holds the configuration for the history web UI.
type Server struct {
	Port int `mapstructure:"port"`
}

// API holds the configuration for the trader's status endpoint.
type API struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Trading holds the configuration for the polling loop and order execution.
type Trading struct {
	Quote          string   `mapstructure:"quote"`
	Pairs          []string `mapstructure:"pairs"`
	DryRun         bool     `mapstructure:"dry_run"`
	AutoStart      bool     `mapstructure:"auto_start"`
	TickInterval   int      `mapstructure:"tick_interval"`
	MinOrderUSDT   float64  `mapstructure:"min_order_usdt"`
	AssumedBalance float64  `mapstructure:"assumed_balance"`
	Strategy       string   `mapstructure:"strategy"`
}

// Grid holds the grid engine parameters. They are validated once at startup.
type Grid struct {
	Levels     int     `mapstructure:"levels"`
	RangePct   float64 `mapstructure:"range_pct"`
	CapitalPct float64 `mapstructure:"capital_pct"`
	Leverage   float64 `mapstructure:"leverage"`
}

// Params converts the grid section into engine parameters.
func (g Grid) Params() grid.Params {
	return grid.Params{
		Levels:     g.Levels,
		RangePct:   g.RangePct,
		CapitalPct: g.CapitalPct,
		Leverage:   g.Leverage,
	}
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory, if present, is loaded first.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load()

	v := newViper(path)
	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
		// Environment variables alone are enough to run.
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	config.Trading.Pairs = normalizePairs(config.Trading.Pairs)
	return config, nil
}

// WatchConfig reloads the config file on change and hands the new, validated
// configuration to onChange. Invalid edits are reported through onError.
func WatchConfig(path string, onChange func(Config), onError func(error)) error {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config for watching: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			onError(fmt.Errorf("failed to decode %s: %w", e.Name, err))
			return
		}
		cfg.Trading.Pairs = normalizePairs(cfg.Trading.Pairs)
		if err := cfg.Validate(); err != nil {
			onError(fmt.Errorf("ignoring invalid %s: %w", e.Name, err))
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file,
	// e.g. TELEGRAM_BOT_TOKEN for telegram.bot_token.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("binance.apiKey", "")
	v.SetDefault("binance.secretKey", "")
	v.SetDefault("binance.testnet", false)
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("trading.quote", "USDT")
	v.SetDefault("trading.pairs", "BTC/USDT,SUI/USDT")
	v.SetDefault("trading.dry_run", true)
	v.SetDefault("trading.auto_start", false)
	v.SetDefault("trading.tick_interval", 30)
	v.SetDefault("trading.min_order_usdt", 5)
	v.SetDefault("trading.assumed_balance", 0)
	v.SetDefault("trading.strategy", "grid")

	v.SetDefault("grid.levels", 10)
	v.SetDefault("grid.range_pct", 0.02)
	v.SetDefault("grid.capital_pct", 100)
	v.SetDefault("grid.leverage", 5)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("api.port", 8081)
	v.SetDefault("database.dsn", "data/trades.db")
	return v
}

// normalizePairs accepts both YAML lists and a comma separated string such
// as PAIRS=BTC/USDT,SUI/USDT coming from the environment.
func normalizePairs(in []string) []string {
	var out []string
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			p = strings.ToUpper(strings.TrimSpace(p))
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks the settings that must be right before the engine starts.
func (c *Config) Validate() error {
	if err := c.Grid.Params().Validate(); err != nil {
		return err
	}
	// The exchange only accepts whole-number leverage.
	if c.Grid.Leverage != math.Trunc(c.Grid.Leverage) {
		return fmt.Errorf("grid.leverage must be a whole number, got %v", c.Grid.Leverage)
	}
	if len(c.Trading.Pairs) == 0 {
		return fmt.Errorf("trading.pairs must list at least one pair")
	}
	for _, p := range c.Trading.Pairs {
		if !strings.Contains(p, "/") {
			return fmt.Errorf("pair %q must look like BASE/QUOTE", p)
		}
	}
	if c.Trading.TickInterval <= 0 {
		return fmt.Errorf("trading.tick_interval must be positive, got %d", c.Trading.TickInterval)
	}
	if !c.Trading.DryRun && (c.Binance.ApiKey == "" || c.Binance.SecretKey == "") {
		return fmt.Errorf("binance.apiKey and binance.secretKey are required when dry_run is off")
	}
	if c.Binance.ApiKey == "" && c.Trading.AssumedBalance <= 0 {
		return fmt.Errorf("trading.assumed_balance is required when no API keys are configured")
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	return nil
}
