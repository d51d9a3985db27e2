package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"grid-trade-bot-go/internal/binance"
	"grid-trade-bot-go/internal/config"
	"grid-trade-bot-go/internal/database"
	"grid-trade-bot-go/internal/logger"
	"grid-trade-bot-go/internal/telegram"
	"grid-trade-bot-go/internal/trader"
)

const configPath = "./configs"

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	log, level, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	log.Info("Configuration loaded",
		zap.Strings("pairs", cfg.Trading.Pairs),
		zap.Bool("dry_run", cfg.Trading.DryRun),
		zap.Bool("testnet", cfg.Binance.Testnet),
	)

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	restClient := binance.NewRestClient(&cfg.Binance, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := restClient.GetServerTime(ctx); err != nil {
		log.Fatal("Failed to connect to Binance API", zap.Error(err))
	}
	log.Info("Successfully connected to Binance API.")

	strategy, err := trader.NewStrategy(&cfg)
	if err != nil {
		log.Fatal("Failed to create strategy", zap.Error(err))
	}

	var bot *telegram.Bot
	var notifier trader.Notifier
	if cfg.Telegram.BotToken != "" {
		bot, err = telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
		if err != nil {
			log.Fatal("Failed to start telegram bot", zap.Error(err))
		}
		notifier = bot
	} else {
		log.Warn("Telegram bot token not set, notifications disabled")
	}

	engine := trader.NewEngine(log, &cfg, restClient, db, strategy, notifier)
	if bot != nil {
		bot.SetController(engine)
		go bot.Run(ctx)
	}

	apiServer := trader.NewAPIServer(engine, log)
	apiServer.Start()

	err = config.WatchConfig(configPath, func(next config.Config) {
		if err := logger.SetLevel(level, next.Logger.Level); err != nil {
			log.Warn("Invalid log level in reloaded config", zap.Error(err))
		}
		if err := engine.SetDryRun(ctx, next.Trading.DryRun); err != nil {
			log.Error("Could not apply dry run change", zap.Error(err))
		}
		log.Info("Configuration reloaded")
	}, func(err error) {
		log.Warn("Configuration reload rejected", zap.Error(err))
	})
	if err != nil {
		log.Warn("Config hot reload disabled", zap.Error(err))
	}

	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		cancel()
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("Failed to notify systemd", zap.Error(err))
	} else if sent {
		log.Info("Notified systemd that the bot is ready")
	}

	if err := engine.Run(ctx); err != nil {
		log.Error("Trading engine failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
