package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/khouryz/ClawdTraderAgent-sub000/config"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/api"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/database"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/engine"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/events"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/exchange"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/instrument"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/logging"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/notification"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/orders"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/position"
	"github.com/khouryz/ClawdTraderAgent-sub000/internal/risk"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New(logging.Config{Level: "info"})
		fallback.Fatal().Err(err).Msg("Configuration error")
	}

	logger := logging.New(cfg.Logging)
	logger.Info().Str("symbol", cfg.Engine.Symbol).Msg("Order and position engine starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// governor state store: Redis when configured, memory otherwise
	var store risk.StateStore
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = database.NewRedisGovernorStateStore(rdb, cfg.Exchange.AccountID, logger)
	} else {
		logger.Warn().Msg("Redis disabled, governor state will not survive restarts")
		store = risk.NewMemoryStateStore()
	}

	governor, err := risk.NewLossGovernor(cfg.Engine.Governor, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Loss governor initialization failed")
	}

	// optional trade journal
	var journal *database.Journal
	if cfg.Database.Enabled {
		db, err := database.NewDB(cfg.Database.Config, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Database migration failed")
		}
		journal = database.NewJournal(db)
	}

	client := exchange.NewRESTClient(cfg.Exchange.BaseURL, cfg.Exchange.Token, logger)

	orderMgr := orders.NewManager(client, cfg.Exchange.AccountID, cfg.Engine.Retry, logger)
	orderMgr.StartSweeper(10 * time.Minute)
	defer orderMgr.Shutdown()

	session, err := engine.NewSessionGate(cfg.Engine.Session)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid session window")
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	trailing := position.NewTrailingStopEngine(cfg.Engine.Trailing, logger)
	profit := position.NewProfitEngine(cfg.Engine.Profit, logger)

	coordinator := engine.NewCoordinator(
		engine.Config{AccountID: cfg.Exchange.AccountID, Sizer: cfg.Engine.Sizer},
		client, orderMgr, governor, trailing, profit,
		instrument.NewRegistry(), journal, bus, session, logger,
	)
	go coordinator.Run(ctx)

	// notification relay
	if cfg.Notification.Enabled {
		manager := notification.NewManager()
		manager.AddNotifier(notification.NewWebhookNotifier(cfg.Notification.Webhook))
		manager.AddNotifier(notification.NewTelegramNotifier(cfg.Notification.Telegram))
		relay := notification.NewRelay(manager, logger)
		go relay.Run(bus.Subscribe())
	}

	// exchange push feed
	stream := exchange.NewEventStream(cfg.Exchange.StreamURL, cfg.Exchange.Token, logger)
	stream.SetOrderUpdateCallback(coordinator.HandleOrderUpdate)
	stream.SetFillCallback(coordinator.HandleFill)
	stream.SetPositionCallback(coordinator.HandlePositionUpdate)
	stream.SetReconnectedCallback(coordinator.HandleReconnected)

	// both callbacks run on the stream's read goroutine
	var lastATR float64
	stream.SetBarCallback(func(ev exchange.BarEvent) {
		if ev.Symbol != cfg.Engine.Symbol {
			return
		}
		lastATR = ev.ATR
		coordinator.OnBar()
	})
	stream.SetQuoteCallback(func(ev exchange.QuoteEvent) {
		if ev.Symbol != cfg.Engine.Symbol {
			return
		}
		coordinator.OnTick(ev.Price, lastATR)
	})

	if err := stream.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Event stream start failed")
	}
	defer stream.Stop()

	// equity polling for drawdown tracking
	go pollEquity(ctx, client, cfg.Exchange.AccountID, cfg.Engine.EquityPollInterval, coordinator, logger)

	server := api.NewServer(cfg.Server, coordinator, journal, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("Admin API failed")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Admin API shutdown error")
	}
	cancel()
}

func pollEquity(
	ctx context.Context,
	client exchange.Client,
	accountID string,
	interval time.Duration,
	coordinator *engine.Coordinator,
	logger zerolog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			bal, err := client.GetCashBalance(reqCtx, accountID)
			cancel()
			if err != nil {
				logger.Warn().Err(err).Msg("Equity poll failed")
				continue
			}
			coordinator.OnEquity(bal.CashBalance + bal.OpenPnL)
		}
	}
}
