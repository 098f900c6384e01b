package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"derivbot/internal/config"
	"derivbot/internal/deriv"
	"derivbot/internal/engine"
	apphttp "derivbot/internal/http"
	"derivbot/internal/integrations/telegram"
	"derivbot/internal/service/risk"
	"derivbot/internal/service/strategy"
	storepkg "derivbot/internal/store"
	"derivbot/internal/store/memory"
	"derivbot/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()
	if cfg.DerivAPIToken == "" {
		log.Fatal("DERIV_API_TOKEN is required")
	}

	var st storepkg.Store
	if cfg.StoreMode == "postgres" && cfg.DatabaseURL != "" {
		pgStore, err := postgres.NewStore(cfg.DatabaseURL)
		if err != nil {
			log.Printf("postgres store unavailable, falling back to memory store: %v", err)
			st = memory.NewStore()
		} else {
			st = pgStore
		}
	} else {
		st = memory.NewStore()
	}

	gateway := deriv.New(deriv.Options{
		Endpoint:             cfg.DerivEndpoint,
		APIToken:             cfg.DerivAPIToken,
		AppID:                cfg.DerivAppID,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		HeartbeatGrace:       cfg.HeartbeatGrace,
		AuthTimeout:          cfg.RequestTimeout,
	})
	go func() {
		if err := gateway.Connect(); err != nil {
			log.Printf("deriv gateway connect failed: %v", err)
		}
	}()

	registry := engine.NewRegistry()
	ledger := engine.NewLedger(clock.New(), st, cfg.ContractDuration, cfg.RetentionWindow)
	limits := risk.NewLimits(cfg.MaxTradesPerCycle, cfg.DailyTradeLimit)
	scheduler := engine.NewScheduler(gateway, registry, ledger, st, limits,
		func() strategy.Strategy { return strategy.NewSupplyDemand() },
		engine.Options{
			CycleInterval:   cfg.CycleInterval,
			SymbolDelay:     cfg.SymbolDelay,
			RequestTimeout:  cfg.RequestTimeout,
			CandleCount:     cfg.CandleCount,
			MinCandles:      cfg.MinCandles,
			DefaultStake:    cfg.DefaultStake,
			DurationMinutes: int(cfg.ContractDuration / time.Minute),
		})

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		scheduler.SetNotifier(telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}

	srv := apphttp.NewServer(cfg, scheduler, st, gateway)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("derivbot API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	scheduler.StopAll()
	if err := gateway.Close(); err != nil {
		log.Printf("gateway close failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
