package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/telebot.v3"

	"pactbot/internal/auth"
	"pactbot/internal/bot"
	"pactbot/internal/config"
	"pactbot/internal/handlers"
	"pactbot/internal/logger"
	"pactbot/internal/service"
	"pactbot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.LogFile); err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	if cfg.TelegramBotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN not set")
	}

	// Initialize SQLite database
	log.Printf("Initializing database at: %s", cfg.DatabasePath)
	if err := storage.InitDB(cfg.DatabasePath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer storage.CloseDB()

	tb, err := telebot.NewBot(telebot.Settings{
		Token: cfg.TelegramBotToken,
		Poller: &telebot.LongPoller{
			Timeout: 10 * time.Second,
		},
	})
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	clock := clockwork.NewRealClock()
	notifier := service.NewTelegramNotifier(tb, cfg.ChannelID)

	accounts := service.NewAccountService(cfg.WelcomeBonus)
	challenges := service.NewChallengeService(clock, cfg.CommissionRatePublic, cfg.CommissionRateFriends)
	participations := service.NewParticipationService(clock)
	proofs := service.NewProofService(clock, cfg.ProofGrace, notifier)
	settlements := service.NewSettlementService(clock, notifier)

	// Start bot in a goroutine
	b := bot.New(tb, cfg.WebAppURL, bot.Services{
		Accounts:       accounts,
		Challenges:     challenges,
		Participations: participations,
		Proofs:         proofs,
		Settlements:    settlements,
	})
	go b.Start()
	defer b.Stop()

	// Activates started challenges and settles ended ones
	worker := service.NewSettlementWorker(clock, cfg.WorkerInterval, cfg.ProofGrace, cfg.SettleDelay, challenges, settlements)
	if err := worker.Start(); err != nil {
		log.Fatalf("Failed to start settlement worker: %v", err)
	}
	defer worker.Stop()

	// API routes behind the initData middleware, static files for the Mini App
	mux := http.NewServeMux()
	handlers.NewAPI(accounts, challenges, participations, proofs, settlements).Register(mux)
	mux.Handle("/", http.FileServer(http.Dir("./web")))

	validator := auth.NewValidator(cfg.TelegramBotToken, auth.DefaultMaxAge, clock)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           validator.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
}
