package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	coachdroot "github.com/coachdesk/coachd"
	"github.com/coachdesk/coachd/internal/bot"
	"github.com/coachdesk/coachd/internal/config"
	"github.com/coachdesk/coachd/internal/handler"
	"github.com/coachdesk/coachd/internal/llm"
	"github.com/coachdesk/coachd/internal/mailer"
	"github.com/coachdesk/coachd/internal/middleware"
	"github.com/coachdesk/coachd/internal/repository"
	"github.com/coachdesk/coachd/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Local development convenience; absence is fine in production.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Run migrations
	migrationsFS, err := fs.Sub(coachdroot.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	conversations := repository.NewConversationRepo(pool)
	users := repository.NewUserRepo(pool)
	tokens := repository.NewTokenRepo(pool)
	usage := repository.NewUsageRepo(pool)

	// Initialize model client and bot roster
	groq := llm.NewClient(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel)
	mail := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.EmailFrom, cfg.EmailFromName)
	bots := bot.NewRegistry(groq, mailer.NewSupportMailer(mail, cfg.SupportEmail), cfg.DocsDir, cfg.SupportEmail)

	// Initialize services
	tokenService := service.NewTokenService(tokens, cfg.AuthSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.ResetTokenTTL)
	authService := service.NewAuthService(users, tokenService, mail, cfg.ResetURLBase)
	ephemeral := service.NewEphemeralCache(config.EphemeralTTL, config.EphemeralMaxMessages, config.EphemeralMaxEntries)
	orchestrator := service.NewOrchestrator(bots, conversations, users, usage, ephemeral,
		cfg.GroqModel, cfg.PromptCostPerM, cfg.CompletionCostPerM)
	historyService := service.NewHistoryService(bots, conversations, users)

	// Initialize handler
	h := handler.New(handler.Deps{
		Cfg:          cfg,
		AuthService:  authService,
		Orchestrator: orchestrator,
		History:      historyService,
	})

	// Build router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover())
	r.Use(middleware.Logging())
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimw.Heartbeat("/health"))

	h.Register(r, middleware.Auth(tokenService), middleware.RateLimit(config.RateLimitPerMinute))

	// WriteTimeout stays zero: streamed turns hold the response open
	// for the whole generation.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", srv.Addr, "model", cfg.GroqModel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
	slog.Info("server stopped gracefully")
}
