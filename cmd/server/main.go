package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mklimuk/siteplan/pkg/ai"
	"github.com/mklimuk/siteplan/pkg/api"
	"github.com/mklimuk/siteplan/pkg/archive"
	"github.com/mklimuk/siteplan/pkg/config"
	"github.com/mklimuk/siteplan/pkg/contract"
	"github.com/mklimuk/siteplan/pkg/credential"
	"github.com/mklimuk/siteplan/pkg/db"
	"github.com/mklimuk/siteplan/pkg/integration/discord"
	"github.com/mklimuk/siteplan/pkg/integration/gmail"
	"github.com/mklimuk/siteplan/pkg/integration/google"
	"github.com/mklimuk/siteplan/pkg/integration/procore"
	"github.com/mklimuk/siteplan/pkg/integration/telegram"
	"github.com/mklimuk/siteplan/pkg/logger"
	"github.com/mklimuk/siteplan/pkg/plan"
	"github.com/mklimuk/siteplan/pkg/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (or JWT_SECRET) is required")
	}

	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer database.Close()

	if err := database.InitSchemaContext(ctx); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	repo := db.NewRepository(database)

	exchanger := credential.NewOAuthExchanger(cfg.Procore.OAuth2(), nil)
	refresher := credential.NewRefresher(repo, exchanger)

	connector := procore.NewConnector(cfg.Procore.BaseURL, cfg.Procore.RequestsPerSecond, nil)
	poster := procore.NewPoster(connector, cfg.Procore.CompanyID)

	var notifiers []scheduler.Notifier

	if cfg.Notify.TelegramToken != "" {
		tgBot, err := telegram.NewBot(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, repo)
		if err != nil {
			slog.Warn("failed to create Telegram bot", "error", err)
		} else {
			if err := tgBot.Start(); err != nil {
				slog.Warn("failed to start Telegram bot", "error", err)
			} else {
				slog.Info("Telegram bot started")
				defer tgBot.Stop()
			}
			notifiers = append(notifiers, tgBot)
		}
	}

	if cfg.Notify.DiscordToken != "" && cfg.Notify.DiscordChannelID != "" {
		dn, err := discord.NewNotifier(cfg.Notify.DiscordToken, cfg.Notify.DiscordChannelID)
		if err != nil {
			slog.Warn("failed to create Discord notifier", "error", err)
		} else {
			notifiers = append(notifiers, dn)
		}
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	schedule, err := scheduler.ParseSchedule(cfg.Scheduler.DailyAt, loc)
	if err != nil {
		return fmt.Errorf("invalid scheduler.daily_at: %w", err)
	}
	sched := scheduler.NewService(repo, refresher, poster, scheduler.Options{
		Schedule:     schedule,
		CatchUpDelay: cfg.Scheduler.CatchUpDelay,
		SweepOverdue: cfg.Scheduler.Sweep(),
		Location:     loc,
		Notifiers:    notifiers,
	})

	generator, closeAI, err := newGenerator(ctx, cfg.AI)
	if err != nil {
		return err
	}
	defer closeAI()

	handler := &api.Handler{
		Config:    cfg,
		Repo:      repo,
		Tokens:    refresher,
		OAuth:     exchanger,
		Extractor: contract.NewExtractor(cfg.Contractor.Names...),
		Contracts: contract.NewCache(256, cfg.Procore.ContractCacheTTL),
		Scheduler: sched,
		Poster:    poster,
		Composer:  plan.NewComposer(generator),
		Directory: func(ctx context.Context, accessToken, companyID string) api.Directory {
			return connector.Client(ctx, accessToken, companyID)
		},
	}

	if cfg.Mail.Enabled() {
		httpClient, err := google.NewHTTPClient(ctx, cfg.Mail.CredentialsFile, cfg.Mail.Sender, gmail.SendScope)
		if err != nil {
			return fmt.Errorf("failed to create mail client: %w", err)
		}
		mailer, err := gmail.NewService(ctx, httpClient, cfg.Mail.Sender)
		if err != nil {
			return fmt.Errorf("failed to create mail service: %w", err)
		}
		handler.Mailer = mailer
	}

	if cfg.Archive.Path != "" {
		handler.Archive = archive.New(cfg.Archive.Path, cfg.Archive.Push, cfg.Archive.SSHKey)
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// newGenerator returns the configured plan summarizer, or nil when none is.
func newGenerator(ctx context.Context, cfg config.AIConfig) (ai.Generator, func(), error) {
	noop := func() {}
	switch cfg.Provider {
	case "":
		return nil, noop, nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, noop, fmt.Errorf("GEMINI_API_KEY is required when using the gemini provider")
		}
		client, err := ai.NewClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create AI client: %w", err)
		}
		return client, func() { client.Close() }, nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, noop, fmt.Errorf("ANTHROPIC_API_KEY is required when using the anthropic provider")
		}
		return ai.NewAnthropicClient(cfg.APIKey, cfg.Model), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown AI provider: %s", cfg.Provider)
	}
}
