package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/promptstash/internal/app/migrate"
	httpx "github.com/splax/promptstash/internal/http"
	"github.com/splax/promptstash/internal/mailer"
	"github.com/splax/promptstash/internal/repository/postgres"
	"github.com/splax/promptstash/internal/service/activity"
	"github.com/splax/promptstash/internal/service/auth"
	"github.com/splax/promptstash/internal/service/favorite"
	"github.com/splax/promptstash/internal/service/invitation"
	"github.com/splax/promptstash/internal/service/prompt"
	"github.com/splax/promptstash/internal/service/rating"
	"github.com/splax/promptstash/internal/service/team"
	"github.com/splax/promptstash/internal/ws"
	"github.com/splax/promptstash/pkg/config"
	"github.com/splax/promptstash/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	activityHub := ws.NewHub()

	var mail mailer.Mailer = mailer.Noop{Logger: log}
	if url := strings.TrimSpace(cfg.MailerURL); url != "" {
		mail = mailer.NewHTTPMailer(url, cfg.MailerSecret, cfg.MailerTimeout)
	}

	activitySvc := activity.New(repo, activityHub, log)
	authSvc := auth.New(repo, log, cfg)
	teamSvc := team.New(repo, activitySvc, log)
	promptSvc := prompt.New(repo, repo, repo, activitySvc, log)
	ratingSvc := rating.New(repo, repo, repo, log)
	invitationSvc := invitation.New(repo, repo, repo, mail, activitySvc, log, cfg)
	favoriteSvc := favorite.New(repo, repo, repo, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, teamSvc, promptSvc, ratingSvc, invitationSvc, favoriteSvc, activitySvc, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
