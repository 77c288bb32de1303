package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"zerogchat/internal/oauth"
	"zerogchat/internal/ratelimit"
	"zerogchat/internal/session"
	"zerogchat/internal/util"
	"zerogchat/pkg/ai"
	"zerogchat/pkg/store"
	"zerogchat/services/chat/internal/app"
	"zerogchat/services/chat/internal/config"
	"zerogchat/services/chat/internal/server"
)

const (
	authRateLimitPerMinute = 20
	shutdownTimeout        = 15 * time.Second
	redisKeyPrefix         = "zerogchat:"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := util.InitLogger(cfg.LogLevel, "chat", cfg.LogsDir)
	defer cleanup()

	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		util.Fatal(logger, "invalid session ttl", "err", err)
	}
	completionTimeout, err := config.ParseDuration("generationTimeout", cfg.GenerationTimeout)
	if err != nil {
		util.Fatal(logger, "invalid generation timeout", "err", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal(logger, "failed to open store", "err", err)
	}
	defer dataStore.Close()

	completer, err := ai.NewCompleter(ai.ProviderConfig{
		Provider:   cfg.GenerationProvider,
		APIKey:     cfg.GenerationAPIKey,
		BaseURL:    cfg.GenerationBaseURL,
		Model:      cfg.GenerationModel,
		Referer:    cfg.AppURL,
		Title:      cfg.AppTitle,
		MaxRetries: cfg.GenerationMaxRetries,
		RetryDelay: 500 * time.Millisecond,
		Timeout:    completionTimeout,
	})
	if err != nil {
		util.Fatal(logger, "failed to init completion provider", "err", err)
	}

	var (
		revoker     session.Revoker
		chatLimiter ratelimit.Limiter
		authLimiter ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			util.Fatal(logger, "failed to reach redis", "addr", cfg.RedisAddr, "err", err)
		}
		revoker = session.NewRedisRevoker(rdb, redisKeyPrefix+"session:revoked")
		if cfg.ChatRateLimitPerMinute > 0 {
			l, err := ratelimit.NewRedisFixedWindowLimiter(rdb, redisKeyPrefix+"ratelimit:chat", cfg.ChatRateLimitPerMinute, time.Minute)
			if err != nil {
				util.Fatal(logger, "failed to init chat limiter", "err", err)
			}
			chatLimiter = l
		}
		l, err := ratelimit.NewRedisFixedWindowLimiter(rdb, redisKeyPrefix+"ratelimit:auth", authRateLimitPerMinute, time.Minute)
		if err != nil {
			util.Fatal(logger, "failed to init auth limiter", "err", err)
		}
		authLimiter = l
	} else {
		logger.Warn("redis not configured; session revocation and rate limits are per process")
		revoker = session.NewMemoryRevoker()
		if cfg.ChatRateLimitPerMinute > 0 {
			l, err := ratelimit.NewMemoryFixedWindowLimiter(cfg.ChatRateLimitPerMinute, time.Minute)
			if err != nil {
				util.Fatal(logger, "failed to init chat limiter", "err", err)
			}
			chatLimiter = l
		}
		l, err := ratelimit.NewMemoryFixedWindowLimiter(authRateLimitPerMinute, time.Minute)
		if err != nil {
			util.Fatal(logger, "failed to init auth limiter", "err", err)
		}
		authLimiter = l
	}

	sessions, err := session.NewManager(cfg.SessionSecret, sessionTTL, revoker, session.Options{})
	if err != nil {
		util.Fatal(logger, "failed to init sessions", "err", err)
	}

	var google app.OAuthProvider
	if cfg.GoogleEnabled() {
		gp, err := oauth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL)
		if err != nil {
			util.Fatal(logger, "failed to init google sign-in", "err", err)
		}
		google = gp
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal(logger, "invalid trusted proxy cidrs", "err", err)
	}

	appCore, err := app.New(app.Config{
		Store:             dataStore,
		Completer:         completer,
		Sessions:          sessions,
		Google:            google,
		HistoryLimit:      cfg.HistoryLimit,
		CompletionTimeout: completionTimeout,
	})
	if err != nil {
		util.Fatal(logger, "failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		ChatLimiter:    chatLimiter,
		AuthLimiter:    authLimiter,
		TrustedProxies: trusted,
		CORSOrigins:    cfg.CORSOrigins,
		CookieSecure:   cfg.CookieSecure,
	})
	if err != nil {
		util.Fatal(logger, "failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      completionTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("chat server listening", "addr", addr,
			"provider", cfg.GenerationProvider, "history_limit", appCore.HistoryLimit())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("chat server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
