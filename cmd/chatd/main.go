package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"chatsync/internal/adapter/api"
	"chatsync/internal/adapter/api/handler"
	apimiddleware "chatsync/internal/adapter/api/middleware"
	"chatsync/internal/adapter/api/router"
	"chatsync/internal/adapter/repository"
	domainrepo "chatsync/internal/domain/repository"
	"chatsync/internal/infrastructure/connectivity"
	"chatsync/internal/infrastructure/firebase"
	"chatsync/internal/infrastructure/idgen"
	"chatsync/internal/infrastructure/metrics"
	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/internal/infrastructure/websocket"
	"chatsync/internal/usecase"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("chatd: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	var (
		firebaseApp *fbapp.App
		opt         option.ClientOption
	)
	if o, ok := credentials(cfg); ok {
		opt = o
		app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
		if err != nil {
			return fmt.Errorf("initialising Firebase: %w", err)
		}
		firebaseApp = app
	}

	var firebaseAuthClient *firebase.FirebaseAuthClient
	if firebaseApp != nil {
		authClient, err := firebaseApp.Auth(ctx)
		if err != nil {
			return fmt.Errorf("initialising Firebase Auth: %w", err)
		}
		firebaseAuthClient = firebase.NewFirebaseAuthClient(authClient, cfg.DisplayName)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, closeStore)

	feed, closeFeed, err := openFeed(ctx, cfg, opt)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, closeFeed)

	author := cfg.DisplayName
	if firebaseAuthClient != nil {
		author = resolveAuthor(ctx, cfg, firebaseAuthClient)
	}

	ids, err := idgen.New()
	if err != nil {
		return err
	}
	promMetrics := metrics.NewPrometheus()

	reconciler := usecase.NewReconciler(
		usecase.NewOutbox(store),
		feed,
		usecase.NewHistoryCache(store),
		author,
		usecase.ReconcilerOptions{
			TransmitTimeout: cfg.TransmitTimeout,
			IDs:             ids,
			Metrics:         promMetrics,
		},
	)

	wsManager := websocket.NewManager(reconciler, cfg.MaxAttachmentBytes)
	wsManager.Start(ctx)
	reconciler.SubscribeNotices(wsManager.BroadcastNotice)
	reconciler.SubscribeMessages(wsManager.BroadcastMessages)

	probe := connectivity.NewProbeMonitor(cfg.ProbeAddr, cfg.ProbeInterval)
	go probe.Run(ctx)
	connectivitySwitch := connectivity.NewSwitch(probe)
	cleanups = append(cleanups, connectivitySwitch.Close)

	reconciler.Start(ctx, connectivitySwitch)
	cleanups = append(cleanups, reconciler.Close)
	reconciler.StartPeriodicFlush(cfg.FlushInterval)

	limiter := ratelimit.NewRateLimiter(nil)
	limiter.StartCleanupRoutine(ctx, 30*time.Minute)

	handler.Setup(reconciler, connectivitySwitch, limiter, cfg.MaxAttachmentBytes)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(apimiddleware.RateLimit(limiter))

	e.Validator = api.NewValidator()

	var verifier apimiddleware.TokenVerifier
	if firebaseAuthClient != nil {
		verifier = firebaseAuthClient
	}
	authMiddleware := apimiddleware.NewAuthMiddleware(verifier, cfg.RequireAuth)
	router.Setup(e, authMiddleware, handler.NewWebSocketHandler(wsManager), promMetrics.Handler())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server on port %s as %q (feed=%s store=%s)", cfg.ServerPort, author, cfg.FeedBackend, cfg.StoreBackend)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// credentials picks the service account the same way for Auth and
// Firestore: inline JSON first, then a file path.
func credentials(cfg *config.Config) (option.ClientOption, bool) {
	if cfg.FirebaseServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON)), true
	}
	if cfg.FirebaseServiceAccountPath != "" {
		if _, err := os.Stat(cfg.FirebaseServiceAccountPath); err != nil {
			logger.Warn("Service account file %s unusable: %v", cfg.FirebaseServiceAccountPath, err)
			return nil, false
		}
		logger.Info("Using Firebase service account from file: %s", cfg.FirebaseServiceAccountPath)
		return option.WithCredentialsFile(cfg.FirebaseServiceAccountPath), true
	}
	return nil, false
}

func openStore(ctx context.Context, cfg *config.Config) (domainrepo.KVStore, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("Using in-memory store: the outbox will not survive a restart")
		return repository.NewMemoryKVStore(), func() {}, nil

	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating store directory: %w", err)
		}
		store, err := repository.OpenSQLiteKVStore(cfg.StorePath + ".db")
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		prefix := "chatsync:"
		if cfg.UserUID != "" {
			prefix += cfg.UserUID + ":"
		}
		return repository.NewRedisKVStore(ctx, client, cfg.RedisDB, prefix), func() { client.Close() }, nil

	case "pebble":
		store, err := repository.OpenPebbleKVStore(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func openFeed(ctx context.Context, cfg *config.Config, opt option.ClientOption) (domainrepo.MessageFeed, func(), error) {
	switch cfg.FeedBackend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		feed := repository.NewPostgresFeedRepository(pool)
		if err := feed.AutoMigrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrating postgres feed: %w", err)
		}
		return feed, pool.Close, nil

	case "firestore":
		var opts []option.ClientOption
		if opt != nil {
			opts = append(opts, opt)
		}
		client, err := firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating Firestore client: %w", err)
		}
		return repository.NewFirestoreFeedRepository(client, cfg.FeedCollection), func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown FEED_BACKEND %q", cfg.FeedBackend)
	}
}

// resolveAuthor returns the display name messages are sent under. Lookup
// failures fall back to the configured name so the daemon still starts
// offline.
func resolveAuthor(ctx context.Context, cfg *config.Config, identity usecase.IdentityResolver) string {
	if cfg.UserUID == "" || identity == nil {
		return cfg.DisplayName
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	name, err := identity.DisplayName(lookupCtx, cfg.UserUID)
	if err != nil {
		logger.Warn("Could not resolve display name for %s, using %q: %v", cfg.UserUID, cfg.DisplayName, err)
		return cfg.DisplayName
	}
	return name
}
