package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"postdeck.app/connect/common/id"
	"postdeck.app/connect/common/logger"
	"postdeck.app/connect/common/otel"
	"postdeck.app/connect/core/config"
	"postdeck.app/connect/core/db"
	"postdeck.app/connect/internal/graph"
	"postdeck.app/connect/internal/handoff"
	"postdeck.app/connect/internal/http/handler"
	"postdeck.app/connect/internal/http/middleware"
	httprouter "postdeck.app/connect/internal/http/router"
	"postdeck.app/connect/internal/mirror"
	"postdeck.app/connect/internal/oauthstate"
	"postdeck.app/connect/internal/service"
	"postdeck.app/connect/internal/service/integration"
	"postdeck.app/connect/internal/store"
	"postdeck.app/connect/internal/urlcache"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "connect starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	states, broker, closeRedis, err := setupHandoff(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer closeRedis()

	httpClient := &http.Client{Timeout: cfg.Graph.Timeout}
	graphClient := graph.NewClient(graph.Config{
		AppID:     cfg.Graph.AppID,
		AppSecret: cfg.Graph.AppSecret,
		BaseURL:   cfg.Graph.BaseURL,
		DialogURL: cfg.Graph.DialogURL,
		Version:   cfg.Graph.APIVersion,
		Scopes:    cfg.Graph.Scopes,
		Timeout:   cfg.Graph.Timeout,
	}, httpClient)

	deps := service.Deps{
		Stores:   store.NewStores(database.Queries()),
		TxRunner: service.NewTxRunner(database),
		Graph:    graphClient,
		States:   states,
		Broker:   broker,
	}
	if cfg.Mirror.Enabled() {
		m, err := mirror.New(mirror.Config{
			Endpoint:      cfg.Mirror.Endpoint,
			AccessKey:     cfg.Mirror.AccessKey,
			SecretKey:     cfg.Mirror.SecretKey,
			Bucket:        cfg.Mirror.Bucket,
			Region:        cfg.Mirror.Region,
			PublicBaseURL: cfg.Mirror.PublicBaseURL,
			UseSSL:        cfg.Mirror.UseSSL,
		}, httpClient)
		if err != nil {
			slog.ErrorContext(ctx, "failed to configure picture mirror", "error", err)
			os.Exit(1)
		}
		deps.Mirror = m
		slog.InfoContext(ctx, "profile picture mirror enabled", "bucket", cfg.Mirror.Bucket)
	}

	services := service.NewServices(deps, service.ConnectionConfig{
		RefreshRate:      rate.Limit(cfg.Refresh.Rate),
		RefreshBurst:     cfg.Refresh.Burst,
		BreakerThreshold: cfg.Refresh.BreakerThreshold,
	}, integration.InstagramConfig{
		RedirectURI:      cfg.Graph.RedirectURI,
		SentinelTTL:      cfg.Connect.PageTokenSentinelTTL,
		StateTTL:         cfg.Connect.StateTTL,
		WaitTimeout:      cfg.Connect.WaitTimeout,
		FetchConcurrency: cfg.Connect.FetchConcurrency,
	}, cfg.Connect.SelectionTTL)

	cache := urlcache.New(urlcache.Config{
		CacheDuration:    cfg.Cache.Duration,
		CheckInterval:    cfg.Cache.CheckInterval,
		FailureThreshold: cfg.Cache.FailureThreshold,
		RefreshTimeout:   cfg.Cache.RefreshTimeout,
	}, services.Connections())
	services.ObservePictures(cache)

	if err := warmCache(ctx, services.Connections(), cache); err != nil {
		slog.WarnContext(ctx, "failed to warm picture cache", "error", err)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	cache.Start(sweepCtx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, cache)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// long-poll waits run up to CONNECT_WAIT_TIMEOUT
		WriteTimeout: cfg.Connect.WaitTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	cache.Shutdown()
	slog.InfoContext(shutdownCtx, "picture cache stopped")

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// setupHandoff returns Redis-backed state and outcome stores when REDIS_URL
// is set, in-memory ones otherwise.
func setupHandoff(ctx context.Context, cfg config.Config) (oauthstate.Store, handoff.Broker, func(), error) {
	retention := cfg.Connect.WaitTimeout + cfg.Connect.StateTTL

	if !cfg.Redis.Enabled() {
		slog.WarnContext(ctx, "REDIS_URL not set, oauth state and connect outcomes are kept in memory")
		return oauthstate.NewMemoryStore(), handoff.NewMemoryBroker(retention), func() {}, nil
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, nil, fmt.Errorf("pinging redis: %w", err)
	}
	slog.InfoContext(ctx, "redis connected", "key_prefix", cfg.Redis.KeyPrefix)

	closeFn := func() {
		if err := redisClient.Close(); err != nil {
			slog.ErrorContext(ctx, "redis close error", "error", err)
		}
	}
	return oauthstate.NewRedisStore(redisClient, cfg.Redis.KeyPrefix),
		handoff.NewRedisBroker(redisClient, cfg.Redis.KeyPrefix, retention),
		closeFn, nil
}

func warmCache(ctx context.Context, connections service.ConnectionService, cache *urlcache.Cache) error {
	conns, err := connections.ListConnected(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "picture cache warmed", "entries", cache.Warm(conns))
	return nil
}

func setupRouter(cfg config.Config, services *service.Services, cache handler.PictureCache) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services, cache, httprouter.RouterConfig{
		DashboardURL:       cfg.DashboardURL,
		AdminAPIKey:        cfg.AdminAPIKey,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	return router
}

const banner = `
 ██████╗ ██████╗ ███╗   ██╗███╗   ██╗███████╗ ██████╗████████╗
██╔════╝██╔═══██╗████╗  ██║████╗  ██║██╔════╝██╔════╝╚══██╔══╝
██║     ██║   ██║██╔██╗ ██║██╔██╗ ██║█████╗  ██║        ██║   
██║     ██║   ██║██║╚██╗██║██║╚██╗██║██╔══╝  ██║        ██║   
╚██████╗╚██████╔╝██║ ╚████║██║ ╚████║███████╗╚██████╗   ██║   
 ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝╚═╝  ╚═══╝╚══════╝ ╚═════╝   ╚═╝   
`
