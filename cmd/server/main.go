package main

import (
	"context"
	"errors"
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

	"agenthub.app/bridge/common/id"
	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/common/otel"
	"agenthub.app/bridge/core/config"
	"agenthub.app/bridge/core/db"
	"agenthub.app/bridge/internal/http/middleware"
	httprouter "agenthub.app/bridge/internal/http/router"
	"agenthub.app/bridge/internal/queue"
	"agenthub.app/bridge/internal/service"
	"agenthub.app/bridge/internal/worker"
)

// taskSink is where deferred Salesbot turns go: the Redis stream, or the
// in-process runner when Redis is not configured.
type taskSink interface {
	Enqueue(ctx context.Context, task queue.Task) error
	Close() error
}

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg)
	if err != nil {
		// Can't use slog yet, OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "bridge starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var database *db.DB
	if cfg.DB.Enabled() {
		database, err = db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to migrate database", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "database connected")
	}

	var redisClient *redis.Client
	if cfg.Queue.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}

		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.RedisStream)
	} else {
		slog.WarnContext(ctx, "redis not configured, sessions are kept in memory and salesbot turns run in process")
	}

	services, err := service.NewServices(service.ServicesConfig{
		Config: cfg,
		DB:     database,
		Redis:  redisClient,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize services", "error", err)
		os.Exit(1)
	}

	var tasks taskSink
	if redisClient != nil {
		tasks = queue.NewRedisProducer(redisClient, cfg.Queue.RedisStream, slog.Default())
	} else {
		tasks = worker.NewInline(worker.NewSalesbotProcessor(services.Pipeline()))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, tasks)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      services.TurnBudget(),
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, services.TurnBudget())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	// In-process salesbot turns finish before the stores go away.
	if err := tasks.Close(); err != nil {
		slog.ErrorContext(shutdownCtx, "task sink close error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services, tasks taskSink) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Trace picks up its id → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Trace(cfg.Webhook.TraceHeaderName))
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, httprouter.Services{
		Turns:       services.Pipeline(),
		Tasks:       tasks,
		Kommo:       services.Kommo(),
		Transcripts: services.Transcripts(),
	}, httprouter.RouterConfig{
		WebhookSecret:      cfg.Webhook.Secret,
		BridgeSecret:       cfg.Webhook.BridgeSecret,
		APISecret:          cfg.Webhook.APISecret,
		AmojoChannelSecret: cfg.Amojo.ChannelSecret,
		AmojoSenderID:      cfg.Amojo.SenderID,
		NoteChunkSize:      cfg.Kommo.NoteChunkSize,
	})

	return router
}

const banner = `
██████╗ ██████╗ ██╗██████╗  ██████╗ ███████╗
██╔══██╗██╔══██╗██║██╔══██╗██╔════╝ ██╔════╝
██████╔╝██████╔╝██║██║  ██║██║  ███╗█████╗
██╔══██╗██╔══██╗██║██║  ██║██║   ██║██╔══╝
██████╔╝██║  ██║██║██████╔╝╚██████╔╝███████╗
╚═════╝ ╚═╝  ╚═╝╚═╝╚═════╝  ╚═════╝ ╚══════╝
`
