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

	"ontoreason.app/engine/internal/contextstore"
	"ontoreason.app/engine/internal/dataclient"
	"ontoreason.app/engine/internal/executors"
	"ontoreason.app/engine/internal/graphtools"
	"ontoreason.app/engine/internal/http/handler"
	"ontoreason.app/engine/internal/http/middleware"
	httprouter "ontoreason.app/engine/internal/http/router"
	"ontoreason.app/engine/internal/llmclient"
	"ontoreason.app/engine/internal/platform/config"
	"ontoreason.app/engine/internal/platform/db"
	"ontoreason.app/engine/internal/platform/id"
	"ontoreason.app/engine/internal/platform/logger"
	"ontoreason.app/engine/internal/platform/otelboot"
	"ontoreason.app/engine/internal/reasoningrepo"
	"ontoreason.app/engine/internal/reasoningservice"
	"ontoreason.app/engine/internal/secrets"
	"ontoreason.app/engine/internal/tenantconfig"
	"ontoreason.app/engine/internal/trace"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production).
	telemetry, err := otelboot.Setup(ctx, cfg.OTel)
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

	slog.InfoContext(ctx, "ontoreason engine starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.NodeID); err != nil {
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

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
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
		slog.InfoContext(ctx, "redis connected")
	} else {
		slog.InfoContext(ctx, "redis not configured; trace sink external fan-out disabled")
	}

	cipher, err := secrets.New(cfg.SecretKey)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize secret cipher", "error", err)
		os.Exit(1)
	}

	var providerDefaults []tenantconfig.ProviderDefault
	for provider, def := range cfg.LLMProviderDefaults {
		providerDefaults = append(providerDefaults, tenantconfig.ProviderDefault{
			Provider: provider,
			BaseURL:  def.BaseURL,
		})
	}

	repo := reasoningrepo.New(database.Pool())
	tenants := tenantconfig.New(database.Pool(), cipher, providerDefaults)
	traceSink := trace.NewSink(database.Pool(), redisClient)
	ctxStore := contextstore.New(database.Pool())
	graphTool := graphtools.NewClient(cfg.GraphServiceURL)
	dataClient := dataclient.NewClient(cfg.DataServiceURL)
	llm := llmclient.New()
	execs := executors.New(llm, dataClient)

	svc := reasoningservice.New(database, repo, tenants, traceSink, ctxStore, graphTool, llm, execs)
	reasoningHandler := handler.NewReasoningHandler(svc)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, reasoningHandler)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
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

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, reasoningHandler *handler.ReasoningHandler) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span -> Recovery catches panics -> Logger
	// logs with trace context (teacher's router.SetupRoutes ordering).
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, reasoningHandler)

	return router
}

const banner = `
 ___  _ __ | |_ ___  _ __ ___  __ _ ___  ___  _ __
/ _ \| '_ \| __/ _ \| '__/ _ \/ _. / __|/ _ \| '_ \
| (_) | | | | || (_) | | |  __/ (_| \__ \ (_) | | | |
\___/|_| |_|\__\___/|_|  \___|\__,_|___/\___/|_| |_|
    ontoreason reasoning engine
`
