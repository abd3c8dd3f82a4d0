package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codesandbox/internal/bootstrap"
	commonmw "codesandbox/internal/common/http/middleware"
	"codesandbox/internal/config"
	"codesandbox/internal/sandbox/controller"
	"codesandbox/internal/sandbox/engine"
	"codesandbox/internal/sandbox/observer"
	"codesandbox/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/sandbox.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observer.NewPrometheus(registry)

	sandboxes, err := bootstrap.Build(context.Background(), appCfg, metrics)
	if err != nil {
		logger.Error(context.Background(), "init sandbox backends failed", zap.Error(err))
		return
	}
	defer func() {
		_ = sandboxes.Close()
	}()

	httpServer := buildHTTPServer(appCfg, sandboxes, registry, metrics)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "sandbox http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	// In-flight judgments finish and tear down their containers before Shutdown returns.
	ctx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg *config.AppConfig, sandboxes *bootstrap.Sandboxes, registry *prometheus.Registry, metrics *observer.Prometheus) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	judgers := make([]controller.Judger, 0, len(sandboxes.Workflows))
	for _, w := range sandboxes.Workflows {
		judgers = append(judgers, w)
	}
	sandboxController := controller.NewSandboxController(sandboxes.Default, judgers...)

	limiter := commonmw.NewLimiter(commonmw.RateLimitConfig{
		RPS:           cfg.RateLimit.RPS,
		Burst:         cfg.RateLimit.Burst,
		MaxConcurrent: cfg.RateLimit.MaxConcurrent,
	})
	api := router.Group("/api/v1/sandbox")
	api.Use(commonmw.SharedSecretMiddleware(commonmw.SharedSecretConfig{
		Header:   cfg.Auth.Header,
		Secret:   cfg.Auth.Secret,
		Disabled: cfg.Auth.Disabled,
	}))
	api.Use(commonmw.RateLimitMiddleware(limiter, func() {
		metrics.ObserveRejected(context.Background(), "rate_limited")
	}))
	api.POST("/execute", sandboxController.Execute)
	api.POST("/native/execute", sandboxController.ExecuteOn(engine.BackendNative))
	api.POST("/docker/execute", sandboxController.ExecuteOn(engine.BackendDocker))

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
