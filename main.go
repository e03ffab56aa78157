package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/escrowdash/chain"
	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/handler"
	"github.com/AnTengye/escrowdash/middleware"
	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/logger"
	"github.com/AnTengye/escrowdash/service"
)

const signerTimeout = 2 * time.Minute

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
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
	slog.Info("configuration loaded successfully", "network", cfg.Chain.Network, "contract", cfg.Chain.ContractAddress)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := service.SetupTelemetry(ctx, &cfg.Telemetry)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	metrics, err := service.NewMetrics(service.DefaultMeter())
	if err != nil {
		slog.Error("failed to create metrics", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := service.NewKVStore(&cfg.Session)
	if err != nil {
		slog.Error("failed to open session store", "backend", cfg.Session.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Chain adapter: the signer bridge holds the keys, the indexer observes.
	indexer := service.NewIndexer(&cfg.Indexer, cfg.Chain.ContractAddress)
	signer := chain.NewSigner(cfg.Chain.SignerURL, signerTimeout)
	observer := chain.NewObserver(cfg.Indexer.APIURL, indexer.HTTPClient(),
		time.Duration(cfg.Submit.PollIntervalMs)*time.Millisecond)
	client := chain.NewClient(&cfg.Chain, signer, observer)

	snapshot := service.NewContractSnapshot(indexer)
	snapshot.Subscribe(func(s service.ContractStorage) {
		slog.Info("contract storage loaded", "admin", s.Master)
	})
	if _, err := snapshot.Refresh(ctx); err != nil {
		slog.Warn("contract storage unavailable at startup", "error", err)
	}

	sessions := service.NewSessionManager(client, snapshot, store)
	sessions.Subscribe(func(s model.Session) {
		slog.Info("session changed", "address", s.Address, "role", s.Role, "authenticated", s.Authenticated)
	})
	if err := sessions.Restore(ctx); err != nil {
		slog.Warn("failed to restore session", "error", err)
	}

	feed := service.NewFeed(cfg.Notify.FeedSize)
	notifiers := service.MultiNotifier{service.LogNotifier{}, feed}
	if cfg.Notify.TelegramToken != "" {
		tg, err := service.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			slog.Warn("telegram notifications disabled", "error", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}

	receipts := service.NewReceiptStore(cfg.Receipts.MaxReceipts)
	opts := []service.PipelineOption{
		service.WithNotifier(notifiers),
		service.WithReceipts(receipts),
		service.WithMetrics(metrics),
	}
	if cfg.Receipts.Archive.Enabled {
		archive, err := service.NewMinioArchive(&cfg.Receipts.Archive)
		if err != nil {
			slog.Error("failed to initialize receipt archive", "error", err)
			os.Exit(1)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			slog.Error("failed to ensure receipt bucket", "error", err)
			os.Exit(1)
		}
		opts = append(opts, service.WithArchive(archive))
	}
	pipeline := service.NewPipeline(client, &cfg.Submit, opts...)

	reader := service.NewReader(indexer)
	pager := service.NewPager(reader, service.FilterAll, service.DefaultPageSize)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())
	router.Use(noCacheMiddleware())
	router.Use(limiter.Middleware())

	handler.Register(router, handler.Deps{
		Config:    cfg,
		Sessions:  sessions,
		Reader:    reader,
		Pager:     pager,
		Submitter: pipeline,
		Feed:      feed,
		Receipts:  receipts,
	})

	go housekeeping(ctx, limiter, snapshot)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 60 * time.Second,
		// writes block through estimate, inject and the bounded confirmation wait
		WriteTimeout: 2*signerTimeout + time.Duration(cfg.Submit.ConfirmTimeoutSeconds)*time.Second + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	slog.Info("server exited gracefully")
}

// housekeeping drops idle rate limit buckets and keeps the admin address fresh.
func housekeeping(ctx context.Context, limiter *middleware.RateLimiter, snapshot *service.ContractSnapshot) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
			if _, err := snapshot.Refresh(ctx); err != nil {
				slog.Debug("contract storage refresh failed", "error", err)
			}
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// noCacheMiddleware marks every response uncacheable
func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Next()
	}
}
