package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nationdex/promostore/internal/application"
	"github.com/nationdex/promostore/internal/config"
	"github.com/nationdex/promostore/internal/handler"
	"github.com/nationdex/promostore/internal/logger"
	"github.com/nationdex/promostore/internal/middleware"
	"github.com/nationdex/promostore/internal/repository"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewNamed(cfg.AppEnv, "promostore")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting promostore",
		zap.String("port", cfg.Port),
		zap.String("file", cfg.Store.FilePath),
	)

	// Setup Gin router
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(zapLogger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "promostore"})
	})

	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()

	if cfg.Store.Enabled {
		// Initialize the promocode store
		files := repository.NewFileStore(cfg.Store.FilePath, cfg.Store.LockTimeout, zapLogger)
		archive := repository.NewArchiveSink(cfg.Store.ArchiveDir, zapLogger)
		store := application.NewPromoStore(files, archive, application.Options{
			CacheWindow:    cfg.Store.CacheWindow,
			SeedCodes:      cfg.Store.SeedCodes,
			ArchiveEnabled: cfg.Store.ArchiveEnabled,
		}, nil, zapLogger)

		// Initial load; on first run this also creates the backing file.
		startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
		count, err := store.ForceReload(startupCtx)
		startupCancel()
		if err != nil {
			zapLogger.Fatal("failed to initialize promocode store", zap.Error(err))
		}
		zapLogger.Info("promocode store initialized", zap.Int("codes", count))

		apiV1 := router.Group("/api/v1")
		promoHandler := handler.NewPromoCodeHandler(store)
		promoHandler.RegisterRoutes(apiV1, cfg.JWTSecret)

		// Periodic cleanup of expired and depleted codes
		if cfg.Store.CleanInterval > 0 {
			go runPeriodicClean(cleanCtx, store, cfg.Store.CleanInterval, zapLogger)
		}
	} else {
		zapLogger.Warn("promocode store is disabled by configuration")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down promostore...")
	cleanCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("promostore stopped")
}

// runPeriodicClean archives and removes expired or depleted codes on a
// fixed interval until ctx is cancelled.
func runPeriodicClean(ctx context.Context, store *application.PromoStore, interval time.Duration, zapLogger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	zapLogger.Info("periodic promocode cleanup enabled", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Clean(ctx, true)
			if err != nil {
				zapLogger.Error("periodic promocode cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				zapLogger.Info("periodic promocode cleanup finished", zap.Int("removed", removed))
			}
		}
	}
}
