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

	"clipwright/internal/app"
	"clipwright/internal/config"
	"clipwright/internal/handlers"
	"clipwright/internal/logging"
	"clipwright/internal/version"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const heartbeat = 15 * time.Second

func main() {
	// 設定の読み込み（.env → CONFIG_FILE → 環境変数）
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log.Format, cfg.Log.Level)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to start", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ワーカーの起動（コピー生成バッチを処理）
	a.Worker.Start(ctx)
	defer a.Worker.Stop()

	// Echoインスタンスの作成
	e := echo.New()
	e.HideBanner = true

	// ミドルウェアの設定
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	transcribeHandler := handlers.NewTranscriptionHandler(a.Transcription, heartbeat, logger)
	transcribeHandler.Mirror(a.Emitter)
	copyHandler := handlers.NewCopyHandler(a.Copygen, a.Copies)
	batchHandler := handlers.NewBatchHandler(a.Batches, a.Exceptions, a.Broker, heartbeat, logger)

	// ルートの登録
	api := e.Group("/api")
	api.POST("/transcriptions/batch", transcribeHandler.Batch)
	api.GET("/transcriptions/stream", transcribeHandler.Stream)

	api.GET("/projects/:id/copies", copyHandler.List)
	api.POST("/projects/:id/copies", copyHandler.Generate)
	api.POST("/projects/:id/copies/:sequence/regenerate", copyHandler.Regenerate)
	api.GET("/copies/:id/revisions", copyHandler.Revisions)
	api.POST("/copies/:id/revisions", copyHandler.Revise)

	api.GET("/batches", batchHandler.List)
	api.GET("/batches/:id", batchHandler.Get)
	api.GET("/batches/:id/events", batchHandler.Events)
	api.GET("/batches/:id/exceptions", batchHandler.Exceptions)

	e.GET("/metrics", echo.WrapHandler(a.Metrics.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})

	// サーバー起動
	go func() {
		logger.Info("starting clipwright", "version", version.String(), "port", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
}
