// Package app wires the storage, acquisition, provider and workflow layers
// into one process-wide set of services.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"clipwright/internal/acquire"
	"clipwright/internal/bus"
	"clipwright/internal/capability"
	"clipwright/internal/config"
	"clipwright/internal/copygen"
	"clipwright/internal/exception"
	"clipwright/internal/fetch"
	"clipwright/internal/media"
	"clipwright/internal/metrics"
	"clipwright/internal/models"
	"clipwright/internal/provider"
	"clipwright/internal/resolve"
	"clipwright/internal/storage"
	"clipwright/internal/stream"
	"clipwright/internal/transcription"
	"clipwright/internal/webfetch"
	"clipwright/internal/worker"
	"clipwright/internal/youtube"
)

const resolverCacheSize = 512

// App holds the wired services.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Capabilities capability.Capabilities

	DB         *storage.DB
	Videos     *storage.VideoRepository
	Projects   *storage.ProjectRepository
	Batches    *storage.BatchRepository
	Copies     *storage.CopyRepository
	Exceptions *storage.ExceptionRepository

	Transcription *transcription.Service
	Copygen       *copygen.Service
	Worker        *worker.Worker
	Broker        *stream.Broker
	Metrics       *metrics.Metrics

	nats    *stream.NATSPublisher
	closers []func()
}

// New builds every service from cfg. The caller owns Close.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Broker: stream.NewBroker(64), Metrics: metrics.New()}

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func() { db.Close() })

	a.Videos = storage.NewVideoRepository(db)
	a.Projects = storage.NewProjectRepository(db)
	a.Batches = storage.NewBatchRepository(db)
	a.Copies = storage.NewCopyRepository(db)
	a.Exceptions = storage.NewExceptionRepository(db)

	a.Capabilities = capability.Detect(capability.DetectOptions{
		Restricted:     cfg.Media.Restricted,
		FFmpegPath:     cfg.Media.FFmpegPath,
		ForceTranscode: cfg.Media.ForceTranscode,
	})
	logger.Info("capabilities detected",
		"transcode", a.Capabilities.CanTranscode(),
		"large_downloads", a.Capabilities.CanDownloadLargeFiles())

	resolver, err := a.resolver()
	if err != nil {
		a.Close()
		return nil, err
	}

	downloader := fetch.NewClient(fetch.Config{
		Timeout:      cfg.Media.DownloadTimeout,
		VideoTimeout: cfg.Media.VideoTimeout,
		Retries:      cfg.Media.VideoRetries,
		Backoff:      time.Second,
	})
	chain := acquire.NewChain(downloader, resolver, media.NewFFmpeg(cfg.Media.FFmpegPath),
		acquire.WithFormatCheck(media.IsCompatible),
		acquire.WithLogger(logger))

	ai := provider.NewOpenAI(provider.Config{
		APIKey:          cfg.Provider.APIKey,
		BaseURL:         cfg.Provider.BaseURL,
		TranscribeModel: cfg.Provider.TranscribeModel,
		CompletionModel: cfg.Provider.CompletionModel,
		Timeout:         cfg.Provider.Timeout,
	})

	recorder := exception.NewRecorder(a.Exceptions, logger)

	a.Transcription = transcription.NewService(
		a.Videos, a.Batches,
		transcription.NewProcessor(chain, ai, a.Capabilities, cfg.Provider.Language, logger),
		recorder, a.Metrics,
		transcription.Config{
			Concurrency:    cfg.Batch.Concurrency,
			MaxConcurrency: cfg.Batch.MaxConcurrency,
			ChunkDelay:     cfg.Batch.ChunkDelay,
		},
		logger)

	a.Copygen = copygen.NewService(a.Projects, a.Batches, a.Copies, ai, recorder, a.Metrics, logger)

	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			// NATSは任意のため、接続できなくても起動を続ける
			logger.Warn("nats unavailable, progress mirroring disabled", "url", cfg.NATSURL, "err", err)
		} else {
			a.nats = stream.NewNATSPublisher(nc, logger)
			a.closers = append(a.closers, nc.Close)
		}
	}

	a.Worker = worker.NewWorker(a.Batches, logger)
	a.Worker.SetInterval(cfg.Batch.WorkerInterval)
	a.Worker.RegisterHandler(models.BatchKindCopy, func(ctx context.Context, b *models.Batch) error {
		_, err := a.Copygen.Run(ctx, b.ID, a.Emitter(b.ID))
		return err
	})

	return a, nil
}

func (a *App) resolver() (*resolve.Chain, error) {
	strategies := []resolve.Strategy{resolve.Direct{}, resolve.NewYouTube(youtube.NewClient())}

	if a.Config.Media.PageResolver {
		browser, err := webfetch.NewRenderer(webfetch.Options{
			Stealth:     true,
			BrowserPath: a.Config.Media.BrowserPath,
		})
		if err != nil {
			a.Logger.Warn("headless browser unavailable, share pages will not resolve", "err", err)
		} else {
			a.closers = append(a.closers, func() { browser.Close() })
			strategies = append(strategies, resolve.NewPage(browser))
		}
	}

	chain, err := resolve.NewChain(a.Logger, resolverCacheSize, strategies...)
	if err != nil {
		return nil, fmt.Errorf("failed to build resolver: %w", err)
	}
	return chain, nil
}

// Emitter returns the fan-out for batchID: the in-process broker and, when
// connected, NATS.
func (a *App) Emitter(batchID string) stream.Emitter {
	if a.nats == nil {
		return a.Broker.Emitter(batchID)
	}
	return stream.Tee(a.Broker.Emitter(batchID), a.nats.Emitter(batchID))
}

// Close releases resources in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
