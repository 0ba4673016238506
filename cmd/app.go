package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/pixpursuit/internal/config"
	"github.com/kozaktomas/pixpursuit/internal/database/postgres"
	"github.com/kozaktomas/pixpursuit/internal/embedding"
	"github.com/kozaktomas/pixpursuit/internal/faces"
	"github.com/kozaktomas/pixpursuit/internal/ingest"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/kozaktomas/pixpursuit/internal/sources"
	"github.com/kozaktomas/pixpursuit/internal/storage"
	"github.com/kozaktomas/pixpursuit/internal/tagger"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/rs/zerolog"
)

// cmdLog returns the command logger. It is resolved per call so it follows
// the settings applied by logging.Init in initConfig.
func cmdLog() *zerolog.Logger {
	l := logging.Component("cmd")
	return &l
}

// taskBackend is both ends of a task queue.
type taskBackend interface {
	tasks.Dispatcher
	tasks.Worker
	Close() error
}

// app holds the connections shared by the commands.
type app struct {
	pool    *postgres.Pool
	catalog *postgres.Catalog
	store   *storage.S3Store
	backend taskBackend
	memory  *tasks.MemoryBackend // set when the backend is in-process
}

// openApp connects to PostgreSQL, the bucket and the task backend.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewS3Store(cfg.Storage)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureBucket(ctx, cfg.Storage.Region); err != nil {
		cmdLog().Warn().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("could not verify bucket")
	}

	a := &app{pool: pool, catalog: postgres.NewCatalog(pool), store: store}
	switch cfg.Tasks.Backend {
	case "memory":
		a.memory = tasks.NewMemoryBackend()
		a.backend = a.memory
	case "redis":
		rb, err := tasks.NewRedisBackend(cfg.Tasks)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := rb.Ping(ctx); err != nil {
			rb.Close()
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.backend = rb
	default:
		pool.Close()
		return nil, fmt.Errorf("unknown TASK_BACKEND %q (want redis or memory)", cfg.Tasks.Backend)
	}
	return a, nil
}

func (a *app) pipeline(cfg *config.Config) *ingest.Pipeline {
	return ingest.NewPipeline(a.catalog, a.store, a.backend, cfg.Defaults.EXIF.AllowedKeys)
}

// workerHandlers registers every task the worker processes.
func (a *app) workerHandlers(ctx context.Context, cfg *config.Config) (tasks.Handlers, error) {
	handlers := tasks.Handlers{}
	merge := func(hs tasks.Handlers) {
		for name, h := range hs {
			handlers[name] = h
		}
	}

	merge(ingest.NewExtractor(a.catalog, embedding.NewClient(cfg.Embedding)).Handlers())
	merge(tagger.NewService(a.catalog, a.backend, cfg.Tagger).Handlers())
	merge(faces.NewManager(a.catalog, a.backend).Handlers())

	if cfg.SharePoint.Enabled() {
		sp, err := sources.NewSharePoint(ctx, cfg.SharePoint)
		if err != nil {
			return nil, fmt.Errorf("sharepoint: %w", err)
		}
		merge(sources.SharePointHandlers(sp, a.pipeline(cfg)))
	}
	return handlers, nil
}

// runWorker consumes tasks until ctx is cancelled. An in-process backend
// drops tasks published before it subscribes, so callers wait on the
// returned channel before enqueueing.
func (a *app) runWorker(ctx context.Context, handlers tasks.Handlers) (<-chan struct{}, <-chan error) {
	done := make(chan error, 1)
	go func() {
		done <- a.backend.Run(ctx, handlers)
	}()
	if a.memory != nil {
		return a.memory.Ready(), done
	}
	ready := make(chan struct{})
	close(ready)
	return ready, done
}

func (a *app) Close() error {
	return errors.Join(a.backend.Close(), a.pool.Close())
}
