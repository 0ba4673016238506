package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/kozaktomas/pixpursuit/internal/config"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/kozaktomas/pixpursuit/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisBackend queues tasks in Redis through asynq. Any number of worker
// processes may consume from the same Redis.
type RedisBackend struct {
	rdb         *redis.Client
	client      *asynq.Client
	concurrency int
}

// NewRedisBackend connects to cfg.RedisURL.
func NewRedisBackend(cfg config.TasksConfig) (*RedisBackend, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = constants.DefaultWorkerConcurrency
	}

	return &RedisBackend{
		rdb:         rdb,
		client:      asynq.NewClientFromRedisClient(rdb),
		concurrency: concurrency,
	}, nil
}

func (b *RedisBackend) Enqueue(ctx context.Context, name Name, payload any) error {
	data, err := encode(name, payload)
	if err != nil {
		return err
	}
	queue := QueueFor(name)
	task := asynq.NewTask(string(name), data)
	if _, err := b.client.EnqueueContext(ctx, task, asynq.Queue(string(queue)), asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	metrics.TasksEnqueued.WithLabelValues(string(name), string(queue)).Inc()
	return nil
}

// Run serves both queues until ctx is cancelled.
func (b *RedisBackend) Run(ctx context.Context, handlers Handlers) error {
	srv := asynq.NewServerFromRedisClient(b.rdb, asynq.Config{
		Concurrency: b.concurrency,
		Queues: map[string]int{
			string(QueueMain): constants.MainQueueWeight,
			string(QueueBeat): constants.BeatQueueWeight,
		},
		Logger:          logging.AsynqAdapter{L: logging.Component("asynq")},
		LogLevel:        asynq.WarnLevel,
		ShutdownTimeout: constants.ShutdownTimeout,
	})

	mux := asynq.NewServeMux()
	for name := range handlers {
		mux.HandleFunc(string(name), func(ctx context.Context, t *asynq.Task) error {
			if err := process(ctx, handlers, Name(t.Type()), t.Payload()); err != nil {
				return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
			}
			return nil
		})
	}

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection pool shared by the client and servers.
func (b *RedisBackend) Close() error {
	if err := b.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
