package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/kozaktomas/pixpursuit/internal/metrics"
)

const metadataTask = "task"

// MemoryBackend runs the queues inside the process on watermill Go channels.
// It backs single-binary deployments and tests. Tasks published before Run
// has subscribed are dropped, so callers wait on Ready first.
type MemoryBackend struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter

	ready     chan struct{}
	readyOnce sync.Once
}

func NewMemoryBackend() *MemoryBackend {
	logger := logging.NewWatermillAdapter(logging.Component("watermill"))
	return &MemoryBackend{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger),
		logger: logger,
		ready:  make(chan struct{}),
	}
}

func (b *MemoryBackend) Enqueue(_ context.Context, name Name, payload any) error {
	data, err := encode(name, payload)
	if err != nil {
		return err
	}
	queue := QueueFor(name)

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(metadataTask, string(name))
	if err := b.pubsub.Publish(string(queue), msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	metrics.TasksEnqueued.WithLabelValues(string(name), string(queue)).Inc()
	return nil
}

// Run consumes both queues until ctx is cancelled. Each queue is processed
// one task at a time.
func (b *MemoryBackend) Run(ctx context.Context, handlers Handlers) error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: constants.ShutdownTimeout}, b.logger)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	for _, queue := range []Queue{QueueMain, QueueBeat} {
		router.AddConsumerHandler("tasks_"+string(queue), string(queue), b.pubsub, func(msg *message.Message) error {
			// A failed task is acked anyway; returning the error would redeliver it.
			_ = process(ctx, handlers, Name(msg.Metadata.Get(metadataTask)), msg.Payload)
			return nil
		})
	}

	go func() {
		select {
		case <-router.Running():
			b.readyOnce.Do(func() { close(b.ready) })
		case <-ctx.Done():
		}
	}()

	return router.Run(ctx)
}

// Ready is closed once Run is consuming.
func (b *MemoryBackend) Ready() <-chan struct{} {
	return b.ready
}

func (b *MemoryBackend) Close() error {
	return b.pubsub.Close()
}
