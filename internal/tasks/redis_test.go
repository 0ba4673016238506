//go:build integration

package tasks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/pixpursuit/internal/config"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) string {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisBackend(t *testing.T) {
	url := setupRedis(t)

	backend, err := NewRedisBackend(config.TasksConfig{RedisURL: url, Concurrency: 1})
	if err != nil {
		t.Fatalf("NewRedisBackend: %v", err)
	}
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := backend.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	got := make(chan UpdateNamesPayload, 1)
	handlers := Handlers{
		UpdateNames: Typed(func(_ context.Context, p UpdateNamesPayload) error {
			got <- p
			return nil
		}),
	}

	done := make(chan error, 1)
	go func() { done <- backend.Run(ctx, handlers) }()

	if err := backend.Enqueue(ctx, UpdateNames, UpdateNamesPayload{Old: "anon1", New: "Bob"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case p := <-got:
		if p.Old != "anon1" || p.New != "Bob" {
			t.Errorf("unexpected payload %+v", p)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("task not processed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
