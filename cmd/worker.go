package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the task worker",
	Long: `Consume analysis, training and face tasks from Redis.

Run as many workers as needed. Exactly one process in a deployment should
pass --beat to schedule the periodic predict_all and group_faces tasks.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().Bool("beat", false, "Also schedule the periodic tasks")
}

func runWorker(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	if cfg.Tasks.Backend == "memory" {
		return errors.New(`a standalone worker needs TASK_BACKEND=redis; use "serve --embedded-worker" for the in-process backend`)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	handlers, err := a.workerHandlers(ctx, cfg)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "beat") {
		beat, err := tasks.NewBeat(a.backend, cfg.Defaults.Schedule)
		if err != nil {
			return err
		}
		beat.Start()
		defer beat.Shutdown()
	}

	cmdLog().Info().Int("tasks", len(handlers)).Int("concurrency", cfg.Tasks.Concurrency).Msg("worker started")
	_, done := a.runWorker(ctx, handlers)
	return <-done
}
