package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/kozaktomas/pixpursuit/internal/auth"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/faces"
	"github.com/kozaktomas/pixpursuit/internal/library"
	"github.com/kozaktomas/pixpursuit/internal/sources"
	"github.com/kozaktomas/pixpursuit/internal/tagger"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/kozaktomas/pixpursuit/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the PixPursuit HTTP API.

Uploads are stored and cataloged synchronously; analysis is queued for the
workers. With --embedded-worker (implied by TASK_BACKEND=memory) the task
consumers and the periodic scheduler run in this process too.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Bool("embedded-worker", false, "Also run the task worker and scheduler in this process")
}

// scheduleIndexRebuild periodically rebuilds the feature index from the catalog.
func scheduleIndexRebuild(ctx context.Context, index *database.FeatureIndex, r database.ImageReader) (func(), error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(database.HNSWRebuildInterval),
		gocron.NewTask(func() {
			if err := index.Build(ctx, r); err != nil {
				cmdLog().Warn().Err(err).Msg("feature index rebuild failed")
				return
			}
			cmdLog().Debug().Int("images", index.Count()).Msg("feature index rebuilt")
		}),
		gocron.WithName("feature_index_rebuild"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule index rebuild: %w", err)
	}
	s.Start()
	return func() { _ = s.Shutdown() }, nil
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	embedded := mustGetBool(cmd, "embedded-worker") || a.memory != nil
	var workerDone <-chan error
	if embedded {
		handlers, err := a.workerHandlers(ctx, cfg)
		if err != nil {
			return err
		}
		var ready <-chan struct{}
		ready, workerDone = a.runWorker(ctx, handlers)
		<-ready

		beat, err := tasks.NewBeat(a.backend, cfg.Defaults.Schedule)
		if err != nil {
			return err
		}
		beat.Start()
		defer beat.Shutdown()
		cmdLog().Info().Msg("embedded worker started")
	}

	var mailer auth.Mailer
	if cfg.Mail.Enabled() {
		mailer = auth.NewSMTPMailer(cfg.Mail)
	} else {
		cmdLog().Warn().Msg("MAIL_SERVER not set, new accounts are verified without email")
	}

	index := database.NewFeatureIndex()
	go func() {
		if err := index.EnsureBuilt(ctx, a.catalog); err != nil {
			cmdLog().Warn().Err(err).Msg("feature index build failed, similarity search uses PostgreSQL")
		}
	}()
	stopRebuild, err := scheduleIndexRebuild(ctx, index, a.catalog)
	if err != nil {
		return err
	}
	defer stopRebuild()

	pipeline := a.pipeline(cfg)
	deps := web.Deps{
		Catalog:    a.catalog,
		Auth:       auth.NewService(a.catalog, auth.NewTokens(cfg.Auth.SecretKey), mailer, cfg.Mail.BaseURL),
		Ingester:   pipeline,
		Library:    library.New(a.catalog, a.store, a.backend, index),
		Index:      index,
		Dispatcher: a.backend,
		Trainer:    tagger.NewService(a.catalog, a.backend, cfg.Tagger),
		Faces:      faces.NewManager(a.catalog, a.backend),
		Zip:        sources.NewZipImporter(a.catalog, pipeline),
		Scraper:    sources.NewScraper(cfg.Scraper),
		SharePoint: cfg.SharePoint.Enabled(),
	}

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(deps, port, host, os.Getenv("WEB_ALLOWED_ORIGINS"))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err = <-serverErr:
	case err = <-workerDone:
		if err == nil {
			err = errors.New("embedded worker stopped")
		}
	case <-ctx.Done():
	}

	cmdLog().Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer shutdownCancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		cmdLog().Error().Err(serr).Msg("error during shutdown")
	}
	cancel()
	return err
}
