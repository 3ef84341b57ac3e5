// Package serve runs the gridlens HTTP API.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gridlens/gridlens/internal/api"
	"github.com/gridlens/gridlens/internal/app"
	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/telemetry"
)

const (
	lockFileName    = "gridlens.lock"
	shutdownTimeout = 15 * time.Second
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Start the inspection API, the alert dispatcher and the training worker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		cmd.PrintErrf("error setting up flags: %v\n", err)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Host, "host", viper.GetString("webserver.host"), "Listen address")
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Listen port")
	cmd.Flags().StringVar(&settings.Main.DataDir, "datadir", viper.GetString("main.datadir"), "Data directory for the database and lock file")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled or the listener fails. Only one
// instance may serve a data directory at a time.
func Run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("serve")

	if settings.Main.DataDir != "" {
		if err := os.MkdirAll(settings.Main.DataDir, 0o755); err != nil {
			return errors.New(err).
				Component("serve").
				Category(errors.CategoryFileIO).
				Context("path", settings.Main.DataDir).
				Build()
		}
	}
	lock := flock.New(filepath.Join(settings.Main.DataDir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return errors.New(err).
			Component("serve").
			Category(errors.CategoryFileIO).
			Context("path", lock.Path()).
			Build()
	}
	if !ok {
		return errors.Newf("another gridlens instance is already using %s", lock.Path()).
			Component("serve").
			Category(errors.CategoryConflict).
			Build()
	}
	defer func() { _ = lock.Unlock() }()

	if err := telemetry.Init(settings, logger.Global().Module("telemetry")); err != nil {
		// error reporting is optional; keep serving without it
		log.Warn("failed to initialize error reporting", logger.Error(err))
	}
	defer telemetry.Flush(2 * time.Second)

	a, err := app.Build(ctx, settings, app.Options{Metrics: true, Alerts: true, Logger: log})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}

	server, err := api.New(settings,
		api.WithLogger(logger.Global().Module("api")),
		api.WithServices(a.Services),
		api.WithMetrics(a.Metrics),
	)
	if err != nil {
		return err
	}
	server.Start()
	log.Info("gridlens started",
		logger.String("version", settings.Version),
		logger.String("instance", settings.Main.Name),
		logger.String("storage", a.Images.Name()),
		logger.Bool("training", a.Services.Training != nil))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-server.Errors():
		telemetry.CaptureError(err, "api")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server did not shut down cleanly", logger.Error(err))
	}
	return nil
}
