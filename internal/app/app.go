// Package app assembles the gridlens services from settings. The serve
// command and the one-shot CLI commands share it.
package app

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gridlens/gridlens/internal/annotation"
	"github.com/gridlens/gridlens/internal/api/handlers"
	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/datastore"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/feedback"
	"github.com/gridlens/gridlens/internal/httpclient"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/notification"
	"github.com/gridlens/gridlens/internal/observability"
	"github.com/gridlens/gridlens/internal/roboflow"
	"github.com/gridlens/gridlens/internal/storage"
	"github.com/gridlens/gridlens/internal/thermal"
	"github.com/gridlens/gridlens/internal/training"
)

const stopTimeout = 10 * time.Second

// Options selects the optional parts of an App.
type Options struct {
	// Metrics creates the Prometheus collectors and wires them into the
	// services.
	Metrics bool
	// Alerts connects the configured alert providers.
	Alerts bool
	// Logger overrides the module logger.
	Logger logger.Logger
}

// App owns the database, object storage and the services built on them.
type App struct {
	Settings *conf.Settings
	DB       datastore.Manager
	Store    *repository.Store
	Images   storage.Backend
	Metrics  *observability.Metrics
	Services handlers.Services
	Dataset  *roboflow.DatasetClient

	log        logger.Logger
	http       *httpclient.Client
	redis      goredis.UniversalClient
	dispatcher *notification.Dispatcher
}

// Build opens the database and storage and creates every service. Nothing
// runs in the background until Start.
func Build(ctx context.Context, settings *conf.Settings, opts Options) (_ *App, err error) {
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("app")
	}
	a := &App{Settings: settings, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if opts.Metrics {
		if a.Metrics, err = observability.NewMetrics(); err != nil {
			return nil, errors.New(err).Component("app").Category(errors.CategoryGeneric).Build()
		}
	}

	if a.DB, err = datastore.Open(settings, logger.Global().Module("datastore")); err != nil {
		return nil, err
	}
	a.Store = repository.NewStore(a.DB.DB())

	storageSettings := settings.Storage
	storageSettings.UploadDir = settings.ResolvePath(storageSettings.UploadDir)
	if a.Images, err = storage.New(ctx, &storageSettings); err != nil {
		return nil, err
	}

	rf := settings.Roboflow
	a.http = httpclient.New(&httpclient.Config{
		DefaultTimeout:    rf.Timeout,
		RequestsPerSecond: rf.RequestsPerSecond,
		UserAgent:         "gridlens/" + settings.Version,
	})

	var rfRec roboflow.Recorder
	if a.Metrics != nil {
		rfRec = a.Metrics.Roboflow
	}
	a.Dataset = roboflow.NewDatasetClient(a.http, roboflow.DatasetConfig{
		APIURL:    rf.APIURL,
		APIKey:    rf.APIKey,
		Workspace: rf.Workspace,
		Project:   rf.Project,
		Dataset:   rf.Dataset,
		ModelType: rf.ModelType,
	}, rfRec, logger.Global().Module("roboflow"))
	detector := roboflow.NewInferenceClient(a.http, rf.InferenceURL, rf.APIKey, rfRec)

	var feedbackRec feedback.Recorder
	var annotationRec annotation.Recorder
	var uploadRec thermal.UploadRecorder
	if a.Metrics != nil {
		feedbackRec = a.Metrics.Annotation
		annotationRec = a.Metrics.Annotation
		uploadRec = a.Metrics.HTTP
	}

	feedbackSvc := feedback.NewService(a.Store, settings.Cache.TTL, feedbackRec, logger.Global().Module("feedback"))

	locker, err := a.syncLocker(ctx)
	if err != nil {
		return nil, err
	}

	// a nil *Dispatcher stored in the interface would not compare equal
	// to nil inside the alert service
	var notifier thermal.Notifier
	if opts.Alerts {
		a.dispatcher = a.newDispatcher(ctx)
		if a.dispatcher != nil {
			notifier = a.dispatcher
		}
	}

	thermalLog := logger.Global().Module("thermal")
	alerts := thermal.NewAlertService(a.Store, notifier, settings.Alerts.MinConfidence, thermalLog)

	a.Services = handlers.Services{
		Transformers: thermal.NewTransformerService(a.Store, a.Images, settings.Cache.TTL, thermalLog),
		Inspections:  thermal.NewInspectionService(a.Store, thermalLog),
		Images:       thermal.NewImageService(a.Store, a.Images, detector, alerts, uploadRec, thermalLog),
		Alerts:       alerts,
		Annotations: annotation.NewService(a.Store, annotation.Options{
			Synthesizer: feedbackSvc,
			Locker:      locker,
			LockTimeout: settings.Sync.LockTimeout,
			Metrics:     annotationRec,
			Logger:      logger.Global().Module("annotation"),
		}),
		Feedback: feedbackSvc,
		Roboflow: roboflow.NewService(a.Store, a.Images, a.Dataset, roboflow.ServiceConfig{
			AutoAnnotate:      rf.AutoAnnotate,
			AnnotatePath:      rf.AnnotatePath,
			UploadConcurrency: rf.UploadConcurrency,
		}, logger.Global().Module("roboflow")),
	}
	if a.Metrics != nil {
		a.Services.Exports = a.Metrics.HTTP
	}

	if settings.Training.Enabled {
		var trainRec training.Recorder
		if a.Metrics != nil {
			trainRec = a.Metrics.Roboflow
		}
		a.Services.Training = training.NewQueue(a.Store, a.Dataset, settings.Training.QueueSize, trainRec, logger.Global().Module("training"))
	}
	return a, nil
}

// syncLocker returns the Redis lock when enabled, otherwise nil so the
// annotation service falls back to its in-process lock.
func (a *App) syncLocker(ctx context.Context) (annotation.Locker, error) {
	rs := a.Settings.Sync.Redis
	if !rs.Enabled {
		return nil, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     rs.Addr,
		Password: rs.Password,
		DB:       rs.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryNetwork).
			Priority(errors.PriorityHigh).
			Context("addr", rs.Addr).
			Build()
	}
	a.redis = client
	a.log.Info("using redis sync lock", logger.String("addr", rs.Addr))
	return annotation.NewRedisLocker(client, "gridlens:sync:", rs.LockTTL), nil
}

func (a *App) newDispatcher(ctx context.Context) *notification.Dispatcher {
	providers := notification.ProvidersFromSettings(ctx, &a.Settings.Alerts, a.Settings.Main.Name, logger.Global().Module("notification"))
	if len(providers) == 0 {
		return nil
	}
	var rec notification.Recorder
	if a.Metrics != nil {
		rec = a.Metrics.Annotation
	}
	return notification.NewDispatcher(providers, notification.Options{
		Metrics: rec,
		Logger:  logger.Global().Module("notification"),
	})
}

// Start runs the alert dispatcher and the training worker.
func (a *App) Start(ctx context.Context) error {
	if a.dispatcher != nil {
		a.dispatcher.Start(ctx)
		a.log.Info("alert delivery started", logger.Any("providers", a.dispatcher.Providers()))
	}
	if a.Services.Training != nil {
		if err := a.Services.Training.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops background work and releases every resource. It is safe on
// a partially built App.
func (a *App) Close() {
	if a.Services.Training != nil {
		if err := a.Services.Training.Stop(stopTimeout); err != nil {
			a.log.Warn("training queue did not stop cleanly", logger.Error(err))
		}
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Stop(stopTimeout); err != nil {
			a.log.Warn("alert dispatcher did not stop cleanly", logger.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if c, ok := a.Images.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if a.http != nil {
		a.http.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.log.Warn("failed to close database", logger.Error(err))
		}
	}
}
