// Package telemetry reports errors to Sentry when the operator opts in.
// Events are scrubbed of credentials and host details before they leave
// the process.
package telemetry

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

var enabled atomic.Bool

// Options configures the Sentry client.
type Options struct {
	DSN         string
	Environment string
	Release     string
	Instance    string
	// Transport overrides the HTTP transport, used by tests.
	Transport sentry.Transport
}

// OptionsFromSettings maps configuration to Options.
func OptionsFromSettings(settings *conf.Settings) Options {
	return Options{
		DSN:         settings.Telemetry.DSN,
		Environment: settings.Telemetry.Environment,
		Release:     "gridlens@" + settings.Version,
		Instance:    settings.Main.Name,
	}
}

// Init starts Sentry and routes enhanced errors to it. It is a no-op
// unless telemetry is enabled.
func Init(settings *conf.Settings, log logger.Logger) error {
	if log == nil {
		log = logger.Global().Module("telemetry")
	}
	if !settings.Telemetry.Enabled {
		log.Info("error reporting disabled")
		return nil
	}
	if err := InitWithOptions(OptionsFromSettings(settings)); err != nil {
		return err
	}
	log.Info("error reporting enabled", logger.String("environment", settings.Telemetry.Environment))
	return nil
}

// InitWithOptions starts Sentry with explicit options.
func InitWithOptions(opts Options) error {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		SampleRate:       1.0,
		AttachStacktrace: false,
		ServerName:       "",
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrubEvent(event)
		},
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if opts.Instance != "" {
		sentry.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("instance", opts.Instance)
		})
	}

	errors.SetPrivacyScrubber(logger.RedactSensitiveData)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	enabled.Store(true)
	return nil
}

// Enabled reports whether Init succeeded.
func Enabled() bool { return enabled.Load() }

// CaptureError reports err unless it is an enhanced error that has already
// been reported by the error builder.
func CaptureError(err error, component string) {
	if err == nil || !Enabled() {
		return
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		if ee.IsReported() {
			return
		}
		errors.GetTelemetryReporter().ReportError(ee)
		return
	}

	msg := logger.RedactSensitiveData(err.Error())
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetLevel(sentry.LevelError)
		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = msg
		event.Exception = []sentry.Exception{{Type: fmt.Sprintf("%T", err), Value: msg}}
		sentry.CaptureEvent(event)
	})
}

// Flush waits for queued events. Call before exit.
func Flush(timeout time.Duration) {
	if Enabled() {
		sentry.Flush(timeout)
	}
}

// Disable stops routing errors to Sentry.
func Disable() {
	enabled.Store(false)
	errors.SetTelemetryReporter(nil)
}

// scrubEvent drops host and user details and redacts credentials.
func scrubEvent(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil
	for _, k := range []string{"device", "os", "runtime"} {
		delete(event.Contexts, k)
	}
	for k := range event.Tags {
		if k == "server_name" || k == "hostname" {
			delete(event.Tags, k)
		}
	}

	event.Message = logger.RedactSensitiveData(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = logger.RedactSensitiveData(event.Exception[i].Value)
	}
	for i := range event.Breadcrumbs {
		event.Breadcrumbs[i].Message = logger.RedactSensitiveData(event.Breadcrumbs[i].Message)
		if strings.Contains(event.Breadcrumbs[i].Category, "http") {
			event.Breadcrumbs[i].Data = nil
		}
	}
	return event
}
