package notification

import (
	"context"
	"sync"
	"time"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

// Recorder receives per-channel delivery outcomes.
type Recorder interface {
	RecordAlertNotification(channel string, err error)
}

// Options configures a Dispatcher.
type Options struct {
	QueueSize   int           // pending alerts, default 64
	SendTimeout time.Duration // per provider delivery, default 15s
	Breaker     BreakerConfig
	Metrics     Recorder
	Logger      logger.Logger
}

type registeredProvider struct {
	prov    Provider
	breaker *CircuitBreaker
}

// Dispatcher fans alerts out to every provider on a background worker so
// that raising an alert never waits on the network.
type Dispatcher struct {
	providers []registeredProvider
	timeout   time.Duration
	metrics   Recorder
	log       logger.Logger

	mu      sync.Mutex
	queue   chan *entities.Alert
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a stopped dispatcher for providers.
func NewDispatcher(providers []Provider, opts Options) *Dispatcher {
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	if opts.Breaker.MaxFailures == 0 {
		opts.Breaker = DefaultBreakerConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("notification")
	}

	d := &Dispatcher{
		timeout: opts.SendTimeout,
		metrics: opts.Metrics,
		log:     log,
		queue:   make(chan *entities.Alert, opts.QueueSize),
	}
	for _, p := range providers {
		d.providers = append(d.providers, registeredProvider{
			prov:    p,
			breaker: NewCircuitBreaker(opts.Breaker, p.Name(), log),
		})
	}
	return d
}

// Providers returns the names of the configured providers.
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.providers))
	for _, r := range d.providers {
		names = append(names, r.prov.Name())
	}
	return names
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go d.worker(workerCtx)

	d.log.Info("alert dispatcher started", logger.Int("providers", len(d.providers)))
}

// Stop drains queued alerts for up to timeout, then closes the providers.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		d.cancel()
		<-done
		err = errors.Newf("alert dispatcher did not drain within %v", timeout).
			Component("notification").
			Category(errors.CategoryTimeout).
			Build()
	}
	d.cancel()

	for _, r := range d.providers {
		if c, ok := r.prov.(Closer); ok {
			c.Close()
		}
	}
	return err
}

// Notify queues an alert for delivery. It never blocks: when the queue is
// full or the dispatcher is stopped the alert is dropped and logged.
func (d *Dispatcher) Notify(_ context.Context, alert *entities.Alert) {
	if alert == nil || len(d.providers) == 0 {
		return
	}
	cp := *alert

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		d.log.Warn("alert dispatcher not running, alert not delivered", logger.String("alert_id", alert.ID))
		return
	}
	select {
	case d.queue <- &cp:
	default:
		d.log.Warn("alert queue full, alert dropped", logger.String("alert_id", alert.ID))
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for alert := range d.queue {
		if ctx.Err() != nil {
			continue
		}
		d.deliver(ctx, alert)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, alert *entities.Alert) {
	for _, r := range d.providers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := r.breaker.Call(sendCtx, func(ctx context.Context) error {
			return r.prov.Send(ctx, alert)
		})
		cancel()

		if d.metrics != nil {
			d.metrics.RecordAlertNotification(r.prov.Name(), err)
		}
		if err != nil {
			d.log.Warn("alert delivery failed",
				logger.String("provider", r.prov.Name()),
				logger.String("alert_id", alert.ID),
				logger.String("error", logger.RedactSensitiveData(err.Error())))
			continue
		}
		d.log.Debug("alert delivered",
			logger.String("provider", r.prov.Name()),
			logger.String("alert_id", alert.ID))
	}
}
