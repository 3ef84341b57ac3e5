// Package training runs queued retraining jobs: each job generates a new
// dataset version on Roboflow and starts training on it.
package training

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/roboflow"
)

// Queue errors.
var (
	ErrQueueFull    = errors.NewSentinel("training queue is full", errors.CategoryJobQueue)
	ErrQueueStopped = errors.NewSentinel("training queue is not running", errors.CategoryJobQueue)
)

// Trainer is the part of the dataset client a job needs.
type Trainer interface {
	GenerateVersion(ctx context.Context) (string, error)
	TrainVersion(ctx context.Context, version string) (*roboflow.TrainResult, error)
}

// Recorder receives job outcome metrics.
type Recorder interface {
	RecordTrainingJob(status string)
}

// Queue persists training jobs and runs them one at a time on a single
// worker goroutine.
type Queue struct {
	store   *repository.Store
	trainer Trainer
	metrics Recorder
	log     logger.Logger

	mu      sync.Mutex
	jobs    chan string
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue creates a stopped queue holding at most size pending jobs.
func NewQueue(store *repository.Store, trainer Trainer, size int, rec Recorder, log logger.Logger) *Queue {
	if size < 1 {
		size = 16
	}
	if log == nil {
		log = logger.Global().Module("training")
	}
	return &Queue{
		store:   store,
		trainer: trainer,
		metrics: rec,
		log:     log,
		jobs:    make(chan string, size),
	}
}

// Start launches the worker and requeues jobs left queued or running by a
// previous process.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.running = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.worker(workerCtx)

	return q.recover(ctx)
}

// Stop cancels the worker and waits up to timeout for it to exit. A job
// interrupted by Stop is marked failed.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Newf("training worker did not stop within %v", timeout).
			Component("training").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Submit persists a queued job and hands it to the worker. A nil version
// generates a new dataset version first.
func (q *Queue) Submit(ctx context.Context, version *int) (*entities.TrainingJob, error) {
	q.mu.Lock()
	running := q.running
	q.mu.Unlock()
	if !running {
		return nil, ErrQueueStopped
	}

	job := &entities.TrainingJob{Status: entities.JobQueued, Version: version}
	if err := q.store.TrainingJobs.Create(ctx, job); err != nil {
		return nil, err
	}

	select {
	case q.jobs <- job.ID:
	default:
		job.Status = entities.JobError
		job.Message = ErrQueueFull.Error()
		if err := q.store.TrainingJobs.Save(ctx, job); err != nil {
			q.log.Error("failed to record rejected job", logger.String("job_id", job.ID), logger.Error(err))
		}
		return nil, ErrQueueFull
	}

	q.log.Info("training job queued", logger.String("job_id", job.ID))
	return job, nil
}

// Get returns a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*entities.TrainingJob, error) {
	return q.store.TrainingJobs.GetByID(ctx, id)
}

func (q *Queue) recover(ctx context.Context) error {
	var pending []entities.TrainingJob
	for _, status := range []string{entities.JobRunning, entities.JobQueued} {
		jobs, err := q.store.TrainingJobs.ListByStatus(ctx, status)
		if err != nil {
			return err
		}
		pending = append(pending, jobs...)
	}
	for i := range pending {
		select {
		case q.jobs <- pending[i].ID:
			q.log.Info("requeued training job", logger.String("job_id", pending[i].ID))
		default:
			q.log.Warn("queue full, leaving job for next start", logger.String("job_id", pending[i].ID))
		}
	}
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			q.run(ctx, id)
		}
	}
}

func (q *Queue) run(ctx context.Context, id string) {
	// Bookkeeping writes must land even when ctx is cancelled mid-job.
	saveCtx := context.WithoutCancel(ctx)

	job, err := q.store.TrainingJobs.GetByID(saveCtx, id)
	if err != nil {
		q.log.Error("training job vanished", logger.String("job_id", id), logger.Error(err))
		return
	}
	if job.Finished() {
		return
	}

	job.Status = entities.JobRunning
	job.Message = ""
	if err := q.store.TrainingJobs.Save(saveCtx, job); err != nil {
		q.log.Error("failed to mark job running", logger.String("job_id", id), logger.Error(err))
		return
	}

	start := time.Now()
	result, err := q.execute(ctx, job)
	if err != nil {
		job.Status = entities.JobError
		job.Message = err.Error()
		q.log.Error("training job failed",
			logger.String("job_id", id),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
	} else {
		job.Status = entities.JobSuccess
		job.Workspace = result.Workspace
		job.Project = result.Project
		if raw, mErr := json.Marshal(result); mErr == nil {
			job.Result = datatypes.JSON(raw)
		}
		q.log.Info("training job finished",
			logger.String("job_id", id),
			logger.String("version", job.GeneratedVersion),
			logger.Duration("elapsed", time.Since(start)))
	}

	if err := q.store.TrainingJobs.Save(saveCtx, job); err != nil {
		q.log.Error("failed to record job outcome", logger.String("job_id", id), logger.Error(err))
	}
	if q.metrics != nil {
		q.metrics.RecordTrainingJob(job.Status)
	}
}

func (q *Queue) execute(ctx context.Context, job *entities.TrainingJob) (*roboflow.TrainResult, error) {
	version := ""
	if job.Version != nil {
		version = strconv.Itoa(*job.Version)
	} else {
		v, err := q.trainer.GenerateVersion(ctx)
		if err != nil {
			return nil, err
		}
		version = v
	}
	job.GeneratedVersion = version
	return q.trainer.TrainVersion(ctx, version)
}
