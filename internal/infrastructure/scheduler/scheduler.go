package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the status of a submitted job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Job represents a unit of asynchronous work, typically a workflow or saga run.
// Run receives a context derived from the pool's lifecycle context; long jobs
// should honor its cancellation.
type Job struct {
	ID          uuid.UUID
	Kind        string
	Run         func(ctx context.Context) error
	Status      JobStatus
	Error       string
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewJob creates a new job instance
func NewJob(kind string, run func(ctx context.Context) error) *Job {
	return &Job{
		ID:          uuid.New(),
		Kind:        kind,
		Run:         run,
		Status:      JobStatusPending,
		SubmittedAt: time.Now(),
	}
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *Job) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// Config holds worker pool configuration
type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration // zero means no per-job timeout
}

// DefaultConfig returns default worker pool configuration
func DefaultConfig() Config {
	return Config{
		Workers:   10,
		QueueSize: 100,
	}
}

// Validate checks the configuration for obvious mistakes
func (c Config) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Pool runs submitted jobs on a fixed set of workers. Submission is
// non-blocking: when the queue is full the caller gets ErrJobQueueFull
// instead of waiting.
type Pool struct {
	config Config
	logger *zap.Logger

	jobs      chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewPool creates a new worker pool instance
func NewPool(config Config, logger *zap.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	return &Pool{
		config: config,
		logger: logger,
		jobs:   make(chan *Job, config.QueueSize),
	}
}

// Start starts the worker pool
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("Worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	return nil
}

// Stop gracefully stops the pool, waiting for in-flight jobs until ctx expires
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop timed out")
		return ctx.Err()
	}
}

// Submit enqueues a job for execution without blocking
func (p *Pool) Submit(job *Job) error {
	if job == nil || job.Run == nil {
		return ErrNilJob
	}

	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		p.logger.Debug("Job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", job.Kind),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// worker processes jobs from the queue
func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker stopping", zap.Int("worker_id", workerID))
			return
		case job, ok := <-p.jobs:
			if !ok {
				p.logger.Debug("Job channel closed", zap.Int("worker_id", workerID))
				return
			}
			p.processJob(ctx, job, workerID)
		}
	}
}

// processJob executes a single job
func (p *Pool) processJob(ctx context.Context, job *Job, workerID int) {
	job.Start()
	p.logger.Info("Processing job",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("kind", job.Kind),
	)

	jobCtx := ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	if err := p.runSafely(jobCtx, job); err != nil {
		job.Fail(err.Error())
		p.logger.Error("Job failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("kind", job.Kind),
			zap.Error(err),
		)
		return
	}

	job.Complete()
	p.logger.Info("Job completed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("kind", job.Kind),
	)
}

// runSafely invokes the job function and converts panics into errors so a
// misbehaving job cannot take down a worker.
func (p *Pool) runSafely(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
			p.logger.Error("Job panicked",
				zap.String("job_id", job.ID.String()),
				zap.String("kind", job.Kind),
				zap.Any("panic", r),
			)
		}
	}()
	return job.Run(ctx)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "job panicked"
}
