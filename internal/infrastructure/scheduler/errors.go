package scheduler

import "errors"

// Sentinel errors surfaced by the worker pool.
var (
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
	ErrJobQueueFull        = errors.New("job queue is full")
	ErrNilJob              = errors.New("job has no run function")
	ErrInvalidConfig       = errors.New("invalid scheduler configuration")
)
