package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/hbomb79/castid/pkg/logger"
	"github.com/hbomb79/castid/pkg/queue"
)

var workerLogger = logger.Get("Worker")

type (
	WorkerStatus int32

	// FailureHandler is notified whenever a task returns an error or panics. The
	// handler is called on the worker goroutine, so should return quickly.
	FailureHandler func(*queue.Task, error)

	taskSource interface {
		Dequeue(context.Context) (*queue.Task, error)
	}

	Worker interface {
		Run(context.Context)
		Status() WorkerStatus
		Label() string
	}

	// queueWorker repeatedly claims tasks from a queue and executes
	// them one at a time. A failing task never stops the worker.
	queueWorker struct {
		label     string
		source    taskSource
		onFailure FailureHandler
		status    atomic.Int32
		processed atomic.Int64
	}
)

const (
	Idle WorkerStatus = iota
	Working
	Draining
	Stopped
)

// ErrTaskPanicked is wrapped by the error reported to the FailureHandler
// when a task panics rather than returning an error.
var ErrTaskPanicked = errors.New("task panicked")

func New(label string, source taskSource, onFailure FailureHandler) *queueWorker {
	return &queueWorker{label: label, source: source, onFailure: onFailure}
}

// Run is the main loop of the worker, which will block until the
// context provided is cancelled. If cancellation occurs while a task
// is executing, the worker enters the Draining state and exits once
// that task returns. The task receives the same context, so is able to
// cooperate with the shutdown if it checks for cancellation.
func (worker *queueWorker) Run(ctx context.Context) {
	workerLogger.Emit(logger.NEW, "Starting worker %s\n", worker.label)
	defer func() {
		worker.setStatus(Stopped)
		workerLogger.Emit(logger.STOP, "Worker %s has stopped (%d tasks processed)\n", worker.label, worker.processed.Load())
	}()

	for ctx.Err() == nil {
		worker.setStatus(Idle)
		task, err := worker.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				workerLogger.Emit(logger.ERROR, "Worker %s failed to dequeue task: %v\n", worker.label, err)
			}

			return
		}

		worker.setStatus(Working)
		worker.execute(ctx, task)
		worker.processed.Add(1)
	}
}

func (worker *queueWorker) execute(ctx context.Context, task *queue.Task) {
	stopWatch := context.AfterFunc(ctx, func() {
		worker.status.CompareAndSwap(int32(Working), int32(Draining))
		workerLogger.Emit(logger.STOP, "Worker %s is draining task %s before stopping\n", worker.label, task)
	})
	defer stopWatch()

	started := time.Now()
	workerLogger.Emit(logger.INFO, "Worker %s executing task %s (waited %s)\n", worker.label, task, started.Sub(task.EnqueuedAt).Round(time.Millisecond))

	if err := worker.runTask(ctx, task); err != nil {
		workerLogger.Emit(logger.ERROR, "Worker %s: task %s failed after %s: %v\n", worker.label, task, time.Since(started).Round(time.Millisecond), err)
		if worker.onFailure != nil {
			worker.onFailure(task, err)
		}

		return
	}

	workerLogger.Emit(logger.SUCCESS, "Worker %s: task %s completed in %s\n", worker.label, task, time.Since(started).Round(time.Millisecond))
}

// runTask executes the work for the task, converting any panic
// in to an error so that the worker loop survives it.
func (worker *queueWorker) runTask(ctx context.Context, task *queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			workerLogger.Emit(logger.DEBUG, "Panic stack for task %s:\n%s\n", task, debug.Stack())
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	return task.Work(ctx)
}

// Status returns the current status of this worker
func (worker *queueWorker) Status() WorkerStatus {
	return WorkerStatus(worker.status.Load())
}

// Label returns the label for this worker
func (worker *queueWorker) Label() string {
	return worker.label
}

func (worker *queueWorker) setStatus(status WorkerStatus) {
	worker.status.Store(int32(status))
}

func (status WorkerStatus) String() string {
	switch status {
	case Idle:
		return "IDLE"
	case Working:
		return "WORKING"
	case Draining:
		return "DRAINING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
