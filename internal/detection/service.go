// Package detection owns the lifecycle of cast detection runs. Videos submitted
// to the service are queued as tasks which execute the cast detection engine
// on a worker, with progress and results dispatched on the event bus.
package detection

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/castid/internal/cast"
	"github.com/hbomb79/castid/internal/event"
	"github.com/hbomb79/castid/pkg/logger"
	"github.com/hbomb79/castid/pkg/queue"
	"github.com/hbomb79/castid/pkg/sync"
	"github.com/hbomb79/castid/pkg/worker"
)

var log = logger.Get("Detection")

type (
	executor interface {
		Execute(context.Context, cast.Video, cast.Notifier) (*cast.Result, error)
	}

	enqueuer interface {
		EnqueueContext(context.Context, *queue.Task) error
	}

	Service struct {
		config   Config
		engine   executor
		queue    enqueuer
		eventBus event.EventDispatcher
		runs     sync.TypedSyncMap[uuid.UUID, *run]
		sequence atomic.Uint64
	}

	// busNotifier forwards the messages and results of a
	// run to the event bus, tagged with the ID of the run.
	busNotifier struct {
		service *Service
		run     *run
	}
)

var ErrRunNotFound = errors.New("run not found")

func New(config Config, engine executor, queue enqueuer, eventBus event.EventDispatcher) *Service {
	return &Service{config: config, engine: engine, queue: queue, eventBus: eventBus}
}

// Submit queues a detection run for the video provided. The cleanup function (which may be
// nil) is called once the run has finished, regardless of the outcome. If the
// run cannot be queued, the cleanup is NOT called and the error is returned.
//
// If the queue is full and blocks, the context bounds how long Submit waits for space.
func (service *Service) Submit(ctx context.Context, video cast.Video, source Source, cleanup func()) (RunRecord, error) {
	if video.ID == uuid.Nil {
		video.ID = uuid.New()
	}

	r := &run{
		seq:     service.sequence.Add(1),
		video:   video,
		cleanup: cleanup,
		queued:  make(chan struct{}),
		record: RunRecord{
			ID:          video.ID,
			DisplayName: video.DisplayName,
			Source:      source,
			Status:      Queued,
			QueuedAt:    time.Now(),
		},
	}
	if _, loaded := service.runs.LoadOrStore(video.ID, r); loaded {
		return RunRecord{}, fmt.Errorf("run %s already exists", video.ID)
	}

	task := &queue.Task{
		ID:    video.ID,
		Label: fmt.Sprintf("cast-detection(%s)", video.DisplayName),
		Work:  func(ctx context.Context) error { return service.execute(ctx, r) },
	}
	defer close(r.queued)
	if err := service.queue.EnqueueContext(ctx, task); err != nil {
		service.runs.Delete(video.ID)
		return RunRecord{}, fmt.Errorf("failed to queue detection run: %w", err)
	}

	log.Emit(logger.NEW, "Queued detection run %s for %q\n", video.ID, video.DisplayName)
	service.message(r, fmt.Sprintf("File %q stored. Now sit back until we process the movie. This should only take a couple of minutes!", video.DisplayName), event.RunQueuedEvent)

	return r.snapshot(), nil
}

// execute is the work performed by the queued task for a run. Errors are
// returned to the worker, which reports them via HandleFailure.
func (service *Service) execute(ctx context.Context, r *run) error {
	defer r.release()
	<-r.queued

	started := time.Now()
	r.update(func(record *RunRecord) {
		record.Status = Running
		record.StartedAt = &started
	})

	result, err := service.engine.Execute(ctx, r.video, &busNotifier{service, r})
	if err != nil {
		return err
	}

	finished := time.Now()
	r.update(func(record *RunRecord) {
		record.FinishedAt = &finished
		record.ProbedFrames = len(result.ProbedOffsets)
		if result.Outcome == cast.Found {
			foundAt := result.FoundAt
			record.Status = Found
			record.FoundAt = &foundAt
			record.Members = result.Members
		} else {
			record.Status = NotFound
		}
	})

	log.Emit(logger.SUCCESS, "Detection run %s finished: %s\n", r.video.ID, result.Outcome)
	service.prune()
	return nil
}

// HandleFailure records the failure of the task provided against its run, and
// dispatches the failure such that clients can distinguish a failed run from one
// which did not find any cast.
func (service *Service) HandleFailure(task *queue.Task, err error) {
	r, ok := service.runs.Load(task.ID)
	if !ok {
		log.Emit(logger.WARNING, "Received failure for unknown task %s: %v\n", task, err)
		return
	}

	kind := cast.ErrorKind(err)
	if errors.Is(err, worker.ErrTaskPanicked) {
		kind = "panic"
	}

	service.fail(r, kind, err)
}

// HandleDropped marks the run of a task which was evicted from
// the queue, before it was executed, as failed.
func (service *Service) HandleDropped(task *queue.Task) {
	r, ok := service.runs.Load(task.ID)
	if !ok {
		return
	}

	defer r.release()
	service.fail(r, "dropped", queue.ErrQueueFull)
}

func (service *Service) fail(r *run, kind string, err error) {
	finished := time.Now()
	r.update(func(record *RunRecord) {
		record.Status = Failed
		record.FinishedAt = &finished
		record.Failure = &Failure{Kind: kind, Error: err.Error()}
	})

	log.Emit(logger.ERROR, "Detection run %s failed (%s): %v\n", r.video.ID, kind, err)
	service.eventBus.Dispatch(event.RunFailedEvent, event.FailurePayload{RunID: r.video.ID, Kind: kind, Error: err.Error()})
	service.message(r, fmt.Sprintf("Processing of %q failed: %v", r.video.DisplayName, err), event.RunProgressEvent)
	service.prune()
}

// prune forgets the oldest finished runs once more than the
// configured number of finished runs are held.
func (service *Service) prune() {
	retention := service.config.Retention
	if retention <= 0 {
		return
	}

	finished := make([]*run, 0)
	service.runs.Range(func(_ uuid.UUID, r *run) bool {
		if r.status().IsTerminal() {
			finished = append(finished, r)
		}
		return true
	})
	if len(finished) <= retention {
		return
	}

	slices.SortFunc(finished, func(a, b *run) int { return cmp.Compare(a.seq, b.seq) })
	for _, r := range finished[:len(finished)-retention] {
		service.runs.Delete(r.video.ID)
		log.Emit(logger.VERBOSE, "Forgetting finished detection run %s\n", r.video.ID)
	}
}

func (service *Service) message(r *run, message string, ev event.Event) {
	r.update(func(record *RunRecord) { record.LastMessage = message })
	service.eventBus.Dispatch(ev, event.ProgressPayload{RunID: r.video.ID, Message: message})
}

// Run returns a snapshot of the run with the ID provided.
func (service *Service) Run(id uuid.UUID) (RunRecord, error) {
	r, ok := service.runs.Load(id)
	if !ok {
		return RunRecord{}, ErrRunNotFound
	}

	return r.snapshot(), nil
}

// Runs returns a snapshot of all known runs, ordered by the time they were queued.
func (service *Service) Runs() []RunRecord {
	all := make([]*run, 0)
	service.runs.Range(func(_ uuid.UUID, r *run) bool {
		all = append(all, r)
		return true
	})

	slices.SortFunc(all, func(a, b *run) int { return cmp.Compare(a.seq, b.seq) })
	records := make([]RunRecord, len(all))
	for i, r := range all {
		records[i] = r.snapshot()
	}

	return records
}

func (n *busNotifier) Message(text string) {
	n.service.message(n.run, text, event.RunProgressEvent)
}

func (n *busNotifier) CastResult(members []cast.Member) {
	n.service.eventBus.Dispatch(event.RunResultEvent, event.ResultPayload{RunID: n.run.video.ID, Members: members})
}
