package internal

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hbomb79/castid/internal/activity"
	"github.com/hbomb79/castid/internal/api"
	"github.com/hbomb79/castid/internal/cast"
	"github.com/hbomb79/castid/internal/detection"
	"github.com/hbomb79/castid/internal/event"
	"github.com/hbomb79/castid/internal/ffmpeg"
	"github.com/hbomb79/castid/internal/http/imdb"
	"github.com/hbomb79/castid/internal/http/websocket"
	"github.com/hbomb79/castid/internal/ingest"
	"github.com/hbomb79/castid/internal/ocr"
	"github.com/hbomb79/castid/internal/upload"
	"github.com/hbomb79/castid/pkg/logger"
	"github.com/hbomb79/castid/pkg/queue"
	"github.com/hbomb79/castid/pkg/worker"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// castidImpl represents the top-level object for the server, and is responsible
	// for constructing the services, stores, and event handling, and running them
	// until castid is stopped.
	castidImpl struct {
		config   Config
		eventBus event.EventCoordinator

		recognizer *ocr.Recognizer
		queue      *queue.TaskQueue
		workerPool *worker.WorkerPool

		detectionService *detection.Service
		activityService  *activity.ActivityService
		restGateway      RunnableService
		ingestService    RunnableService
	}

	// workerPoolService adapts the worker pool to a RunnableService, such
	// that it is spawned (and crashes) like all other castid services.
	workerPoolService struct{ pool *worker.WorkerPool }
)

const (
	RunStateCommand = "RUN_STATE"
)

// New constructs all the castid services using the configuration provided. An error
// is returned if any of the services cannot be constructed.
func New(config Config) (_ *castidImpl, err error) {
	log.Emit(logger.DEBUG, "Bootstrapping castid services (api %s, %d detection workers)\n", config.RestConfig.HostAddr, config.Concurrency.DetectionWorkers)

	for _, dir := range []string{config.Upload.WorkingDir, config.Detection.ScratchDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	store, err := upload.New(config.Upload)
	if err != nil {
		return nil, fmt.Errorf("failed to construct upload store: %w", err)
	}

	recognizer, err := ocr.New(config.OCR)
	if err != nil {
		return nil, fmt.Errorf("failed to construct OCR recognizer: %w", err)
	}
	defer func() {
		if err != nil {
			recognizer.Close()
		}
	}()

	castid := &castidImpl{
		config:     config,
		eventBus:   event.New(),
		recognizer: recognizer,
		queue:      queue.New(config.Concurrency.Queue),
		workerPool: worker.NewWorkerPool(),
	}

	engine := cast.NewEngine(config.Detection, ffmpeg.New(config.Ffmpeg), recognizer, imdb.NewSearcher(config.Imdb), nil)
	castid.detectionService = detection.New(config.Runs, engine, castid.queue, castid.eventBus)
	castid.queue.OnDrop(castid.detectionService.HandleDropped)

	for i := 0; i < config.Concurrency.DetectionWorkers; i++ {
		label := fmt.Sprintf("detection-worker-%d", i)
		if err = castid.workerPool.PushWorker(worker.New(label, castid.queue, castid.detectionService.HandleFailure)); err != nil {
			return nil, fmt.Errorf("failed to construct worker pool: %w", err)
		}
	}

	socket := websocket.New()
	castid.activityService = activity.New(socket, castid.eventBus, config.Activity)
	socket.WithConnectionCallback(castid.activityService.ConnectionPayload)
	socket.BindCommand(RunStateCommand, castid.activityService.HandleRunStateCommand)

	castid.restGateway = api.NewRestGateway(&config.RestConfig, socket, castid.detectionService, store)

	if config.Ingest.Enabled {
		var serv RunnableService
		serv, err = ingest.New(config.Ingest, castid.detectionService)
		if err != nil {
			return nil, fmt.Errorf("failed to construct ingestion service: %w", err)
		}
		castid.ingestService = serv
	}

	return castid, nil
}

// Run will start all of castid by bringing up all required services:
// - Activity service (event bus to websocket)
// - Detection worker pool
// - REST gateway (and websocket hub)
// - Ingestion service, if enabled
//
// This function will not return until castid is stopped.
// To stop castid, the provided context must be cancelled. Errors from which castid cannot recover
// will also cause castid to stop, and the first such error is returned.
func (castid *castidImpl) Run(parent context.Context) error {
	defer func() {
		if err := castid.recognizer.Close(); err != nil {
			log.Emit(logger.WARNING, "Failed to close OCR recognizer: %v\n", err)
		}
	}()

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel(fmt.Errorf("service %s crashed: %w", label, err))
	}

	wg := &sync.WaitGroup{}
	castid.spawnAsyncService(ctx, wg, castid.activityService, "activity-service", crashHandler)
	castid.spawnAsyncService(ctx, wg, &workerPoolService{castid.workerPool}, "detection-workers", crashHandler)
	castid.spawnAsyncService(ctx, wg, castid.restGateway, "rest-gateway", crashHandler)
	if castid.ingestService != nil {
		castid.spawnAsyncService(ctx, wg, castid.ingestService, "ingest-service", crashHandler)
	}
	log.Emit(logger.SUCCESS, "castid services spawned!\n")

	wg.Wait()
	log.Emit(logger.STOP, "castid services stopped\n")

	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the castid service waitgroup is updated correctly
func (castid *castidImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

func (service *workerPoolService) Run(ctx context.Context) error {
	if err := service.pool.Start(ctx); err != nil {
		return err
	}

	service.pool.Wait()
	return nil
}
