// Package ingest watches a folder on the host file system and submits a detection
// run for each video file which is dropped in to it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/castid/internal/cast"
	"github.com/hbomb79/castid/internal/detection"
	"github.com/hbomb79/castid/pkg/logger"
	"github.com/rjeczalik/notify"
)

var log = logger.Get("IngestServ")

type (
	submitter interface {
		Submit(ctx context.Context, video cast.Video, source detection.Source, cleanup func()) (detection.RunRecord, error)
	}

	// ingestService is responsible for managing the automatic detection
	// of files in the watch folder. The detected files are:
	// - Checked against the permitted extensions and the blacklist
	// - Held until their modtime is old enough that the file is likely complete
	// - Checked to contain a video signature
	// - Submitted to the detection service
	ingestService struct {
		sync.Mutex
		submitter submitter

		config           Config
		extensions       []string
		blacklist        []*regexp.Regexp
		known            map[string]struct{}
		rejected         map[string]fileStamp
		importHoldTimers map[string]*time.Timer
		stopped          bool
	}

	// fileStamp identifies a version of a file, such that a file which was
	// rejected is only reconsidered once it has changed.
	fileStamp struct {
		modTime time.Time
		size    int64
	}
)

// New creates a new ingestService, using the provided config for
// subsequent calls to 'Run'.
//
// The configs 'Path' is validated to be an existing directory.
// If the directory is missing it will be created, if the path
// provided points to an existing FILE, an error is returned.
func New(config Config, submitter submitter) (*ingestService, error) {
	if info, err := os.Stat(config.Path); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("ingestion path '%s' is not a directory", config.Path)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(config.Path, os.ModeDir|os.ModePerm); err != nil {
			return nil, fmt.Errorf("ingestion path '%s' could not be created: %w", config.Path, err)
		}
	} else {
		return nil, fmt.Errorf("ingestion path '%s' could not be accessed: %w", config.Path, err)
	}

	blacklist := make([]*regexp.Regexp, 0, len(config.Blacklist))
	for _, expr := range config.Blacklist {
		pattern, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("ingestion blacklist pattern '%s' is invalid: %w", expr, err)
		}
		blacklist = append(blacklist, pattern)
	}

	extensions := make([]string, 0, len(config.Extensions))
	for _, ext := range config.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions = append(extensions, ext)
	}

	return &ingestService{
		submitter:        submitter,
		config:           config,
		extensions:       extensions,
		blacklist:        blacklist,
		known:            make(map[string]struct{}),
		rejected:         make(map[string]fileStamp),
		importHoldTimers: make(map[string]*time.Timer),
	}, nil
}

// Run is the main entry point of this service. It's responsible
// for listening to the OS file system and responding to change events,
// as well as regularly polling the file system irrespective of the
// watcher.
// To kill the service, the calling code should cancel the context
// provided.
func (service *ingestService) Run(ctx context.Context) error {
	fsNotifyChannel := make(chan notify.EventInfo, 16)
	if err := notify.Watch(filepath.Join(service.config.Path, "..."), fsNotifyChannel, notify.Create, notify.Rename, notify.Write); err != nil {
		log.Emit(logger.WARNING, "Unable to watch %s, relying on polling only: %v\n", service.config.Path, err)
	} else {
		defer notify.Stop(fsNotifyChannel)
	}

	forceSync := time.NewTicker(service.config.ForceSyncDuration())
	defer forceSync.Stop()
	defer service.stop()

	log.Emit(logger.NEW, "Watching %s for new files\n", service.config.Path)
	service.DiscoverNewFiles(ctx)
	for {
		select {
		case ev := <-fsNotifyChannel:
			log.Emit(logger.DEBUG, "File system event %s for %s\n", ev.Event(), ev.Path())
			service.DiscoverNewFiles(ctx)
		case <-forceSync.C:
			service.DiscoverNewFiles(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// DiscoverNewFiles will scan the host file system at the path
// configured and check for files that need to be submitted (as
// in, no previous submission or import hold exists for the path).
// The context provided bounds how long a submission may wait for
// space in the detection queue.
func (service *ingestService) DiscoverNewFiles(ctx context.Context) {
	for path, info := range service.discoverReadyFiles(ctx) {
		service.submit(ctx, path, info)
	}
}

// discoverReadyFiles returns the newly discovered files which are ready to be
// submitted. Files modified too recently are placed on import hold instead.
//
// Note: This function will take ownership of the mutex, and releases it when returning
func (service *ingestService) discoverReadyFiles(ctx context.Context) map[string]os.FileInfo {
	service.Lock()
	defer service.Unlock()

	if service.stopped {
		return nil
	}

	newItems, err := recursivelyWalkFileSystem(service.config.Path, service.known)
	if err != nil {
		log.Emit(logger.ERROR, "File system polling failed: %v\n", err)
		return nil
	}

	ready := make(map[string]os.FileInfo)
	minModtimeAge := service.config.RequiredModTimeAgeDuration()
	for path, info := range newItems {
		if stamp, ok := service.rejected[path]; ok && stamp == stampOf(info) {
			continue
		}

		service.known[path] = struct{}{}
		if !service.isPermittedName(path) {
			continue
		}

		timeDiff := time.Since(info.ModTime())
		if timeDiff < minModtimeAge {
			log.Emit(logger.DEBUG, "Holding %s until it has not been modified for %s\n", path, minModtimeAge)
			service.scheduleImportHoldTimer(ctx, path, minModtimeAge-timeDiff)
			continue
		}

		ready[path] = info
	}

	return ready
}

// evaluateItemHold accepts the path of a file that is on import hold,
// and checks it's modtime to see if the file can be submitted.
// If the file no longer exists, the path is forgotten.
// If the file still does not meet modtime requirements, then
// a new timer will be scheduled to re-evaluate the hold.
func (service *ingestService) evaluateItemHold(ctx context.Context, path string) {
	if info, ok := service.releaseItemHold(ctx, path); ok {
		service.submit(ctx, path, info)
	}
}

// releaseItemHold returns the file info for the path if its import hold
// can be released.
//
// Note: this function takes ownership of the mutex, and releases it when returning
func (service *ingestService) releaseItemHold(ctx context.Context, path string) (os.FileInfo, bool) {
	service.Lock()
	defer service.Unlock()

	if _, ok := service.importHoldTimers[path]; !ok || service.stopped {
		return nil, false
	}
	delete(service.importHoldTimers, path)

	info, err := os.Stat(path)
	if err != nil {
		delete(service.known, path)
		return nil, false
	}

	minModtimeAge := service.config.RequiredModTimeAgeDuration()
	if timeDiff := time.Since(info.ModTime()); timeDiff < minModtimeAge {
		service.scheduleImportHoldTimer(ctx, path, minModtimeAge-timeDiff)
		return nil, false
	}

	return info, true
}

// submit checks the signature of the file and, if it's a video, submits it to
// the detection service. If submission fails, the path is forgotten so that the
// next poll of the file system will try again. Files which are not videos are
// not reconsidered until they are modified.
//
// The mutex must NOT be held by the caller, as submission may block until
// the detection queue has space or the context is cancelled.
func (service *ingestService) submit(ctx context.Context, path string, info os.FileInfo) {
	if !service.isAcceptable(path) {
		log.Emit(logger.INFO, "Ignoring %s as it does not appear to be a video\n", path)
		service.Lock()
		delete(service.known, path)
		service.rejected[path] = stampOf(info)
		service.Unlock()
		return
	}

	video := cast.Video{ID: uuid.New(), Path: path, DisplayName: filepath.Base(path)}
	_, err := service.submitter.Submit(ctx, video, detection.SourceIngest, nil)

	service.Lock()
	defer service.Unlock()
	if err != nil {
		delete(service.known, path)
		if ctx.Err() != nil {
			log.Emit(logger.DEBUG, "Submission of %s abandoned: %v\n", path, err)
			return
		}

		log.Emit(logger.ERROR, "Failed to submit %s for detection: %v\n", path, err)
		return
	}

	delete(service.rejected, path)
	log.Emit(logger.SUCCESS, "Submitted %s for detection (run %s)\n", path, video.ID)
}

func stampOf(info os.FileInfo) fileStamp {
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}

func (service *ingestService) isPermittedName(path string) bool {
	name := filepath.Base(path)
	if !service.hasPermittedExtension(name) {
		return false
	}

	for _, pattern := range service.blacklist {
		if pattern.MatchString(name) {
			log.Emit(logger.VERBOSE, "Ignoring %s as it matches blacklist pattern %s\n", path, pattern)
			return false
		}
	}

	return true
}

// scheduleImportHoldTimer will call evaluateItemHold for the path provided
// after the delay duration specified has elapsed. Any existing import hold timer
// for the path specified will be *cancelled* before the new timer is created.
func (service *ingestService) scheduleImportHoldTimer(ctx context.Context, path string, delay time.Duration) {
	service.clearImportHoldTimer(path)
	service.importHoldTimers[path] = time.AfterFunc(delay, func() {
		service.evaluateItemHold(ctx, path)
	})
}

// clearImportHoldTimer cancels and deletes the import hold timer associatted
// with the path specified.
func (service *ingestService) clearImportHoldTimer(path string) {
	if timer, ok := service.importHoldTimers[path]; ok {
		timer.Stop()
		delete(service.importHoldTimers, path)
	}
}

// stop cancels all import hold timers and prevents any
// further submissions from this service.
func (service *ingestService) stop() {
	service.Lock()
	defer service.Unlock()

	service.stopped = true
	for path := range service.importHoldTimers {
		service.clearImportHoldTimer(path)
	}
}
