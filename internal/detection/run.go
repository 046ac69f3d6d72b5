package detection

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/castid/internal/cast"
)

type (
	Status string
	Source string

	Failure struct {
		Kind  string `json:"kind"`
		Error string `json:"error"`
	}

	// RunRecord is a snapshot of the state of a detection run.
	RunRecord struct {
		ID           uuid.UUID     `json:"id"`
		DisplayName  string        `json:"displayName"`
		Source       Source        `json:"source"`
		Status       Status        `json:"status"`
		QueuedAt     time.Time     `json:"queuedAt"`
		StartedAt    *time.Time    `json:"startedAt,omitempty"`
		FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
		FoundAt      *float64      `json:"foundAtSeconds,omitempty"`
		ProbedFrames int           `json:"probedFrames"`
		LastMessage  string        `json:"lastMessage,omitempty"`
		Members      []cast.Member `json:"members,omitempty"`
		Failure      *Failure      `json:"failure,omitempty"`
	}

	// run holds the mutable state of a run, guarded by its mutex.
	run struct {
		sync.Mutex
		seq     uint64
		record  RunRecord
		video   cast.Video
		cleanup func()
		once    sync.Once

		// queued is closed once the queued message for the run has been
		// dispatched, so progress of the run is never reported before it.
		queued chan struct{}
	}
)

const (
	Queued   Status = "QUEUED"
	Running  Status = "RUNNING"
	Found    Status = "FOUND"
	NotFound Status = "NOT_FOUND"
	Failed   Status = "FAILED"
)

const (
	SourceUpload Source = "UPLOAD"
	SourceIngest Source = "INGEST"
)

func (r *run) snapshot() RunRecord {
	r.Lock()
	defer r.Unlock()

	out := r.record
	if r.record.Members != nil {
		out.Members = append([]cast.Member(nil), r.record.Members...)
	}

	return out
}

func (r *run) update(fn func(*RunRecord)) {
	r.Lock()
	defer r.Unlock()

	fn(&r.record)
}

func (r *run) status() Status {
	r.Lock()
	defer r.Unlock()

	return r.record.Status
}

// release runs the cleanup for the run exactly once.
func (r *run) release() {
	r.once.Do(func() {
		if r.cleanup != nil {
			r.cleanup()
		}
	})
}

// IsTerminal returns true if the status is one which a run will not leave.
func (s Status) IsTerminal() bool {
	return s == Found || s == NotFound || s == Failed
}
