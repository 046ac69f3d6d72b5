package activity

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/castid/internal/cast"
)

type (
	RunFailure struct {
		Kind  string `json:"kind"`
		Error string `json:"error"`
	}

	// RunState is the latest known state of a run, as
	// observed from the events dispatched for it.
	RunState struct {
		RunID       uuid.UUID     `json:"runId"`
		LastMessage string        `json:"lastMessage,omitempty"`
		Members     []cast.Member `json:"members,omitempty"`
		Failure     *RunFailure   `json:"failure,omitempty"`
		UpdatedAt   time.Time     `json:"updatedAt"`
	}

	// replayBuffer retains the state of the most recently
	// updated runs, evicting the least recently updated run
	// once the size is exceeded.
	replayBuffer struct {
		mu    sync.Mutex
		size  int
		order []uuid.UUID
		runs  map[uuid.UUID]*RunState
	}
)

func newReplayBuffer(size int) *replayBuffer {
	return &replayBuffer{size: size, order: make([]uuid.UUID, 0, size), runs: make(map[uuid.UUID]*RunState)}
}

func (buffer *replayBuffer) recordMessage(runID uuid.UUID, message string) {
	buffer.update(runID, func(state *RunState) { state.LastMessage = message })
}

func (buffer *replayBuffer) recordMembers(runID uuid.UUID, members []cast.Member) {
	buffer.update(runID, func(state *RunState) { state.Members = members })
}

func (buffer *replayBuffer) recordFailure(runID uuid.UUID, kind string, err string) {
	buffer.update(runID, func(state *RunState) { state.Failure = &RunFailure{Kind: kind, Error: err} })
}

func (buffer *replayBuffer) update(runID uuid.UUID, fn func(*RunState)) {
	if buffer.size <= 0 {
		return
	}

	buffer.mu.Lock()
	defer buffer.mu.Unlock()

	state, ok := buffer.runs[runID]
	if ok {
		buffer.order = slices.DeleteFunc(buffer.order, func(id uuid.UUID) bool { return id == runID })
	} else {
		state = &RunState{RunID: runID}
		buffer.runs[runID] = state
	}

	fn(state)
	state.UpdatedAt = time.Now()
	buffer.order = append(buffer.order, runID)

	for len(buffer.order) > buffer.size {
		delete(buffer.runs, buffer.order[0])
		buffer.order = buffer.order[1:]
	}
}

func (buffer *replayBuffer) get(runID uuid.UUID) (RunState, bool) {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()

	if state, ok := buffer.runs[runID]; ok {
		return *state, true
	}

	return RunState{}, false
}

// snapshot returns a copy of the retained run states, ordered from
// least to most recently updated.
func (buffer *replayBuffer) snapshot() []RunState {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()

	out := make([]RunState, 0, len(buffer.order))
	for _, id := range buffer.order {
		out = append(out, *buffer.runs[id])
	}

	return out
}
