// Package queue implements the in-memory task queue which decouples request
// handling from long-running background work. The queue is FIFO, safe for use
// by any number of producers and consumers, and each task is handed to exactly
// one consumer.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/castid/pkg/logger"
)

var log = logger.Get("Queue")

type (
	// WorkItem is a deferred operation. The context provided is
	// cancelled when the consuming worker is asked to stop.
	WorkItem func(context.Context) error

	// Task wraps a WorkItem with the information required to
	// identify it in logs and failure reports.
	Task struct {
		ID         uuid.UUID
		Label      string
		Work       WorkItem
		EnqueuedAt time.Time
	}

	OverflowPolicy int

	// Config controls the capacity of the queue. A zero Capacity means
	// the queue is unbounded and Overflow is ignored.
	Config struct {
		Capacity int            `yaml:"capacity" env:"QUEUE_CAPACITY" env-default:"0" validate:"gte=0"`
		Overflow OverflowPolicy `yaml:"overflow" env:"QUEUE_OVERFLOW_POLICY" env-default:"reject"`
	}

	TaskQueue struct {
		mu        sync.Mutex
		config    Config
		onDrop    func(*Task)
		items     []*Task
		available chan struct{}
		freed     chan struct{}
	}
)

const (
	// Reject causes enqueue to fail with ErrQueueFull when the queue is at capacity
	Reject OverflowPolicy = iota
	// DropOldest evicts the task at the head of the queue to make room
	DropOldest
	// Block causes enqueue to wait until space is available
	Block
)

var (
	ErrNilWorkItem = errors.New("work item must not be nil")
	ErrQueueFull   = errors.New("task queue is at capacity")
)

// New constructs an empty queue. Use a zero-value Config for
// an unbounded queue.
func New(config Config) *TaskQueue {
	return &TaskQueue{
		config:    config,
		items:     make([]*Task, 0),
		available: make(chan struct{}),
		freed:     make(chan struct{}),
	}
}

// OnDrop registers a callback which is invoked (outside of the queue lock)
// with any task evicted by the DropOldest overflow policy.
func (queue *TaskQueue) OnDrop(callback func(*Task)) {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	queue.onDrop = callback
}

// NewTask creates a Task for the given work item with a
// freshly generated ID.
func NewTask(label string, work WorkItem) *Task {
	return &Task{ID: uuid.New(), Label: label, Work: work}
}

// Enqueue appends the task to the back of the queue and wakes any waiting
// consumer. For an unbounded queue this never blocks. A nil task (or a task
// with no work) is rejected without being enqueued.
func (queue *TaskQueue) Enqueue(task *Task) error {
	return queue.EnqueueContext(context.Background(), task)
}

// EnqueueContext behaves like Enqueue, however when the queue is bounded
// with the Block overflow policy the context provided bounds how long
// the caller will wait for space.
func (queue *TaskQueue) EnqueueContext(ctx context.Context, task *Task) error {
	if task == nil || task.Work == nil {
		return ErrNilWorkItem
	}

	for {
		queue.mu.Lock()
		if !queue.isFull() {
			queue.push(task)
			queue.mu.Unlock()
			return nil
		}

		switch queue.config.Overflow {
		case DropOldest:
			dropped := queue.items[0]
			queue.items[0] = nil
			queue.items = queue.items[1:]
			queue.push(task)
			onDrop := queue.onDrop
			queue.mu.Unlock()

			log.Emit(logger.WARNING, "Queue at capacity (%d), dropped oldest task %s\n", queue.config.Capacity, dropped)
			if onDrop != nil {
				onDrop(dropped)
			}
			return nil
		case Block:
			wait := queue.freed
			queue.mu.Unlock()

			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			queue.mu.Unlock()
			return ErrQueueFull
		}
	}
}

// Dequeue removes and returns the task at the head of the queue, waiting
// for one to become available if the queue is empty. If the context
// is cancelled before a task is claimed, the context error is returned.
func (queue *TaskQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		queue.mu.Lock()
		if len(queue.items) > 0 {
			task := queue.items[0]
			queue.items[0] = nil
			queue.items = queue.items[1:]
			queue.broadcast(&queue.freed)
			queue.mu.Unlock()

			return task, nil
		}

		wait := queue.available
		queue.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of tasks waiting in the queue
func (queue *TaskQueue) Len() int {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	return len(queue.items)
}

// push must be called while holding the mutex
func (queue *TaskQueue) push(task *Task) {
	task.EnqueuedAt = time.Now()
	queue.items = append(queue.items, task)
	queue.broadcast(&queue.available)

	log.Emit(logger.DEBUG, "Enqueued task %s (depth %d)\n", task, len(queue.items))
}

func (queue *TaskQueue) isFull() bool {
	return queue.config.Capacity > 0 && len(queue.items) >= queue.config.Capacity
}

// broadcast wakes every goroutine waiting on the channel by closing
// it, and replaces it with a fresh channel for future waiters.
func (queue *TaskQueue) broadcast(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}

func (task *Task) String() string {
	return fmt.Sprintf("{%s label=%s}", task.ID, task.Label)
}

// UnmarshalText allows the overflow policy to be supplied as a
// string in configuration files and environment variables.
func (policy *OverflowPolicy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "reject":
		*policy = Reject
	case "drop_oldest":
		*policy = DropOldest
	case "block":
		*policy = Block
	default:
		return fmt.Errorf("unknown queue overflow policy '%s'", text)
	}

	return nil
}

// SetValue implements cleanenv.Setter
func (policy *OverflowPolicy) SetValue(value string) error {
	return policy.UnmarshalText([]byte(value))
}

func (policy OverflowPolicy) String() string {
	switch policy {
	case DropOldest:
		return "drop_oldest"
	case Block:
		return "block"
	default:
		return "reject"
	}
}
