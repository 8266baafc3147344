// Package pacing schedules single, interactive provider calls on one strictly
// serial lane, enforcing a minimum gap between calls and exponential backoff
// on rate-limit errors. It is deliberately separate from the batch runner:
// the provider's per-account pacing limit is global, so one lane is shared.
package pacing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bragi/internal/models"

	"github.com/google/uuid"

	log "github.com/sirupsen/logrus"
)

// TaskFunc is one interactive provider call. On a rate-limit rejection it
// must return an error wrapping models.ErrRateLimited.
type TaskFunc func(ctx context.Context) (string, error)

// Result resolves a submitted task for its caller.
type Result struct {
	Ref string
	Err error
}

// Status is a task's position in the pacing state machine:
// queued -> running -> {done | retrying -> running | failed}.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusRetrying Status = "retrying"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

// Event is emitted to subscribers on every task state transition, so callers
// can render live queue position without polling.
type Event struct {
	TaskID   uuid.UUID `json:"task_id"`
	Label    string    `json:"label"`
	Status   Status    `json:"status"`
	Position int       `json:"position"` // 1-based among waiting tasks; 0 otherwise
	Attempt  int       `json:"attempt"`
	Message  string    `json:"message,omitempty"`
}

type task struct {
	id      uuid.UUID
	label   string
	fn      TaskFunc
	attempt int
	result  chan Result
}

// Config tunes the pacing lane.
type Config struct {
	// MinGap is the minimum wall-clock gap between the completion of one
	// successful call and the start of the next.
	MinGap time.Duration
	// MaxRetries bounds rate-limit retries per task.
	MaxRetries int
	// BackoffBase is the first retry's backoff; attempt n waits
	// BackoffBase * 2^(n-1).
	BackoffBase time.Duration
}

// Queue is the serial scheduler. Tasks run strictly FIFO, except that a
// rate-limited task re-enters at the front of the deque and therefore takes
// priority over tasks that arrived after it.
type Queue struct {
	cfg Config

	mu          sync.Mutex
	pending     []*task // index 0 runs next
	subs        []chan Event
	closed      bool
	lastSuccess time.Time

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New creates the queue and starts its scheduling loop.
func New(cfg Config) *Queue {
	if cfg.MinGap <= 0 {
		cfg.MinGap = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	q := &Queue{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Submit appends a task to the lane and returns its id plus a channel that
// resolves exactly once with the task's terminal result.
func (q *Queue) Submit(ctx context.Context, label string, fn TaskFunc) (uuid.UUID, <-chan Result, error) {
	t := &task{
		id:     uuid.New(),
		label:  label,
		fn:     fn,
		result: make(chan Result, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return uuid.Nil, nil, models.ErrQueueClosed
	}
	q.pending = append(q.pending, t)
	position := len(q.pending)
	q.mu.Unlock()

	q.emit(Event{TaskID: t.id, Label: t.label, Status: StatusQueued, Position: position})
	q.notify()
	return t.id, t.result, nil
}

// Subscribe returns a channel of task events. Events are dropped rather than
// block the scheduler when a subscriber falls behind. Callers must
// Unsubscribe when done.
func (q *Queue) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	q.mu.Lock()
	q.subs = append(q.subs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Subscribe. The channel
// is not closed; no further events are sent after Unsubscribe returns.
func (q *Queue) Unsubscribe(ch <-chan Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.subs {
		if sub == ch {
			q.subs = append(q.subs[:i], q.subs[i+1:]...)
			return
		}
	}
}

// Close stops the lane. Tasks still waiting resolve with
// models.ErrQueueClosed; the in-flight task, if any, runs to completion.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stop)
	<-q.done

	q.mu.Lock()
	orphans := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, t := range orphans {
		t.result <- Result{Err: models.ErrQueueClosed}
	}
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) emit(e Event) {
	q.mu.Lock()
	subs := make([]chan Event, len(q.subs))
	copy(subs, q.subs)
	q.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop rather than stall the lane on a slow consumer.
		}
	}
}

// broadcastPositions re-emits queued events so waiting callers see their
// position move whenever the deque composition changes.
func (q *Queue) broadcastPositions() {
	q.mu.Lock()
	waiting := make([]*task, len(q.pending))
	copy(waiting, q.pending)
	q.mu.Unlock()

	for i, t := range waiting {
		q.emit(Event{TaskID: t.id, Label: t.label, Status: StatusQueued, Position: i + 1, Attempt: t.attempt})
	}
}

// popFront removes and returns the next task, or nil when the deque is empty.
func (q *Queue) popFront() *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t
}

// pushFront re-inserts a retried task ahead of everything else.
func (q *Queue) pushFront(t *task) {
	q.mu.Lock()
	q.pending = append([]*task{t}, q.pending...)
	q.mu.Unlock()
}

// sleep waits for d unless the queue is stopping. Returns false on stop.
func (q *Queue) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-q.stop:
		return false
	}
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		t := q.popFront()
		if t == nil {
			select {
			case <-q.wake:
				continue
			case <-q.stop:
				return
			}
		}

		// Pace against the last successful completion.
		q.mu.Lock()
		gap := q.cfg.MinGap - time.Since(q.lastSuccess)
		last := q.lastSuccess
		q.mu.Unlock()
		if !last.IsZero() && gap > 0 {
			if !q.sleep(gap) {
				q.pushFront(t)
				return
			}
		}

		q.emit(Event{TaskID: t.id, Label: t.label, Status: StatusRunning, Attempt: t.attempt})
		q.broadcastPositions()

		ref, err := t.fn(context.Background())
		switch {
		case err == nil:
			q.mu.Lock()
			q.lastSuccess = time.Now()
			q.mu.Unlock()
			q.emit(Event{TaskID: t.id, Label: t.label, Status: StatusDone, Attempt: t.attempt})
			t.result <- Result{Ref: ref}

		case errors.Is(err, models.ErrRateLimited):
			t.attempt++
			if t.attempt <= q.cfg.MaxRetries {
				backoff := q.cfg.BackoffBase * (1 << (t.attempt - 1))
				q.emit(Event{
					TaskID:  t.id,
					Label:   t.label,
					Status:  StatusRetrying,
					Attempt: t.attempt,
					Message: fmt.Sprintf("rate limited, retrying in %s", backoff),
				})
				log.Warnf("Pacing: task %s (%q) rate limited, attempt %d/%d, backing off %s", t.id, t.label, t.attempt, q.cfg.MaxRetries, backoff)
				if !q.sleep(backoff) {
					t.result <- Result{Err: models.ErrQueueClosed}
					return
				}
				q.pushFront(t)
				q.broadcastPositions()
			} else {
				terminal := fmt.Errorf("task %q after %d attempts: %w", t.label, t.attempt, models.ErrRetriesExhausted)
				q.emit(Event{TaskID: t.id, Label: t.label, Status: StatusFailed, Attempt: t.attempt, Message: terminal.Error()})
				log.Errorf("Pacing: %v", terminal)
				t.result <- Result{Err: terminal}
			}

		default:
			// Non-rate-limit errors fail immediately, no retry.
			q.emit(Event{TaskID: t.id, Label: t.label, Status: StatusFailed, Attempt: t.attempt, Message: err.Error()})
			t.result <- Result{Err: err}
		}
	}
}
