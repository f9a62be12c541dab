// Package worker runs the asynchronous side of the engine: claiming
// tasks from the queue, dispatching them to registered handlers, and
// running the periodic retry/abort/expiry sweeps that keep the system
// converging after crashes.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/cinetick/reservation-engine/internal/model"
)

// Queue is the slice of the task queue the executor drives.
type Queue interface {
	ExecuteOneByName(ctx context.Context, name model.TaskName, project string) (*model.Task, error)
	PushExecutionResultByID(ctx context.Context, id string, status model.TaskStatus, result model.TaskExecutionResult) error
	Retry(ctx context.Context, intervalInMinutes int) error
	AbortOne(ctx context.Context, intervalInMinutes int) (*model.Task, error)
}

// Handler executes one claimed task. Returning an error leaves the
// task Running; the retry sweep hands it back to the pool while tries
// remain, and the abort sweep terminates it once they are exhausted.
type Handler func(ctx context.Context, t *model.Task) error

// Executor polls the queue for every registered task name and runs
// the matching handler. Execution is at-least-once: a handler may see
// the same payload again after a crash, so handlers must be
// idempotent.
type Executor struct {
	queue         Queue
	project       string
	handlers      map[model.TaskName]Handler
	pollInterval  time.Duration
	retryMinutes  int
	sweepInterval time.Duration
	sweeps        []func(ctx context.Context)
}

// NewExecutor returns an executor with no handlers registered.
func NewExecutor(queue Queue, project string, pollInterval time.Duration, retryMinutes int) *Executor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if retryMinutes <= 0 {
		retryMinutes = 10
	}
	return &Executor{
		queue:         queue,
		project:       project,
		handlers:      make(map[model.TaskName]Handler),
		pollInterval:  pollInterval,
		retryMinutes:  retryMinutes,
		sweepInterval: time.Minute,
	}
}

// Register binds a handler to a task name. Claims are only attempted
// for registered names.
func (e *Executor) Register(name model.TaskName, h Handler) {
	e.handlers[name] = h
}

// AddSweep registers an extra periodic maintenance function, such as
// the transaction expiry sweep or the task-export drain.
func (e *Executor) AddSweep(fn func(ctx context.Context)) {
	e.sweeps = append(e.sweeps, fn)
}

// Run polls until the context is cancelled. Each poll drains every
// registered task name; each sweep interval runs the retry and abort
// sweeps plus any registered extras.
func (e *Executor) Run(ctx context.Context) {
	log.Printf("worker: started (poll=%s, retry=%dm)", e.pollInterval, e.retryMinutes)

	poll := time.NewTicker(e.pollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(e.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker: shutting down")
			return
		case <-poll.C:
			for name := range e.handlers {
				e.drain(ctx, name)
			}
		case <-sweep.C:
			e.runSweeps(ctx)
		}
	}
}

// drain claims and executes tasks of one name until the queue has
// nothing claimable.
func (e *Executor) drain(ctx context.Context, name model.TaskName) {
	for {
		t, err := e.queue.ExecuteOneByName(ctx, name, e.project)
		if err != nil {
			log.Printf("worker: claim %s: %v", name, err)
			return
		}
		if t == nil {
			return
		}
		e.execute(ctx, t)
	}
}

// execute runs the handler and records the attempt. Success settles
// the task as Executed; failure records the error and leaves the task
// Running for the sweeps to retry or abort.
func (e *Executor) execute(ctx context.Context, t *model.Task) {
	h := e.handlers[t.Name]
	result := model.TaskExecutionResult{ExecutedAt: time.Now().UTC()}
	status := model.TaskStatusExecuted

	if err := h(ctx, t); err != nil {
		log.Printf("worker: task %s (%s) attempt %d failed: %v", t.Name, t.ID, t.NumberOfTried, err)
		result.Error = err.Error()
		status = model.TaskStatusRunning
	}

	if err := e.queue.PushExecutionResultByID(ctx, t.ID, status, result); err != nil {
		log.Printf("worker: record result for %s: %v", t.ID, err)
	}
}

func (e *Executor) runSweeps(ctx context.Context) {
	if err := e.queue.Retry(ctx, e.retryMinutes); err != nil {
		log.Printf("worker: retry sweep: %v", err)
	}
	for {
		t, err := e.queue.AbortOne(ctx, e.retryMinutes)
		if err != nil {
			log.Printf("worker: abort sweep: %v", err)
			break
		}
		if t == nil {
			break
		}
		log.Printf("worker: aborted task %s (%s) after %d tries", t.Name, t.ID, t.NumberOfTried)
	}
	for _, fn := range e.sweeps {
		fn(ctx)
	}
}
