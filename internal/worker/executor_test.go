package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cinetick/reservation-engine/internal/model"
)

type fakeQueue struct {
	ready   []*model.Task
	results map[string]model.TaskStatus

	retried bool
	aborted []*model.Task
}

func newFakeQueue(tasks ...*model.Task) *fakeQueue {
	return &fakeQueue{ready: tasks, results: map[string]model.TaskStatus{}}
}

func (q *fakeQueue) ExecuteOneByName(_ context.Context, name model.TaskName, _ string) (*model.Task, error) {
	for i, t := range q.ready {
		if t.Name == name {
			q.ready = append(q.ready[:i], q.ready[i+1:]...)
			return t, nil
		}
	}
	return nil, nil
}

func (q *fakeQueue) PushExecutionResultByID(_ context.Context, id string, status model.TaskStatus, _ model.TaskExecutionResult) error {
	q.results[id] = status
	return nil
}

func (q *fakeQueue) Retry(_ context.Context, _ int) error {
	q.retried = true
	return nil
}

func (q *fakeQueue) AbortOne(_ context.Context, _ int) (*model.Task, error) {
	if len(q.aborted) == 0 {
		return nil, nil
	}
	t := q.aborted[0]
	q.aborted = q.aborted[1:]
	return t, nil
}

func testTask(id string, name model.TaskName) *model.Task {
	return &model.Task{ID: id, Name: name, Status: model.TaskStatusRunning, Data: json.RawMessage(`{}`)}
}

func TestDrainExecutesEveryClaimableTask(t *testing.T) {
	queue := newFakeQueue(
		testTask("t1", model.TaskNameReserve),
		testTask("t2", model.TaskNameReserve),
		testTask("t3", model.TaskNameTriggerWebhook),
	)
	exec := NewExecutor(queue, "proj", time.Second, 10)

	var handled []string
	exec.Register(model.TaskNameReserve, func(_ context.Context, task *model.Task) error {
		handled = append(handled, task.ID)
		return nil
	})

	exec.drain(context.Background(), model.TaskNameReserve)

	if len(handled) != 2 {
		t.Fatalf("handled = %v, want t1 and t2", handled)
	}
	if queue.results["t1"] != model.TaskStatusExecuted || queue.results["t2"] != model.TaskStatusExecuted {
		t.Fatalf("results = %v, want Executed for both", queue.results)
	}
	// The webhook task belongs to another handler and stays queued.
	if len(queue.ready) != 1 || queue.ready[0].ID != "t3" {
		t.Fatalf("remaining = %v, want only t3", queue.ready)
	}
}

func TestExecuteRecordsFailureAsRunning(t *testing.T) {
	queue := newFakeQueue()
	exec := NewExecutor(queue, "proj", time.Second, 10)
	exec.Register(model.TaskNameReserve, func(_ context.Context, _ *model.Task) error {
		return errors.New("settlement failed")
	})

	exec.execute(context.Background(), testTask("t1", model.TaskNameReserve))

	if queue.results["t1"] != model.TaskStatusRunning {
		t.Fatalf("result status = %s, want Running so the sweeps retry it", queue.results["t1"])
	}
}

func TestRunSweeps(t *testing.T) {
	queue := newFakeQueue()
	queue.aborted = []*model.Task{testTask("dead", model.TaskNameReserve)}
	exec := NewExecutor(queue, "proj", time.Second, 10)

	var extraRan bool
	exec.AddSweep(func(_ context.Context) { extraRan = true })

	exec.runSweeps(context.Background())

	if !queue.retried {
		t.Fatalf("retry sweep not run")
	}
	if len(queue.aborted) != 0 {
		t.Fatalf("abort sweep did not drain")
	}
	if !extraRan {
		t.Fatalf("registered sweep not run")
	}
}
