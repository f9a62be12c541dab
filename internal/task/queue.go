// Package task implements the durable, retryable task queue backing
// all asynchronous work in the engine. Tasks move Ready → Running →
// {Executed, Aborted}, with Running → Ready reserved for the retry
// sweep. Claiming is a conditional update, so exactly one worker
// among N concurrent callers transitions a given task out of Ready
// without any separate distributed lock.
package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cinetick/reservation-engine/internal/errs"
	"github.com/cinetick/reservation-engine/internal/model"
)

// Repo provides data access to the tasks table. All timestamps are
// stored and compared in UTC. SQL is written with plain placeholders
// and parameterized times so the same statements run on MySQL in
// production and SQLite in tests.
type Repo struct {
	db *sql.DB
}

// NewRepo returns a task Repo bound to the provided database.
func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// NewTask carries the attributes for Save. Data is marshalled to JSON
// and stored opaquely; the queue never inspects it.
type NewTask struct {
	Name                   model.TaskName
	Project                string
	RunsAt                 time.Time
	RemainingNumberOfTries int
	Data                   interface{}
}

const taskColumns = `id, name, project, status, runs_at, remaining_number_of_tries,
       number_of_tried, last_tried_at, execution_results, data, created_at, updated_at`

// Save inserts a new Ready task and returns it.
func (r *Repo) Save(ctx context.Context, attrs NewTask) (*model.Task, error) {
	if attrs.Name == "" {
		return nil, errs.NewArgumentNull("task.name")
	}
	if attrs.RemainingNumberOfTries <= 0 {
		return nil, errs.NewArgument("task.remainingNumberOfTries", "must be positive")
	}
	data, err := json.Marshal(attrs.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal task data: %w", err)
	}

	now := time.Now().UTC()
	t := &model.Task{
		ID:                     uuid.NewString(),
		Name:                   attrs.Name,
		Project:                attrs.Project,
		Status:                 model.TaskStatusReady,
		RunsAt:                 attrs.RunsAt.UTC(),
		RemainingNumberOfTries: attrs.RemainingNumberOfTries,
		Data:                   data,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	const q = `INSERT INTO tasks (id, name, project, status, runs_at, remaining_number_of_tries,
               number_of_tried, last_tried_at, execution_results, data, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, 0, NULL, '[]', ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, q,
		t.ID, string(t.Name), t.Project, string(t.Status), t.RunsAt,
		t.RemainingNumberOfTries, string(t.Data), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// ExecuteOneByName claims the oldest, least-tried Ready task with the
// given name whose runs_at has passed, transitioning it to Running
// while incrementing number_of_tried and decrementing
// remaining_number_of_tries. The transition is a conditional update
// guarded on the Ready status; a caller that loses the race moves on
// to the next candidate. Returns nil when no task is claimable.
// Project, when non-empty, narrows the claim to that project's tasks.
func (r *Repo) ExecuteOneByName(ctx context.Context, name model.TaskName, project string) (*model.Task, error) {
	if name == "" {
		return nil, errs.NewArgumentNull("name")
	}
	now := time.Now().UTC()

	selectQ := `SELECT id FROM tasks
                WHERE status = ? AND name = ? AND runs_at <= ?`
	args := []interface{}{string(model.TaskStatusReady), string(name), now}
	if project != "" {
		selectQ += ` AND project = ?`
		args = append(args, project)
	}
	// Fewer-tried-first avoids starving tasks behind a perpetually
	// failing one; earliest-scheduled-first keeps FIFO fairness
	// within equal try counts.
	selectQ += ` ORDER BY number_of_tried ASC, runs_at ASC LIMIT 1`

	for {
		var id string
		err := r.db.QueryRowContext(ctx, selectQ, args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claimable task: %w", err)
		}

		const claimQ = `UPDATE tasks
                        SET status = ?, number_of_tried = number_of_tried + 1,
                            remaining_number_of_tries = remaining_number_of_tries - 1,
                            last_tried_at = ?, updated_at = ?
                        WHERE id = ? AND status = ?`
		res, err := r.db.ExecContext(ctx, claimQ,
			string(model.TaskStatusRunning), now, now, id, string(model.TaskStatusReady))
		if err != nil {
			return nil, fmt.Errorf("claim task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim task: %w", err)
		}
		if affected == 1 {
			return r.FindByID(ctx, id)
		}
		// Another worker won this candidate; try the next one.
	}
}

// Retry reverts every Running task whose last attempt is older than
// the interval and which still has tries remaining back to Ready, so
// a later claim picks it up again.
func (r *Repo) Retry(ctx context.Context, intervalInMinutes int) error {
	threshold := time.Now().UTC().Add(-time.Duration(intervalInMinutes) * time.Minute)
	const q = `UPDATE tasks SET status = ?, updated_at = ?
               WHERE status = ? AND last_tried_at IS NOT NULL AND last_tried_at <= ?
                 AND remaining_number_of_tries > 0`
	if _, err := r.db.ExecContext(ctx, q,
		string(model.TaskStatusReady), time.Now().UTC(),
		string(model.TaskStatusRunning), threshold); err != nil {
		return fmt.Errorf("retry tasks: %w", err)
	}
	return nil
}

// AbortOne transitions one Running task that is stale by the interval
// and out of tries to the terminal Aborted status, returning it so
// the caller can report the failure. Returns nil when nothing is
// abortable.
func (r *Repo) AbortOne(ctx context.Context, intervalInMinutes int) (*model.Task, error) {
	threshold := time.Now().UTC().Add(-time.Duration(intervalInMinutes) * time.Minute)
	const selectQ = `SELECT id FROM tasks
                     WHERE status = ? AND last_tried_at IS NOT NULL AND last_tried_at <= ?
                       AND remaining_number_of_tries <= 0
                     ORDER BY runs_at ASC LIMIT 1`
	for {
		var id string
		err := r.db.QueryRowContext(ctx, selectQ, string(model.TaskStatusRunning), threshold).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select abortable task: %w", err)
		}

		const abortQ = `UPDATE tasks SET status = ?, updated_at = ?
                        WHERE id = ? AND status = ?`
		res, err := r.db.ExecContext(ctx, abortQ,
			string(model.TaskStatusAborted), time.Now().UTC(), id, string(model.TaskStatusRunning))
		if err != nil {
			return nil, fmt.Errorf("abort task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("abort task: %w", err)
		}
		if affected == 1 {
			return r.FindByID(ctx, id)
		}
	}
}

// PushExecutionResultByID appends an execution result to the task and
// sets its status. The caller decides whether the new status is
// terminal (Executed, Aborted) or retry-eligible (Running, Ready).
func (r *Repo) PushExecutionResultByID(ctx context.Context, id string, status model.TaskStatus, result model.TaskExecutionResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT execution_results FROM tasks WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NewNotFound("task", id)
	}
	if err != nil {
		return fmt.Errorf("select task results: %w", err)
	}

	var results []model.TaskExecutionResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return fmt.Errorf("unmarshal task results: %w", err)
	}
	results = append(results, result)
	updated, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal task results: %w", err)
	}

	const q = `UPDATE tasks SET execution_results = ?, status = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, string(updated), string(status), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update task results: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// FindByID loads a single task.
func (r *Repo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	t, err := scanTask(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select task: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		t           model.Task
		name        string
		status      string
		lastTriedAt sql.NullTime
		results     string
		data        string
	)
	if err := row.Scan(
		&t.ID, &name, &t.Project, &status, &t.RunsAt, &t.RemainingNumberOfTries,
		&t.NumberOfTried, &lastTriedAt, &results, &data, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Name = model.TaskName(name)
	t.Status = model.TaskStatus(status)
	if lastTriedAt.Valid {
		lt := lastTriedAt.Time.UTC()
		t.LastTriedAt = &lt
	}
	if err := json.Unmarshal([]byte(results), &t.ExecutionResults); err != nil {
		return nil, fmt.Errorf("unmarshal execution results: %w", err)
	}
	t.Data = json.RawMessage(data)
	t.RunsAt = t.RunsAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
