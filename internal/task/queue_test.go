package task

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cinetick/reservation-engine/internal/errs"
	"github.com/cinetick/reservation-engine/internal/model"
)

// openTestDB backs the repo with in-memory SQLite. The repo's SQL uses
// plain placeholders and parameterized times, so the production
// statements run unmodified here.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	const schema = `CREATE TABLE tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		project TEXT NOT NULL,
		status TEXT NOT NULL,
		runs_at DATETIME NOT NULL,
		remaining_number_of_tries INTEGER NOT NULL,
		number_of_tried INTEGER NOT NULL DEFAULT 0,
		last_tried_at DATETIME,
		execution_results TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func saveTask(t *testing.T, repo *Repo, name model.TaskName, runsAt time.Time, tries int) *model.Task {
	t.Helper()
	saved, err := repo.Save(context.Background(), NewTask{
		Name:                   name,
		Project:                "proj",
		RunsAt:                 runsAt,
		RemainingNumberOfTries: tries,
		Data:                   map[string]string{"k": "v"},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return saved
}

func TestSaveAndFind(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	saved := saveTask(t, repo, model.TaskNameReserve, time.Now().UTC(), 3)

	got, err := repo.FindByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != model.TaskStatusReady {
		t.Fatalf("status = %s, want Ready", got.Status)
	}
	if got.Name != model.TaskNameReserve || got.Project != "proj" {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.NumberOfTried != 0 || got.RemainingNumberOfTries != 3 {
		t.Fatalf("counters = (%d, %d), want (0, 3)", got.NumberOfTried, got.RemainingNumberOfTries)
	}
	if len(got.ExecutionResults) != 0 {
		t.Fatalf("expected no execution results, got %d", len(got.ExecutionResults))
	}
	if got.LastTriedAt != nil {
		t.Fatalf("expected nil LastTriedAt")
	}
}

func TestSaveValidation(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	if _, err := repo.Save(ctx, NewTask{RunsAt: time.Now(), RemainingNumberOfTries: 1}); !errs.IsArgument(err) {
		t.Fatalf("empty name -> %v, want argument error", err)
	}
	if _, err := repo.Save(ctx, NewTask{Name: model.TaskNameReserve, RunsAt: time.Now()}); !errs.IsArgument(err) {
		t.Fatalf("zero tries -> %v, want argument error", err)
	}
}

func TestExecuteOneByNameClaimsEachTaskOnce(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)

	for i := 0; i < 3; i++ {
		saveTask(t, repo, model.TaskNameReserve, past, 3)
	}

	claimed := map[string]bool{}
	for i := 0; i < 3; i++ {
		got, err := repo.ExecuteOneByName(ctx, model.TaskNameReserve, "proj")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if got == nil {
			t.Fatalf("claim %d returned nil, want a task", i)
		}
		if claimed[got.ID] {
			t.Fatalf("task %s claimed twice", got.ID)
		}
		claimed[got.ID] = true
		if got.Status != model.TaskStatusRunning {
			t.Fatalf("claimed status = %s, want Running", got.Status)
		}
		if got.NumberOfTried != 1 || got.RemainingNumberOfTries != 2 {
			t.Fatalf("counters = (%d, %d), want (1, 2)", got.NumberOfTried, got.RemainingNumberOfTries)
		}
		if got.LastTriedAt == nil {
			t.Fatalf("LastTriedAt not set on claim")
		}
	}

	got, err := repo.ExecuteOneByName(ctx, model.TaskNameReserve, "proj")
	if err != nil {
		t.Fatalf("fourth claim: %v", err)
	}
	if got != nil {
		t.Fatalf("fourth claim = %+v, want nil", got)
	}
}

func TestExecuteOneByNamePrefersFewerTriesThenEarlierRunsAt(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	early := saveTask(t, repo, model.TaskNameReserve, base, 5)
	late := saveTask(t, repo, model.TaskNameReserve, base.Add(time.Minute), 5)

	// Earlier runs_at wins among equal try counts.
	got, err := repo.ExecuteOneByName(ctx, model.TaskNameReserve, "proj")
	if err != nil || got == nil {
		t.Fatalf("claim: %v, %v", got, err)
	}
	if got.ID != early.ID {
		t.Fatalf("claimed %s, want the earlier task %s", got.ID, early.ID)
	}

	// Hand the tried task back; the untouched one now has fewer tries
	// and must be claimed first even though it runs later.
	if err := repo.PushExecutionResultByID(ctx, early.ID, model.TaskStatusReady, model.TaskExecutionResult{ExecutedAt: time.Now().UTC(), Error: "boom"}); err != nil {
		t.Fatalf("push result: %v", err)
	}
	got, err = repo.ExecuteOneByName(ctx, model.TaskNameReserve, "proj")
	if err != nil || got == nil {
		t.Fatalf("claim: %v, %v", got, err)
	}
	if got.ID != late.ID {
		t.Fatalf("claimed %s, want the less-tried task %s", got.ID, late.ID)
	}
}

func TestExecuteOneByNameScopes(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)

	saveTask(t, repo, model.TaskNameReserve, past, 3)

	if got, err := repo.ExecuteOneByName(ctx, model.TaskNameTriggerWebhook, "proj"); err != nil || got != nil {
		t.Fatalf("other-name claim = (%v, %v), want (nil, nil)", got, err)
	}
	if got, err := repo.ExecuteOneByName(ctx, model.TaskNameReserve, "other-proj"); err != nil || got != nil {
		t.Fatalf("other-project claim = (%v, %v), want (nil, nil)", got, err)
	}
	if got, err := repo.ExecuteOneByName(ctx, model.TaskNameReserve, "proj"); err != nil || got == nil {
		t.Fatalf("matching claim = (%v, %v), want a task", got, err)
	}
}

func TestExecuteOneByNameHonoursRunsAt(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	saveTask(t, repo, model.TaskNameReserve, time.Now().UTC().Add(time.Hour), 3)

	if got, err := repo.ExecuteOneByName(ctx, model.TaskNameReserve, "proj"); err != nil || got != nil {
		t.Fatalf("future task claimed: (%v, %v)", got, err)
	}
}

func backdateLastTried(t *testing.T, db *sql.DB, id string, age time.Duration) {
	t.Helper()
	stale := time.Now().UTC().Add(-age)
	if _, err := db.Exec(`UPDATE tasks SET last_tried_at = ? WHERE id = ?`, stale, id); err != nil {
		t.Fatalf("backdate: %v", err)
	}
}

func TestRetryRevertsStaleRunningTasks(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	saved := saveTask(t, repo, model.TaskNameReserve, time.Now().UTC().Add(-time.Minute), 3)
	if _, err := repo.ExecuteOneByName(ctx, model.TaskNameReserve, "proj"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Fresh Running tasks stay Running.
	if err := repo.Retry(ctx, 10); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	got, _ := repo.FindByID(ctx, saved.ID)
	if got.Status != model.TaskStatusRunning {
		t.Fatalf("fresh task reverted to %s", got.Status)
	}

	backdateLastTried(t, db, saved.ID, 20*time.Minute)
	if err := repo.Retry(ctx, 10); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	got, _ = repo.FindByID(ctx, saved.ID)
	if got.Status != model.TaskStatusReady {
		t.Fatalf("stale task = %s, want Ready", got.Status)
	}

	// The reverted task is claimable again.
	if reclaimed, err := repo.ExecuteOneByName(ctx, model.TaskNameReserve, "proj"); err != nil || reclaimed == nil || reclaimed.ID != saved.ID {
		t.Fatalf("reclaim = (%v, %v), want task %s", reclaimed, err, saved.ID)
	}
}

func TestAbortOneTerminatesExhaustedTasks(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	saved := saveTask(t, repo, model.TaskNameReserve, time.Now().UTC().Add(-time.Minute), 1)
	if _, err := repo.ExecuteOneByName(ctx, model.TaskNameReserve, "proj"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	backdateLastTried(t, db, saved.ID, 20*time.Minute)

	// Retry must not touch it: no tries remain.
	if err := repo.Retry(ctx, 10); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	got, _ := repo.FindByID(ctx, saved.ID)
	if got.Status != model.TaskStatusRunning {
		t.Fatalf("exhausted task reverted to %s", got.Status)
	}

	aborted, err := repo.AbortOne(ctx, 10)
	if err != nil {
		t.Fatalf("AbortOne: %v", err)
	}
	if aborted == nil || aborted.ID != saved.ID {
		t.Fatalf("AbortOne = %+v, want task %s", aborted, saved.ID)
	}
	if aborted.Status != model.TaskStatusAborted {
		t.Fatalf("status = %s, want Aborted", aborted.Status)
	}

	if again, err := repo.AbortOne(ctx, 10); err != nil || again != nil {
		t.Fatalf("second AbortOne = (%v, %v), want (nil, nil)", again, err)
	}
}

func TestPushExecutionResultAccumulates(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	saved := saveTask(t, repo, model.TaskNameReserve, time.Now().UTC().Add(-time.Minute), 3)

	first := model.TaskExecutionResult{ExecutedAt: time.Now().UTC(), Error: "transient"}
	if err := repo.PushExecutionResultByID(ctx, saved.ID, model.TaskStatusRunning, first); err != nil {
		t.Fatalf("push first: %v", err)
	}
	second := model.TaskExecutionResult{ExecutedAt: time.Now().UTC()}
	if err := repo.PushExecutionResultByID(ctx, saved.ID, model.TaskStatusExecuted, second); err != nil {
		t.Fatalf("push second: %v", err)
	}

	got, err := repo.FindByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != model.TaskStatusExecuted {
		t.Fatalf("status = %s, want Executed", got.Status)
	}
	if len(got.ExecutionResults) != 2 {
		t.Fatalf("results = %d, want 2", len(got.ExecutionResults))
	}
	if got.ExecutionResults[0].Error != "transient" || got.ExecutionResults[1].Error != "" {
		t.Fatalf("unexpected results: %+v", got.ExecutionResults)
	}

	if err := repo.PushExecutionResultByID(ctx, "missing", model.TaskStatusExecuted, second); !errs.IsNotFound(err) {
		t.Fatalf("push to missing task = %v, want not-found", err)
	}
}
