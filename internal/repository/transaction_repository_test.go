package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cinetick/reservation-engine/internal/errs"
	"github.com/cinetick/reservation-engine/internal/model"
)

func newTx(number string, expiresAt time.Time) *model.ReserveTransaction {
	return &model.ReserveTransaction{
		ID:                uuid.NewString(),
		TransactionNumber: number,
		Status:            model.TransactionStatusInProgress,
		ExpiresAt:         expiresAt,
		StartedAt:         time.Now().UTC(),
	}
}

func TestStartAndFindInProgress(t *testing.T) {
	repo := NewTransactionRepo(openTestDB(t))
	ctx := context.Background()

	tx := newTx("T-100", time.Now().UTC().Add(15*time.Minute))
	if err := repo.Start(ctx, tx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	byID, err := repo.FindInProgressByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("FindInProgressByID: %v", err)
	}
	if byID.TransactionNumber != "T-100" || byID.Status != model.TransactionStatusInProgress {
		t.Fatalf("unexpected transaction: %+v", byID)
	}

	byNumber, err := repo.FindInProgressByNumber(ctx, "T-100")
	if err != nil {
		t.Fatalf("FindInProgressByNumber: %v", err)
	}
	if byNumber.ID != tx.ID {
		t.Fatalf("number lookup returned %s, want %s", byNumber.ID, tx.ID)
	}

	if _, err := repo.FindInProgressByID(ctx, "missing"); !errs.IsNotFound(err) {
		t.Fatalf("missing lookup = %v, want not-found", err)
	}
}

func TestStartDuplicateNumberIsConflict(t *testing.T) {
	repo := NewTransactionRepo(openTestDB(t))
	ctx := context.Background()

	if err := repo.Start(ctx, newTx("T-100", time.Now().UTC().Add(time.Minute))); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	err := repo.Start(ctx, newTx("T-100", time.Now().UTC().Add(time.Minute)))
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate Start = %v, want ErrConflict", err)
	}
}

func TestUpdateObjectGuardsInProgress(t *testing.T) {
	repo := NewTransactionRepo(openTestDB(t))
	ctx := context.Background()

	tx := newTx("T-100", time.Now().UTC().Add(time.Minute))
	if err := repo.Start(ctx, tx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	object := model.TransactionObject{
		EventID: "ev1",
		RateLimitHolds: []model.RateLimitHold{{
			Scope: "tt-gold", UnitInSeconds: 3600,
			StartDate: time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC), Holder: "T-100",
		}},
	}
	if err := repo.UpdateObject(ctx, tx.ID, object); err != nil {
		t.Fatalf("UpdateObject: %v", err)
	}

	got, _ := repo.FindByID(ctx, tx.ID)
	if got.Object.EventID != "ev1" || len(got.Object.RateLimitHolds) != 1 {
		t.Fatalf("object not round-tripped: %+v", got.Object)
	}

	if err := repo.Cancel(ctx, tx.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := repo.UpdateObject(ctx, tx.ID, object); !errs.IsNotFound(err) {
		t.Fatalf("UpdateObject after terminal = %v, want not-found", err)
	}
}

func TestConfirmStoresPotentialActions(t *testing.T) {
	repo := NewTransactionRepo(openTestDB(t))
	ctx := context.Background()

	tx := newTx("T-100", time.Now().UTC().Add(time.Minute))
	if err := repo.Start(ctx, tx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	actions := model.PotentialActions{TriggerWebhooks: []string{"https://example.test/hook"}}
	if err := repo.Confirm(ctx, tx.ID, actions); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	got, err := repo.FindByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != model.TransactionStatusConfirmed {
		t.Fatalf("status = %s, want Confirmed", got.Status)
	}
	if got.PotentialActions == nil || len(got.PotentialActions.TriggerWebhooks) != 1 {
		t.Fatalf("potential actions not stored: %+v", got.PotentialActions)
	}
	if got.EndedAt == nil {
		t.Fatalf("EndedAt not set")
	}

	// A terminal transaction is no longer in progress.
	if _, err := repo.FindInProgressByID(ctx, tx.ID); !errs.IsNotFound(err) {
		t.Fatalf("FindInProgressByID after Confirm = %v, want not-found", err)
	}
	// And cannot be finished again.
	if err := repo.Cancel(ctx, tx.ID); !errs.IsNotFound(err) {
		t.Fatalf("Cancel after Confirm = %v, want not-found", err)
	}
}

func TestMakeExpired(t *testing.T) {
	repo := NewTransactionRepo(openTestDB(t))
	ctx := context.Background()

	stale := newTx("T-100", time.Now().UTC().Add(-time.Minute))
	live := newTx("T-200", time.Now().UTC().Add(time.Hour))
	if err := repo.Start(ctx, stale); err != nil {
		t.Fatalf("Start stale: %v", err)
	}
	if err := repo.Start(ctx, live); err != nil {
		t.Fatalf("Start live: %v", err)
	}

	ids, err := repo.MakeExpired(ctx)
	if err != nil {
		t.Fatalf("MakeExpired: %v", err)
	}
	if len(ids) != 1 || ids[0] != stale.ID {
		t.Fatalf("MakeExpired = %v, want [%s]", ids, stale.ID)
	}

	got, _ := repo.FindByID(ctx, stale.ID)
	if got.Status != model.TransactionStatusExpired {
		t.Fatalf("stale status = %s, want Expired", got.Status)
	}
	got, _ = repo.FindByID(ctx, live.ID)
	if got.Status != model.TransactionStatusInProgress {
		t.Fatalf("live status = %s, want InProgress", got.Status)
	}

	// Sweep again: nothing left.
	ids, err = repo.MakeExpired(ctx)
	if err != nil || len(ids) != 0 {
		t.Fatalf("second MakeExpired = (%v, %v), want ([], nil)", ids, err)
	}
}

func TestFindOneTasksUnexported(t *testing.T) {
	repo := NewTransactionRepo(openTestDB(t))
	ctx := context.Background()

	if got, err := repo.FindOneTasksUnexported(ctx); err != nil || got != nil {
		t.Fatalf("empty table = (%v, %v), want (nil, nil)", got, err)
	}

	// An InProgress transaction is never a candidate.
	tx := newTx("T-100", time.Now().UTC().Add(time.Minute))
	if err := repo.Start(ctx, tx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got, err := repo.FindOneTasksUnexported(ctx); err != nil || got != nil {
		t.Fatalf("in-progress candidate = (%v, %v), want (nil, nil)", got, err)
	}

	if err := repo.Cancel(ctx, tx.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, err := repo.FindOneTasksUnexported(ctx)
	if err != nil {
		t.Fatalf("FindOneTasksUnexported: %v", err)
	}
	if got == nil || got.ID != tx.ID {
		t.Fatalf("candidate = %+v, want %s", got, tx.ID)
	}

	if err := repo.MarkTasksExported(ctx, tx.ID); err != nil {
		t.Fatalf("MarkTasksExported: %v", err)
	}
	if got, err := repo.FindOneTasksUnexported(ctx); err != nil || got != nil {
		t.Fatalf("after export = (%v, %v), want (nil, nil)", got, err)
	}
}
