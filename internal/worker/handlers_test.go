package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cinetick/reservation-engine/internal/model"
)

type fakeSettler struct {
	confirmedNumber string
	cancelledID     string
}

func (f *fakeSettler) ConfirmByNumber(_ context.Context, number string) error {
	f.confirmedNumber = number
	return nil
}

func (f *fakeSettler) Cancel(_ context.Context, id string) (bool, error) {
	f.cancelledID = id
	return true, nil
}

func (f *fakeSettler) CountByEvent(_ context.Context, _ string, _ model.ReservationStatus) (int64, error) {
	return 4, nil
}

type fakeCounter struct{}

func (fakeCounter) CountUnavailableOffers(_ context.Context, _ string) (int64, error) {
	return 7, nil
}

func payloadTask(t *testing.T, name model.TaskName, payload interface{}) *model.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &model.Task{ID: "t1", Name: name, Data: data}
}

func TestReserveHandlerConfirmsByNumber(t *testing.T) {
	settler := &fakeSettler{}
	h := NewReserveHandler(settler)

	task := payloadTask(t, model.TaskNameReserve, model.ReservePayload{
		TransactionID:     "tx1",
		ReservationNumber: "T-001",
	})
	if err := h(context.Background(), task); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if settler.confirmedNumber != "T-001" {
		t.Fatalf("confirmed %q, want T-001", settler.confirmedNumber)
	}
}

func TestCancelReservationHandler(t *testing.T) {
	settler := &fakeSettler{}
	h := NewCancelReservationHandler(settler)

	task := payloadTask(t, model.TaskNameCancelReservation, model.CancelReservationPayload{ReservationID: "res1"})
	if err := h(context.Background(), task); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if settler.cancelledID != "res1" {
		t.Fatalf("cancelled %q, want res1", settler.cancelledID)
	}
}

func TestAggregateHandlerRejectsMalformedPayload(t *testing.T) {
	h := NewAggregateScreeningEventHandler(fakeCounter{}, &fakeSettler{})

	bad := &model.Task{ID: "t1", Name: model.TaskNameAggregateScreeningEvent, Data: json.RawMessage(`{`)}
	if err := h(context.Background(), bad); err == nil {
		t.Fatalf("malformed payload accepted")
	}

	good := payloadTask(t, model.TaskNameAggregateScreeningEvent, model.AggregateScreeningEventPayload{EventID: "ev1"})
	if err := h(context.Background(), good); err != nil {
		t.Fatalf("handler: %v", err)
	}
}
