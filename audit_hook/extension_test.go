package audithook

import (
	"context"
	"errors"
	"testing"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/purchase"
	"github.com/radiant/credits/reservation"
	"github.com/radiant/credits/types"
)

func testReservation() *reservation.Reservation {
	return &reservation.Reservation{
		ID:            id.NewReservationID(),
		PoolID:        id.NewPoolID(),
		MemberID:      id.NewMemberID(),
		RequestID:     "req-1",
		Status:        reservation.StatusActive,
		EstimatedCost: types.Whole(5),
	}
}

func TestExtensionRecordsReservationEvents(t *testing.T) {
	var events []*AuditEvent
	ext := New(RecorderFunc(func(_ context.Context, evt *AuditEvent) error {
		events = append(events, evt)
		return nil
	}))
	ctx := context.Background()
	res := testReservation()

	if err := ext.OnReserved(ctx, res); err != nil {
		t.Fatalf("OnReserved error: %v", err)
	}
	res.SettledCost = types.Whole(3)
	if err := ext.OnSettled(ctx, res, nil); err != nil {
		t.Fatalf("OnSettled error: %v", err)
	}
	if err := ext.OnInsufficientFunds(ctx, res.PoolID.String(), types.Whole(9), types.Whole(1)); err != nil {
		t.Fatalf("OnInsufficientFunds error: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("events: got %d, want 3", len(events))
	}

	reserved := events[0]
	if reserved.Action != ActionReserved || reserved.ResourceID != "req-1" {
		t.Errorf("reserved event: %+v", reserved)
	}
	if reserved.Metadata["estimated_cost"] != "5.000" {
		t.Errorf("reserved metadata: %v", reserved.Metadata)
	}

	settled := events[1]
	if settled.Action != ActionSettled || settled.Metadata["settled_cost"] != "3.000" {
		t.Errorf("settled event: %+v", settled)
	}

	denied := events[2]
	if denied.Action != ActionReservationDenied || denied.Outcome != OutcomeFailure {
		t.Errorf("denied event: %+v", denied)
	}
	if denied.Severity != SeverityWarning {
		t.Errorf("denied severity: %s", denied.Severity)
	}
}

func TestExtensionRecordsPurchaseEvents(t *testing.T) {
	var events []*AuditEvent
	ext := New(RecorderFunc(func(_ context.Context, evt *AuditEvent) error {
		events = append(events, evt)
		return nil
	}))
	ctx := context.Background()

	pur := &purchase.CreditPurchase{
		ID:            id.NewPurchaseID(),
		PoolID:        id.NewPoolID(),
		Status:        purchase.StatusCompleted,
		TotalCredits:  types.Milli(10500),
		FinalPrice:    types.USD(9500),
		AutoTriggered: true,
	}

	if err := ext.OnPurchaseCompleted(ctx, pur); err != nil {
		t.Fatalf("OnPurchaseCompleted error: %v", err)
	}
	if err := ext.OnPurchaseFailed(ctx, pur, "card declined"); err != nil {
		t.Fatalf("OnPurchaseFailed error: %v", err)
	}
	if err := ext.OnRefunded(ctx, pur, types.Whole(4)); err != nil {
		t.Fatalf("OnRefunded error: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("events: got %d, want 3", len(events))
	}
	if events[0].Action != ActionPurchaseCompleted || events[0].Metadata["auto_triggered"] != true {
		t.Errorf("completed event: %+v", events[0])
	}
	if events[1].Action != ActionPurchaseFailed || events[1].Metadata["failure_reason"] != "card declined" {
		t.Errorf("failed event: %+v", events[1])
	}
	if events[2].Action != ActionRefunded || events[2].Metadata["amount"] != "4.000" {
		t.Errorf("refunded event: %+v", events[2])
	}
}

func TestExtensionActionFilter(t *testing.T) {
	var events []*AuditEvent
	ext := New(RecorderFunc(func(_ context.Context, evt *AuditEvent) error {
		events = append(events, evt)
		return nil
	}), WithEnabledActions(ActionReserved))
	ctx := context.Background()
	res := testReservation()

	if err := ext.OnReserved(ctx, res); err != nil {
		t.Fatalf("OnReserved error: %v", err)
	}
	if err := ext.OnReleased(ctx, res); err != nil {
		t.Fatalf("OnReleased error: %v", err)
	}

	if len(events) != 1 || events[0].Action != ActionReserved {
		t.Errorf("filtering: %d events", len(events))
	}
}

func TestExtensionSwallowsRecorderErrors(t *testing.T) {
	ext := New(RecorderFunc(func(_ context.Context, _ *AuditEvent) error {
		return errors.New("backend down")
	}))

	// A broken audit backend must never fail ledger operations.
	if err := ext.OnReserved(context.Background(), testReservation()); err != nil {
		t.Errorf("recorder failure propagated: %v", err)
	}
}

func TestExtensionIgnoresUnknownPayloads(t *testing.T) {
	var events []*AuditEvent
	ext := New(RecorderFunc(func(_ context.Context, evt *AuditEvent) error {
		events = append(events, evt)
		return nil
	}))

	if err := ext.OnReserved(context.Background(), "not a reservation"); err != nil {
		t.Fatalf("OnReserved error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("unknown payload recorded %d events", len(events))
	}
}
