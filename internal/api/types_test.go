package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"saldo/internal/core"
)

func TestExpenseWireRoundTrip(t *testing.T) {
	e := core.Expense{
		ID:          "e1",
		Description: "groceries",
		Amount:      core.Money{Cents: 10000},
		MemberID:    "m1",
		Date:        core.NewDate(2026, 2, 14),
		Cleared:     core.Money{Cents: 6000},
		History: []core.Payment{
			{ID: "p1", ExpenseID: "e1", Amount: core.Money{Cents: 6000}, ClearedBy: "m2",
				ClearedAt: time.Date(2026, 2, 15, 9, 30, 0, 0, time.UTC)},
		},
	}

	wire := ExpenseFromCore(e)
	if wire.Amount != "100.00" || wire.ClearedAmount != "60.00" || wire.RemainingAmount != "40.00" {
		t.Fatalf("unexpected wire amounts: %+v", wire)
	}
	if wire.Status != string(core.StatusPartiallyCleared) {
		t.Fatalf("expected derived status, got %q", wire.Status)
	}
	if wire.Date != "2026-02-14" {
		t.Fatalf("expected ISO date, got %q", wire.Date)
	}

	back, err := ExpenseToCore(wire)
	if err != nil {
		t.Fatalf("to core: %v", err)
	}
	if back.Amount != e.Amount || back.Cleared != e.Cleared || back.MemberID != e.MemberID {
		t.Fatalf("round trip mismatch: %+v", back)
	}
	if len(back.History) != 1 || back.History[0].Amount.Cents != 6000 {
		t.Fatalf("history lost in round trip: %+v", back.History)
	}
	if err := back.CheckConsistency(); err != nil {
		t.Fatalf("round-tripped expense inconsistent: %v", err)
	}
}

func TestExpenseToCorePendingZeroCleared(t *testing.T) {
	wire := Expense{
		ID: "e1", Description: "d", Amount: "50.00", MemberID: "m1",
		Date: "2026-01-01", ClearedAmount: "0.00",
	}
	e, err := ExpenseToCore(wire)
	if err != nil {
		t.Fatalf("to core: %v", err)
	}
	if !e.Cleared.IsZero() || e.Status() != core.StatusPending {
		t.Fatalf("expected pending expense, got %+v", e)
	}
}

func TestErrorMappingRoundTrip(t *testing.T) {
	cases := []error{
		core.ErrInvalidAmount,
		core.ErrUnknownMember,
		core.ErrAlreadySettled,
		core.ErrPermissionDenied,
		core.ErrNotFound,
		core.ErrConflict,
	}
	for _, in := range cases {
		_, wire := ErrorFromDomain(in)
		out := ErrorToDomain(wire)
		if !errors.Is(out, in) {
			t.Fatalf("error %v round-tripped as %v", in, out)
		}
	}
}

func TestErrorMappingOverclearing(t *testing.T) {
	in := &core.OverclearingError{Remaining: core.Money{Cents: 2000}}
	status, wire := ErrorFromDomain(in)

	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", status)
	}
	if wire.Remaining != "20.00" {
		t.Fatalf("expected corrected remaining on the wire, got %q", wire.Remaining)
	}

	out := ErrorToDomain(wire)
	var oc *core.OverclearingError
	if !errors.As(out, &oc) || oc.Remaining.Cents != 2000 {
		t.Fatalf("overclearing lost in round trip: %v", out)
	}
}
