package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"saldo/internal/authority"
	"saldo/internal/authority/local"
	"saldo/internal/core"
	"saldo/internal/directory"
	"saldo/internal/events"
	"saldo/internal/identity"
	"saldo/internal/metrics"
)

type capturingPublisher struct {
	published []*events.ClearingEvent
	err       error
}

func (p *capturingPublisher) PublishClearing(_ context.Context, e *events.ClearingEvent) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, e)
	return nil
}

func newTestService(t *testing.T, pub Publisher) (*LedgerService, core.Expense) {
	t.Helper()
	dir := directory.NewStatic(
		core.Member{ID: "anna", Name: "Anna"},
		core.Member{ID: "bruno", Name: "Bruno"},
	)
	store := local.New(dir).WithClock(func() time.Time {
		return time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	})
	svc := NewLedgerService(store, dir, pub)

	e, err := store.CreateExpense(context.Background(), authority.NewExpense{
		Description: "utilities",
		Amount:      core.Money{Cents: 12000},
		MemberID:    "anna",
		Date:        core.NewDate(2026, 8, 15),
	})
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	return svc, e
}

func TestClearRequiresAdmin(t *testing.T) {
	svc, e := newTestService(t, nil)
	ctx := context.Background()

	_, _, err := svc.Clear(ctx, identity.Actor{MemberID: "bruno"}, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 1000},
	})
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}

	// The denied attempt must not have touched the ledger.
	got, err := svc.Expense(ctx, e.ID)
	if err != nil {
		t.Fatalf("Expense: %v", err)
	}
	if got.Cleared.Cents != 0 {
		t.Errorf("cleared = %d after denied attempt, want 0", got.Cleared.Cents)
	}
}

func TestClearRejectsUnknownPayer(t *testing.T) {
	svc, e := newTestService(t, nil)

	_, _, err := svc.Clear(context.Background(), identity.Actor{MemberID: "anna", Admin: true}, authority.Clearing{
		ExpenseID: e.ID, PayerID: "nobody", Amount: core.Money{Cents: 1000},
	})
	if !errors.Is(err, core.ErrUnknownMember) {
		t.Fatalf("err = %v, want ErrUnknownMember", err)
	}
}

func TestClearPublishesCommittedEvent(t *testing.T) {
	pub := &capturingPublisher{}
	svc, e := newTestService(t, pub)
	publishedBefore := testutil.ToFloat64(metrics.EventsPublished.WithLabelValues(metrics.ResultPublished))

	expense, payment, err := svc.Clear(context.Background(), identity.Actor{MemberID: "anna", Admin: true}, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 5000},
	})
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if expense.Cleared.Cents != 5000 || payment.ID == "" {
		t.Fatalf("unexpected result: cleared=%d payment=%+v", expense.Cleared.Cents, payment)
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.published))
	}
	event := pub.published[0]
	if event.ExpenseID != e.ID || event.PaymentID != payment.ID {
		t.Errorf("event ids = (%s, %s), want (%s, %s)", event.ExpenseID, event.PaymentID, e.ID, payment.ID)
	}
	if event.AmountCents != 5000 || event.ClearedCents != 5000 {
		t.Errorf("event amounts = (%d, %d), want (5000, 5000)", event.AmountCents, event.ClearedCents)
	}
	if event.Status != string(core.StatusPartiallyCleared) {
		t.Errorf("event status = %s, want PARTIALLY_CLEARED", event.Status)
	}
	publishedAfter := testutil.ToFloat64(metrics.EventsPublished.WithLabelValues(metrics.ResultPublished))
	if publishedAfter != publishedBefore+1 {
		t.Errorf("published counter = %v, want %v", publishedAfter, publishedBefore+1)
	}
}

func TestClearSucceedsWhenPublishFails(t *testing.T) {
	pub := &capturingPublisher{err: errors.New("broker down")}
	svc, e := newTestService(t, pub)
	failedBefore := testutil.ToFloat64(metrics.EventsPublished.WithLabelValues(metrics.ResultFailed))

	expense, _, err := svc.Clear(context.Background(), identity.Actor{MemberID: "anna", Admin: true}, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 12000},
	})
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if expense.Status() != core.StatusFullyCleared {
		t.Errorf("status = %s, want FULLY_CLEARED", expense.Status())
	}
	failedAfter := testutil.ToFloat64(metrics.EventsPublished.WithLabelValues(metrics.ResultFailed))
	if failedAfter != failedBefore+1 {
		t.Errorf("failed counter = %v, want %v", failedAfter, failedBefore+1)
	}
}

func TestSummaryResolvesDisplayNames(t *testing.T) {
	svc, _ := newTestService(t, nil)

	summary, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Totals.Count != 1 {
		t.Fatalf("count = %d, want 1", summary.Totals.Count)
	}
	if summary.PerMember[0].Member != "Anna" {
		t.Errorf("member = %q, want Anna", summary.PerMember[0].Member)
	}
}

func TestMemberNameFallsBackToRawID(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	if got := svc.MemberName(ctx, "anna"); got != "Anna" {
		t.Errorf("MemberName(anna) = %q, want Anna", got)
	}
	// A payer that later left the roster still shows up attributable.
	if got := svc.MemberName(ctx, "carla"); got != "carla" {
		t.Errorf("MemberName(carla) = %q, want the raw id", got)
	}
}

func TestSetBudgetRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	err := svc.SetBudget(ctx, identity.Actor{MemberID: "bruno"}, "anna", core.Money{Cents: 10000})
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}

	if err := svc.SetBudget(ctx, identity.Actor{MemberID: "anna", Admin: true}, "anna", core.Money{Cents: 10000}); err != nil {
		t.Fatalf("SetBudget as admin: %v", err)
	}
	status, err := svc.BudgetStatus(ctx, "anna")
	if err != nil {
		t.Fatalf("BudgetStatus: %v", err)
	}
	if status.Used.Cents != 12000 || status.Remaining.Cents != -2000 {
		t.Errorf("budget = used %d remaining %d, want 12000/-2000", status.Used.Cents, status.Remaining.Cents)
	}
}
