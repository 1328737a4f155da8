package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"saldo/internal/authority"
	"saldo/internal/authority/local"
	"saldo/internal/core"
	"saldo/internal/directory"
)

// flakyAuthority wraps a real record keeper and lets tests interfere
// with the submission path.
type flakyAuthority struct {
	authority.Authority

	mu           sync.Mutex
	rejectWith   error
	commitHidden bool   // commit server-side, then report a transport failure
	afterSubmit  func() // runs once after a successful commit, before returning
}

func (f *flakyAuthority) SubmitClearing(ctx context.Context, req authority.Clearing) (core.Expense, core.Payment, error) {
	f.mu.Lock()
	rejectWith, commitHidden := f.rejectWith, f.commitHidden
	afterSubmit := f.afterSubmit
	f.afterSubmit = nil
	f.mu.Unlock()

	if rejectWith != nil {
		return core.Expense{}, core.Payment{}, rejectWith
	}
	expense, payment, err := f.Authority.SubmitClearing(ctx, req)
	if err == nil && afterSubmit != nil {
		afterSubmit()
	}
	if commitHidden && err == nil {
		return core.Expense{}, core.Payment{}, &core.TransportError{Op: "submit clearing", Err: errors.New("timeout")}
	}
	return expense, payment, err
}

func testDirectory() directory.Directory {
	return directory.NewStatic(
		core.Member{ID: "anna", Name: "Anna"},
		core.Member{ID: "bruno", Name: "Bruno"},
	)
}

func setup(t *testing.T) (*Controller, *flakyAuthority, core.Expense) {
	t.Helper()
	dir := testDirectory()
	store := local.New(dir)
	flaky := &flakyAuthority{Authority: store}
	ctrl := NewController(flaky, dir)

	e, err := ctrl.CreateExpense(context.Background(), authority.NewExpense{
		Description: "rent",
		Amount:      core.Money{Cents: 10000},
		MemberID:    "anna",
		Date:        core.NewDate(2026, 8, 1),
	})
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	return ctrl, flaky, e
}

func TestClearInstallsCommittedState(t *testing.T) {
	ctrl, _, e := setup(t)

	got, payment, err := ctrl.Clear(context.Background(), authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 4000},
	})
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if payment.ID == "" || payment.Amount.Cents != 4000 {
		t.Errorf("payment = %+v, want committed 4000 cents", payment)
	}
	if got.Cleared.Cents != 4000 || got.Status() != core.StatusPartiallyCleared {
		t.Errorf("cleared = %d status = %s, want 4000 PARTIALLY_CLEARED", got.Cleared.Cents, got.Status())
	}
	if len(got.History) != 1 || got.History[0].ID == "" {
		t.Errorf("committed payment should carry a record id: %+v", got.History)
	}

	view, err := ctrl.Expense(e.ID)
	if err != nil {
		t.Fatalf("Expense: %v", err)
	}
	if view.Cleared.Cents != 4000 {
		t.Errorf("local view cleared = %d, want 4000", view.Cleared.Cents)
	}
}

func TestRejectedClearingConvergesOnRecordKeeper(t *testing.T) {
	ctrl, flaky, e := setup(t)
	ctx := context.Background()

	// Another client settles the expense behind this controller's back.
	if _, _, err := flaky.Authority.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 10000},
	}); err != nil {
		t.Fatalf("out-of-band clearing: %v", err)
	}

	// The stale local view still believes 100.00 is outstanding.
	got, _, err := ctrl.Clear(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 5000},
	})
	if !errors.Is(err, core.ErrAlreadySettled) {
		t.Fatalf("err = %v, want ErrAlreadySettled", err)
	}

	// The rejection must leave the local view matching the record
	// keeper, not the rolled-back stale state and not the provisional
	// apply.
	if got.Cleared.Cents != 10000 || got.Status() != core.StatusFullyCleared {
		t.Errorf("converged state = %d/%s, want 10000/FULLY_CLEARED", got.Cleared.Cents, got.Status())
	}
	if len(got.History) != 1 {
		t.Errorf("history length = %d, want 1", len(got.History))
	}
	if err := got.CheckConsistency(); err != nil {
		t.Errorf("CheckConsistency: %v", err)
	}
}

func TestOverclearingRejectionCarriesCorrectedRemaining(t *testing.T) {
	ctrl, flaky, e := setup(t)
	ctx := context.Background()

	if _, _, err := flaky.Authority.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 8000},
	}); err != nil {
		t.Fatalf("out-of-band clearing: %v", err)
	}

	_, _, err := ctrl.Clear(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 5000},
	})
	var oc *core.OverclearingError
	if !errors.As(err, &oc) {
		t.Fatalf("err = %v, want OverclearingError", err)
	}
	if oc.Remaining.Cents != 2000 {
		t.Errorf("remaining = %d, want 2000", oc.Remaining.Cents)
	}

	view, err := ctrl.Expense(e.ID)
	if err != nil {
		t.Fatalf("Expense: %v", err)
	}
	if view.Cleared.Cents != 8000 {
		t.Errorf("local cleared = %d, want 8000 after resync", view.Cleared.Cents)
	}
}

func TestUnknownOutcomeResyncsInsteadOfRetrying(t *testing.T) {
	ctrl, flaky, e := setup(t)
	ctx := context.Background()

	// The clearing commits server-side but the response never arrives.
	flaky.mu.Lock()
	flaky.commitHidden = true
	flaky.mu.Unlock()

	got, _, err := ctrl.Clear(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 3000},
	})
	var te *core.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}

	// The resync must reveal the commit; a blind retry would have
	// cleared twice.
	if got.Cleared.Cents != 3000 || len(got.History) != 1 {
		t.Errorf("post-resync state = %d cents, %d payments; want 3000, 1",
			got.Cleared.Cents, len(got.History))
	}
}

func TestConcurrentClearingsOnDistinctExpenses(t *testing.T) {
	dir := testDirectory()
	store := local.New(dir)
	ctrl := NewController(store, dir)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		e, err := ctrl.CreateExpense(ctx, authority.NewExpense{
			Description: "shared bill",
			Amount:      core.Money{Cents: 6000},
			MemberID:    "anna",
			Date:        core.NewDate(2026, 8, 10),
		})
		if err != nil {
			t.Fatalf("CreateExpense: %v", err)
		}
		ids = append(ids, e.ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, _, errs[i] = ctrl.Clear(ctx, authority.Clearing{
				ExpenseID: id, PayerID: "bruno", Amount: core.Money{Cents: 6000},
			})
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("clearing %d: %v", i, err)
		}
	}
	for _, e := range ctrl.Snapshot() {
		if e.Status() != core.StatusFullyCleared {
			t.Errorf("expense %s status = %s, want FULLY_CLEARED", e.ID, e.Status())
		}
	}
}

func TestConcurrentClearingsOnSameExpenseSerialize(t *testing.T) {
	ctrl, _, e := setup(t)
	ctx := context.Background()

	// Two clearings that together exceed the amount: exactly one may
	// win, and the loser's rejection must report the winner's effect.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = ctrl.Clear(ctx, authority.Clearing{
				ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 7000},
			})
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case core.IsValidationError(err):
			lost++
		default:
			t.Errorf("unexpected error class: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won=%d lost=%d, want exactly one of each", won, lost)
	}

	got, err := ctrl.Expense(e.ID)
	if err != nil {
		t.Fatalf("Expense: %v", err)
	}
	if got.Cleared.Cents != 7000 || len(got.History) != 1 {
		t.Errorf("final state = %d cents, %d payments; want 7000, 1", got.Cleared.Cents, len(got.History))
	}
}

func TestConcurrentClearingsOnSameExpenseBothCommit(t *testing.T) {
	ctrl, flaky, e := setup(t)
	ctx := context.Background()

	// Two clearings that both fit the remaining amount. Each must
	// commit, and neither commit may go missing from the local view.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = ctrl.Clear(ctx, authority.Clearing{
				ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 3000},
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("clearing %d: %v", i, err)
		}
	}

	view, err := ctrl.Expense(e.ID)
	if err != nil {
		t.Fatalf("Expense: %v", err)
	}
	if view.Cleared.Cents != 6000 || len(view.History) != 2 {
		t.Errorf("local view = %d cents, %d payments; want 6000, 2",
			view.Cleared.Cents, len(view.History))
	}

	truth, err := flaky.Authority.Expense(ctx, e.ID)
	if err != nil {
		t.Fatalf("authority Expense: %v", err)
	}
	if view.Cleared.Cents != truth.Cleared.Cents {
		t.Errorf("local view cleared = %d, authority has %d",
			view.Cleared.Cents, truth.Cleared.Cents)
	}
}

func TestCommitSupersededByStaleRefreshIsNotLost(t *testing.T) {
	ctrl, flaky, e := setup(t)
	ctx := context.Background()

	// A refresh taken before the commit lands right after it, bumping
	// the generation with pre-commit state. The commit must survive in
	// the local view regardless.
	stale, err := ctrl.Expense(e.ID)
	if err != nil {
		t.Fatalf("Expense: %v", err)
	}
	flaky.mu.Lock()
	flaky.afterSubmit = func() { ctrl.install(stale) }
	flaky.mu.Unlock()

	got, payment, err := ctrl.Clear(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 3000},
	})
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if payment.ID == "" {
		t.Error("committed clearing returned no payment id")
	}
	if got.Cleared.Cents != 3000 || len(got.History) != 1 {
		t.Errorf("returned state = %d cents, %d payments; want 3000, 1",
			got.Cleared.Cents, len(got.History))
	}

	view, err := ctrl.Expense(e.ID)
	if err != nil {
		t.Fatalf("Expense: %v", err)
	}
	if view.Cleared.Cents != 3000 || len(view.History) != 1 {
		t.Errorf("local view = %d cents, %d payments; want 3000, 1",
			view.Cleared.Cents, len(view.History))
	}
}

func TestResyncAllRefreshesEveryExpense(t *testing.T) {
	ctrl, flaky, e := setup(t)
	ctx := context.Background()

	if _, _, err := flaky.Authority.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 2500},
	}); err != nil {
		t.Fatalf("out-of-band clearing: %v", err)
	}

	if err := ctrl.ResyncAll(ctx); err != nil {
		t.Fatalf("ResyncAll: %v", err)
	}

	view, err := ctrl.Expense(e.ID)
	if err != nil {
		t.Fatalf("Expense: %v", err)
	}
	if view.Cleared.Cents != 2500 {
		t.Errorf("cleared = %d, want 2500", view.Cleared.Cents)
	}
	if view.History[0].ClearedAt.After(time.Now().Add(time.Minute)) {
		t.Errorf("implausible cleared_at: %v", view.History[0].ClearedAt)
	}
}
