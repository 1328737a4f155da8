package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"saldo/internal/authority"
	"saldo/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "saldo.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	members := []core.Member{
		{ID: "anna", Name: "Anna"},
		{ID: "bruno", Name: "Bruno"},
	}
	for i, m := range members {
		if err := repo.UpsertMember(ctx, m, i); err != nil {
			t.Fatalf("UpsertMember(%s): %v", m.ID, err)
		}
	}
	return repo
}

func createTestExpense(t *testing.T, repo *SQLiteRepository, cents int64) core.Expense {
	t.Helper()
	e, err := repo.CreateExpense(context.Background(), authority.NewExpense{
		Description: "groceries",
		Amount:      core.Money{Cents: cents},
		MemberID:    "anna",
		Date:        core.NewDate(2026, 8, 15),
	})
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	return e
}

func TestSubmitClearingCommitsAndDerivesStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	e := createTestExpense(t, repo, 10000)

	updated, payment, err := repo.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: e.ID,
		PayerID:   "bruno",
		Amount:    core.Money{Cents: 4000},
	})
	if err != nil {
		t.Fatalf("SubmitClearing: %v", err)
	}
	if updated.Cleared.Cents != 4000 {
		t.Errorf("cleared = %d, want 4000", updated.Cleared.Cents)
	}
	if updated.Status() != core.StatusPartiallyCleared {
		t.Errorf("status = %s, want PARTIALLY_CLEARED", updated.Status())
	}
	if payment.ID == "" || payment.ClearedBy != "bruno" {
		t.Errorf("unexpected payment: %+v", payment)
	}
	if err := updated.CheckConsistency(); err != nil {
		t.Errorf("CheckConsistency: %v", err)
	}
}

func TestSubmitClearingRejectsOverclearingWithRemaining(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	e := createTestExpense(t, repo, 10000)

	if _, _, err := repo.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 8000},
	}); err != nil {
		t.Fatalf("first clearing: %v", err)
	}

	_, _, err := repo.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 2500},
	})
	var oc *core.OverclearingError
	if !errors.As(err, &oc) {
		t.Fatalf("err = %v, want OverclearingError", err)
	}
	if oc.Remaining.Cents != 2000 {
		t.Errorf("remaining = %d, want 2000", oc.Remaining.Cents)
	}

	// The rejected attempt must leave no trace.
	got, err := repo.Expense(ctx, e.ID)
	if err != nil {
		t.Fatalf("Expense: %v", err)
	}
	if got.Cleared.Cents != 8000 || len(got.History) != 1 {
		t.Errorf("state changed after rejection: cleared=%d history=%d", got.Cleared.Cents, len(got.History))
	}
}

func TestSubmitClearingRejectsSettledExpense(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	e := createTestExpense(t, repo, 5000)

	if _, _, err := repo.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 5000},
	}); err != nil {
		t.Fatalf("settling clearing: %v", err)
	}

	_, _, err := repo.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 100},
	})
	if !errors.Is(err, core.ErrAlreadySettled) {
		t.Errorf("err = %v, want ErrAlreadySettled", err)
	}
}

func TestSubmitClearingUnknownTargets(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	e := createTestExpense(t, repo, 5000)

	_, _, err := repo.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "nobody", Amount: core.Money{Cents: 100},
	})
	if !errors.Is(err, core.ErrUnknownMember) {
		t.Errorf("unknown payer: err = %v, want ErrUnknownMember", err)
	}

	_, _, err = repo.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: "missing", PayerID: "bruno", Amount: core.Money{Cents: 100},
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("missing expense: err = %v, want ErrNotFound", err)
	}
}

func TestHistoryOrderedOldestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	e := createTestExpense(t, repo, 10000)

	for _, cents := range []int64{1000, 2000, 3000} {
		if _, _, err := repo.SubmitClearing(ctx, authority.Clearing{
			ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: cents},
		}); err != nil {
			t.Fatalf("clearing %d: %v", cents, err)
		}
	}

	history, err := repo.History(ctx, e.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(history))
	}
	for i, p := range history[1:] {
		if p.ClearedAt.Before(history[i].ClearedAt) {
			t.Errorf("history out of order at %d", i+1)
		}
	}
}

func TestBudgetStatusCountsAssignedTotal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.BudgetStatus(ctx, "anna"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unset budget: err = %v, want ErrNotFound", err)
	}

	if err := repo.SetBudget(ctx, "anna", core.Money{Cents: 50000}); err != nil {
		t.Fatalf("SetBudget: %v", err)
	}
	e := createTestExpense(t, repo, 30000)

	// Clearing part of the expense must not shrink the used figure;
	// budgets track what was assigned, not what is still owed.
	if _, _, err := repo.SubmitClearing(ctx, authority.Clearing{
		ExpenseID: e.ID, PayerID: "bruno", Amount: core.Money{Cents: 10000},
	}); err != nil {
		t.Fatalf("SubmitClearing: %v", err)
	}

	status, err := repo.BudgetStatus(ctx, "anna")
	if err != nil {
		t.Fatalf("BudgetStatus: %v", err)
	}
	if status.Used.Cents != 30000 {
		t.Errorf("used = %d, want 30000", status.Used.Cents)
	}
	if status.Remaining.Cents != 20000 {
		t.Errorf("remaining = %d, want 20000", status.Remaining.Cents)
	}
}

func TestListMembersRosterOrder(t *testing.T) {
	repo := newTestRepo(t)
	members, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(members) != 2 || members[0].ID != "anna" || members[1].ID != "bruno" {
		t.Errorf("unexpected roster: %+v", members)
	}
}

func TestUpsertMemberSurvivesRosterReorder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// Swap the two positions, upserting one member at a time the way a
	// restart with a reordered MEMBERS value does. Mid-sync both members
	// briefly share a position; that must not fail the sync.
	reordered := []core.Member{
		{ID: "bruno", Name: "Bruno"},
		{ID: "anna", Name: "Anna"},
	}
	for i, m := range reordered {
		if err := repo.UpsertMember(ctx, m, i); err != nil {
			t.Fatalf("UpsertMember(%s): %v", m.ID, err)
		}
	}

	members, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(members) != 2 || members[0].ID != "bruno" || members[1].ID != "anna" {
		t.Errorf("roster after reorder: %+v", members)
	}
}
