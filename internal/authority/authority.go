// Package authority defines the port toward the system of record for the
// ledger. The record keeper re-validates every clearing at commit time;
// clients treat its responses as authoritative and reconcile accordingly.
package authority

import (
	"context"

	"saldo/internal/core"
)

// NewExpense carries the fields needed to register an expense.
type NewExpense struct {
	Description string
	Amount      core.Money
	MemberID    string
	Date        core.Date
}

// Clearing is a request to record a payment against an expense.
type Clearing struct {
	ExpenseID string
	PayerID   string
	Amount    core.Money
}

// Authority is the system of record for expenses, payments and budgets.
// SubmitClearing re-validates the request against current state and either
// commits atomically or rejects with a domain error. A transport failure
// means the outcome is unknown; callers must resync rather than retry.
type Authority interface {
	CreateExpense(ctx context.Context, input NewExpense) (core.Expense, error)
	Expense(ctx context.Context, id string) (core.Expense, error)
	Expenses(ctx context.Context) ([]core.Expense, error)
	History(ctx context.Context, expenseID string) ([]core.Payment, error)
	SubmitClearing(ctx context.Context, req Clearing) (core.Expense, core.Payment, error)
	BudgetStatus(ctx context.Context, memberID string) (core.BudgetStatus, error)
	SetBudget(ctx context.Context, memberID string, monthly core.Money) error
}
