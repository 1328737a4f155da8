// Package service orchestrates ledger operations across the record
// keeper, the member directory and the event stream. Permission checks
// happen here; the record keeper below only re-validates amounts.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"saldo/internal/authority"
	"saldo/internal/core"
	"saldo/internal/directory"
	"saldo/internal/events"
	"saldo/internal/identity"
	"saldo/internal/metrics"
)

// Publisher is the slice of the event client the service needs.
type Publisher interface {
	PublishClearing(ctx context.Context, event *events.ClearingEvent) error
}

type LedgerService struct {
	authority authority.Authority
	directory directory.Directory
	publisher Publisher
}

func NewLedgerService(auth authority.Authority, dir directory.Directory, publisher Publisher) *LedgerService {
	return &LedgerService{
		authority: auth,
		directory: dir,
		publisher: publisher,
	}
}

func (s *LedgerService) CreateExpense(ctx context.Context, input authority.NewExpense) (core.Expense, error) {
	return s.authority.CreateExpense(ctx, input)
}

func (s *LedgerService) Expense(ctx context.Context, id string) (core.Expense, error) {
	return s.authority.Expense(ctx, id)
}

func (s *LedgerService) Expenses(ctx context.Context) ([]core.Expense, error) {
	return s.authority.Expenses(ctx)
}

func (s *LedgerService) History(ctx context.Context, expenseID string) ([]core.Payment, error) {
	return s.authority.History(ctx, expenseID)
}

// Clear records a payment on behalf of actor. Only administrators may
// clear; the rejected attempt never reaches the record keeper.
func (s *LedgerService) Clear(ctx context.Context, actor identity.Actor, req authority.Clearing) (core.Expense, core.Payment, error) {
	if !actor.Admin {
		return core.Expense{}, core.Payment{}, fmt.Errorf("member %q may not clear expenses: %w",
			actor.MemberID, core.ErrPermissionDenied)
	}
	if _, err := s.directory.Lookup(ctx, req.PayerID); err != nil {
		return core.Expense{}, core.Payment{}, fmt.Errorf("payer %q: %w", req.PayerID, core.ErrUnknownMember)
	}

	expense, payment, err := s.authority.SubmitClearing(ctx, req)
	if err != nil {
		return core.Expense{}, core.Payment{}, err
	}

	s.publishClearing(ctx, expense, payment)
	return expense, payment, nil
}

// publishClearing is best effort. The clearing is already committed;
// a broker outage must not turn it into a failure.
func (s *LedgerService) publishClearing(ctx context.Context, expense core.Expense, payment core.Payment) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "Event publisher not available, skipping clearing event")
		return
	}

	event := &events.ClearingEvent{
		ExpenseID:    expense.ID,
		PaymentID:    payment.ID,
		PayerID:      payment.ClearedBy,
		AmountCents:  payment.Amount.Cents,
		ClearedCents: expense.Cleared.Cents,
		Status:       string(expense.Status()),
		ClearedAt:    payment.ClearedAt,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.publisher.PublishClearing(ctx, event); err != nil {
		metrics.EventsPublished.WithLabelValues(metrics.ResultFailed).Inc()
		slog.ErrorContext(ctx, "Failed to publish clearing event",
			"expense_id", expense.ID,
			"payment_id", payment.ID,
			"error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(metrics.ResultPublished).Inc()
}

// Summary aggregates all expenses, resolving member ids to display
// names through the directory.
func (s *LedgerService) Summary(ctx context.Context) (core.Summary, error) {
	expenses, err := s.authority.Expenses(ctx)
	if err != nil {
		return core.Summary{}, err
	}
	return core.Aggregate(expenses, directory.Resolver(ctx, s.directory)), nil
}

func (s *LedgerService) BudgetStatus(ctx context.Context, memberID string) (core.BudgetStatus, error) {
	return s.authority.BudgetStatus(ctx, memberID)
}

// SetBudget configures a member's monthly budget. Admin only.
func (s *LedgerService) SetBudget(ctx context.Context, actor identity.Actor, memberID string, monthly core.Money) error {
	if !actor.Admin {
		return fmt.Errorf("member %q may not set budgets: %w", actor.MemberID, core.ErrPermissionDenied)
	}
	return s.authority.SetBudget(ctx, memberID, monthly)
}

func (s *LedgerService) Members(ctx context.Context) ([]core.Member, error) {
	return s.directory.List(ctx)
}

// MemberName resolves a member id for display, falling back to the raw
// id when the directory no longer knows it.
func (s *LedgerService) MemberName(ctx context.Context, memberID string) string {
	return directory.DisplayName(ctx, s.directory, memberID)
}
