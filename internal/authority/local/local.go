// Package local provides an in-process Authority backed by an in-memory
// store. It applies the same commit-time validation as the SQLite-backed
// record keeper and is used by the CLI-less single-binary mode and tests.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"saldo/internal/authority"
	"saldo/internal/core"
	"saldo/internal/directory"
)

type Store struct {
	mu       sync.RWMutex
	dir      directory.Directory
	expenses map[string]*core.Expense
	order    []string
	budgets  map[string]core.Money
	now      func() time.Time
}

var _ authority.Authority = (*Store)(nil)

func New(dir directory.Directory) *Store {
	return &Store{
		dir:      dir,
		expenses: make(map[string]*core.Expense),
		budgets:  make(map[string]core.Money),
		now:      time.Now,
	}
}

// WithClock overrides the commit timestamp source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) CreateExpense(ctx context.Context, input authority.NewExpense) (core.Expense, error) {
	e := core.Expense{
		ID:          uuid.NewString(),
		Description: input.Description,
		Amount:      input.Amount,
		MemberID:    input.MemberID,
		Date:        input.Date,
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	if _, err := s.dir.Lookup(ctx, input.MemberID); err != nil {
		return core.Expense{}, fmt.Errorf("member %q: %w", input.MemberID, core.ErrUnknownMember)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses[e.ID] = &e
	s.order = append(s.order, e.ID)
	return e.Clone(), nil
}

func (s *Store) Expense(ctx context.Context, id string) (core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.expenses[id]
	if !ok {
		return core.Expense{}, fmt.Errorf("expense %q: %w", id, core.ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *Store) Expenses(ctx context.Context) ([]core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Expense, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.expenses[id].Clone())
	}
	return out, nil
}

func (s *Store) History(ctx context.Context, expenseID string) ([]core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.expenses[expenseID]
	if !ok {
		return nil, fmt.Errorf("expense %q: %w", expenseID, core.ErrNotFound)
	}
	out := make([]core.Payment, len(e.History))
	copy(out, e.History)
	return out, nil
}

// SubmitClearing validates the request against current state under the
// store lock, so concurrent submissions for the same expense serialize and
// the loser sees the winner's updated remaining amount.
func (s *Store) SubmitClearing(ctx context.Context, req authority.Clearing) (core.Expense, core.Payment, error) {
	payer, err := s.dir.Lookup(ctx, req.PayerID)
	if err != nil {
		return core.Expense{}, core.Payment{}, fmt.Errorf("payer %q: %w", req.PayerID, core.ErrUnknownMember)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[req.ExpenseID]
	if !ok {
		return core.Expense{}, core.Payment{}, fmt.Errorf("expense %q: %w", req.ExpenseID, core.ErrNotFound)
	}

	updated, payment, err := core.Clear(e.Clone(), payer, req.Amount, s.now())
	if err != nil {
		return core.Expense{}, core.Payment{}, err
	}
	payment.ID = uuid.NewString()
	updated.History[len(updated.History)-1].ID = payment.ID
	*e = updated.Clone()
	return updated, payment, nil
}

func (s *Store) BudgetStatus(ctx context.Context, memberID string) (core.BudgetStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	monthly, ok := s.budgets[memberID]
	if !ok {
		return core.BudgetStatus{}, fmt.Errorf("budget for %q: %w", memberID, core.ErrNotFound)
	}
	all := make([]core.Expense, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, *s.expenses[id])
	}
	return core.BudgetFor(memberID, monthly, all), nil
}

func (s *Store) SetBudget(ctx context.Context, memberID string, monthly core.Money) error {
	if err := monthly.Validate(); err != nil {
		return err
	}
	if _, err := s.dir.Lookup(ctx, memberID); err != nil {
		return fmt.Errorf("member %q: %w", memberID, core.ErrUnknownMember)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[memberID] = monthly
	return nil
}
